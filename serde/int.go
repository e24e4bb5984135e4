package serde

import (
	"encoding/binary"
	"fmt"

	"github.com/tidemark-io/tidemark"
)

var Int64Serializer = func(data int64) ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(data))
	return buf, nil
}

var Int64Deserializer = func(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("serde: expected 8 bytes for int64, got %d", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

var Int64 = tidemark.SerDe[int64]{
	Serializer:   Int64Serializer,
	Deserializer: Int64Deserializer,
}
