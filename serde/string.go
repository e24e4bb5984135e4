package serde

import "github.com/tidemark-io/tidemark"

var StringDeserializer = func(data []byte) (string, error) {
	return string(data), nil
}

var StringSerializer = func(data string) ([]byte, error) {
	return []byte(data), nil
}

var String = tidemark.SerDe[string]{
	Serializer:   StringSerializer,
	Deserializer: StringDeserializer,
}
