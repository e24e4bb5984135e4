package tidemark

import (
	"fmt"
	"math"
)

// Watermark asserts that all input with an event time at or below its value
// has been observed by the owning step. It is a plain value; the only way it
// moves is AdvanceTo, which never goes backwards.
type Watermark int64

// WatermarkUnset is the value of a Watermark before any record has been
// observed.
const WatermarkUnset Watermark = math.MinInt64

// AdvanceTo returns the watermark advanced to candidate, or the unchanged
// watermark if candidate lies behind it.
func (w Watermark) AdvanceTo(candidate int64) Watermark {
	if Watermark(candidate) > w {
		return Watermark(candidate)
	}
	return w
}

// IsSet reports whether the watermark has been set at least once.
func (w Watermark) IsSet() bool {
	return w != WatermarkUnset
}

// Millis returns the watermark as milliseconds since the unix epoch.
func (w Watermark) Millis() int64 {
	return int64(w)
}

func (w Watermark) String() string {
	if !w.IsSet() {
		return "watermark(unset)"
	}
	return fmt.Sprintf("watermark(%d)", int64(w))
}
