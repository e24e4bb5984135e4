package tidemark

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestWatermark_AdvanceTo(t *testing.T) {
	t.Run("starts unset", func(t *testing.T) {
		w := WatermarkUnset
		assert.False(t, w.IsSet())
	})

	t.Run("advances forward", func(t *testing.T) {
		w := WatermarkUnset
		w = w.AdvanceTo(1000)
		assert.True(t, w.IsSet())
		assert.Equal(t, int64(1000), w.Millis())
	})

	t.Run("never regresses", func(t *testing.T) {
		w := WatermarkUnset
		w = w.AdvanceTo(5000)
		w = w.AdvanceTo(3000)
		assert.Equal(t, int64(5000), w.Millis())

		w = w.AdvanceTo(5000)
		assert.Equal(t, int64(5000), w.Millis())

		w = w.AdvanceTo(5001)
		assert.Equal(t, int64(5001), w.Millis())
	})

	t.Run("monotonic over arbitrary sequences", func(t *testing.T) {
		w := WatermarkUnset
		prev := w
		for _, ts := range []int64{100, 50, 200, 199, 200, 1, 500} {
			w = w.AdvanceTo(ts)
			assert.True(t, w >= prev)
			prev = w
		}
		assert.Equal(t, int64(500), w.Millis())
	})
}
