package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHistory_RecordDropsSamplesOutsideWindow(t *testing.T) {
	h := New()
	base := time.Now()

	h.Record(base, 60)
	h.Record(base.Add(10*time.Minute), 62)
	h.Record(base.Add(16*time.Minute), 64)

	snap := h.Snapshot()
	if assert.Len(t, snap, 2) {
		assert.Equal(t, 62.0, snap[0].Temperature)
		assert.Equal(t, 64.0, snap[1].Temperature)
	}
}

func TestHistory_RatePerMinuteZeroBelowTwoSamples(t *testing.T) {
	h := New()
	assert.Equal(t, 0.0, h.RatePerMinute())

	h.Record(time.Now(), 70)
	assert.Equal(t, 0.0, h.RatePerMinute())
}

func TestHistory_RatePerMinuteZeroBelowMinSpan(t *testing.T) {
	h := New()
	base := time.Now()
	h.Record(base, 70)
	h.Record(base.Add(10*time.Second), 70.1)

	assert.Equal(t, 0.0, h.RatePerMinute())
}

func TestHistory_RatePerMinuteComputesSlope(t *testing.T) {
	h := New()
	base := time.Now()
	h.Record(base, 65)
	h.Record(base.Add(10*time.Minute), 65.5)

	assert.InDelta(t, 0.05, h.RatePerMinute(), 1e-9)
}

func TestHistory_SpanRequiresTwoSamples(t *testing.T) {
	h := New()
	assert.Equal(t, time.Duration(0), h.Span())

	base := time.Now()
	h.Record(base, 65)
	h.Record(base.Add(12*time.Minute), 66)

	assert.Equal(t, 12*time.Minute, h.Span())
}

func TestHistory_Clear(t *testing.T) {
	h := New()
	h.Record(time.Now(), 70)
	assert.Equal(t, 1, h.Len())

	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0.0, h.RatePerMinute())
}

// P3: every sample in history satisfies now - observed_at <= 15min.
func TestHistory_WindowInvariant(t *testing.T) {
	h := New()
	base := time.Now()
	for i := 0; i < 30; i++ {
		h.Record(base.Add(time.Duration(i)*time.Minute), float64(i))
	}

	snap := h.Snapshot()
	now := base.Add(29 * time.Minute)
	for _, s := range snap {
		assert.LessOrEqual(t, now.Sub(s.ObservedAt), Window)
	}
}
