package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClockTickIsStrictlyMonotonic(t *testing.T) {
	clock := NewClock()
	last := int64(0)
	for i := 0; i < 100; i++ {
		var ts int64
		clock, ts = clock.Tick()
		assert.Greater(t, ts, last)
		last = ts
	}
	assert.Equal(t, int64(100), clock.Now())
}

func TestClockNowDoesNotAdvance(t *testing.T) {
	clock := NewClockAt(41)
	assert.Equal(t, int64(41), clock.Now())
	assert.Equal(t, int64(41), clock.Now())

	next, ts := clock.Tick()
	assert.Equal(t, int64(42), ts)
	// The original binding is untouched; only the returned clock moved.
	assert.Equal(t, int64(41), clock.Now())
	assert.Equal(t, int64(42), next.Now())
}
