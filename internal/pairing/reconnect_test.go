package pairing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesUpToCap(t *testing.T) {
	p := DefaultBackoff()

	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, expected := range want {
		d, ok := p.Delay(i + 1)
		assert.True(t, ok, "attempt %d within budget", i+1)
		assert.Equal(t, expected, d, "attempt %d delay", i+1)
	}
}

func TestBackoffExhaustsAfterMaxAttempts(t *testing.T) {
	p := DefaultBackoff()

	_, ok := p.Delay(p.MaxAttempts + 1)
	assert.False(t, ok)

	_, ok = p.Delay(0)
	assert.False(t, ok)
}

func TestBackoffCustomPolicy(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Cap: 3 * time.Second, MaxAttempts: 3}

	d1, _ := p.Delay(1)
	d2, _ := p.Delay(2)
	d3, _ := p.Delay(3)

	assert.Equal(t, time.Second, d1)
	assert.Equal(t, 2*time.Second, d2)
	assert.Equal(t, 3*time.Second, d3, "capped")
}
