package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestMoveDebouncer(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	d := NewMoveDebouncer(clk, 20*time.Millisecond, 10)

	assert.True(t, d.Allow(100, 100), "first move always passes")
	assert.False(t, d.Allow(105, 100), "small move within interval")
	assert.False(t, d.Allow(110, 90), "exactly threshold is not beyond it")
	assert.True(t, d.Allow(111, 100), "beyond threshold on x")
	assert.True(t, d.Allow(111, 89), "beyond threshold on y")

	clk.Step(19 * time.Millisecond)
	assert.False(t, d.Allow(112, 90))
	clk.Step(time.Millisecond)
	assert.True(t, d.Allow(112, 90), "interval elapsed since last forwarded move")
}

func TestMoveDebouncerBurst(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	d := NewMoveDebouncer(clk, 20*time.Millisecond, 10)

	forwarded := 0
	for i := 0; i < 100; i++ {
		if d.Allow(500+i%3, 500) {
			forwarded++
		}
		clk.Step(time.Millisecond)
	}
	assert.Equal(t, 5, forwarded, "one move per 20ms window")
}

func TestMoveThrottle(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))
	th := NewMoveThrottle(clk, 50*time.Millisecond, 3)

	assert.True(t, th.Allow(10, 10))
	assert.False(t, th.Allow(40, 40), "far but too soon")

	clk.Step(50 * time.Millisecond)
	assert.False(t, th.Allow(11, 11), "late but too close")
	assert.True(t, th.Allow(13, 10), "3px away and 50ms later")

	clk.Step(time.Hour)
	th.Reset()
	assert.True(t, th.Allow(13, 10), "reset lets the next move through")
}
