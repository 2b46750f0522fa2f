package stream

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// RateState paces an action to at most once per interval.
type RateState struct {
	clock    clock.PassiveClock
	interval time.Duration
	last     time.Time
	marked   bool
}

// NewRateState paces at fps actions per second. A non-positive fps disables pacing.
func NewRateState(clk clock.PassiveClock, fps int) *RateState {
	var interval time.Duration
	if fps > 0 {
		interval = time.Second / time.Duration(fps)
	}
	return &RateState{clock: clk, interval: interval}
}

// Interval returns the minimum spacing between actions.
func (r *RateState) Interval() time.Duration {
	return r.interval
}

// Due reports whether the next action may run now and, if not, how long remains.
func (r *RateState) Due() (bool, time.Duration) {
	if !r.marked {
		return true, 0
	}
	remaining := r.interval - r.clock.Since(r.last)
	if remaining <= 0 {
		return true, 0
	}
	return false, remaining
}

// Mark records that an action started now.
func (r *RateState) Mark() {
	r.last = r.clock.Now()
	r.marked = true
}

// FPSCounter counts frames per wall-clock second.
type FPSCounter struct {
	mu          sync.Mutex
	clock       clock.PassiveClock
	windowStart time.Time
	count       int
	fps         int
}

func NewFPSCounter(clk clock.PassiveClock) *FPSCounter {
	return &FPSCounter{clock: clk, windowStart: clk.Now()}
}

// Tick counts one frame. When a full second has elapsed since the window
// opened, the window's count becomes the current rate and updated is true.
func (c *FPSCounter) Tick() (fps int, updated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count++
	now := c.clock.Now()
	if now.Sub(c.windowStart) >= time.Second {
		c.fps = c.count
		c.count = 0
		c.windowStart = now
		return c.fps, true
	}
	return c.fps, false
}

// FPS returns the rate measured over the last complete window.
func (c *FPSCounter) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}
