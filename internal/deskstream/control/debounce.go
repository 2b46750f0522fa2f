package control

import (
	"math"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

const (
	DefaultMoveInterval  = 20 * time.Millisecond
	DefaultMoveThreshold = 10

	DefaultViewerMoveInterval  = 50 * time.Millisecond
	DefaultViewerMoveThreshold = 3
)

// MoveDebouncer thins server-side pointer moves. A move is forwarded when it
// is the first, when interval has passed since the last forwarded move, or
// when it lands more than threshold pixels away on either axis.
type MoveDebouncer struct {
	mu        sync.Mutex
	clock     clock.PassiveClock
	interval  time.Duration
	threshold int

	seen   bool
	lastAt time.Time
	lastX  int
	lastY  int
}

func NewMoveDebouncer(clk clock.PassiveClock, interval time.Duration, threshold int) *MoveDebouncer {
	return &MoveDebouncer{clock: clk, interval: interval, threshold: threshold}
}

// Allow reports whether a move to (x, y) should be injected, and records it if so.
func (d *MoveDebouncer) Allow(x, y int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if d.seen &&
		now.Sub(d.lastAt) < d.interval &&
		abs(x-d.lastX) <= d.threshold &&
		abs(y-d.lastY) <= d.threshold {
		return false
	}
	d.seen = true
	d.lastAt = now
	d.lastX, d.lastY = x, y
	return true
}

// MoveThrottle thins viewer-side pointer moves before they are sent. A move
// is sent when it is the first, or when it is at least threshold pixels
// from the last sent move and interval has passed.
type MoveThrottle struct {
	mu        sync.Mutex
	clock     clock.PassiveClock
	interval  time.Duration
	threshold float64

	seen   bool
	lastAt time.Time
	lastX  int
	lastY  int
}

func NewMoveThrottle(clk clock.PassiveClock, interval time.Duration, threshold int) *MoveThrottle {
	return &MoveThrottle{clock: clk, interval: interval, threshold: float64(threshold)}
}

// Allow reports whether a move to (x, y) should be sent, and records it if so.
func (t *MoveThrottle) Allow(x, y int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if t.seen {
		dist := math.Hypot(float64(x-t.lastX), float64(y-t.lastY))
		if dist < t.threshold || now.Sub(t.lastAt) < t.interval {
			return false
		}
	}
	t.seen = true
	t.lastAt = now
	t.lastX, t.lastY = x, y
	return true
}

// Reset forgets the last sent move so the next one always passes.
func (t *MoveThrottle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
