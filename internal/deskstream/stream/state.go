package stream

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrAlreadyStarted is returned by Run on a direction that has already run.
var ErrAlreadyStarted = errors.New("direction already started")

// State is the lifecycle of one streaming direction. Stopped is terminal.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type direction struct {
	state atomic.Int32
}

func (d *direction) start() error {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	return nil
}

func (d *direction) stop() {
	d.state.Store(int32(StateStopped))
}

func (d *direction) State() State {
	return State(d.state.Load())
}

// FrameWriter sends one length-prefixed frame.
type FrameWriter interface {
	WriteFrame(payload []byte) error
}

// FrameReader receives one length-prefixed frame.
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// Stats counts traffic on one direction.
type Stats struct {
	frames atomic.Uint64
	bytes  atomic.Uint64
	errors atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Frames uint64 `json:"frames"`
	Bytes  uint64 `json:"bytes"`
	Errors uint64 `json:"errors"`
}

func (s *Stats) record(n int) {
	s.frames.Add(1)
	s.bytes.Add(uint64(n))
}

func (s *Stats) fail() {
	s.errors.Add(1)
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Frames: s.frames.Load(),
		Bytes:  s.bytes.Load(),
		Errors: s.errors.Load(),
	}
}
