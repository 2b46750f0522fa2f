package control

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
	"github.com/babelcloud/deskstream/internal/deskstream/protocol"
)

type recordingInput struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (r *recordingInput) record(op string, format string, args ...interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, op+" "+fmt.Sprintf(format, args...))
	return r.fail[op]
}

func (r *recordingInput) MoveTo(x, y int) error {
	return r.record("move", "%d,%d", x, y)
}

func (r *recordingInput) Click(x, y int, button core.Button) error {
	return r.record("click", "%d,%d %s", x, y, button)
}

func (r *recordingInput) DoubleClick(x, y int) error {
	return r.record("double", "%d,%d", x, y)
}

func (r *recordingInput) DragTo(x, y int, d time.Duration) error {
	return r.record("drag", "%d,%d %s", x, y, d)
}

func (r *recordingInput) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type received struct {
	cmd protocol.Command
	err error
}

// scriptedSource replays results, then reports the connection closed.
type scriptedSource struct {
	mu       sync.Mutex
	results  []received
	timeouts []time.Duration
}

func (s *scriptedSource) ReceiveCommand(timeout time.Duration) (protocol.Command, *net.UDPAddr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeouts = append(s.timeouts, timeout)
	if len(s.results) == 0 {
		return nil, nil, core.Closed(nil, "socket closed")
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.cmd, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}, r.err
}
