package session

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/babelcloud/deskstream/internal/deskstream/protocol"
	"github.com/babelcloud/deskstream/internal/deskstream/stream"
)

// ErrRegistryClosed is returned by Add once the manager is shutting down.
var ErrRegistryClosed = errors.New("session registry closed")

// Kind is the stream a client session serves.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// ClientSession is one accepted stream connection and the workers serving it.
type ClientSession struct {
	ID      string
	Kind    Kind
	Remote  string
	Started time.Time

	conn *protocol.FrameConn

	mu        sync.Mutex
	closers   []io.Closer
	sent      func() stream.StatsSnapshot
	received  func() stream.StatsSnapshot
	closeOnce sync.Once
}

func newClientSession(kind Kind, conn *protocol.FrameConn) *ClientSession {
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &ClientSession{
		ID:      uuid.NewString(),
		Kind:    kind,
		Remote:  remote,
		Started: time.Now(),
		conn:    conn,
	}
}

// attach registers a resource released together with the session.
func (s *ClientSession) attach(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, c)
}

func (s *ClientSession) trackSent(f func() stream.StatsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = f
}

func (s *ClientSession) trackReceived(f func() stream.StatsSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = f
}

// Close closes the connection, which unblocks every worker of the session.
func (s *ClientSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
		s.mu.Lock()
		closers := s.closers
		s.mu.Unlock()
		for _, c := range closers {
			_ = c.Close()
		}
	})
	return err
}

// Info is a read-only view of a session for listings and logs.
type Info struct {
	ID       string               `json:"id"`
	Kind     Kind                 `json:"kind"`
	Remote   string               `json:"remote"`
	Started  time.Time            `json:"started"`
	Sent     stream.StatsSnapshot `json:"sent"`
	Received stream.StatsSnapshot `json:"received"`
}

func (s *ClientSession) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{ID: s.ID, Kind: s.Kind, Remote: s.Remote, Started: s.Started}
	if s.sent != nil {
		info.Sent = s.sent()
	}
	if s.received != nil {
		info.Received = s.received()
	}
	return info
}

// Registry tracks live client sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*ClientSession
	closed   bool
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*ClientSession)}
}

// Add registers s. It fails after CloseAll.
func (r *Registry) Add(s *ClientSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	r.sessions[s.ID] = s
	return nil
}

// Remove deregisters id and returns the session, if present.
func (r *Registry) Remove(id string) *ClientSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	delete(r.sessions, id)
	return s
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot lists sessions ordered by start time.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	sessions := make([]*ClientSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Started.Equal(infos[j].Started) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].Started.Before(infos[j].Started)
	})
	return infos
}

// CloseAll refuses new sessions and closes every live one. Sessions stay
// registered until their workers exit and remove them.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*ClientSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}
