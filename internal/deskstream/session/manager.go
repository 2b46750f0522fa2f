package session

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pires/go-proxyproto"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/babelcloud/deskstream/internal/deskstream"
	"github.com/babelcloud/deskstream/internal/deskstream/control"
	"github.com/babelcloud/deskstream/internal/deskstream/core"
	"github.com/babelcloud/deskstream/internal/deskstream/protocol"
	"github.com/babelcloud/deskstream/internal/deskstream/stream"
	"github.com/babelcloud/deskstream/internal/deskstream/transport"
	"github.com/babelcloud/deskstream/internal/util"
)

// Providers are the serving side's external collaborators. Audio and Input
// may be nil, which disables the audio port and the control worker.
type Providers struct {
	Capture core.CaptureProvider
	Input   core.InputProvider
	Audio   core.AudioSource
	Codec   core.Codec
}

// Manager owns the listeners, the control worker and every client session
// of the serving side.
type Manager struct {
	settings  deskstream.Settings
	providers Providers
	clock     clock.Clock
	logger    *slog.Logger
	registry  *Registry

	mu       sync.Mutex
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	geometry core.Geometry
	videoLn  net.Listener
	audioLn  net.Listener
	control  *transport.CommandConn

	wg           sync.WaitGroup
	shutdownOnce sync.Once
	stopOnce     sync.Once
}

func NewManager(settings deskstream.Settings, providers Providers, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = util.GetLogger()
	}
	return &Manager{
		settings:  settings,
		providers: providers,
		clock:     clock.RealClock{},
		logger:    logger,
		registry:  NewRegistry(),
	}
}

// Start discovers the screen geometry, opens the three ports and starts
// serving. Workers run until Stop or until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.New("session manager already started")
	}
	if m.providers.Capture == nil || m.providers.Codec == nil {
		return errors.New("capture provider and codec are required")
	}

	geometry, err := m.providers.Capture.ScreenSize()
	if err != nil {
		return core.DeviceError("screen size", err)
	}
	if !geometry.Valid() {
		return core.DeviceError("screen size", errors.Errorf("invalid screen geometry %s", geometry))
	}
	m.geometry = geometry

	if err := m.listen(); err != nil {
		m.closeSockets()
		return err
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.started = true

	m.spawn(func() { m.acceptLoop(m.videoLn, KindVideo, m.serveVideo) })
	if m.audioLn != nil {
		m.spawn(func() { m.acceptLoop(m.audioLn, KindAudio, m.serveAudio) })
	}
	if m.control != nil {
		dispatcher := control.NewDispatcher(m.providers.Input, control.Config{
			Viewport:       m.settings.Viewport,
			Screen:         geometry,
			MoveInterval:   m.settings.MoveInterval,
			MoveThreshold:  m.settings.MoveThreshold,
			ClickSettle:    m.settings.ClickSettle,
			DragDuration:   m.settings.DragDuration,
			ReceiveTimeout: m.settings.ReceiveTimeout,
			Clock:          m.clock,
		}, m.logger.With("worker", "control"))
		m.spawn(func() {
			if err := dispatcher.Run(m.ctx, m.control); err != nil {
				m.logger.Error("Control worker stopped", "error", err)
			}
		})
	}

	go func() {
		<-m.ctx.Done()
		m.shutdown()
	}()

	m.logger.Info("Session manager started",
		"screen", geometry.String(),
		"video", m.videoLn.Addr().String(),
		"audio", addrString(m.audioLn),
		"control", m.controlAddrLocked(),
	)
	return nil
}

func (m *Manager) listen() error {
	var err error
	host := m.settings.Host

	if m.videoLn, err = m.listenTCP(deskstream.Addr(host, m.settings.VideoPort)); err != nil {
		return err
	}
	if m.settings.AudioEnabled && m.providers.Audio != nil {
		if m.audioLn, err = m.listenTCP(deskstream.Addr(host, m.settings.AudioPort)); err != nil {
			return err
		}
	}
	if m.providers.Input != nil {
		if m.control, err = transport.ListenCommands(deskstream.Addr(host, m.settings.ControlPort)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) listenTCP(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}
	if m.settings.ProxyProtocol {
		return &proxyproto.Listener{Listener: ln}, nil
	}
	return ln, nil
}

func (m *Manager) spawn(f func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		f()
	}()
}

func (m *Manager) acceptLoop(ln net.Listener, kind Kind, serve func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if m.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			m.logger.Warn("Accept failed", "kind", kind, "error", err)
			select {
			case <-m.ctx.Done():
				return
			case <-m.clock.After(50 * time.Millisecond):
			}
			continue
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
			_ = tcp.SetKeepAlive(true)
		}
		m.spawn(func() { serve(conn) })
	}
}

// register adds sess to the registry. It reports false, and closes the
// session, when the manager is shutting down.
func (m *Manager) register(sess *ClientSession) bool {
	if err := m.registry.Add(sess); err != nil {
		_ = sess.Close()
		return false
	}
	m.logger.Info("Client connected", "session", sess.ID, "kind", sess.Kind, "remote", sess.Remote)
	return true
}

func (m *Manager) finish(sess *ClientSession) {
	m.registry.Remove(sess.ID)
	_ = sess.Close()
	info := sess.Info()
	m.logger.Info("Client disconnected",
		"session", sess.ID,
		"kind", sess.Kind,
		"remote", sess.Remote,
		"duration", time.Since(sess.Started).Round(time.Millisecond),
		"frames_sent", info.Sent.Frames,
		"bytes_sent", info.Sent.Bytes,
		"frames_received", info.Received.Frames,
	)
}

func (m *Manager) serveVideo(conn net.Conn) {
	fc := protocol.NewFrameConn(conn, m.settings.MaxFrameSize)
	sess := newClientSession(KindVideo, fc)
	logger := m.logger.With("session", sess.ID)

	sender := stream.NewVideoSender(m.providers.Capture, m.providers.Codec, fc, stream.VideoConfig{
		Viewport: m.settings.Viewport,
		FPS:      m.settings.FPS,
		Quality:  m.settings.Quality,
		Clock:    m.clock,
	}, logger)
	sess.trackSent(sender.Stats)

	if !m.register(sess) {
		return
	}
	defer m.finish(sess)

	if err := sender.Run(m.ctx); err != nil {
		logger.Error("Video direction failed", "error", err)
	}
}

func (m *Manager) serveAudio(conn net.Conn) {
	fc := protocol.NewFrameConn(conn, m.settings.MaxFrameSize)
	sess := newClientSession(KindAudio, fc)
	logger := m.logger.With("session", sess.ID)

	dev, err := m.providers.Audio.OpenStream(sess.ID)
	if err != nil {
		logger.Error("Failed to open audio stream", "error", core.DeviceError("open audio", err))
		_ = sess.Close()
		return
	}
	if c, ok := dev.(io.Closer); ok {
		sess.attach(c)
	}

	sender := stream.NewAudioSender(dev, fc, nil, logger)
	receiver := stream.NewAudioReceiver(fc, dev, logger)
	sess.trackSent(sender.Stats)
	sess.trackReceived(receiver.Stats)

	if !m.register(sess) {
		return
	}
	defer m.finish(sess)

	var live sync.WaitGroup
	live.Add(2)
	go func() {
		defer live.Done()
		if err := sender.Run(m.ctx); err != nil {
			logger.Warn("Audio send direction ended", "error", err)
		}
	}()
	go func() {
		defer live.Done()
		if err := receiver.Run(m.ctx); err != nil {
			logger.Warn("Audio receive direction ended", "error", err)
		}
	}()
	live.Wait()
}

// shutdown closes every socket and client connection. It is the single
// trigger that unblocks workers stuck in reads or writes.
func (m *Manager) shutdown() {
	m.shutdownOnce.Do(func() {
		m.mu.Lock()
		m.closeSockets()
		m.mu.Unlock()
		m.registry.CloseAll()
	})
}

func (m *Manager) closeSockets() {
	if m.videoLn != nil {
		_ = m.videoLn.Close()
	}
	if m.audioLn != nil {
		_ = m.audioLn.Close()
	}
	if m.control != nil {
		_ = m.control.Close()
	}
}

// Stop cancels all workers, waits for them, then releases the audio device
// and the capture and input providers. It is safe to call more than once.
func (m *Manager) Stop() error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return nil
	}

	m.stopOnce.Do(func() {
		m.cancel()
		m.shutdown()
		m.wg.Wait()
		m.releaseProviders()
		m.logger.Info("Session manager stopped")
	})
	return nil
}

func (m *Manager) releaseProviders() {
	if m.providers.Audio != nil {
		if err := m.providers.Audio.Close(); err != nil {
			m.logger.Warn("Failed to close audio device", "error", err)
		}
	}
	var closed []io.Closer
	for _, p := range []interface{}{m.providers.Capture, m.providers.Input} {
		c, ok := p.(io.Closer)
		if !ok || containsCloser(closed, c) {
			continue
		}
		closed = append(closed, c)
		if err := c.Close(); err != nil {
			m.logger.Warn("Failed to close provider", "error", err)
		}
	}
}

func containsCloser(list []io.Closer, c io.Closer) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

// Geometry returns the screen geometry discovered at Start.
func (m *Manager) Geometry() core.Geometry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.geometry
}

// VideoAddr returns the bound video address, or nil before Start.
func (m *Manager) VideoAddr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.videoLn == nil {
		return nil
	}
	return m.videoLn.Addr()
}

// AudioAddr returns the bound audio address, or nil when audio is disabled.
func (m *Manager) AudioAddr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audioLn == nil {
		return nil
	}
	return m.audioLn.Addr()
}

// ControlAddr returns the bound control address, or nil when input is disabled.
func (m *Manager) ControlAddr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.control == nil {
		return nil
	}
	return m.control.LocalAddr()
}

func (m *Manager) controlAddrLocked() string {
	if m.control == nil {
		return ""
	}
	return m.control.LocalAddr().String()
}

// Sessions lists live client sessions.
func (m *Manager) Sessions() []Info {
	return m.registry.Snapshot()
}

// LogSessions writes one log line per live session with its traffic counters.
func (m *Manager) LogSessions() {
	sessions := m.Sessions()
	m.logger.Info("Active sessions", "count", len(sessions))
	for _, info := range sessions {
		m.logger.Info("Session",
			"session", info.ID,
			"kind", info.Kind,
			"remote", info.Remote,
			"uptime", time.Since(info.Started).Round(time.Second),
			"frames_sent", info.Sent.Frames,
			"bytes_sent", info.Sent.Bytes,
			"frames_received", info.Received.Frames,
			"bytes_received", info.Received.Bytes,
			"errors", info.Sent.Errors+info.Received.Errors,
		)
	}
}

// Done is closed once the manager's context is cancelled.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil
	}
	return m.ctx.Done()
}

func addrString(ln net.Listener) string {
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}
