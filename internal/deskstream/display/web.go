package display

import (
	"context"
	"embed"
	"encoding/json"
	"image"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
	"github.com/babelcloud/deskstream/internal/deskstream/pipeline"
	"github.com/babelcloud/deskstream/internal/deskstream/protocol"
	"github.com/babelcloud/deskstream/internal/util"
)

//go:embed static/index.html
var staticFS embed.FS

// WebQuality is the JPEG quality used when re-encoding frames for browsers.
const WebQuality = 80

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local viewer page only
	},
}

// CommandHandler receives input events produced in the browser.
type CommandHandler func(cmd protocol.Command) error

// MuteControl is the microphone switch the page can flip during a session.
type MuteControl interface {
	Toggle() bool
	Muted() bool
}

// WebSink serves a local page that shows the remote screen and forwards
// mouse input. Frames are pushed to every open page over a WebSocket.
type WebSink struct {
	addr      string
	codec     core.Codec
	viewport  core.Geometry
	onCommand CommandHandler
	frames    *pipeline.Broadcaster
	fps       atomic.Int64
	logger    *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	mute     MuteControl
}

func NewWebSink(addr string, c core.Codec, viewport core.Geometry, onCommand CommandHandler) *WebSink {
	return &WebSink{
		addr:      addr,
		codec:     c,
		viewport:  viewport,
		onCommand: onCommand,
		frames:    pipeline.NewBroadcaster("web-frames", true),
		logger:    util.GetLogger().With("sink", "web"),
	}
}

// Handler returns the HTTP routes: "/" page, "/ws" stream, "/stats" JSON.
func (s *WebSink) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/mute", s.handleMute)
	return mux
}

// SetMute exposes m on "/mute": GET reports the state, POST toggles it.
func (s *WebSink) SetMute(m MuteControl) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mute = m
}

// Start begins serving in the background.
func (s *WebSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.addr)
	}
	s.listener = ln
	s.server = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Web viewer server failed", "error", err)
		}
	}()
	s.logger.Info("Web viewer listening", "url", s.urlLocked())
	return nil
}

// URL returns the page address once started.
func (s *WebSink) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.urlLocked()
}

func (s *WebSink) urlLocked() string {
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String() + "/"
}

// Present re-encodes img and pushes it to every connected page.
func (s *WebSink) Present(img image.Image) error {
	if s.frames.SubscriberCount() == 0 {
		return nil
	}
	data, err := s.codec.Encode(img, WebQuality)
	if err != nil {
		return errors.Wrap(err, "failed to encode frame for web viewer")
	}
	s.frames.Broadcast(data)
	return nil
}

func (s *WebSink) SetFPS(fps int) {
	s.fps.Store(int64(fps))
}

// Close stops the server and disconnects every page.
func (s *WebSink) Close() error {
	s.frames.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.server = nil
	return err
}

func (s *WebSink) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

type statsResponse struct {
	FPS     int `json:"fps"`
	Viewers int `json:"viewers"`
	Width   int `json:"width"`
	Height  int `json:"height"`
}

func (s *WebSink) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statsResponse{
		FPS:     int(s.fps.Load()),
		Viewers: s.frames.SubscriberCount(),
		Width:   s.viewport.Width,
		Height:  s.viewport.Height,
	})
}

type muteResponse struct {
	Muted bool `json:"muted"`
}

func (s *WebSink) handleMute(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	mute := s.mute
	s.mu.Unlock()
	if mute == nil {
		http.Error(w, "audio unavailable", http.StatusNotFound)
		return
	}

	var muted bool
	switch r.Method {
	case http.MethodGet:
		muted = mute.Muted()
	case http.MethodPost:
		muted = mute.Toggle()
		s.logger.Info("Microphone toggled", "muted", muted)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(muteResponse{Muted: muted})
}

func (s *WebSink) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade to WebSocket", "error", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	frames := s.frames.Subscribe(id, 2)
	defer s.frames.Release(id, frames)
	s.logger.Info("Web viewer connected", "id", id, "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				s.logger.Debug("Web viewer read ended", "id", id, "error", err)
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			cmd, err := protocol.DecodeCommand(data)
			if err != nil {
				s.logger.Warn("Dropping malformed browser command", "id", id, "error", err)
				continue
			}
			if s.onCommand != nil {
				if err := s.onCommand(cmd); err != nil {
					s.logger.Warn("Failed to forward browser command", "id", id, "type", cmd.Kind(), "error", err)
				}
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			msg, _ := json.Marshal(map[string]int{"fps": int(s.fps.Load())})
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case frame, ok := <-frames:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.logger.Debug("Failed to write frame to web viewer", "id", id, "error", err)
				return
			}
		}
	}
}
