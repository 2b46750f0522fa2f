// Package deskstream holds the settings shared by the serving and viewing
// sides of a remote desktop stream.
package deskstream

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
)

// Settings is an immutable snapshot of the runtime configuration.
type Settings struct {
	Host          string
	ProxyProtocol bool

	VideoPort   int
	ControlPort int
	AudioPort   int

	Viewport     core.Geometry
	FPS          int
	Quality      int
	MaxFrameSize uint32

	AudioEnabled bool
	SampleRate   int
	ChunkSamples int

	ReceiveTimeout time.Duration
	MoveInterval   time.Duration
	MoveThreshold  int
	ClickSettle    time.Duration
	DragDuration   time.Duration

	ViewerMoveInterval  time.Duration
	ViewerMoveThreshold int

	CaptureBackend string
	Display        string
	SyntheticSize  core.Geometry
	AudioBackend   string

	DisplayBackend string
	WebAddr        string
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		Host:                "0.0.0.0",
		VideoPort:           8485,
		ControlPort:         8486,
		AudioPort:           8487,
		Viewport:            core.Geometry{Width: 1024, Height: 576},
		FPS:                 20,
		Quality:             50,
		MaxFrameSize:        32 << 20,
		AudioEnabled:        true,
		SampleRate:          44100,
		ChunkSamples:        1024,
		ReceiveTimeout:      100 * time.Millisecond,
		MoveInterval:        20 * time.Millisecond,
		MoveThreshold:       10,
		ClickSettle:         10 * time.Millisecond,
		DragDuration:        50 * time.Millisecond,
		ViewerMoveInterval:  50 * time.Millisecond,
		ViewerMoveThreshold: 3,
		CaptureBackend:      "x11",
		SyntheticSize:       core.Geometry{Width: 1920, Height: 1080},
		AudioBackend:        "malgo",
		DisplayBackend:      "web",
		WebAddr:             "127.0.0.1:8490",
	}
}

// Validate rejects settings the pipelines cannot run with.
func (s Settings) Validate() error {
	for name, port := range map[string]int{"video": s.VideoPort, "control": s.ControlPort, "audio": s.AudioPort} {
		if port < 0 || port > 65535 {
			return errors.Errorf("invalid %s port %d", name, port)
		}
	}
	if !s.Viewport.Valid() {
		return errors.Errorf("invalid viewport %s", s.Viewport)
	}
	if s.FPS <= 0 {
		return errors.Errorf("fps must be positive, got %d", s.FPS)
	}
	if s.Quality < 1 || s.Quality > 100 {
		return errors.Errorf("quality must be within 1..100, got %d", s.Quality)
	}
	if s.AudioEnabled && (s.SampleRate <= 0 || s.ChunkSamples <= 0) {
		return errors.Errorf("invalid audio format: %d Hz, %d samples per chunk", s.SampleRate, s.ChunkSamples)
	}
	return nil
}

// Addr joins host with port.
func Addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (s Settings) String() string {
	return fmt.Sprintf("video=%d control=%d audio=%d viewport=%s fps=%d quality=%d",
		s.VideoPort, s.ControlPort, s.AudioPort, s.Viewport, s.FPS, s.Quality)
}
