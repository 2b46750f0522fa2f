package core

import (
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"
)

// Geometry is a width/height pair in pixels.
type Geometry struct {
	Width  int
	Height int
}

// Valid reports whether both dimensions are positive.
func (g Geometry) Valid() bool {
	return g.Width > 0 && g.Height > 0
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Width, g.Height)
}

// ParseGeometry parses "WIDTHxHEIGHT" (e.g. "1920x1080").
func ParseGeometry(s string) (Geometry, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 {
		return Geometry{}, fmt.Errorf("invalid geometry %q: want WIDTHxHEIGHT", s)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Geometry{}, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Geometry{}, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	g := Geometry{Width: w, Height: h}
	if !g.Valid() {
		return Geometry{}, fmt.Errorf("invalid geometry %q: dimensions must be positive", s)
	}
	return g, nil
}

// Button identifies a pointer button.
type Button string

const (
	ButtonLeft  Button = "left"
	ButtonRight Button = "right"
)

// CaptureProvider grabs the target's screen.
type CaptureProvider interface {
	// ScreenSize returns the native resolution of the captured display.
	ScreenSize() (Geometry, error)
	// CaptureFrame returns the current screen contents.
	CaptureFrame() (image.Image, error)
}

// InputProvider injects pointer actions in screen coordinates.
type InputProvider interface {
	MoveTo(x, y int) error
	Click(x, y int, button Button) error
	DoubleClick(x, y int) error
	// DragTo presses the left button at the current position, moves to (x, y)
	// over duration and releases.
	DragTo(x, y int, duration time.Duration) error
}

// Codec converts between raw images and compressed frame payloads.
type Codec interface {
	Encode(img image.Image, quality int) ([]byte, error)
	Decode(data []byte) (image.Image, error)
}

// AudioDevice moves fixed-size PCM chunks in and out of the sound hardware.
type AudioDevice interface {
	// ReadChunk blocks until one full capture chunk is available.
	ReadChunk() ([]byte, error)
	// WriteChunk queues one chunk for playback.
	WriteChunk(pcm []byte) error
}

// AudioSource hands out one AudioDevice view per audio client so that a
// single capture device can feed several senders.
type AudioSource interface {
	OpenStream(id string) (AudioDevice, error)
	Close() error
}

// DisplaySink presents decoded frames to the viewer.
type DisplaySink interface {
	Present(img image.Image) error
}

// FPSReporter is implemented by sinks that display the receive rate.
type FPSReporter interface {
	SetFPS(fps int)
}
