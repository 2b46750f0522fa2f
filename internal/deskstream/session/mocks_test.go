package session

import (
	"bytes"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/babelcloud/deskstream/internal/deskstream"
	"github.com/babelcloud/deskstream/internal/deskstream/core"
)

// fakeDesktop reports a 1920x1080 screen but captures viewport-sized images
// so frames need no scaling.
type fakeDesktop struct {
	mu     sync.Mutex
	calls  []string
	closes atomic.Int32
}

func (d *fakeDesktop) ScreenSize() (core.Geometry, error) {
	return core.Geometry{Width: 1920, Height: 1080}, nil
}

func (d *fakeDesktop) CaptureFrame() (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 1024, 576)), nil
}

func (d *fakeDesktop) record(s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, s)
	return nil
}

func (d *fakeDesktop) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDesktop) MoveTo(x, y int) error { return d.record(fmt.Sprintf("move %d,%d", x, y)) }
func (d *fakeDesktop) Click(x, y int, b core.Button) error {
	return d.record(fmt.Sprintf("click %d,%d %s", x, y, b))
}
func (d *fakeDesktop) DoubleClick(x, y int) error { return d.record(fmt.Sprintf("double %d,%d", x, y)) }
func (d *fakeDesktop) DragTo(x, y int, dur time.Duration) error {
	return d.record(fmt.Sprintf("drag %d,%d", x, y))
}

func (d *fakeDesktop) Close() error {
	d.closes.Add(1)
	return nil
}

// sizeCodec encodes successive frames as payloads of the configured sizes,
// cycling, and decodes a payload into a len(data)x1 image.
type sizeCodec struct {
	sizes []int
	next  atomic.Int64
}

func (c *sizeCodec) Encode(img image.Image, quality int) ([]byte, error) {
	i := int(c.next.Add(1)-1) % len(c.sizes)
	return bytes.Repeat([]byte{byte(i + 1)}, c.sizes[i]), nil
}

func (c *sizeCodec) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, core.ErrDecode
	}
	return image.NewGray(image.Rect(0, 0, len(data), 1)), nil
}

type fakeAudioSource struct {
	mu      sync.Mutex
	streams map[string]*fakeAudioStream
	chunk   []byte
	closed  atomic.Bool
}

func newFakeAudioSource(chunk []byte) *fakeAudioSource {
	return &fakeAudioSource{streams: make(map[string]*fakeAudioStream), chunk: chunk}
}

func (s *fakeAudioSource) OpenStream(id string) (core.AudioDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, errors.New("closed")
	}
	st := &fakeAudioStream{chunk: s.chunk, stop: make(chan struct{})}
	s.streams[id] = st
	return st, nil
}

func (s *fakeAudioSource) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeAudioSource) Played() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]byte
	for _, st := range s.streams {
		out = append(out, st.Played()...)
	}
	return out
}

type fakeAudioStream struct {
	mu     sync.Mutex
	chunk  []byte
	played [][]byte
	stop   chan struct{}
	once   sync.Once
	closed atomic.Bool
}

func (s *fakeAudioStream) ReadChunk() ([]byte, error) {
	select {
	case <-s.stop:
		return nil, errors.New("stream closed")
	case <-time.After(5 * time.Millisecond):
		return append([]byte(nil), s.chunk...), nil
	}
}

func (s *fakeAudioStream) WriteChunk(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played = append(s.played, pcm)
	return nil
}

func (s *fakeAudioStream) Played() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.played...)
}

func (s *fakeAudioStream) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.stop)
	})
	return nil
}

func testSettings() deskstream.Settings {
	s := deskstream.DefaultSettings()
	s.Host = "127.0.0.1"
	s.VideoPort = 0
	s.ControlPort = 0
	s.AudioPort = 0
	s.FPS = 200
	return s
}

type recordingSink struct {
	mu     sync.Mutex
	widths []int
}

func (s *recordingSink) Present(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.widths = append(s.widths, img.Bounds().Dx())
	return nil
}

func (s *recordingSink) Widths() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.widths...)
}
