package stream

import (
	"bytes"
	"image"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
	"github.com/babelcloud/deskstream/internal/deskstream/protocol"
)

type mockCapture struct {
	mu       sync.Mutex
	size     image.Rectangle
	failures int
	calls    int
}

func (m *mockCapture) ScreenSize() (core.Geometry, error) {
	return core.Geometry{Width: m.size.Dx(), Height: m.size.Dy()}, nil
}

func (m *mockCapture) CaptureFrame() (image.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return nil, errors.New("display unavailable")
	}
	return image.NewRGBA(m.size), nil
}

// payloadCodec hands out preset payloads on Encode and decodes any payload
// into a len(data)x1 image. Payloads beginning with 0xEE fail to decode.
type payloadCodec struct {
	mu        sync.Mutex
	payloads  [][]byte
	next      int
	encodeErr error
	sizes     []image.Rectangle
}

func (c *payloadCodec) Encode(img image.Image, quality int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encodeErr != nil {
		return nil, c.encodeErr
	}
	c.sizes = append(c.sizes, img.Bounds())
	p := c.payloads[c.next%len(c.payloads)]
	c.next++
	return p, nil
}

func (c *payloadCodec) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 || data[0] == 0xEE {
		return nil, core.ErrDecode
	}
	return image.NewGray(image.Rect(0, 0, len(data), 1)), nil
}

type recordingSink struct {
	mu     sync.Mutex
	widths []int
	fps    []int
}

func (s *recordingSink) Present(img image.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.widths = append(s.widths, img.Bounds().Dx())
	return nil
}

func (s *recordingSink) SetFPS(fps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fps = append(s.fps, fps)
}

// streamWriter frames payloads onto an io.Writer and runs onWrite after each.
type streamWriter struct {
	mu      sync.Mutex
	w       io.Writer
	frames  [][]byte
	onWrite func(n int)
	err     error
}

func (s *streamWriter) WriteFrame(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, append([]byte(nil), p...))
	if s.w != nil {
		if err := protocol.WriteFrame(s.w, p); err != nil {
			return err
		}
	}
	if s.onWrite != nil {
		s.onWrite(len(s.frames))
	}
	return nil
}

func (s *streamWriter) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

// chunkReader returns at most n bytes per Read.
type chunkReader struct {
	r io.Reader
	n int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) > c.n {
		p = p[:c.n]
	}
	return c.r.Read(p)
}

type streamReader struct {
	r io.Reader
}

func (s streamReader) ReadFrame() ([]byte, error) {
	return protocol.ReadFrame(s.r, 0)
}

func chunkedStream(frames [][]byte, chunk int) streamReader {
	var buf bytes.Buffer
	for _, f := range frames {
		_ = protocol.WriteFrame(&buf, f)
	}
	return streamReader{r: &chunkReader{r: &buf, n: chunk}}
}

type mockAudioDevice struct {
	mu      sync.Mutex
	chunks  [][]byte
	readErr error
	played  [][]byte
	playErr error
}

func (d *mockAudioDevice) ReadChunk() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.chunks) == 0 {
		return nil, d.readErr
	}
	c := d.chunks[0]
	d.chunks = d.chunks[1:]
	return c, nil
}

func (d *mockAudioDevice) WriteChunk(pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playErr != nil {
		return d.playErr
	}
	d.played = append(d.played, pcm)
	return nil
}

func sized(n int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, n)
}
