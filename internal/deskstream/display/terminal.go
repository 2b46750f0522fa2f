package display

import (
	"fmt"
	"image"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"golang.org/x/term"
	"k8s.io/utils/clock"

	"github.com/babelcloud/deskstream/internal/deskstream/codec"
	"github.com/babelcloud/deskstream/internal/deskstream/core"
)

// DefaultTerminalInterval limits terminal redraws; a full-screen 24-bit
// frame is far larger than the JPEG it came from.
const DefaultTerminalInterval = 100 * time.Millisecond

// TerminalSink renders frames as 24-bit colour half-block characters, two
// image rows per text row, sized to the current terminal.
type TerminalSink struct {
	mu       sync.Mutex
	out      io.Writer
	size     func() (cols, rows int, err error)
	clock    clock.PassiveClock
	interval time.Duration
	lastDraw time.Time
	drawn    bool
	entered  bool
	fps      int
}

// NewTerminalSink draws to f, which must be a terminal.
func NewTerminalSink(f *os.File) (*TerminalSink, error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("terminal display requires stdout to be a terminal")
	}
	return newTerminalSink(f, func() (int, int, error) { return term.GetSize(fd) }, clock.RealClock{}, DefaultTerminalInterval), nil
}

func newTerminalSink(out io.Writer, size func() (int, int, error), clk clock.PassiveClock, interval time.Duration) *TerminalSink {
	return &TerminalSink{out: out, size: size, clock: clk, interval: interval}
}

func (t *TerminalSink) SetFPS(fps int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fps = fps
}

// Present draws img unless the previous draw was less than the redraw interval ago.
func (t *TerminalSink) Present(img image.Image) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if t.drawn && now.Sub(t.lastDraw) < t.interval {
		return nil
	}
	cols, rows, err := t.size()
	if err != nil {
		return errors.Wrap(err, "failed to get terminal size")
	}

	var sb strings.Builder
	if !t.entered {
		sb.WriteString("\x1b[?1049h\x1b[?25l\x1b[2J")
		t.entered = true
	}
	sb.WriteString("\x1b[H")
	renderHalfBlocks(&sb, img, cols, rows-1)
	b := img.Bounds()
	fmt.Fprintf(&sb, "\x1b[0m\x1b[K FPS: %d  %dx%d", t.fps, b.Dx(), b.Dy())

	if _, err := io.WriteString(t.out, sb.String()); err != nil {
		return errors.Wrap(err, "failed to write to terminal")
	}
	t.lastDraw = now
	t.drawn = true
	return nil
}

// Close restores the normal screen.
func (t *TerminalSink) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.entered {
		return nil
	}
	t.entered = false
	_, err := io.WriteString(t.out, "\x1b[0m\x1b[?25h\x1b[?1049l")
	return err
}

// fitCells returns the pixel size that fits img into cols x rows cells
// (each cell two pixels tall) while keeping the aspect ratio.
func fitCells(img core.Geometry, cols, rows int) core.Geometry {
	if cols <= 0 || rows <= 0 || !img.Valid() {
		return core.Geometry{}
	}
	w := cols
	h := w * img.Height / img.Width
	if h > rows*2 {
		h = rows * 2
		w = h * img.Width / img.Height
	}
	h &^= 1
	if w < 1 || h < 2 {
		return core.Geometry{}
	}
	return core.Geometry{Width: w, Height: h}
}

func renderHalfBlocks(sb *strings.Builder, img image.Image, cols, rows int) {
	b := img.Bounds()
	target := fitCells(core.Geometry{Width: b.Dx(), Height: b.Dy()}, cols, rows)
	if !target.Valid() {
		return
	}
	small := codec.Resize(img, target, draw.NearestNeighbor)
	sb2 := small.Bounds()
	for y := 0; y < target.Height; y += 2 {
		for x := 0; x < target.Width; x++ {
			tr, tg, tb, _ := small.At(sb2.Min.X+x, sb2.Min.Y+y).RGBA()
			br, bg, bb, _ := small.At(sb2.Min.X+x, sb2.Min.Y+y+1).RGBA()
			fmt.Fprintf(sb, "\x1b[38;2;%d;%d;%dm\x1b[48;2;%d;%d;%dm▀", tr>>8, tg>>8, tb>>8, br>>8, bg>>8, bb>>8)
		}
		sb.WriteString("\x1b[0m\x1b[K\r\n")
	}
}

// Discard is a sink that drops every frame; the receiver still counts FPS.
type Discard struct {
	mu  sync.Mutex
	fps int
	n   int
}

func (d *Discard) Present(image.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
	return nil
}

func (d *Discard) SetFPS(fps int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fps = fps
}

// Frames returns how many frames were presented.
func (d *Discard) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}
