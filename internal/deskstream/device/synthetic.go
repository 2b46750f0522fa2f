package device

import (
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
	"github.com/babelcloud/deskstream/internal/util"
)

// Synthetic is a headless desktop: it renders a moving test pattern with a
// crosshair at the current pointer position and logs every injected action.
type Synthetic struct {
	mu     sync.Mutex
	size   core.Geometry
	clock  clock.PassiveClock
	start  time.Time
	ptrX   int
	ptrY   int
	logger *slog.Logger
}

func NewSynthetic(size core.Geometry, clk clock.PassiveClock) *Synthetic {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Synthetic{
		size:   size,
		clock:  clk,
		start:  clk.Now(),
		ptrX:   size.Width / 2,
		ptrY:   size.Height / 2,
		logger: util.GetLogger().With("device", "synthetic"),
	}
}

func (s *Synthetic) ScreenSize() (core.Geometry, error) {
	return s.size, nil
}

// Pointer returns the current pointer position.
func (s *Synthetic) Pointer() (x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptrX, s.ptrY
}

func (s *Synthetic) CaptureFrame() (image.Image, error) {
	s.mu.Lock()
	px, py := s.ptrX, s.ptrY
	s.mu.Unlock()

	w, h := s.size.Width, s.size.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shift := int(s.clock.Since(s.start)/(10*time.Millisecond)) % w
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			row[i] = uint8((x + shift) * 255 / w)
			row[i+1] = uint8(y * 255 / h)
			row[i+2] = 96
			row[i+3] = 0xff
		}
	}

	cross := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for d := -12; d <= 12; d++ {
		img.SetRGBA(px+d, py, cross)
		img.SetRGBA(px, py+d, cross)
	}
	return img, nil
}

func (s *Synthetic) MoveTo(x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ptrX, s.ptrY = x, y
	s.logger.Debug("Pointer moved", "x", x, "y", y)
	return nil
}

func (s *Synthetic) Click(x, y int, button core.Button) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ptrX, s.ptrY = x, y
	s.logger.Info("Click", "x", x, "y", y, "button", button)
	return nil
}

func (s *Synthetic) DoubleClick(x, y int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ptrX, s.ptrY = x, y
	s.logger.Info("Double click", "x", x, "y", y)
	return nil
}

func (s *Synthetic) DragTo(x, y int, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("Drag", "from_x", s.ptrX, "from_y", s.ptrY, "to_x", x, "to_y", y, "duration", duration)
	s.ptrX, s.ptrY = x, y
	return nil
}
