package device

import (
	"image"
	"sync"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgb/xtest"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
	"github.com/babelcloud/deskstream/internal/util"
)

const (
	x11ButtonLeft  byte = 1
	x11ButtonRight byte = 3

	dragStep = 10 * time.Millisecond
)

// X11Provider captures the root window of an X display and injects pointer
// events through the XTEST extension.
type X11Provider struct {
	mu     sync.Mutex
	conn   *xgb.Conn
	root   xproto.Window
	width  uint16
	height uint16
	depth  byte
	clock  clock.Clock
	closed bool
}

// NewX11Provider connects to display (":0", ":99"). An empty display uses $DISPLAY.
func NewX11Provider(display string) (*X11Provider, error) {
	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to X display %q", display)
	}
	if err := xtest.Init(conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "XTEST extension unavailable")
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	p := &X11Provider{
		conn:   conn,
		root:   screen.Root,
		width:  screen.WidthInPixels,
		height: screen.HeightInPixels,
		depth:  screen.RootDepth,
		clock:  clock.RealClock{},
	}
	util.GetLogger().Info("Connected to X display", "display", display, "width", p.width, "height", p.height, "depth", p.depth)
	return p, nil
}

func (p *X11Provider) ScreenSize() (core.Geometry, error) {
	return core.Geometry{Width: int(p.width), Height: int(p.height)}, nil
}

// CaptureFrame grabs the root window as a ZPixmap and converts it to RGBA.
func (p *X11Provider) CaptureFrame() (image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("x11 provider closed")
	}

	reply, err := xproto.GetImage(p.conn, xproto.ImageFormatZPixmap, xproto.Drawable(p.root),
		0, 0, p.width, p.height, 0xffffffff).Reply()
	if err != nil {
		return nil, errors.Wrap(err, "GetImage failed")
	}
	return bgrxToRGBA(reply.Data, int(p.width), int(p.height))
}

// bgrxToRGBA converts 32 bits-per-pixel little-endian BGRX data, the layout
// of depth 24 and 32 visuals on common servers.
func bgrxToRGBA(data []byte, w, h int) (*image.RGBA, error) {
	if len(data) < w*h*4 {
		return nil, errors.Errorf("short image data: got %d bytes for %dx%d", len(data), w, h)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	pix := img.Pix
	for i := 0; i < w*h; i++ {
		s := data[i*4 : i*4+4]
		d := pix[i*4 : i*4+4]
		d[0], d[1], d[2], d[3] = s[2], s[1], s[0], 0xff
	}
	return img, nil
}

func (p *X11Provider) MoveTo(x, y int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.warp(x, y)
}

func (p *X11Provider) warp(x, y int) error {
	if p.closed {
		return errors.New("x11 provider closed")
	}
	return xproto.WarpPointerChecked(p.conn, xproto.Window(0), p.root, 0, 0, 0, 0, int16(x), int16(y)).Check()
}

func (p *X11Provider) button(detail byte, press bool) error {
	eventType := byte(xproto.ButtonRelease)
	if press {
		eventType = xproto.ButtonPress
	}
	return xtest.FakeInputChecked(p.conn, eventType, detail, 0, p.root, 0, 0, 0).Check()
}

func (p *X11Provider) click(detail byte) error {
	if err := p.button(detail, true); err != nil {
		return err
	}
	return p.button(detail, false)
}

func (p *X11Provider) Click(x, y int, button core.Button) error {
	detail := x11ButtonLeft
	if button == core.ButtonRight {
		detail = x11ButtonRight
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.warp(x, y); err != nil {
		return err
	}
	return p.click(detail)
}

func (p *X11Provider) DoubleClick(x, y int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.warp(x, y); err != nil {
		return err
	}
	if err := p.click(x11ButtonLeft); err != nil {
		return err
	}
	return p.click(x11ButtonLeft)
}

// DragTo holds the left button while moving from the current pointer
// position to (x, y) in steps spread over duration.
func (p *X11Provider) DragTo(x, y int, duration time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("x11 provider closed")
	}

	ptr, err := xproto.QueryPointer(p.conn, p.root).Reply()
	if err != nil {
		return errors.Wrap(err, "QueryPointer failed")
	}

	if err := p.button(x11ButtonLeft, true); err != nil {
		return err
	}
	for _, pt := range dragPath(int(ptr.RootX), int(ptr.RootY), x, y, duration) {
		if err := p.warp(pt.X, pt.Y); err != nil {
			_ = p.button(x11ButtonLeft, false)
			return err
		}
		p.clock.Sleep(dragStep)
	}
	return p.button(x11ButtonLeft, false)
}

// dragPath returns the intermediate points of a drag, ending exactly at the target.
func dragPath(fromX, fromY, toX, toY int, duration time.Duration) []image.Point {
	steps := int(duration / dragStep)
	if steps < 1 {
		steps = 1
	}
	path := make([]image.Point, 0, steps)
	for i := 1; i <= steps; i++ {
		path = append(path, image.Point{
			X: fromX + (toX-fromX)*i/steps,
			Y: fromY + (toY-fromY)*i/steps,
		})
	}
	return path
}

// Close disconnects from the X server.
func (p *X11Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.conn.Close()
	}
	return nil
}
