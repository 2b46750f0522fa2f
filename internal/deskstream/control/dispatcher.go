package control

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
	"github.com/babelcloud/deskstream/internal/deskstream/protocol"
	"github.com/babelcloud/deskstream/internal/util"
)

const (
	DefaultClickSettle    = 10 * time.Millisecond
	DefaultDragDuration   = 50 * time.Millisecond
	DefaultReceiveTimeout = 100 * time.Millisecond
)

// CommandSource yields decoded command datagrams.
type CommandSource interface {
	ReceiveCommand(timeout time.Duration) (protocol.Command, *net.UDPAddr, error)
}

// Config configures a Dispatcher. Zero durations take the package defaults.
type Config struct {
	Viewport       core.Geometry
	Screen         core.Geometry
	MoveInterval   time.Duration
	MoveThreshold  int
	ClickSettle    time.Duration
	DragDuration   time.Duration
	ReceiveTimeout time.Duration
	Clock          clock.Clock
}

func (c Config) withDefaults() Config {
	if c.MoveInterval == 0 {
		c.MoveInterval = DefaultMoveInterval
	}
	if c.MoveThreshold == 0 {
		c.MoveThreshold = DefaultMoveThreshold
	}
	if c.ClickSettle == 0 {
		c.ClickSettle = DefaultClickSettle
	}
	if c.DragDuration == 0 {
		c.DragDuration = DefaultDragDuration
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = DefaultReceiveTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	return c
}

// Dispatcher turns remote commands into local pointer actions.
type Dispatcher struct {
	input     core.InputProvider
	cfg       Config
	remap     Remapper
	debouncer *MoveDebouncer
	logger    *slog.Logger
}

func NewDispatcher(input core.InputProvider, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = util.GetLogger()
	}
	cfg = cfg.withDefaults()
	return &Dispatcher{
		input:     input,
		cfg:       cfg,
		remap:     NewRemapper(cfg.Viewport, cfg.Screen),
		debouncer: NewMoveDebouncer(cfg.Clock, cfg.MoveInterval, cfg.MoveThreshold),
		logger:    logger,
	}
}

// Dispatch executes one command. Debounced moves return nil without
// touching the input provider. Injection failures satisfy core.ErrDevice.
func (d *Dispatcher) Dispatch(cmd protocol.Command) error {
	x, y := d.remap.Map(cmd.Position())

	switch c := cmd.(type) {
	case protocol.Move:
		if !d.debouncer.Allow(x, y) {
			return nil
		}
		return core.DeviceError("move", d.input.MoveTo(x, y))

	case protocol.Click:
		if err := d.moveAndSettle(x, y); err != nil {
			return err
		}
		button := c.Button
		if button == "" {
			button = core.ButtonLeft
		}
		return core.DeviceError("click", d.input.Click(x, y, button))

	case protocol.DoubleClick:
		if err := d.moveAndSettle(x, y); err != nil {
			return err
		}
		return core.DeviceError("double click", d.input.DoubleClick(x, y))

	case protocol.Drag:
		endX, endY := d.remap.Map(c.EndX, c.EndY)
		if err := d.input.MoveTo(x, y); err != nil {
			return core.DeviceError("drag start", err)
		}
		return core.DeviceError("drag", d.input.DragTo(endX, endY, d.cfg.DragDuration))

	default:
		return core.Classify(core.ErrUnknownCommand, nil, "unsupported command "+cmd.Kind())
	}
}

func (d *Dispatcher) moveAndSettle(x, y int) error {
	if err := d.input.MoveTo(x, y); err != nil {
		return core.DeviceError("move", err)
	}
	d.cfg.Clock.Sleep(d.cfg.ClickSettle)
	return nil
}

// Run receives and dispatches commands until ctx is cancelled or the source
// is closed. Malformed datagrams and injection failures are logged and skipped.
func (d *Dispatcher) Run(ctx context.Context, src CommandSource) error {
	d.logger.Info("Control dispatcher started", "viewport", d.cfg.Viewport.String(), "screen", d.cfg.Screen.String())
	defer d.logger.Info("Control dispatcher stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		cmd, from, err := src.ReceiveCommand(d.cfg.ReceiveTimeout)
		switch {
		case err == nil:
		case errors.Is(err, core.ErrTimeout):
			continue
		case errors.Is(err, core.ErrMalformedMessage):
			d.logger.Warn("Dropping malformed command", "from", from, "error", err)
			continue
		case errors.Is(err, core.ErrConnectionClosed):
			return nil
		default:
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "control receive failed")
		}

		if err := d.Dispatch(cmd); err != nil {
			d.logger.Warn("Command failed", "type", cmd.Kind(), "from", from, "error", err)
			continue
		}
		d.logger.Debug("Command dispatched", "type", cmd.Kind(), "from", from)
	}
}
