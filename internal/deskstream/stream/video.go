package stream

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/babelcloud/deskstream/internal/deskstream/codec"
	"github.com/babelcloud/deskstream/internal/deskstream/core"
	"github.com/babelcloud/deskstream/internal/util"
)

const (
	DefaultFPS = 20
	// DefaultYield caps a single wait so cancellation is observed promptly.
	DefaultYield = 10 * time.Millisecond
)

// VideoConfig configures a VideoSender.
type VideoConfig struct {
	Viewport core.Geometry
	FPS      int
	Quality  int
	Yield    time.Duration
	Clock    clock.Clock
}

func (c VideoConfig) withDefaults() VideoConfig {
	if c.FPS == 0 {
		c.FPS = DefaultFPS
	}
	if c.Quality == 0 {
		c.Quality = codec.DefaultQuality
	}
	if c.Yield <= 0 {
		c.Yield = DefaultYield
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	return c
}

// VideoSender captures, scales, encodes and sends frames at a fixed rate.
type VideoSender struct {
	direction
	capture core.CaptureProvider
	codec   core.Codec
	out     FrameWriter
	cfg     VideoConfig
	logger  *slog.Logger
	stats   Stats
}

func NewVideoSender(capture core.CaptureProvider, c core.Codec, out FrameWriter, cfg VideoConfig, logger *slog.Logger) *VideoSender {
	if logger == nil {
		logger = util.GetLogger()
	}
	return &VideoSender{
		capture: capture,
		codec:   c,
		out:     out,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Stats returns the sender's counters.
func (s *VideoSender) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

// Run streams until ctx is cancelled or the connection closes, both of
// which return nil. An encode or non-close write failure is returned.
// A write blocked on a stalled peer is only released by closing the connection.
func (s *VideoSender) Run(ctx context.Context) error {
	if err := s.start(); err != nil {
		return err
	}
	defer s.stop()

	rate := NewRateState(s.cfg.Clock, s.cfg.FPS)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		due, wait := rate.Due()
		if !due {
			if wait > s.cfg.Yield {
				wait = s.cfg.Yield
			}
			select {
			case <-ctx.Done():
				return nil
			case <-s.cfg.Clock.After(wait):
			}
			continue
		}
		rate.Mark()

		img, err := s.capture.CaptureFrame()
		if err != nil {
			s.stats.fail()
			s.logger.Warn("Screen capture failed", "error", core.DeviceError("capture", err))
			continue
		}

		data, err := s.encode(img)
		if err != nil {
			return err
		}

		if err := s.out.WriteFrame(data); err != nil {
			if errors.Is(err, core.ErrConnectionClosed) {
				s.logger.Debug("Video connection closed", "error", err)
				return nil
			}
			return errors.Wrap(err, "failed to send video frame")
		}
		s.stats.record(len(data))
	}
}

func (s *VideoSender) encode(img image.Image) ([]byte, error) {
	if s.cfg.Viewport.Valid() {
		img = codec.Resize(img, s.cfg.Viewport, nil)
	}
	data, err := s.codec.Encode(img, s.cfg.Quality)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode video frame")
	}
	return data, nil
}

// VideoReceiver reads frames, decodes them and hands them to a sink.
type VideoReceiver struct {
	direction
	in     FrameReader
	codec  core.Codec
	sink   core.DisplaySink
	fps    *FPSCounter
	logger *slog.Logger
	stats  Stats
}

func NewVideoReceiver(in FrameReader, c core.Codec, sink core.DisplaySink, clk clock.PassiveClock, logger *slog.Logger) *VideoReceiver {
	if logger == nil {
		logger = util.GetLogger()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &VideoReceiver{
		in:     in,
		codec:  c,
		sink:   sink,
		fps:    NewFPSCounter(clk),
		logger: logger,
	}
}

// FPS returns the receive rate over the last complete second.
func (r *VideoReceiver) FPS() int {
	return r.fps.FPS()
}

// Stats returns the receiver's counters. Errors counts undecodable frames.
func (r *VideoReceiver) Stats() StatsSnapshot {
	return r.stats.Snapshot()
}

// Run receives until the connection closes (nil) or a malformed header
// arrives (error). Cancelling ctx takes effect once the blocked read returns,
// so callers close the connection to stop it.
func (r *VideoReceiver) Run(ctx context.Context) error {
	if err := r.start(); err != nil {
		return err
	}
	defer r.stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		data, err := r.in.ReadFrame()
		if err != nil {
			if errors.Is(err, core.ErrConnectionClosed) || ctx.Err() != nil {
				r.logger.Debug("Video stream ended", "error", err)
				return nil
			}
			return errors.Wrap(err, "failed to read video frame")
		}

		img, err := r.codec.Decode(data)
		if err != nil {
			r.stats.fail()
			r.logger.Warn("Dropping undecodable frame", "size", len(data), "error", err)
			continue
		}
		r.stats.record(len(data))

		if err := r.sink.Present(img); err != nil {
			r.logger.Warn("Display failed", "error", err)
		}

		if fps, updated := r.fps.Tick(); updated {
			if reporter, ok := r.sink.(core.FPSReporter); ok {
				reporter.SetFPS(fps)
			}
			r.logger.Debug("Video receive rate", "fps", fps, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
		}
	}
}
