package stream

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
	"github.com/babelcloud/deskstream/internal/util"
)

// Audio format shared by both ends: signed 16-bit little-endian mono.
const (
	DefaultSampleRate   = 44100
	DefaultChunkSamples = 1024
	Channels            = 1
	BytesPerSample      = 2
)

// ChunkBytes returns the byte length of a chunk of n samples.
func ChunkBytes(samples int) int {
	return samples * Channels * BytesPerSample
}

// MuteSwitch silences an AudioSender without stopping it.
type MuteSwitch struct {
	muted atomic.Bool
}

func (m *MuteSwitch) Set(muted bool) {
	m.muted.Store(muted)
}

// Toggle flips the switch and returns the new state.
func (m *MuteSwitch) Toggle() bool {
	for {
		old := m.muted.Load()
		if m.muted.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (m *MuteSwitch) Muted() bool {
	return m != nil && m.muted.Load()
}

// AudioSender forwards captured chunks. While muted, each chunk is replaced
// by zeros of the same length so the receiver's timing is unchanged.
type AudioSender struct {
	direction
	dev    core.AudioDevice
	out    FrameWriter
	mute   *MuteSwitch
	logger *slog.Logger
	stats  Stats
}

// NewAudioSender creates a sender. mute may be nil.
func NewAudioSender(dev core.AudioDevice, out FrameWriter, mute *MuteSwitch, logger *slog.Logger) *AudioSender {
	if logger == nil {
		logger = util.GetLogger()
	}
	return &AudioSender{dev: dev, out: out, mute: mute, logger: logger}
}

func (s *AudioSender) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

// Run streams until ctx is cancelled or the connection closes. A device
// failure ends this direction with an error satisfying core.ErrDevice.
func (s *AudioSender) Run(ctx context.Context) error {
	if err := s.start(); err != nil {
		return err
	}
	defer s.stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		chunk, err := s.dev.ReadChunk()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return core.DeviceError("read audio", err)
		}
		if s.mute.Muted() {
			chunk = make([]byte, len(chunk))
		}
		if err := s.out.WriteFrame(chunk); err != nil {
			if errors.Is(err, core.ErrConnectionClosed) {
				s.logger.Debug("Audio send connection closed", "error", err)
				return nil
			}
			return errors.Wrap(err, "failed to send audio chunk")
		}
		s.stats.record(len(chunk))
	}
}

// AudioReceiver plays received chunks in arrival order.
type AudioReceiver struct {
	direction
	in     FrameReader
	dev    core.AudioDevice
	logger *slog.Logger
	stats  Stats
}

func NewAudioReceiver(in FrameReader, dev core.AudioDevice, logger *slog.Logger) *AudioReceiver {
	if logger == nil {
		logger = util.GetLogger()
	}
	return &AudioReceiver{in: in, dev: dev, logger: logger}
}

func (r *AudioReceiver) Stats() StatsSnapshot {
	return r.stats.Snapshot()
}

// Run plays until the connection closes (nil). Playback failures end this
// direction with an error satisfying core.ErrDevice.
func (r *AudioReceiver) Run(ctx context.Context) error {
	if err := r.start(); err != nil {
		return err
	}
	defer r.stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		chunk, err := r.in.ReadFrame()
		if err != nil {
			if errors.Is(err, core.ErrConnectionClosed) || ctx.Err() != nil {
				r.logger.Debug("Audio receive stream ended", "error", err)
				return nil
			}
			return errors.Wrap(err, "failed to read audio chunk")
		}
		if err := r.dev.WriteChunk(chunk); err != nil {
			return core.DeviceError("play audio", err)
		}
		r.stats.record(len(chunk))
	}
}
