package device

import (
	"log/slog"
	"strings"
	"sync"

	malgo "github.com/gen2brain/malgo"
	"github.com/pkg/errors"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
	"github.com/babelcloud/deskstream/internal/deskstream/pipeline"
	"github.com/babelcloud/deskstream/internal/util"
)

// MalgoAudio drives the default capture and playback devices. Captured PCM
// is cut into fixed-size chunks and fanned out to every open stream; chunks
// written by the open streams are mixed into the playback device.
type MalgoAudio struct {
	cfg      AudioConfig
	ctx      *malgo.AllocatedContext
	capture  *malgo.Device
	playback *malgo.Device
	captured *pipeline.Broadcaster
	mixer    *playbackMixer
	pending  []byte
	logger   *slog.Logger

	closeOnce sync.Once
}

// NewMalgoAudio opens and starts both devices.
func NewMalgoAudio(cfg AudioConfig) (*MalgoAudio, error) {
	cfg = cfg.withDefaults()
	logger := util.GetLogger().With("device", "malgo")

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to init audio context")
	}

	a := &MalgoAudio{
		cfg:      cfg,
		ctx:      mctx,
		captured: pipeline.NewBroadcaster("audio-capture", false),
		mixer:    newPlaybackMixer(cfg.QueueChunks),
		logger:   logger,
	}

	chunker := newPCMChunker(cfg.ChunkBytes())
	captureCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	captureCfg.Capture.Format = malgo.FormatS16
	captureCfg.Capture.Channels = 1
	captureCfg.SampleRate = uint32(cfg.SampleRate)

	a.capture, err = malgo.InitDevice(mctx.Context, captureCfg, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, _ uint32) {
			if len(pInput) > 0 {
				chunker.Push(pInput, a.captured.Broadcast)
			}
		},
	})
	if err != nil {
		a.release()
		return nil, errors.Wrap(err, "failed to init capture device")
	}

	playbackCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	playbackCfg.Playback.Format = malgo.FormatS16
	playbackCfg.Playback.Channels = 1
	playbackCfg.SampleRate = uint32(cfg.SampleRate)
	playbackCfg.PeriodSizeInFrames = uint32(cfg.ChunkSamples)
	if playbackCfg.Periods < 4 {
		playbackCfg.Periods = 4
	}

	a.playback, err = malgo.InitDevice(mctx.Context, playbackCfg, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, _ uint32) {
			a.pending = fillPlayback(pOutput, a.pending, a.mixer.Next)
		},
	})
	if err != nil {
		a.release()
		return nil, errors.Wrap(err, "failed to init playback device")
	}

	if err := a.capture.Start(); err != nil {
		a.release()
		return nil, errors.Wrap(err, "failed to start capture device")
	}
	if err := a.playback.Start(); err != nil {
		a.release()
		return nil, errors.Wrap(err, "failed to start playback device")
	}

	logger.Info("Audio devices started", "sample_rate", cfg.SampleRate, "chunk_samples", cfg.ChunkSamples)
	return a, nil
}

// OpenStream returns a view that reads its own copy of the capture stream
// and feeds its own mixer input.
func (a *MalgoAudio) OpenStream(id string) (core.AudioDevice, error) {
	return &broadcastStream{
		id:     id,
		source: a.captured,
		ch:     a.captured.Subscribe(id, a.cfg.QueueChunks),
		play:   a.mixer.Add(),
	}, nil
}

// Close stops both devices and ends every open stream.
func (a *MalgoAudio) Close() error {
	a.closeOnce.Do(func() {
		a.captured.Close()
		a.release()
		a.logger.Info("Audio devices closed")
	})
	return nil
}

func (a *MalgoAudio) release() {
	if a.capture != nil {
		_ = a.capture.Stop()
		a.capture.Uninit()
	}
	if a.playback != nil {
		_ = a.playback.Stop()
		a.playback.Uninit()
	}
	if a.ctx != nil {
		_ = a.ctx.Uninit()
		a.ctx.Free()
	}
}

// broadcastStream is one client's view of a shared capture broadcaster.
type broadcastStream struct {
	id     string
	source *pipeline.Broadcaster
	ch     <-chan []byte
	play   *mixerInput
}

func (s *broadcastStream) ReadChunk() ([]byte, error) {
	chunk, ok := <-s.ch
	if !ok {
		return nil, errors.New("audio capture stopped")
	}
	return chunk, nil
}

func (s *broadcastStream) WriteChunk(pcm []byte) error {
	s.play.Write(pcm)
	return nil
}

// Close detaches the view from the capture stream and the mixer.
func (s *broadcastStream) Close() error {
	s.source.Release(s.id, s.ch)
	s.play.Close()
	return nil
}
