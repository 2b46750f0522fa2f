package device

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
)

var errSilenceClosed = errors.New("silence audio closed")

// SilenceAudio stands in for a sound card: capture yields zero chunks paced
// in real time and playback discards everything.
type SilenceAudio struct {
	cfg   AudioConfig
	clock clock.Clock
	done  chan struct{}
	once  sync.Once
}

func NewSilenceAudio(cfg AudioConfig, clk clock.Clock) *SilenceAudio {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &SilenceAudio{cfg: cfg.withDefaults(), clock: clk, done: make(chan struct{})}
}

func (s *SilenceAudio) OpenStream(id string) (core.AudioDevice, error) {
	select {
	case <-s.done:
		return nil, errSilenceClosed
	default:
	}
	return &silenceStream{owner: s, stop: make(chan struct{})}, nil
}

func (s *SilenceAudio) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type silenceStream struct {
	owner *SilenceAudio
	stop  chan struct{}
	once  sync.Once
}

func (s *silenceStream) ReadChunk() ([]byte, error) {
	select {
	case <-s.owner.done:
		return nil, errSilenceClosed
	case <-s.stop:
		return nil, errSilenceClosed
	case <-s.owner.clock.After(s.owner.cfg.ChunkDuration()):
		return make([]byte, s.owner.cfg.ChunkBytes()), nil
	}
}

func (s *silenceStream) WriteChunk(pcm []byte) error {
	select {
	case <-s.owner.done:
		return errSilenceClosed
	default:
		return nil
	}
}

func (s *silenceStream) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}
