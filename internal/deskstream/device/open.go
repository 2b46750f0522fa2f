package device

import (
	"github.com/pkg/errors"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
)

// Capture backends.
const (
	CaptureX11       = "x11"
	CaptureSynthetic = "synthetic"
)

// Audio backends.
const (
	AudioMalgo   = "malgo"
	AudioSilence = "silence"
)

// Desktop is a capture provider that can also inject input.
type Desktop interface {
	core.CaptureProvider
	core.InputProvider
}

// OpenDesktop opens the named capture backend. display applies to x11,
// syntheticSize to synthetic.
func OpenDesktop(backend, display string, syntheticSize core.Geometry) (Desktop, error) {
	switch backend {
	case CaptureX11, "":
		return NewX11Provider(display)
	case CaptureSynthetic:
		if !syntheticSize.Valid() {
			return nil, errors.Errorf("invalid synthetic screen size %s", syntheticSize)
		}
		return NewSynthetic(syntheticSize, nil), nil
	default:
		return nil, errors.Errorf("unknown capture backend %q", backend)
	}
}

// OpenAudio opens the named audio backend.
func OpenAudio(backend string, cfg AudioConfig) (core.AudioSource, error) {
	switch backend {
	case AudioMalgo, "":
		return NewMalgoAudio(cfg)
	case AudioSilence:
		return NewSilenceAudio(cfg, nil), nil
	default:
		return nil, errors.Errorf("unknown audio backend %q", backend)
	}
}
