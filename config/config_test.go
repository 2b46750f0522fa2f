package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/deskstream/internal/deskstream"
	"github.com/babelcloud/deskstream/internal/deskstream/core"
)

// Tests share the package-level viper instance; flag and file overrides
// are exercised last.

func TestDefaults(t *testing.T) {
	t.Setenv("DISPLAY", "")
	if ConfigFileUsed() != "" {
		t.Skipf("config file %s present", ConfigFileUsed())
	}

	s, err := Settings()
	require.NoError(t, err)
	assert.Equal(t, deskstream.DefaultSettings(), s)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("DESKSTREAM_PORTS_VIDEO", "9000")
	t.Setenv("DESKSTREAM_CONTROL_MOVE_INTERVAL", "35ms")
	t.Setenv("DESKSTREAM_CAPTURE_SYNTHETIC_SIZE", "800x600")
	t.Setenv("DESKSTREAM_AUDIO_ENABLED", "false")
	t.Setenv("DISPLAY", ":3")

	assert.Equal(t, 9000, GetVideoPort())
	assert.Equal(t, 35*time.Millisecond, GetMoveInterval())
	assert.Equal(t, ":3", GetDisplay())

	s, err := Settings()
	require.NoError(t, err)
	assert.Equal(t, core.Geometry{Width: 800, Height: 600}, s.SyntheticSize)
	assert.False(t, s.AudioEnabled)
}

func TestSettingsErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad synthetic size", env: map[string]string{"DESKSTREAM_CAPTURE_SYNTHETIC_SIZE": "big"}},
		{name: "quality out of range", env: map[string]string{"DESKSTREAM_VIDEO_QUALITY": "0"}},
		{name: "zero viewport", env: map[string]string{"DESKSTREAM_VIEWPORT_WIDTH": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, val := range tt.env {
				t.Setenv(k, val)
			}
			_, err := Settings()
			assert.Error(t, err)
		})
	}
}

func TestBindFlag(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("fps", 20, "")
	require.NoError(t, fs.Parse([]string{"--fps", "30"}))

	require.NoError(t, BindFlag("video.fps", fs.Lookup("fps")))
	assert.Equal(t, 30, GetFPS())

	assert.Error(t, BindFlag("video.quality", fs.Lookup("quality")))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskstream.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ports:\n  audio: 7001\nvideo:\n  quality: 75\n"), 0o644))

	require.NoError(t, LoadFile(path))
	assert.Equal(t, path, ConfigFileUsed())
	assert.Equal(t, 7001, GetAudioPort())
	assert.Equal(t, 75, GetQuality())

	assert.Error(t, LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}
