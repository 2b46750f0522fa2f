package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/babelcloud/deskstream/internal/deskstream"
	"github.com/babelcloud/deskstream/internal/deskstream/core"
)

var v *viper.Viper

func init() {
	v = viper.New()
	setDefaults(v)

	// Environment variables: DESKSTREAM_PORTS_VIDEO, DESKSTREAM_VIDEO_FPS, ...
	v.SetEnvPrefix("DESKSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("capture.display", "DESKSTREAM_CAPTURE_DISPLAY", "DISPLAY")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths := []string{
		".",
		filepath.Join(xdg.ConfigHome, "deskstream"),
		"/etc/deskstream",
	}
	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
	}
}

func setDefaults(v *viper.Viper) {
	d := deskstream.DefaultSettings()

	v.SetDefault("server.host", d.Host)
	v.SetDefault("server.proxy_protocol", d.ProxyProtocol)

	v.SetDefault("ports.video", d.VideoPort)
	v.SetDefault("ports.control", d.ControlPort)
	v.SetDefault("ports.audio", d.AudioPort)

	v.SetDefault("viewport.width", d.Viewport.Width)
	v.SetDefault("viewport.height", d.Viewport.Height)
	v.SetDefault("video.fps", d.FPS)
	v.SetDefault("video.quality", d.Quality)
	v.SetDefault("frame.max_size", d.MaxFrameSize)

	v.SetDefault("audio.enabled", d.AudioEnabled)
	v.SetDefault("audio.sample_rate", d.SampleRate)
	v.SetDefault("audio.chunk_samples", d.ChunkSamples)
	v.SetDefault("audio.backend", d.AudioBackend)

	v.SetDefault("control.recv_timeout", d.ReceiveTimeout)
	v.SetDefault("control.move_interval", d.MoveInterval)
	v.SetDefault("control.move_threshold", d.MoveThreshold)
	v.SetDefault("control.click_settle", d.ClickSettle)
	v.SetDefault("control.drag_duration", d.DragDuration)

	v.SetDefault("viewer.move_interval", d.ViewerMoveInterval)
	v.SetDefault("viewer.move_threshold", d.ViewerMoveThreshold)

	v.SetDefault("capture.backend", d.CaptureBackend)
	v.SetDefault("capture.display", d.Display)
	v.SetDefault("capture.synthetic_size", d.SyntheticSize.String())

	v.SetDefault("display.backend", d.DisplayBackend)
	v.SetDefault("display.web_addr", d.WebAddr)
}

// LoadFile reads an explicit config file, as given by --config. Values it
// sets override the searched config.yaml.
func LoadFile(path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	return nil
}

// ConfigFileUsed returns the config file in effect, or "" when running on
// defaults and environment only.
func ConfigFileUsed() string {
	return v.ConfigFileUsed()
}

// BindFlag lets an explicitly set command-line flag override key.
func BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return errors.Errorf("no flag bound to %s", key)
	}
	return v.BindPFlag(key, flag)
}

// Set overrides key for the rest of the process.
func Set(key string, value interface{}) {
	v.Set(key, value)
}

// GetHost returns the address the server listens on
func GetHost() string {
	return v.GetString("server.host")
}

func GetProxyProtocol() bool {
	return v.GetBool("server.proxy_protocol")
}

// GetVideoPort returns the TCP port of the video stream
func GetVideoPort() int {
	return v.GetInt("ports.video")
}

// GetControlPort returns the UDP port of the command channel
func GetControlPort() int {
	return v.GetInt("ports.control")
}

// GetAudioPort returns the TCP port of the audio stream
func GetAudioPort() int {
	return v.GetInt("ports.audio")
}

func GetViewport() core.Geometry {
	return core.Geometry{Width: v.GetInt("viewport.width"), Height: v.GetInt("viewport.height")}
}

func GetFPS() int {
	return v.GetInt("video.fps")
}

func GetQuality() int {
	return v.GetInt("video.quality")
}

// GetMaxFrameSize returns the largest accepted frame payload in bytes
func GetMaxFrameSize() uint32 {
	return v.GetUint32("frame.max_size")
}

func GetAudioEnabled() bool {
	return v.GetBool("audio.enabled")
}

func GetSampleRate() int {
	return v.GetInt("audio.sample_rate")
}

func GetChunkSamples() int {
	return v.GetInt("audio.chunk_samples")
}

func GetAudioBackend() string {
	return v.GetString("audio.backend")
}

func GetReceiveTimeout() time.Duration {
	return v.GetDuration("control.recv_timeout")
}

func GetMoveInterval() time.Duration {
	return v.GetDuration("control.move_interval")
}

func GetMoveThreshold() int {
	return v.GetInt("control.move_threshold")
}

func GetClickSettle() time.Duration {
	return v.GetDuration("control.click_settle")
}

func GetDragDuration() time.Duration {
	return v.GetDuration("control.drag_duration")
}

func GetViewerMoveInterval() time.Duration {
	return v.GetDuration("viewer.move_interval")
}

func GetViewerMoveThreshold() int {
	return v.GetInt("viewer.move_threshold")
}

// GetCaptureBackend returns the capture provider name (x11 or synthetic)
func GetCaptureBackend() string {
	return v.GetString("capture.backend")
}

// GetDisplay returns the X display to capture, empty for $DISPLAY
func GetDisplay() string {
	return v.GetString("capture.display")
}

func GetSyntheticSize() (core.Geometry, error) {
	return core.ParseGeometry(v.GetString("capture.synthetic_size"))
}

// GetDisplayBackend returns the viewer's display sink (web, terminal or none)
func GetDisplayBackend() string {
	return v.GetString("display.backend")
}

func GetWebAddr() string {
	return v.GetString("display.web_addr")
}

// Settings snapshots the current configuration and validates it.
func Settings() (deskstream.Settings, error) {
	synthetic, err := GetSyntheticSize()
	if err != nil {
		return deskstream.Settings{}, errors.Wrap(err, "capture.synthetic_size")
	}

	s := deskstream.Settings{
		Host:                GetHost(),
		ProxyProtocol:       GetProxyProtocol(),
		VideoPort:           GetVideoPort(),
		ControlPort:         GetControlPort(),
		AudioPort:           GetAudioPort(),
		Viewport:            GetViewport(),
		FPS:                 GetFPS(),
		Quality:             GetQuality(),
		MaxFrameSize:        GetMaxFrameSize(),
		AudioEnabled:        GetAudioEnabled(),
		SampleRate:          GetSampleRate(),
		ChunkSamples:        GetChunkSamples(),
		ReceiveTimeout:      GetReceiveTimeout(),
		MoveInterval:        GetMoveInterval(),
		MoveThreshold:       GetMoveThreshold(),
		ClickSettle:         GetClickSettle(),
		DragDuration:        GetDragDuration(),
		ViewerMoveInterval:  GetViewerMoveInterval(),
		ViewerMoveThreshold: GetViewerMoveThreshold(),
		CaptureBackend:      GetCaptureBackend(),
		Display:             GetDisplay(),
		SyntheticSize:       synthetic,
		AudioBackend:        GetAudioBackend(),
		DisplayBackend:      GetDisplayBackend(),
		WebAddr:             GetWebAddr(),
	}
	if err := s.Validate(); err != nil {
		return deskstream.Settings{}, err
	}
	return s, nil
}
