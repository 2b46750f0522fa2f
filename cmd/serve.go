package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/babelcloud/deskstream/config"
	"github.com/babelcloud/deskstream/internal/deskstream"
	"github.com/babelcloud/deskstream/internal/deskstream/codec"
	"github.com/babelcloud/deskstream/internal/deskstream/core"
	"github.com/babelcloud/deskstream/internal/deskstream/device"
	"github.com/babelcloud/deskstream/internal/deskstream/session"
	"github.com/babelcloud/deskstream/internal/util"
)

func NewServeCommand() *cobra.Command {
	var noAudio bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Stream this desktop to remote viewers",
		Long: `Capture the local screen and audio, stream them to every connected viewer and
inject the mouse input viewers send back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(cmd, map[string]string{
				"host":           "server.host",
				"proxy-protocol": "server.proxy_protocol",
				"video-port":     "ports.video",
				"control-port":   "ports.control",
				"audio-port":     "ports.audio",
				"fps":            "video.fps",
				"quality":        "video.quality",
				"capture":        "capture.backend",
				"x-display":      "capture.display",
				"synthetic-size": "capture.synthetic_size",
				"audio-backend":  "audio.backend",
			}); err != nil {
				return err
			}
			if noAudio {
				config.Set("audio.enabled", false)
			}

			settings, err := config.Settings()
			if err != nil {
				return errors.Wrap(err, "invalid configuration")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, settings)
		},
		Example: `  # Serve the X display in $DISPLAY on the default ports
  deskstream serve

  # Serve a synthetic test pattern without audio
  deskstream serve --capture synthetic --no-audio

  # Higher frame rate and quality
  deskstream serve --fps 30 --quality 70`,
	}

	flags := cmd.Flags()
	flags.String("host", config.GetHost(), "Address to listen on")
	flags.Bool("proxy-protocol", config.GetProxyProtocol(), "Accept PROXY protocol headers on the stream ports")
	flags.Int("video-port", config.GetVideoPort(), "TCP port of the video stream")
	flags.Int("control-port", config.GetControlPort(), "UDP port of the command channel")
	flags.Int("audio-port", config.GetAudioPort(), "TCP port of the audio stream")
	flags.Int("fps", config.GetFPS(), "Target frames per second")
	flags.Int("quality", config.GetQuality(), "JPEG quality (1-100)")
	flags.String("capture", config.GetCaptureBackend(), "Capture backend (x11 or synthetic)")
	flags.String("x-display", config.GetDisplay(), "X display to capture (default $DISPLAY)")
	flags.String("synthetic-size", deskstream.DefaultSettings().SyntheticSize.String(), "Screen size of the synthetic capture backend")
	flags.String("audio-backend", config.GetAudioBackend(), "Audio backend (malgo or silence)")
	flags.BoolVar(&noAudio, "no-audio", false, "Disable the audio stream")

	return cmd
}

func runServe(ctx context.Context, settings deskstream.Settings) error {
	logger := util.GetLogger()

	desktop, err := device.OpenDesktop(settings.CaptureBackend, settings.Display, settings.SyntheticSize)
	if err != nil {
		return errors.Wrap(err, "failed to open capture device")
	}

	var audio core.AudioSource
	if settings.AudioEnabled {
		src, err := device.OpenAudio(settings.AudioBackend, device.AudioConfig{
			SampleRate:   settings.SampleRate,
			ChunkSamples: settings.ChunkSamples,
		})
		if err != nil {
			logger.Warn("Audio device unavailable, serving without audio", "backend", settings.AudioBackend, "error", err)
		} else {
			audio = src
		}
	}

	mgr := session.NewManager(settings, session.Providers{
		Capture: desktop,
		Input:   desktop,
		Audio:   audio,
		Codec:   codec.NewJPEG(),
	}, logger)

	if err := mgr.Start(ctx); err != nil {
		if audio != nil {
			_ = audio.Close()
		}
		if c, ok := desktop.(io.Closer); ok {
			_ = c.Close()
		}
		return errors.Wrap(err, "failed to start server")
	}

	printServeBanner(mgr, settings)

	waitForShutdown(ctx, mgr)
	fmt.Println()
	logger.Info("Shutting down")
	return mgr.Stop()
}

// waitForShutdown blocks until ctx ends, logging the session table on each
// SIGUSR1.
func waitForShutdown(ctx context.Context, mgr *session.Manager) {
	dump := make(chan os.Signal, 1)
	notifySessionDump(dump)
	defer signal.Stop(dump)

	for {
		select {
		case <-ctx.Done():
			return
		case <-dump:
			mgr.LogSessions()
		}
	}
}

func printServeBanner(mgr *session.Manager, settings deskstream.Settings) {
	fmt.Printf("%s %s\n", color.New(color.FgGreen, color.Bold).Sprint("deskstream serving"), color.New(color.Faint).Sprint(mgr.Geometry().String()))
	fmt.Printf("  video    %s\n", color.CyanString(mgr.VideoAddr().String()))
	if addr := mgr.ControlAddr(); addr != nil {
		fmt.Printf("  control  %s\n", color.CyanString(addr.String()))
	}
	if addr := mgr.AudioAddr(); addr != nil {
		fmt.Printf("  audio    %s\n", color.CyanString(addr.String()))
	} else {
		fmt.Printf("  audio    %s\n", color.New(color.Faint).Sprint("disabled"))
	}
	fmt.Printf("  stream   %s at %d fps, quality %d\n", settings.Viewport, settings.FPS, settings.Quality)
	fmt.Printf("(Press %s to stop. Send SIGUSR1 to log the session table.)\n", color.New(color.FgYellow, color.Bold).Sprint("Ctrl+C"))
}
