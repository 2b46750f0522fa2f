package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/babelcloud/deskstream/config"
	"github.com/babelcloud/deskstream/internal/deskstream"
	"github.com/babelcloud/deskstream/internal/deskstream/codec"
	"github.com/babelcloud/deskstream/internal/deskstream/core"
	"github.com/babelcloud/deskstream/internal/deskstream/device"
	"github.com/babelcloud/deskstream/internal/deskstream/display"
	"github.com/babelcloud/deskstream/internal/deskstream/protocol"
	"github.com/babelcloud/deskstream/internal/deskstream/session"
	"github.com/babelcloud/deskstream/internal/util"
)

// Display backends of the viewer.
const (
	DisplayWeb      = "web"
	DisplayTerminal = "terminal"
	DisplayNone     = "none"
)

type viewOptions struct {
	openBrowser bool
	mute        bool
	noAudio     bool
}

func NewViewCommand() *cobra.Command {
	var opts viewOptions

	cmd := &cobra.Command{
		Use:   "view <host>",
		Short: "Watch and control a remote desktop",
		Long: `Connect to a deskstream server, show its screen and play its audio. Mouse
input on the web page is forwarded to the server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(cmd, map[string]string{
				"video-port":    "ports.video",
				"control-port":  "ports.control",
				"audio-port":    "ports.audio",
				"display":       "display.backend",
				"web-addr":      "display.web_addr",
				"audio-backend": "audio.backend",
			}); err != nil {
				return err
			}
			if opts.noAudio {
				config.Set("audio.enabled", false)
			}

			settings, err := config.Settings()
			if err != nil {
				return errors.Wrap(err, "invalid configuration")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runView(ctx, args[0], settings, opts)
		},
		Example: `  # View in the browser
  deskstream view 192.168.1.20 --open

  # View in the terminal with the microphone muted
  deskstream view 192.168.1.20 --display terminal --mute`,
	}

	flags := cmd.Flags()
	flags.Int("video-port", config.GetVideoPort(), "TCP port of the video stream")
	flags.Int("control-port", config.GetControlPort(), "UDP port of the command channel")
	flags.Int("audio-port", config.GetAudioPort(), "TCP port of the audio stream")
	flags.String("display", config.GetDisplayBackend(), "Where to show the screen (web, terminal or none)")
	flags.String("web-addr", config.GetWebAddr(), "Listen address of the web viewer")
	flags.String("audio-backend", config.GetAudioBackend(), "Audio backend (malgo or silence)")
	flags.BoolVar(&opts.openBrowser, "open", false, "Open the web viewer in the default browser")
	flags.BoolVar(&opts.mute, "mute", false, "Start with the microphone muted")
	flags.BoolVar(&opts.noAudio, "no-audio", false, "Disable audio in both directions")

	return cmd
}

func runView(ctx context.Context, host string, settings deskstream.Settings, opts viewOptions) error {
	logger := util.GetLogger()
	jpeg := codec.NewJPEG()

	var viewer *session.Viewer
	forward := func(cmd protocol.Command) error {
		if viewer == nil {
			return nil
		}
		return viewer.Forward(cmd)
	}

	var (
		sink core.DisplaySink
		web  *display.WebSink
	)
	switch settings.DisplayBackend {
	case DisplayWeb:
		web = display.NewWebSink(settings.WebAddr, jpeg, settings.Viewport, forward)
		sink = web
	case DisplayTerminal:
		term, err := display.NewTerminalSink(os.Stdout)
		if err != nil {
			return err
		}
		sink = term
	case DisplayNone:
		sink = &display.Discard{}
	default:
		return errors.Errorf("unknown display backend %q", settings.DisplayBackend)
	}
	defer closeSink(sink)

	var audio core.AudioSource
	if settings.AudioEnabled {
		src, err := device.OpenAudio(settings.AudioBackend, device.AudioConfig{
			SampleRate:   settings.SampleRate,
			ChunkSamples: settings.ChunkSamples,
		})
		if err != nil {
			logger.Warn("Audio device unavailable, viewing without audio", "backend", settings.AudioBackend, "error", err)
		} else {
			audio = src
		}
	}

	v, err := session.Dial(ctx, session.ViewerOptions{
		Host:     host,
		Settings: settings,
		Codec:    jpeg,
		Sink:     sink,
		Audio:    audio,
		Muted:    opts.mute,
	}, logger)
	if err != nil {
		if audio != nil {
			_ = audio.Close()
		}
		return err
	}
	viewer = v
	defer viewer.Close()

	if web != nil {
		if viewer.HasAudio() {
			web.SetMute(viewer.Mute())
		}
		if err := web.Start(); err != nil {
			return err
		}
		url := web.URL()
		fmt.Printf("%s %s\n", color.New(color.FgGreen, color.Bold).Sprint("Viewing"), color.New(color.Faint).Sprint(host))
		fmt.Printf("  open %s\n", color.CyanString(url))
		if opts.openBrowser {
			if err := browser.OpenURL(url); err != nil {
				logger.Warn("Failed to open browser", "error", err)
			}
		}
		fmt.Printf("(Press %s to disconnect.)\n", color.New(color.FgYellow, color.Bold).Sprint("Ctrl+C"))
	}

	if err := viewer.Wait(ctx); err != nil {
		return errors.Wrap(err, "video stream failed")
	}
	if ctx.Err() == nil {
		logger.Info("Server closed the video stream")
	}
	return nil
}

func closeSink(sink core.DisplaySink) {
	if c, ok := sink.(io.Closer); ok {
		_ = c.Close()
	}
}
