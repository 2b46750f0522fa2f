package session

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/babelcloud/deskstream/internal/deskstream"
	"github.com/babelcloud/deskstream/internal/deskstream/control"
	"github.com/babelcloud/deskstream/internal/deskstream/core"
	"github.com/babelcloud/deskstream/internal/deskstream/protocol"
	"github.com/babelcloud/deskstream/internal/deskstream/stream"
	"github.com/babelcloud/deskstream/internal/deskstream/transport"
	"github.com/babelcloud/deskstream/internal/util"
)

// ViewerOptions configures the viewing side.
type ViewerOptions struct {
	Host     string
	Settings deskstream.Settings
	Codec    core.Codec
	Sink     core.DisplaySink
	// Audio is optional; nil runs the viewer without sound.
	Audio core.AudioSource
	// Muted starts the microphone direction muted.
	Muted bool
	Clock clock.Clock
}

// Viewer is the viewing side: it receives video and audio, sends audio,
// and forwards pointer input to the server.
type Viewer struct {
	opts     ViewerOptions
	logger   *slog.Logger
	clock    clock.Clock
	throttle *control.MoveThrottle
	mute     *stream.MuteSwitch

	video    *protocol.FrameConn
	audio    *protocol.FrameConn
	audioDev core.AudioDevice
	commands *transport.CommandConn

	videoRecv *stream.VideoReceiver
	videoErr  error
	videoDone chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Dial connects to the server's video, audio and control ports and starts
// receiving. An unreachable audio port is logged and the viewer continues
// without sound.
func Dial(ctx context.Context, opts ViewerOptions, logger *slog.Logger) (*Viewer, error) {
	if logger == nil {
		logger = util.GetLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Codec == nil || opts.Sink == nil {
		return nil, errors.New("codec and display sink are required")
	}
	s := opts.Settings

	v := &Viewer{
		opts:      opts,
		logger:    logger,
		clock:     opts.Clock,
		throttle:  control.NewMoveThrottle(opts.Clock, s.ViewerMoveInterval, s.ViewerMoveThreshold),
		mute:      &stream.MuteSwitch{},
		videoDone: make(chan struct{}),
	}
	v.mute.Set(opts.Muted)

	var dialer net.Dialer
	videoConn, err := dialer.DialContext(ctx, "tcp", deskstream.Addr(opts.Host, s.VideoPort))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect video stream")
	}
	v.video = protocol.NewFrameConn(videoConn, s.MaxFrameSize)

	v.commands, err = transport.DialCommands(deskstream.Addr(opts.Host, s.ControlPort))
	if err != nil {
		v.video.Close()
		return nil, errors.Wrap(err, "failed to open control channel")
	}

	if opts.Audio != nil && s.AudioEnabled {
		if err := v.dialAudio(ctx, &dialer); err != nil {
			logger.Warn("Audio unavailable, continuing without sound", "error", err)
		}
	}

	v.ctx, v.cancel = context.WithCancel(context.Background())
	v.videoRecv = stream.NewVideoReceiver(v.video, opts.Codec, opts.Sink, opts.Clock, logger.With("direction", "video"))
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		defer close(v.videoDone)
		v.videoErr = v.videoRecv.Run(v.ctx)
	}()

	if v.audio != nil {
		sender := stream.NewAudioSender(v.audioDev, v.audio, v.mute, logger.With("direction", "audio-send"))
		receiver := stream.NewAudioReceiver(v.audio, v.audioDev, logger.With("direction", "audio-receive"))
		v.wg.Add(2)
		go func() {
			defer v.wg.Done()
			if err := sender.Run(v.ctx); err != nil {
				logger.Warn("Audio send direction ended", "error", err)
			}
		}()
		go func() {
			defer v.wg.Done()
			if err := receiver.Run(v.ctx); err != nil {
				logger.Warn("Audio receive direction ended", "error", err)
			}
		}()
	}

	logger.Info("Connected", "host", opts.Host, "audio", v.audio != nil)
	return v, nil
}

func (v *Viewer) dialAudio(ctx context.Context, dialer *net.Dialer) error {
	s := v.opts.Settings
	conn, err := dialer.DialContext(ctx, "tcp", deskstream.Addr(v.opts.Host, s.AudioPort))
	if err != nil {
		return errors.Wrap(err, "failed to connect audio stream")
	}
	dev, err := v.opts.Audio.OpenStream("viewer")
	if err != nil {
		conn.Close()
		return core.DeviceError("open audio", err)
	}
	v.audio = protocol.NewFrameConn(conn, s.MaxFrameSize)
	v.audioDev = dev
	return nil
}

// Forward sends one input event the way the viewer produces them: moves
// are throttled, clicks are preceded by a move to the same point.
func (v *Viewer) Forward(cmd protocol.Command) error {
	switch c := cmd.(type) {
	case protocol.Move:
		if !v.throttle.Allow(c.X, c.Y) {
			return nil
		}
		return v.commands.Send(c)
	case protocol.Click:
		return v.Click(c.X, c.Y, c.Button)
	case protocol.DoubleClick:
		return v.DoubleClick(c.X, c.Y)
	default:
		return v.commands.Send(cmd)
	}
}

// Move sends a throttled pointer move.
func (v *Viewer) Move(x, y int) error {
	return v.Forward(protocol.Move{X: x, Y: y})
}

// Click moves the remote pointer to (x, y), waits for the move to land and clicks.
func (v *Viewer) Click(x, y int, button core.Button) error {
	if err := v.moveFirst(x, y); err != nil {
		return err
	}
	return v.commands.Send(protocol.Click{X: x, Y: y, Button: button})
}

func (v *Viewer) DoubleClick(x, y int) error {
	if err := v.moveFirst(x, y); err != nil {
		return err
	}
	return v.commands.Send(protocol.DoubleClick{X: x, Y: y})
}

func (v *Viewer) Drag(x, y, endX, endY int) error {
	return v.commands.Send(protocol.Drag{X: x, Y: y, EndX: endX, EndY: endY})
}

func (v *Viewer) moveFirst(x, y int) error {
	if err := v.commands.Send(protocol.Move{X: x, Y: y}); err != nil {
		return err
	}
	settle := v.opts.Settings.ClickSettle
	if settle <= 0 {
		settle = control.DefaultClickSettle
	}
	v.clock.Sleep(settle)
	return nil
}

// Mute returns the switch controlling the outgoing audio direction.
func (v *Viewer) Mute() *stream.MuteSwitch {
	return v.mute
}

// HasAudio reports whether the audio stream is connected.
func (v *Viewer) HasAudio() bool {
	return v.audio != nil
}

// FPS returns the video receive rate over the last second.
func (v *Viewer) FPS() int {
	return v.videoRecv.FPS()
}

// VideoStats returns the video receive counters.
func (v *Viewer) VideoStats() stream.StatsSnapshot {
	return v.videoRecv.Stats()
}

// Done is closed when the video direction ends.
func (v *Viewer) Done() <-chan struct{} {
	return v.videoDone
}

// Wait blocks until the video direction ends or ctx is cancelled and
// returns the video direction's error.
func (v *Viewer) Wait(ctx context.Context) error {
	select {
	case <-v.videoDone:
		return v.videoErr
	case <-ctx.Done():
		return nil
	}
}

// Close disconnects every channel and waits for the workers to exit.
func (v *Viewer) Close() error {
	v.closeOnce.Do(func() {
		v.cancel()
		_ = v.video.Close()
		if v.audio != nil {
			_ = v.audio.Close()
		}
		_ = v.commands.Close()
		if c, ok := v.audioDev.(io.Closer); ok {
			_ = c.Close()
		}
		v.wg.Wait()
		if v.opts.Audio != nil {
			_ = v.opts.Audio.Close()
		}
		v.logger.Info("Disconnected", "host", v.opts.Host)
	})
	return nil
}
