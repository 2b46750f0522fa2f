package protocol

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
)

// MaxDatagramSize is the largest command datagram accepted on the control port.
const MaxDatagramSize = 1024

// Command kinds as they appear in the "type" field.
const (
	KindMove        = "move"
	KindClick       = "click"
	KindDoubleClick = "double_click"
	KindDrag        = "drag"
)

// Command is one remote input event. Coordinates are in viewport space.
// The set of implementations is closed: Move, Click, DoubleClick and Drag.
type Command interface {
	Kind() string
	// Position returns the point the pointer must reach first.
	Position() (x, y int)
	isCommand()
}

type Move struct {
	X, Y int
}

type Click struct {
	X, Y   int
	Button core.Button
}

type DoubleClick struct {
	X, Y int
}

// Drag presses at (X, Y) and releases at (EndX, EndY).
type Drag struct {
	X, Y       int
	EndX, EndY int
}

func (Move) Kind() string        { return KindMove }
func (Click) Kind() string       { return KindClick }
func (DoubleClick) Kind() string { return KindDoubleClick }
func (Drag) Kind() string        { return KindDrag }

func (c Move) Position() (int, int)        { return c.X, c.Y }
func (c Click) Position() (int, int)       { return c.X, c.Y }
func (c DoubleClick) Position() (int, int) { return c.X, c.Y }
func (c Drag) Position() (int, int)        { return c.X, c.Y }

func (Move) isCommand()        {}
func (Click) isCommand()       {}
func (DoubleClick) isCommand() {}
func (Drag) isCommand()        {}

type encodedCommand struct {
	Type   string `json:"type"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Button string `json:"button,omitempty"`
	EndX   *int   `json:"end_x,omitempty"`
	EndY   *int   `json:"end_y,omitempty"`
}

type decodedCommand struct {
	Type   *string  `json:"type"`
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Button *string  `json:"button"`
	EndX   *float64 `json:"end_x"`
	EndY   *float64 `json:"end_y"`
}

// EncodeCommand serialises cmd as a JSON object with a "type" discriminator.
func EncodeCommand(cmd Command) ([]byte, error) {
	var w encodedCommand
	switch c := cmd.(type) {
	case Move:
		w = encodedCommand{Type: KindMove, X: c.X, Y: c.Y}
	case Click:
		button := c.Button
		if button == "" {
			button = core.ButtonLeft
		}
		if !validButton(button) {
			return nil, errors.Errorf("invalid button %q", button)
		}
		w = encodedCommand{Type: KindClick, X: c.X, Y: c.Y, Button: string(button)}
	case DoubleClick:
		w = encodedCommand{Type: KindDoubleClick, X: c.X, Y: c.Y}
	case Drag:
		endX, endY := c.EndX, c.EndY
		w = encodedCommand{Type: KindDrag, X: c.X, Y: c.Y, EndX: &endX, EndY: &endY}
	case nil:
		return nil, errors.New("nil command")
	default:
		return nil, errors.Errorf("unsupported command %T", cmd)
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal command")
	}
	if len(data) > MaxDatagramSize {
		return nil, errors.Errorf("encoded command is %d bytes, limit is %d", len(data), MaxDatagramSize)
	}
	return data, nil
}

// DecodeCommand parses one datagram. Every failure satisfies
// errors.Is(err, core.ErrMalformedMessage); an unrecognised type also
// satisfies core.ErrUnknownCommand.
func DecodeCommand(data []byte) (Command, error) {
	var w decodedCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, core.Malformed(err, "decode command")
	}
	if w.Type == nil {
		return nil, core.Malformed(nil, "command has no type")
	}

	x, err := coordinate("x", w.X, 0)
	if err != nil {
		return nil, err
	}
	y, err := coordinate("y", w.Y, 0)
	if err != nil {
		return nil, err
	}

	switch *w.Type {
	case KindMove:
		return Move{X: x, Y: y}, nil
	case KindClick:
		button := core.ButtonLeft
		if w.Button != nil {
			button = core.Button(*w.Button)
		}
		if !validButton(button) {
			return nil, core.Malformed(nil, fmt.Sprintf("unknown button %q", button))
		}
		return Click{X: x, Y: y, Button: button}, nil
	case KindDoubleClick:
		return DoubleClick{X: x, Y: y}, nil
	case KindDrag:
		endX, err := coordinate("end_x", w.EndX, x)
		if err != nil {
			return nil, err
		}
		endY, err := coordinate("end_y", w.EndY, y)
		if err != nil {
			return nil, err
		}
		return Drag{X: x, Y: y, EndX: endX, EndY: endY}, nil
	default:
		return nil, core.Classify(core.ErrUnknownCommand, nil, fmt.Sprintf("unknown command type %q", *w.Type))
	}
}

func coordinate(name string, v *float64, def int) (int, error) {
	if v == nil {
		return def, nil
	}
	r := math.Round(*v)
	if math.IsNaN(r) || r > math.MaxInt32 || r < math.MinInt32 {
		return 0, core.Malformed(nil, fmt.Sprintf("%s out of range", name))
	}
	return int(r), nil
}

func validButton(b core.Button) bool {
	return b == core.ButtonLeft || b == core.ButtonRight
}
