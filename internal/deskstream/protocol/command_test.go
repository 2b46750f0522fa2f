package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want map[string]interface{}
	}{
		{"move", Move{X: 10, Y: 20}, map[string]interface{}{"type": "move", "x": 10.0, "y": 20.0}},
		{"click default button", Click{X: 1, Y: 2}, map[string]interface{}{"type": "click", "x": 1.0, "y": 2.0, "button": "left"}},
		{"right click", Click{X: 1, Y: 2, Button: core.ButtonRight}, map[string]interface{}{"type": "click", "x": 1.0, "y": 2.0, "button": "right"}},
		{"double click", DoubleClick{X: 5, Y: 6}, map[string]interface{}{"type": "double_click", "x": 5.0, "y": 6.0}},
		{"drag", Drag{X: 0, Y: 0, EndX: 100, EndY: 50}, map[string]interface{}{"type": "drag", "x": 0.0, "y": 0.0, "end_x": 100.0, "end_y": 50.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeCommand(tt.cmd)
			require.NoError(t, err)
			var got map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tt.want, got)

			back, err := DecodeCommand(data)
			require.NoError(t, err)
			assert.Equal(t, tt.cmd.Kind(), back.Kind())
		})
	}
}

func TestEncodeCommandRejects(t *testing.T) {
	_, err := EncodeCommand(nil)
	assert.Error(t, err)

	_, err = EncodeCommand(Click{Button: "middle"})
	assert.Error(t, err)
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Command
	}{
		{"move", `{"type":"move","x":512,"y":288}`, Move{X: 512, Y: 288}},
		{"missing coordinates default to zero", `{"type":"move"}`, Move{}},
		{"fractional coordinates round", `{"type":"move","x":10.6,"y":3.2}`, Move{X: 11, Y: 3}},
		{"click defaults to left", `{"type":"click","x":1,"y":2}`, Click{X: 1, Y: 2, Button: core.ButtonLeft}},
		{"right click", `{"type":"click","x":1,"y":2,"button":"right"}`, Click{X: 1, Y: 2, Button: core.ButtonRight}},
		{"double click", `{"type":"double_click","x":7,"y":8}`, DoubleClick{X: 7, Y: 8}},
		{"drag", `{"type":"drag","x":1,"y":2,"end_x":30,"end_y":40}`, Drag{X: 1, Y: 2, EndX: 30, EndY: 40}},
		{"drag end defaults to start", `{"type":"drag","x":9,"y":4}`, Drag{X: 9, Y: 4, EndX: 9, EndY: 4}},
		{"extra fields ignored", `{"type":"move","x":1,"y":1,"ts":123}`, Move{X: 1, Y: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCommand([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeCommandMalformed(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		unknown bool
	}{
		{"not json", `hello`, false},
		{"empty", ``, false},
		{"array", `[1,2]`, false},
		{"no type", `{"x":1,"y":2}`, false},
		{"numeric type", `{"type":5}`, false},
		{"string coordinate", `{"type":"move","x":"a","y":2}`, false},
		{"coordinate out of range", `{"type":"move","x":1e12,"y":2}`, false},
		{"unknown button", `{"type":"click","button":"middle"}`, false},
		{"unknown type", `{"type":"zoom","x":1,"y":1}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand([]byte(tt.in))
			assert.Nil(t, cmd)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrMalformedMessage), "got %v", err)
			assert.Equal(t, tt.unknown, errors.Is(err, core.ErrUnknownCommand))
		})
	}
}

func TestCommandPosition(t *testing.T) {
	x, y := Drag{X: 3, Y: 4, EndX: 10, EndY: 10}.Position()
	assert.Equal(t, 3, x)
	assert.Equal(t, 4, y)
}

func TestEncodedCommandFitsDatagram(t *testing.T) {
	data, err := EncodeCommand(Drag{X: -2147483648, Y: -2147483648, EndX: 2147483647, EndY: 2147483647})
	require.NoError(t, err)
	assert.Less(t, len(data), MaxDatagramSize)
	assert.False(t, strings.Contains(string(data), "button"))
}
