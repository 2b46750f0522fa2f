package transport

import (
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
	"github.com/babelcloud/deskstream/internal/deskstream/protocol"
)

func newPair(t *testing.T) (*CommandConn, *CommandConn) {
	t.Helper()
	server, err := ListenCommands("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })

	client, err := DialCommands(server.LocalAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return server, client
}

func TestSendReceive(t *testing.T) {
	server, client := newPair(t)

	sent := []protocol.Command{
		protocol.Move{X: 512, Y: 288},
		protocol.Click{X: 1, Y: 2, Button: core.ButtonRight},
		protocol.Drag{X: 0, Y: 0, EndX: 10, EndY: 20},
	}
	for _, cmd := range sent {
		require.NoError(t, client.Send(cmd))
	}
	for _, want := range sent {
		got, from, err := server.ReceiveCommand(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, client.LocalAddr().Port, from.Port)
	}
}

func TestReceiveTimeout(t *testing.T) {
	server, _ := newPair(t)

	start := time.Now()
	_, _, err := server.ReceiveCommand(50 * time.Millisecond)
	assert.True(t, errors.Is(err, core.ErrTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestReceiveMalformedThenValid(t *testing.T) {
	server, _ := newPair(t)

	raw, err := net.DialUDP("udp", nil, server.LocalAddr())
	require.NoError(t, err)
	defer raw.Close()

	_, err = raw.Write([]byte(`{"type":"zoom","x":1}`))
	require.NoError(t, err)
	_, err = raw.Write([]byte(`not json`))
	require.NoError(t, err)
	_, err = raw.Write([]byte(`{"type":"move","x":3,"y":4}`))
	require.NoError(t, err)

	_, _, err = server.ReceiveCommand(2 * time.Second)
	assert.True(t, errors.Is(err, core.ErrUnknownCommand))
	_, _, err = server.ReceiveCommand(2 * time.Second)
	assert.True(t, errors.Is(err, core.ErrMalformedMessage))
	cmd, _, err := server.ReceiveCommand(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, protocol.Move{X: 3, Y: 4}, cmd)
}

func TestReceiveAfterClose(t *testing.T) {
	server, _ := newPair(t)

	done := make(chan error, 1)
	go func() {
		_, _, err := server.ReceiveCommand(0)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, server.Close())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, core.ErrConnectionClosed), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("ReceiveCommand did not return after Close")
	}
}

func TestSendCommandUnconnected(t *testing.T) {
	server, client := newPair(t)

	assert.Error(t, server.Send(protocol.Move{}))
	require.NoError(t, server.SendCommand(client.LocalAddr(), protocol.DoubleClick{X: 9, Y: 9}))

	got, _, err := client.ReceiveCommand(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, protocol.DoubleClick{X: 9, Y: 9}, got)
}
