package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/deskstream/internal/deskstream/protocol"
	"github.com/babelcloud/deskstream/internal/deskstream/stream"
)

type countingCloser struct{ n int }

func (c *countingCloser) Close() error {
	c.n++
	return nil
}

func newPipeSession(t *testing.T, kind Kind) (*ClientSession, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	return newClientSession(kind, protocol.NewFrameConn(server, 0)), client
}

func TestClientSessionClose(t *testing.T) {
	sess, client := newPipeSession(t, KindAudio)
	closer := &countingCloser{}
	sess.attach(closer)

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.Equal(t, 1, closer.n)

	_, err := client.Read(make([]byte, 1))
	assert.Error(t, err, "peer should see the connection closed")
}

func TestClientSessionInfo(t *testing.T) {
	sess, _ := newPipeSession(t, KindVideo)
	sess.trackSent(func() stream.StatsSnapshot { return stream.StatsSnapshot{Frames: 3, Bytes: 300} })

	info := sess.Info()
	assert.Equal(t, sess.ID, info.ID)
	assert.Equal(t, KindVideo, info.Kind)
	assert.Equal(t, uint64(3), info.Sent.Frames)
	assert.Equal(t, uint64(300), info.Sent.Bytes)
	assert.Zero(t, info.Received.Frames)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	first, _ := newPipeSession(t, KindVideo)
	second, _ := newPipeSession(t, KindAudio)
	second.Started = first.Started.Add(time.Second)

	require.NoError(t, r.Add(second))
	require.NoError(t, r.Add(first))
	assert.Equal(t, 2, r.Len())

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, first.ID, snap[0].ID)
	assert.Equal(t, second.ID, snap[1].ID)

	assert.Same(t, second, r.Remove(second.ID))
	assert.Nil(t, r.Remove(second.ID))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry()
	sess, client := newPipeSession(t, KindVideo)
	closer := &countingCloser{}
	sess.attach(closer)
	require.NoError(t, r.Add(sess))

	r.CloseAll()
	assert.Equal(t, 1, closer.n)
	assert.Equal(t, 1, r.Len(), "sessions deregister themselves")

	_, err := client.Read(make([]byte, 1))
	assert.Error(t, err)

	late, _ := newPipeSession(t, KindVideo)
	assert.ErrorIs(t, r.Add(late), ErrRegistryClosed)
}
