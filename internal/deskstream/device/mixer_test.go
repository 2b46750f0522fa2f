package device

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babelcloud/deskstream/internal/deskstream/pipeline"
)

func pcm(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func TestMixPCM(t *testing.T) {
	tests := []struct {
		name   string
		chunks [][]byte
		want   []byte
	}{
		{
			name:   "sum",
			chunks: [][]byte{pcm(100, -200, 3), pcm(1, 2, 3)},
			want:   pcm(101, -198, 6),
		},
		{
			name:   "saturates",
			chunks: [][]byte{pcm(math.MaxInt16, math.MinInt16), pcm(10, -10)},
			want:   pcm(math.MaxInt16, math.MinInt16),
		},
		{
			name:   "shorter chunk padded with silence",
			chunks: [][]byte{pcm(5, 5, 5), pcm(1)},
			want:   pcm(6, 5, 5),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mixPCM(tt.chunks))
		})
	}
}

func TestPlaybackMixerMixesInputs(t *testing.T) {
	m := newPlaybackMixer(4)
	a := m.Add()
	b := m.Add()

	_, ok := m.Next()
	assert.False(t, ok, "nothing queued")

	a.Write(pcm(1, 1))
	a.Write(pcm(2, 2))
	b.Write(pcm(10, 10))

	got, ok := m.Next()
	require.True(t, ok)
	assert.Equal(t, pcm(11, 11), got, "one chunk from each input per pull")

	got, ok = m.Next()
	require.True(t, ok)
	assert.Equal(t, pcm(2, 2), got)

	_, ok = m.Next()
	assert.False(t, ok)

	b.Close()
	assert.Equal(t, 1, m.Inputs())
	a.Close()
	assert.Zero(t, m.Inputs())
}

func TestMixerInputDropsOldest(t *testing.T) {
	m := newPlaybackMixer(2)
	in := m.Add()
	for i := int16(1); i <= 4; i++ {
		in.Write(pcm(i))
	}

	got, _ := m.Next()
	assert.Equal(t, pcm(3), got)
	got, _ = m.Next()
	assert.Equal(t, pcm(4), got)
}

func TestPlaybackAtNormalSpeedWithTwoPeers(t *testing.T) {
	m := newPlaybackMixer(4)
	a := m.Add()
	b := m.Add()
	a.Write(pcm(1, 1))
	b.Write(pcm(2, 2))

	out := make([]byte, 4)
	pending := fillPlayback(out, nil, m.Next)
	assert.Empty(t, pending)
	assert.Equal(t, pcm(3, 3), out, "one period carries both peers, not their chunks back to back")
}

func TestBroadcastStreamReopenSameID(t *testing.T) {
	source := pipeline.NewBroadcaster("capture", false)
	defer source.Close()
	m := newPlaybackMixer(4)

	open := func() *broadcastStream {
		return &broadcastStream{id: "viewer", source: source, ch: source.Subscribe("viewer", 4), play: m.Add()}
	}
	old := open()
	current := open()
	require.NoError(t, old.Close())

	source.Broadcast(pcm(7))
	got, err := current.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, pcm(7), got)
	assert.Equal(t, 1, m.Inputs())

	require.NoError(t, current.Close())
	_, err = current.ReadChunk()
	assert.Error(t, err)
}
