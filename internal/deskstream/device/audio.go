package device

import (
	"time"
)

// AudioConfig describes the PCM format shared by capture and playback:
// signed 16-bit little-endian mono at SampleRate.
type AudioConfig struct {
	SampleRate   int
	ChunkSamples int
	// QueueChunks bounds buffered chunks per capture subscriber and for playback.
	QueueChunks int
}

func (c AudioConfig) withDefaults() AudioConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 44100
	}
	if c.ChunkSamples <= 0 {
		c.ChunkSamples = 1024
	}
	if c.QueueChunks <= 0 {
		c.QueueChunks = 16
	}
	return c
}

// ChunkBytes is the size of one chunk on the wire.
func (c AudioConfig) ChunkBytes() int {
	return c.ChunkSamples * 2
}

// ChunkDuration is the playback time of one chunk.
func (c AudioConfig) ChunkDuration() time.Duration {
	return time.Duration(c.ChunkSamples) * time.Second / time.Duration(c.SampleRate)
}

// fillPlayback copies queued PCM into out, pulling further chunks from next
// as needed, and zero-fills whatever cannot be satisfied. It returns the
// unconsumed remainder of the last chunk pulled.
func fillPlayback(out, pending []byte, next func() ([]byte, bool)) []byte {
	filled := 0
	for filled < len(out) {
		if len(pending) == 0 {
			chunk, ok := next()
			if !ok {
				break
			}
			pending = chunk
			continue
		}
		n := copy(out[filled:], pending)
		filled += n
		pending = pending[n:]
	}
	for i := filled; i < len(out); i++ {
		out[i] = 0
	}
	return pending
}
