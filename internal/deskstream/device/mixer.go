package device

import (
	"encoding/binary"
	"math"
	"sync"
)

// playbackMixer sums the PCM written by every open stream so that several
// remote peers play back together at normal speed. Each input keeps its
// own bounded queue; a full queue drops its oldest chunk.
type playbackMixer struct {
	depth int

	mu     sync.Mutex
	seq    uint64
	inputs map[uint64]*mixerInput
}

func newPlaybackMixer(depth int) *playbackMixer {
	if depth < 1 {
		depth = 1
	}
	return &playbackMixer{depth: depth, inputs: make(map[uint64]*mixerInput)}
}

// Add registers a new input.
func (m *playbackMixer) Add() *mixerInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	in := &mixerInput{mixer: m, id: m.seq, queue: make(chan []byte, m.depth)}
	m.inputs[in.id] = in
	return in
}

func (m *playbackMixer) remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inputs, id)
}

// Inputs returns the number of registered inputs.
func (m *playbackMixer) Inputs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// Next takes at most one chunk from every input and mixes them. It reports
// false when no input has anything queued.
func (m *playbackMixer) Next() ([]byte, bool) {
	m.mu.Lock()
	var chunks [][]byte
	for _, in := range m.inputs {
		select {
		case chunk := <-in.queue:
			chunks = append(chunks, chunk)
		default:
		}
	}
	m.mu.Unlock()

	switch len(chunks) {
	case 0:
		return nil, false
	case 1:
		return chunks[0], true
	default:
		return mixPCM(chunks), true
	}
}

type mixerInput struct {
	mixer *playbackMixer
	id    uint64
	queue chan []byte
}

// Write queues pcm, discarding the oldest queued chunk when full.
func (in *mixerInput) Write(pcm []byte) {
	for {
		select {
		case in.queue <- pcm:
			return
		default:
		}
		select {
		case <-in.queue:
		default:
		}
	}
}

// Close detaches the input; chunks still queued are dropped.
func (in *mixerInput) Close() {
	in.mixer.remove(in.id)
}

// mixPCM adds s16le chunks sample by sample with saturation. The result is
// as long as the longest chunk.
func mixPCM(chunks [][]byte) []byte {
	size := 0
	for _, c := range chunks {
		if len(c) > size {
			size = len(c)
		}
	}
	size &^= 1

	out := make([]byte, size)
	for i := 0; i < size; i += 2 {
		sum := 0
		for _, c := range chunks {
			if i+1 < len(c) {
				sum += int(int16(binary.LittleEndian.Uint16(c[i:])))
			}
		}
		if sum > math.MaxInt16 {
			sum = math.MaxInt16
		} else if sum < math.MinInt16 {
			sum = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(sum)))
	}
	return out
}
