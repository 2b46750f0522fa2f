package device

// pcmChunker regroups arbitrarily sized device buffers into fixed-size chunks.
type pcmChunker struct {
	size int
	buf  []byte
}

func newPCMChunker(size int) *pcmChunker {
	return &pcmChunker{size: size, buf: make([]byte, 0, size*2)}
}

// Push appends data and calls emit with every complete chunk. Emitted slices
// are freshly allocated and owned by the callee.
func (c *pcmChunker) Push(data []byte, emit func([]byte)) {
	c.buf = append(c.buf, data...)
	for len(c.buf) >= c.size {
		chunk := make([]byte, c.size)
		copy(chunk, c.buf[:c.size])
		emit(chunk)
		c.buf = append(c.buf[:0], c.buf[c.size:]...)
	}
}
