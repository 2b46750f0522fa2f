package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
)

// HeaderSize is the length of the big-endian uint32 that prefixes every frame.
const HeaderSize = 4

// DefaultMaxFrameSize bounds a single frame payload unless configured otherwise.
const DefaultMaxFrameSize = 32 << 20

// WriteFrame writes len(payload) as a big-endian uint32 followed by payload.
// Header and payload go out in a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return errors.Wrapf(core.ErrFrameTooLarge, "payload of %d bytes", len(payload))
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return classifyIOError(err, "write frame")
	}
	return nil
}

// ReadFrame reads one complete frame from r. Short reads are accumulated until
// the header and the whole payload have arrived. A length above maxSize
// (when maxSize > 0) yields core.ErrFrameTooLarge.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var header [HeaderSize]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		if n == 0 && isTimeout(err) {
			return nil, core.Classify(core.ErrTimeout, err, "read frame header")
		}
		return nil, classifyIOError(err, "read frame header")
	}

	size := binary.BigEndian.Uint32(header[:])
	if maxSize > 0 && size > maxSize {
		return nil, core.Classify(core.ErrFrameTooLarge, nil, fmt.Sprintf("frame of %d bytes exceeds limit %d", size, maxSize))
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, classifyIOError(err, "read frame payload")
	}
	return payload, nil
}

// classifyIOError maps every stream failure to ErrConnectionClosed. A
// half-read frame cannot be resynchronised, so no error is recoverable.
func classifyIOError(err error, op string) error {
	if errors.Is(err, core.ErrConnectionClosed) {
		return err
	}
	return core.Closed(err, op)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// FrameConn is a length-prefixed stream over a net.Conn. Writes are
// serialised so concurrent writers never interleave frames; reads must come
// from a single goroutine.
type FrameConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	maxSize uint32

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewFrameConn wraps conn. maxSize of 0 disables the payload limit.
func NewFrameConn(conn net.Conn, maxSize uint32) *FrameConn {
	return &FrameConn{
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, 64*1024),
		maxSize: maxSize,
	}
}

// WriteFrame sends one frame.
func (c *FrameConn) WriteFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.conn, payload)
}

// ReadFrame receives one frame.
func (c *FrameConn) ReadFrame() ([]byte, error) {
	return ReadFrame(c.reader, c.maxSize)
}

// RemoteAddr returns the peer address.
func (c *FrameConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *FrameConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
