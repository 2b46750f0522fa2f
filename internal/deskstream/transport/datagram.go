package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/babelcloud/deskstream/internal/deskstream/core"
	"github.com/babelcloud/deskstream/internal/deskstream/protocol"
)

// CommandConn carries JSON command datagrams over UDP. Delivery is
// unreliable and unordered; every datagram is independent.
type CommandConn struct {
	conn      *net.UDPConn
	connected bool
	buf       []byte

	readMu    sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// ListenCommands binds the serving-side control socket.
func ListenCommands(addr string) (*CommandConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve control address %s", addr)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return newCommandConn(conn, false), nil
}

// DialCommands opens a viewer-side socket connected to the server's control port.
func DialCommands(addr string) (*CommandConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve control address %s", addr)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", addr)
	}
	return newCommandConn(conn, true), nil
}

func newCommandConn(conn *net.UDPConn, connected bool) *CommandConn {
	return &CommandConn{
		conn:      conn,
		connected: connected,
		buf:       make([]byte, protocol.MaxDatagramSize),
		closed:    make(chan struct{}),
	}
}

// LocalAddr returns the bound address.
func (c *CommandConn) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Send encodes cmd and sends it on a connected socket.
func (c *CommandConn) Send(cmd protocol.Command) error {
	if !c.connected {
		return errors.New("send requires a connected socket, use SendCommand")
	}
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		return c.classify(err, "send command")
	}
	return nil
}

// SendCommand encodes cmd and sends it to addr.
func (c *CommandConn) SendCommand(addr *net.UDPAddr, cmd protocol.Command) error {
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if _, err := c.conn.WriteToUDP(data, addr); err != nil {
		return c.classify(err, "send command")
	}
	return nil
}

// ReceiveCommand waits up to timeout for one datagram and decodes it.
// It returns core.ErrTimeout when nothing arrived, core.ErrMalformedMessage
// when the datagram was dropped, and core.ErrConnectionClosed after Close.
// A timeout of zero waits indefinitely.
func (c *CommandConn) ReceiveCommand(timeout time.Duration) (protocol.Command, *net.UDPAddr, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, c.classify(err, "set read deadline")
	}

	n, from, err := c.conn.ReadFromUDP(c.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil, core.ErrTimeout
		}
		return nil, nil, c.classify(err, "receive command")
	}

	cmd, err := protocol.DecodeCommand(c.buf[:n])
	if err != nil {
		return nil, from, err
	}
	return cmd, from, nil
}

// Close releases the socket and unblocks a pending ReceiveCommand.
func (c *CommandConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *CommandConn) classify(err error, op string) error {
	select {
	case <-c.closed:
		return core.Closed(err, op)
	default:
	}
	if errors.Is(err, net.ErrClosed) {
		return core.Closed(err, op)
	}
	return errors.Wrap(err, op)
}
