package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error taxonomy shared by every direction. Callers classify with errors.Is.
var (
	// ErrConnectionClosed means the peer closed or reset the stream. It ends the affected direction only.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrMalformedMessage covers undecodable commands and corrupt frame headers.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrFrameTooLarge is a malformed length header above the configured maximum.
	ErrFrameTooLarge = Classify(ErrMalformedMessage, nil, "frame exceeds maximum size")
	// ErrUnknownCommand is a command datagram whose type is not part of the protocol.
	ErrUnknownCommand = Classify(ErrMalformedMessage, nil, "unknown command type")
	// ErrDecode is a codec failure on a received frame.
	ErrDecode = errors.New("decode error")
	// ErrDevice is a capture, audio or injection failure.
	ErrDevice = errors.New("device error")
	// ErrTimeout is returned by bounded reads that saw no data.
	ErrTimeout = errors.New("timeout")
)

// classified attaches a taxonomy kind to an underlying cause so that errors.Is
// matches both the kind and anything the cause wraps.
type classified struct {
	kind  error
	cause error
	msg   string
}

func (e *classified) Error() string {
	switch {
	case e.cause == nil:
		return e.msg
	case e.msg == "":
		return fmt.Sprintf("%v: %v", e.kind, e.cause)
	default:
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
}

func (e *classified) Is(target error) bool {
	if target == e.kind {
		return true
	}
	if k, ok := e.kind.(*classified); ok {
		return k.Is(target)
	}
	return false
}

func (e *classified) Unwrap() error { return e.cause }

// Classify returns an error of the given kind wrapping cause.
func Classify(kind, cause error, msg string) error {
	return &classified{kind: kind, cause: cause, msg: msg}
}

// Closed wraps cause as ErrConnectionClosed.
func Closed(cause error, msg string) error {
	return Classify(ErrConnectionClosed, cause, msg)
}

// Malformed wraps cause as ErrMalformedMessage.
func Malformed(cause error, msg string) error {
	return Classify(ErrMalformedMessage, cause, msg)
}

// DeviceError wraps a provider failure for operation op.
func DeviceError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return Classify(ErrDevice, cause, "device "+op)
}
