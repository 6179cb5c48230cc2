package frame

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Violation identifies the kind of wire-level rule a peer broke
type Violation string

const (
	VarintTooLong    Violation = "varint_too_long"
	FrameTooLarge    Violation = "frame_too_large"
	UnexpectedOpcode Violation = "unexpected_opcode"
	MalformedPayload Violation = "malformed_payload"
)

// ProtocolError is returned when the peer sent bytes that cannot be a valid frame or payload.
// Only the offending connection is affected by it.
type ProtocolError struct {
	Violation Violation
	Msg       string
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return "protocol error: " + string(e.Violation)
	}
	return fmt.Sprintf("protocol error: %s: %s", e.Violation, e.Msg)
}

// Is allows errors.Is to compare ProtocolError values by Violation
func (e *ProtocolError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return t.Violation == "" || e.Violation == t.Violation
}

// ConnectionClosedError reports that the stream ended before a complete frame was read,
// or that the transport was closed or reset.
type ConnectionClosedError struct {
	Err error
}

func (e *ConnectionClosedError) Error() string {
	if e == nil || e.Err == nil {
		return "connection closed"
	}
	return "connection closed: " + e.Err.Error()
}

func (e *ConnectionClosedError) Unwrap() error { return e.Err }

func (e *ConnectionClosedError) Is(target error) bool {
	_, ok := target.(*ConnectionClosedError)
	return ok
}

// EncodingError rejects a single outbound frame whose payload cannot be represented.
type EncodingError struct {
	Size uint64
	Max  uint64
}

func (e *EncodingError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("encoding error: payload of %d bytes exceeds %d", e.Size, e.Max)
}

func (e *EncodingError) Is(target error) bool {
	_, ok := target.(*EncodingError)
	return ok
}

// Predefined sentinel errors
var (
	ErrVarintTooLong    = &ProtocolError{Violation: VarintTooLong}
	ErrFrameTooLarge    = &ProtocolError{Violation: FrameTooLarge}
	ErrUnexpectedOpcode = &ProtocolError{Violation: UnexpectedOpcode}
	ErrMalformedPayload = &ProtocolError{Violation: MalformedPayload}
	ErrConnectionClosed = &ConnectionClosedError{}
	ErrPayloadTooLarge  = &EncodingError{}
)

// IsProtocolError reports whether err carries a ProtocolError
func IsProtocolError(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr)
}

// IsConnectionClosed reports whether err carries a ConnectionClosedError
func IsConnectionClosed(err error) bool {
	var cerr *ConnectionClosedError
	return errors.As(err, &cerr)
}

// Malformed builds a ProtocolError for a payload that does not match its opcode's layout.
func Malformed(format string, args ...any) error {
	return &ProtocolError{Violation: MalformedPayload, Msg: fmt.Sprintf(format, args...)}
}

// closedOrPassthrough maps transport-level end-of-stream conditions to ConnectionClosedError.
// Anything else is returned unchanged.
func closedOrPassthrough(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return &ConnectionClosedError{Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return err
	}
	var operr *net.OpError
	if errors.As(err, &operr) {
		return &ConnectionClosedError{Err: err}
	}
	return err
}
