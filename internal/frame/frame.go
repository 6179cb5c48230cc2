// Package frame implements the length-prefixed wire format:
//
//	Frame := OPCODE(1 byte) LENGTH(varint) PAYLOAD(LENGTH bytes)
//
// The codec never interprets opcodes.
package frame

import (
	"fmt"
	"io"
)

// MaxFrameLength is the largest payload an encoder may emit.
const MaxFrameLength = 1<<32 - 1

// Opcode tags the payload type.
type Opcode uint8

func (o Opcode) String() string {
	return fmt.Sprintf("0x%02X", uint8(o))
}

// Frame is one decoded wire unit.
type Frame struct {
	Opcode  Opcode
	Payload []byte
}

// Len returns the payload length.
func (f Frame) Len() int { return len(f.Payload) }

// Limits bounds what ReadFrame accepts from a peer.
type Limits struct {
	MaxPayloadBytes uint64 `default:"4194304" yaml:"max_payload_bytes"`
}

// DefaultLimits caps inbound payloads at 4 MiB.
func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 4 << 20}
}

func (l Limits) effectiveMax() uint64 {
	if l.MaxPayloadBytes == 0 || l.MaxPayloadBytes > MaxFrameLength {
		return MaxFrameLength
	}
	return l.MaxPayloadBytes
}

// Reader is what ReadFrame consumes; *bufio.Reader satisfies it.
type Reader interface {
	io.Reader
	io.ByteReader
}

// Append appends the encoded frame to dst.
func Append(dst []byte, op Opcode, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > MaxFrameLength {
		return dst, &EncodingError{Size: uint64(len(payload)), Max: MaxFrameLength}
	}
	dst = append(dst, byte(op))
	dst = AppendUvarint(dst, uint64(len(payload)))
	return append(dst, payload...), nil
}

// Encode returns the wire bytes for a frame.
func Encode(op Opcode, payload []byte) ([]byte, error) {
	buf := make([]byte, 0, 1+UvarintLen(uint64(len(payload)))+len(payload))
	return Append(buf, op, payload)
}

// EncodedLen returns the size of the encoded frame.
func EncodedLen(payloadLen int) int {
	return 1 + UvarintLen(uint64(payloadLen)) + payloadLen
}

// WriteFrame encodes f and writes it with a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := Encode(f.Opcode, f.Payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return closedOrPassthrough(err)
	}
	return nil
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r Reader, limits Limits) (Frame, error) {
	op, err := r.ReadByte()
	if err != nil {
		return Frame{}, closedOrPassthrough(err)
	}

	n, err := ReadUvarint(r)
	if err != nil {
		return Frame{}, err
	}
	if limit := limits.effectiveMax(); n > limit {
		return Frame{}, &ProtocolError{
			Violation: FrameTooLarge,
			Msg:       fmt.Sprintf("opcode %s declares %d bytes, limit %d", Opcode(op), n, limit),
		}
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, closedOrPassthrough(err)
	}
	return Frame{Opcode: Opcode(op), Payload: payload}, nil
}
