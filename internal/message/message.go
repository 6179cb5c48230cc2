// Package message defines the application payloads carried inside frames.
//
// All integers are big-endian. Strings carry a uint16 length prefix.
package message

import (
	"encoding/binary"

	"github.com/srg/bleproxy/internal/frame"
)

// Opcodes understood by the proxy.
const (
	OpHelloRequest        frame.Opcode = 0x00
	OpHelloResponse       frame.Opcode = 0x01
	OpConnectRequest      frame.Opcode = 0x03
	OpConnectResponse     frame.Opcode = 0x04
	OpDisconnectRequest   frame.Opcode = 0x05
	OpDisconnectResponse  frame.Opcode = 0x06
	OpPingRequest         frame.Opcode = 0x07
	OpPingResponse        frame.Opcode = 0x08
	OpDeviceInfoRequest   frame.Opcode = 0x09
	OpDeviceInfoResponse  frame.Opcode = 0x0A
	OpListEntitiesRequest frame.Opcode = 0x0B
	OpListEntitiesDone    frame.Opcode = 0x13
	OpAdvertisement       frame.Opcode = 0x33

	// Hubs ask how many GATT connection slots are free before connecting to a device.
	OpConnectionsFreeRequest  frame.Opcode = 0x50
	OpConnectionsFreeResponse frame.Opcode = 0x51
)

var opcodeNames = map[frame.Opcode]string{
	OpHelloRequest:            "HelloRequest",
	OpHelloResponse:           "HelloResponse",
	OpConnectRequest:          "ConnectRequest",
	OpConnectResponse:         "ConnectResponse",
	OpDisconnectRequest:       "DisconnectRequest",
	OpDisconnectResponse:      "DisconnectResponse",
	OpPingRequest:             "PingRequest",
	OpPingResponse:            "PingResponse",
	OpDeviceInfoRequest:       "DeviceInfoRequest",
	OpDeviceInfoResponse:      "DeviceInfoResponse",
	OpListEntitiesRequest:     "ListEntitiesRequest",
	OpListEntitiesDone:        "ListEntitiesDone",
	OpAdvertisement:           "Advertisement",
	OpConnectionsFreeRequest:  "ConnectionsFreeRequest",
	OpConnectionsFreeResponse: "ConnectionsFreeResponse",
}

// OpcodeName returns a readable name for logs.
func OpcodeName(op frame.Opcode) string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return "Unknown(" + op.String() + ")"
}

// Protocol version announced in HelloResponse.
const (
	APIVersionMajor = 1
	APIVersionMinor = 6
)

const maxStr16 = 1<<16 - 1

// Empty returns a frame with no payload, used by ping, connect, disconnect and list entities messages.
func Empty(op frame.Opcode) frame.Frame {
	return frame.Frame{Opcode: op}
}

func appendStr16(dst []byte, s string) ([]byte, error) {
	if len(s) > maxStr16 {
		return dst, &frame.EncodingError{Size: uint64(len(s)), Max: maxStr16}
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...), nil
}

func appendBytes16(dst []byte, b []byte) ([]byte, error) {
	if len(b) > maxStr16 {
		return dst, &frame.EncodingError{Size: uint64(len(b)), Max: maxStr16}
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(b)))
	return append(dst, b...), nil
}

// decoder walks a payload and remembers the first short read.
type decoder struct {
	buf  []byte
	what string
	err  error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.err = frame.Malformed("%s: need %d bytes, have %d", d.what, n, len(d.buf))
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) bytes16() []byte {
	n := int(d.u16())
	b := d.take(n)
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (d *decoder) str16() string {
	n := int(d.u16())
	return string(d.take(n))
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if len(d.buf) != 0 {
		return frame.Malformed("%s: %d trailing bytes", d.what, len(d.buf))
	}
	return nil
}
