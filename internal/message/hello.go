package message

import (
	"encoding/binary"

	"github.com/srg/bleproxy/internal/frame"
)

// HelloRequest opens a session. An empty payload is accepted as version 0.0.
type HelloRequest struct {
	Major      uint16
	Minor      uint16
	ClientInfo string
}

// HelloResponse answers the handshake with the server's protocol version.
type HelloResponse struct {
	Major      uint16
	Minor      uint16
	ServerInfo string
}

func marshalHello(major, minor uint16, info string) ([]byte, error) {
	buf := make([]byte, 0, 6+len(info))
	buf = binary.BigEndian.AppendUint16(buf, major)
	buf = binary.BigEndian.AppendUint16(buf, minor)
	return appendStr16(buf, info)
}

func (h HelloRequest) MarshalBinary() ([]byte, error) {
	return marshalHello(h.Major, h.Minor, h.ClientInfo)
}

func (h *HelloRequest) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		*h = HelloRequest{}
		return nil
	}
	d := decoder{buf: b, what: "hello request"}
	h.Major = d.u16()
	h.Minor = d.u16()
	h.ClientInfo = d.str16()
	return d.finish()
}

// Frame wraps the request for the wire.
func (h HelloRequest) Frame() (frame.Frame, error) {
	p, err := h.MarshalBinary()
	return frame.Frame{Opcode: OpHelloRequest, Payload: p}, err
}

func (h HelloResponse) MarshalBinary() ([]byte, error) {
	return marshalHello(h.Major, h.Minor, h.ServerInfo)
}

func (h *HelloResponse) UnmarshalBinary(b []byte) error {
	d := decoder{buf: b, what: "hello response"}
	h.Major = d.u16()
	h.Minor = d.u16()
	h.ServerInfo = d.str16()
	return d.finish()
}

// Frame wraps the response for the wire.
func (h HelloResponse) Frame() (frame.Frame, error) {
	p, err := h.MarshalBinary()
	return frame.Frame{Opcode: OpHelloResponse, Payload: p}, err
}

// NewHelloResponse returns the server's answer carrying the current protocol version.
func NewHelloResponse(serverInfo string) HelloResponse {
	return HelloResponse{Major: APIVersionMajor, Minor: APIVersionMinor, ServerInfo: serverInfo}
}
