package message

import (
	"encoding/binary"

	"github.com/srg/bleproxy/internal/frame"
)

// ConnectionsFree reports the GATT connection slots of the proxy.
// A scan-only proxy always answers zero of zero.
//
// Layout: free u32 | limit u32
type ConnectionsFree struct {
	Free  uint32
	Limit uint32
}

func (c ConnectionsFree) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 8)
	buf = binary.BigEndian.AppendUint32(buf, c.Free)
	return binary.BigEndian.AppendUint32(buf, c.Limit), nil
}

func (c *ConnectionsFree) UnmarshalBinary(b []byte) error {
	d := decoder{buf: b, what: "connections free"}
	c.Free = d.u32()
	c.Limit = d.u32()
	return d.finish()
}

func (c ConnectionsFree) Frame() (frame.Frame, error) {
	p, err := c.MarshalBinary()
	return frame.Frame{Opcode: OpConnectionsFreeResponse, Payload: p}, err
}
