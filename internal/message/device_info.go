package message

import (
	"encoding/binary"

	"github.com/srg/bleproxy/internal/frame"
)

// Bluetooth proxy feature flags reported in DeviceInfoResponse.
const (
	FeaturePassiveScan    uint32 = 1 << 0
	FeatureRawAdvertising uint32 = 1 << 5
)

// DeviceInfo describes the proxy node to a connected hub.
type DeviceInfo struct {
	Name         string
	MAC          string
	BluetoothMAC string
	Model        string
	Version      string
	ProxyFlags   uint32
}

func (i DeviceInfo) MarshalBinary() ([]byte, error) {
	var (
		buf []byte
		err error
	)
	for _, s := range []string{i.Name, i.MAC, i.BluetoothMAC, i.Model, i.Version} {
		if buf, err = appendStr16(buf, s); err != nil {
			return nil, err
		}
	}
	return binary.BigEndian.AppendUint32(buf, i.ProxyFlags), nil
}

func (i *DeviceInfo) UnmarshalBinary(b []byte) error {
	d := decoder{buf: b, what: "device info"}
	i.Name = d.str16()
	i.MAC = d.str16()
	i.BluetoothMAC = d.str16()
	i.Model = d.str16()
	i.Version = d.str16()
	i.ProxyFlags = d.u32()
	return d.finish()
}

// Frame wraps the device info as a response.
func (i DeviceInfo) Frame() (frame.Frame, error) {
	p, err := i.MarshalBinary()
	return frame.Frame{Opcode: OpDeviceInfoResponse, Payload: p}, err
}
