package message

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/srg/bleproxy/internal/frame"
)

// RSSIUnknown is reported when the radio did not provide a signal strength.
const RSSIUnknown = -127

// advertisementFixedLen covers address, address type, rssi, timestamp and both length prefixes.
const advertisementFixedLen = 6 + 1 + 2 + 8 + 2 + 2

// Advertisement is one normalized BLE advertisement event.
//
// Layout on the wire:
//
//	address    6 bytes
//	addr_type  1 byte
//	rssi       int16
//	timestamp  uint64, milliseconds since the Unix epoch
//	name       uint16 length + UTF-8 bytes, empty when absent
//	raw        uint16 length + AD structures
type Advertisement struct {
	Address     Address
	AddressType AddressType
	RSSI        int16
	Timestamp   time.Time
	Name        string
	Raw         []byte
}

// ClampRSSI narrows a driver RSSI into int16, saturating at the type bounds.
func ClampRSSI(v int) int16 {
	switch {
	case v < math.MinInt16:
		return math.MinInt16
	case v > math.MaxInt16:
		return math.MaxInt16
	}
	return int16(v)
}

func (a Advertisement) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, advertisementFixedLen+len(a.Name)+len(a.Raw))
	addr := a.Address.Bytes()
	buf = append(buf, addr[:]...)
	buf = append(buf, byte(a.AddressType))
	buf = binary.BigEndian.AppendUint16(buf, uint16(a.RSSI))
	var ts uint64
	if !a.Timestamp.IsZero() {
		ts = uint64(a.Timestamp.UnixMilli())
	}
	buf = binary.BigEndian.AppendUint64(buf, ts)

	var err error
	if buf, err = appendStr16(buf, a.Name); err != nil {
		return nil, err
	}
	if buf, err = appendBytes16(buf, a.Raw); err != nil {
		return nil, err
	}
	return buf, nil
}

func (a *Advertisement) UnmarshalBinary(b []byte) error {
	if len(b) < advertisementFixedLen {
		return frame.Malformed("advertisement: %d bytes, need at least %d", len(b), advertisementFixedLen)
	}
	d := decoder{buf: b, what: "advertisement"}
	var addr [6]byte
	copy(addr[:], d.take(6))
	a.Address = AddressFromBytes(addr)
	a.AddressType = AddressType(d.u8())
	a.RSSI = int16(d.u16())
	ts := d.u64()
	a.Timestamp = time.Time{}
	if ts != 0 {
		a.Timestamp = time.UnixMilli(int64(ts)).UTC()
	}
	a.Name = d.str16()
	a.Raw = d.bytes16()
	return d.finish()
}

// Frame encodes the advertisement for fan-out.
func (a Advertisement) Frame() (frame.Frame, error) {
	p, err := a.MarshalBinary()
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{Opcode: OpAdvertisement, Payload: p}, nil
}

// Encode returns the complete wire bytes of the advertisement frame.
func (a Advertisement) Encode() ([]byte, error) {
	p, err := a.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return frame.Encode(OpAdvertisement, p)
}
