package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a 48-bit Bluetooth device address held in the low bits of a uint64.
type Address uint64

const addressMask = 1<<48 - 1

// AddressType distinguishes public from random device addresses.
type AddressType uint8

const (
	AddressPublic AddressType = 0
	AddressRandom AddressType = 1
)

func (t AddressType) String() string {
	switch t {
	case AddressPublic:
		return "public"
	case AddressRandom:
		return "random"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ParseAddress accepts "AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff" or "aabbccddeeff".
func ParseAddress(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	clean := strings.NewReplacer(":", "", "-", "").Replace(trimmed)
	if len(clean) != 12 || (len(trimmed) != 12 && len(trimmed) != 17) {
		return 0, fmt.Errorf("invalid device address %q", s)
	}
	v, err := strconv.ParseUint(clean, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid device address %q: %w", s, err)
	}
	return Address(v), nil
}

// MustParseAddress panics on malformed input. Intended for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Bytes returns the address most significant octet first.
func (a Address) Bytes() [6]byte {
	var b [6]byte
	v := uint64(a) & addressMask
	for i := 5; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// AddressFromBytes is the inverse of Bytes.
func AddressFromBytes(b [6]byte) Address {
	var v uint64
	for _, o := range b {
		v = v<<8 | uint64(o)
	}
	return Address(v)
}

// String formats as upper-case colon separated octets.
func (a Address) String() string {
	b := a.Bytes()
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[0], b[1], b[2], b[3], b[4], b[5])
}

// Hex formats as lower-case octets without separators, as used in discovery records.
func (a Address) Hex() string {
	b := a.Bytes()
	return fmt.Sprintf("%02x%02x%02x%02x%02x%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}
