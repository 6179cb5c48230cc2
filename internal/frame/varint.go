package frame

import (
	"encoding/binary"
	"io"
)

// MaxVarintLen is the longest legal encoding of a 64-bit length.
const MaxVarintLen = binary.MaxVarintLen64

// AppendUvarint appends the base-128 little-endian encoding of v to dst.
func AppendUvarint(dst []byte, v uint64) []byte {
	return binary.AppendUvarint(dst, v)
}

// UvarintLen returns the number of bytes AppendUvarint would write for v.
func UvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// ReadUvarint decodes one varint from r, a byte at a time.
//
// End of stream anywhere inside the varint is a ConnectionClosedError. A continuation
// bit on the tenth byte, or a tenth byte carrying more than the top bit of a uint64,
// is ErrVarintTooLong.
func ReadUvarint(r io.ByteReader) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; i < MaxVarintLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i > 0 && err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, closedOrPassthrough(err)
		}
		if i == MaxVarintLen-1 && b > 1 {
			return 0, ErrVarintTooLong
		}
		if b < 0x80 {
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, ErrVarintTooLong
}
