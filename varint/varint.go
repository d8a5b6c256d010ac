// Package varint implements the zig-zag, 7-bits-per-byte signed varint
// framing used to estimate encoded sizes for rate accounting. The
// snapshot blob itself never embeds a varint; this codec exists purely
// so SnapshotDelta can cost a diff word the way the wire transport
// would.
package varint

import "github.com/pkg/errors"

// MaxLen is the largest number of bytes Encode ever produces.
const MaxLen = 5

// Encode writes the zig-zag varint encoding of v into buf and returns
// the number of bytes written. buf must have at least MaxLen bytes of
// room.
func Encode(v int32, buf []byte) int {
	u := zigzag(v)
	n := 0
	for {
		b := byte(u & 0x7F)
		u >>= 7
		if u != 0 {
			buf[n] = b | 0x80
			n++
			continue
		}
		buf[n] = b
		n++
		return n
	}
}

// EncodedLen returns the number of bytes Encode would use for v,
// without writing anything. Used by SnapshotDelta to cost a diff word
// in bits (EncodedLen(v) * 8) without allocating a scratch buffer.
func EncodedLen(v int32) int {
	u := zigzag(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// Decode reads a zig-zag varint from the front of buf and returns the
// decoded value together with the number of bytes consumed. It returns
// an error if buf is exhausted before a terminating byte is found.
func Decode(buf []byte) (int32, int, error) {
	var u uint32
	var shift uint
	for n, b := range buf {
		if n >= MaxLen {
			return 0, 0, errors.New("varint: value too long")
		}
		u |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return unzigzag(u), n + 1, nil
		}
		shift += 7
	}
	return 0, 0, errors.New("varint: truncated input")
}

func zigzag(v int32) uint32 {
	return uint32((v << 1) ^ (v >> 31))
}

func unzigzag(u uint32) int32 {
	return int32(u>>1) ^ -int32(u&1)
}
