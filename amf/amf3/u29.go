package amf3

import (
	"github.com/pkg/errors"
	"github.com/rtmpengine/rtmp/amf"
)

var ErrU29Overflow = errors.New("amf3: value does not fit in 29 bits")

// AppendU29 appends the variable length encoding of v to dst.
func AppendU29(dst []byte, v uint32) ([]byte, error) {
	// The high bit of the first 3 bytes are used as flags to determine whether the next byte is part of the integer.
	const useNextByte = 0x80
	switch {
	case v < 0x80:
		return append(dst, byte(v)), nil
	case v < 0x4000:
		return append(dst, byte(v>>7)|useNextByte, byte(v&0x7F)), nil
	case v < 0x200000:
		return append(dst, byte(v>>14)|useNextByte, byte(v>>7)|useNextByte, byte(v&0x7F)), nil
	case v <= MaxU29:
		// a 4 byte integer uses all 8 bits of the last byte
		return append(dst, byte(v>>22)|useNextByte, byte(v>>15)|useNextByte, byte(v>>8)|useNextByte, byte(v)), nil
	default:
		return dst, errors.Wrapf(ErrU29Overflow, "%d", v)
	}
}

// ReadU29 decodes a U29 from the start of b and returns it with the number
// of bytes it occupied.
func ReadU29(b []byte) (uint32, int, error) {
	var v uint32
	for i := 0; i < 4; i++ {
		if i >= len(b) {
			return 0, 0, errors.Wrap(amf.ErrMalformed, "amf3: truncated u29")
		}
		c := b[i]
		if i == 3 {
			return v<<8 | uint32(c), 4, nil
		}
		v = v<<7 | uint32(c&0x7F)
		if c&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	// unreachable, the loop always returns on its fourth byte
	return v, 4, nil
}

// U29Len returns how many bytes v takes once encoded.
func U29Len(v uint32) int {
	switch {
	case v < 0x80:
		return 1
	case v < 0x4000:
		return 2
	case v < 0x200000:
		return 3
	default:
		return 4
	}
}
