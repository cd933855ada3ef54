// Package netbits reads and writes the fixed-width integers and doubles used
// on the RTMP wire. Callers guarantee the slice is long enough.
package netbits

import "math"

func Uint16(b []byte) uint16 {
	_ = b[1]
	return uint16(b[1]) | uint16(b[0])<<8
}

func PutUint16(b []byte, v uint16) {
	_ = b[1]
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

// Uint24 reads a big-endian 24-bit unsigned integer, zero-extended.
func Uint24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[2]) | uint32(b[1])<<8 | uint32(b[0])<<16
}

// PutUint24 writes the low 24 bits of v big-endian. Higher bits are dropped.
func PutUint24(b []byte, v uint32) {
	_ = b[2] // early bounds check to guarantee safety of writes below
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func Uint32(b []byte) uint32 {
	_ = b[3]
	return uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24
}

func PutUint32(b []byte, v uint32) {
	_ = b[3]
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func Uint64(b []byte) uint64 {
	_ = b[7]
	return uint64(Uint32(b))<<32 | uint64(Uint32(b[4:]))
}

func PutUint64(b []byte, v uint64) {
	_ = b[7]
	PutUint32(b, uint32(v>>32))
	PutUint32(b[4:], uint32(v))
}

// Float64 reads an IEEE-754 double stored big-endian.
func Float64(b []byte) float64 {
	return math.Float64frombits(Uint64(b))
}

func PutFloat64(b []byte, f float64) {
	PutUint64(b, math.Float64bits(f))
}

// Uint24LE reads a little-endian 24-bit unsigned integer.
func Uint24LE(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func PutUint24LE(b []byte, v uint32) {
	_ = b[2]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// Uint32LE reads a little-endian 32-bit unsigned integer. The message stream
// id in a type 0 chunk header is the only little-endian field in RTMP.
func Uint32LE(b []byte) uint32 {
	_ = b[3]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func PutUint32LE(b []byte, v uint32) {
	_ = b[3]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
