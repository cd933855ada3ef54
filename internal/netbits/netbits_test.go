package netbits

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint24(t *testing.T) {
	tests := []struct {
		name string
		in   uint32
		be   []byte
		le   []byte
	}{
		{"zero", 0, []byte{0, 0, 0}, []byte{0, 0, 0}},
		{"max", 0xFFFFFF, []byte{0xFF, 0xFF, 0xFF}, []byte{0xFF, 0xFF, 0xFF}},
		{"mixed", 0x0A0B0C, []byte{0x0A, 0x0B, 0x0C}, []byte{0x0C, 0x0B, 0x0A}},
		{"truncated", 0x1_000_001, []byte{0, 0, 1}, []byte{1, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := make([]byte, 3)
			PutUint24(b, tt.in)
			require.Equal(t, tt.be, b)
			require.Equal(t, tt.in&0xFFFFFF, Uint24(b))

			PutUint24LE(b, tt.in)
			require.Equal(t, tt.le, b)
			require.Equal(t, tt.in&0xFFFFFF, Uint24LE(b))
		})
	}
}

func TestFixedWidth(t *testing.T) {
	b := make([]byte, 8)

	PutUint16(b, 0xBEEF)
	require.Equal(t, []byte{0xBE, 0xEF}, b[:2])
	require.Equal(t, uint16(0xBEEF), Uint16(b))

	PutUint32(b, 0xDEADBEEF)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, b[:4])
	require.Equal(t, uint32(0xDEADBEEF), Uint32(b))

	PutUint32LE(b, 0xDEADBEEF)
	require.Equal(t, []byte{0xEF, 0xBE, 0xAD, 0xDE}, b[:4])
	require.Equal(t, uint32(0xDEADBEEF), Uint32LE(b))

	PutUint64(b, 0x0102030405060708)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, b)
	require.Equal(t, uint64(0x0102030405060708), Uint64(b))
}

func TestFloat64(t *testing.T) {
	b := make([]byte, 8)
	for _, f := range []float64{0, 1.5, -3.25, math.MaxFloat64, math.Inf(1)} {
		PutFloat64(b, f)
		require.Equal(t, f, Float64(b))
	}

	PutFloat64(b, 1)
	require.Equal(t, []byte{0x3F, 0xF0, 0, 0, 0, 0, 0, 0}, b)
}
