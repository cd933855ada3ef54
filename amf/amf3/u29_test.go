package amf3

import (
	"testing"

	"github.com/rtmpengine/rtmp/amf"
	"github.com/stretchr/testify/require"
)

func TestU29Boundaries(t *testing.T) {
	tests := []struct {
		value uint32
		size  int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{2097151, 3},
		{2097152, 4},
		{268435455, 4},
		{268435456, 4},
		{1<<29 - 1, 4},
	}

	for _, tt := range tests {
		b, err := AppendU29(nil, tt.value)
		require.NoError(t, err)
		require.Len(t, b, tt.size, "value %d", tt.value)
		require.Equal(t, tt.size, U29Len(tt.value))

		v, n, err := ReadU29(b)
		require.NoError(t, err)
		require.Equal(t, tt.size, n)
		require.Equal(t, tt.value, v)
	}
}

func TestU29WideLastByte(t *testing.T) {
	b, err := AppendU29(nil, 1<<29-1)
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, b)

	b, err = AppendU29(nil, 268435456)
	require.NoError(t, err)
	require.Equal(t, []byte{0xC0, 0x80, 0x80, 0x00}, b)

	b, err = AppendU29(nil, 128)
	require.NoError(t, err)
	require.Equal(t, []byte{0x81, 0x00}, b)
}

func TestU29Errors(t *testing.T) {
	_, err := AppendU29(nil, 1<<29)
	require.ErrorIs(t, err, ErrU29Overflow)

	_, n, err := ReadU29([]byte{0x81, 0x80})
	require.ErrorIs(t, err, amf.ErrMalformed)
	require.Equal(t, 0, n)
}
