package rtmp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func countingFill(b []byte) error {
	for i := range b {
		b[i] = byte(i * 7)
	}
	return nil
}

func clientHello(version byte) []byte {
	c0c1 := make([]byte, 1+handshakeSize)
	c0c1[0] = version
	copy(c0c1[1:5], []byte{0, 0, 0x12, 0x34})
	for i := 1 + handshakeRandomOffset; i < len(c0c1); i++ {
		c0c1[i] = byte(i)
	}
	return c0c1
}

func TestHandshake(t *testing.T) {
	h := newHandshake(countingFill)
	c0c1 := clientHello(RtmpVersion3)

	n, reply, err := h.process(c0c1[:100])
	require.NoError(t, err)
	require.Zero(t, n)
	require.Nil(t, reply)

	n, reply, err = h.process(c0c1)
	require.NoError(t, err)
	require.Equal(t, len(c0c1), n)
	require.Len(t, reply, 1+2*handshakeSize)
	require.Equal(t, byte(RtmpVersion3), reply[0])

	s1 := reply[1 : 1+handshakeSize]
	s2 := reply[1+handshakeSize:]
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, s1[:handshakeRandomOffset])
	require.Equal(t, c0c1[1:5], s2[0:4])
	require.Equal(t, c0c1[1+handshakeRandomOffset:], s2[handshakeRandomOffset:])
	require.False(t, h.done())

	c2 := append([]byte(nil), s1...)
	n, reply, err = h.process(c2)
	require.NoError(t, err)
	require.Equal(t, handshakeSize, n)
	require.Nil(t, reply)
	require.True(t, h.done())
}

func TestHandshakeVersions(t *testing.T) {
	versionTests := []struct {
		name    string
		version byte
		err     error
	}{
		{"tooOld", 2, ErrUnsupportedVersion},
		{"plainText", 0, ErrUnsupportedVersion},
		{"notRTMP", 'G', ErrProtocolViolation},
		{"newerVersion", 6, nil},
	}

	for _, tt := range versionTests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandshake(countingFill)
			_, reply, err := h.process(clientHello(tt.version))
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			// answered with the version we speak
			require.Equal(t, byte(RtmpVersion3), reply[0])
		})
	}
}

func TestHandshakeBadEcho(t *testing.T) {
	echoTests := []struct {
		name   string
		offset int
	}{
		{"time", 0},
		{"random", handshakeRandomOffset + 100},
	}

	for _, tt := range echoTests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandshake(countingFill)
			_, reply, err := h.process(clientHello(RtmpVersion3))
			require.NoError(t, err)

			c2 := bytes.Clone(reply[1 : 1+handshakeSize])
			c2[tt.offset] ^= 0xFF
			_, _, err = h.process(c2)
			require.ErrorIs(t, err, ErrProtocolViolation)
			require.False(t, h.done())
		})
	}
}
