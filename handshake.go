package rtmp

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/rtmpengine/rtmp/rand"
)

const (
	RtmpVersion3 = 3
	// Versions above this collide with the first byte of a chunk and are
	// not RTMP at all.
	maxHandshakeVersion = 31

	handshakeSize = 1536
	// time (4 bytes) and zero (4 bytes) precede the random bytes
	handshakeRandomOffset = 8
)

type handshakeState uint8

const (
	awaitC0C1 handshakeState = iota
	awaitC2
	handshakeDone
)

// handshake is the server side of the RTMP handshake. It is fed whatever
// bytes have arrived and produces S0S1S2 as soon as C0C1 is complete,
// without waiting for C2.
type handshake struct {
	state handshakeState
	s1    [handshakeSize]byte
	fill  func([]byte) error
}

func newHandshake(fill func([]byte) error) *handshake {
	if fill == nil {
		fill = rand.Fill
	}
	return &handshake{fill: fill}
}

func (h *handshake) done() bool {
	return h.state == handshakeDone
}

// process consumes the C0C1 or C2 block at the front of b once it is
// complete. reply holds S0S1S2 and is returned once, after C0C1.
func (h *handshake) process(b []byte) (n int, reply []byte, err error) {
	switch h.state {
	case awaitC0C1:
		if len(b) < 1+handshakeSize {
			return 0, nil, nil
		}
		reply, err = h.readC0C1(b[:1+handshakeSize])
		if err != nil {
			return 0, nil, err
		}
		h.state = awaitC2
		return 1 + handshakeSize, reply, nil
	case awaitC2:
		if len(b) < handshakeSize {
			return 0, nil, nil
		}
		if err = h.readC2(b[:handshakeSize]); err != nil {
			return 0, nil, err
		}
		h.state = handshakeDone
		return handshakeSize, nil, nil
	}
	return 0, nil, nil
}

func (h *handshake) readC0C1(c0c1 []byte) ([]byte, error) {
	version := c0c1[0]
	if version < RtmpVersion3 {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d", version)
	}
	if version > maxHandshakeVersion {
		return nil, protocolViolation("handshake version %d", version)
	}
	c1 := c0c1[1:]

	// our epoch and the zero field stay 0
	if err := h.fill(h.s1[handshakeRandomOffset:]); err != nil {
		return nil, errors.Wrap(err, "handshake: generate s1")
	}

	s0s1s2 := make([]byte, 1+2*handshakeSize)
	s0s1s2[0] = RtmpVersion3
	copy(s0s1s2[1:], h.s1[:])
	// s2 echoes the client's time and random bytes
	s2 := s0s1s2[1+handshakeSize:]
	copy(s2[0:4], c1[0:4])
	copy(s2[handshakeRandomOffset:], c1[handshakeRandomOffset:])
	return s0s1s2, nil
}

func (h *handshake) readC2(c2 []byte) error {
	if !bytes.Equal(c2[0:4], h.s1[0:4]) {
		return protocolViolation("handshake: c2 does not echo the s1 time")
	}
	if !bytes.Equal(c2[handshakeRandomOffset:], h.s1[handshakeRandomOffset:]) {
		return protocolViolation("handshake: c2 does not echo the s1 random bytes")
	}
	return nil
}
