// Package video decodes the header at the front of an FLV video tag body,
// which is also the payload of an RTMP video message.
package video

import "fmt"

type FrameType uint8

const (
	KeyFrame             FrameType = 1
	InterFrame           FrameType = 2
	DisposableInterFrame FrameType = 3
	GeneratedKeyFrame    FrameType = 4
	// Video info/command frame
	CommandFrame FrameType = 5
)

type Codec uint8

const (
	SorensonH263    Codec = 2
	ScreenVideo     Codec = 3
	VP6             Codec = 4
	VP6AlphaChannel Codec = 5
	ScreenVideoV2   Codec = 6
	H264            Codec = 7
	HEVC            Codec = 12
)

func (c Codec) String() string {
	switch c {
	case SorensonH263:
		return "h263"
	case ScreenVideo, ScreenVideoV2:
		return "screen"
	case VP6, VP6AlphaChannel:
		return "vp6"
	case H264:
		return "h264"
	case HEVC:
		return "hevc"
	}
	return fmt.Sprintf("video(%d)", uint8(c))
}

type AVCPacketType uint8

const (
	AVCSequenceHeader AVCPacketType = 0
	AVCNALU           AVCPacketType = 1
	AVCEndOfSequence  AVCPacketType = 2
)

// exHeaderFlag marks the enhanced header, where the low nibble is a packet
// type and a FourCC follows.
const exHeaderFlag = 0x80

// Header is the decoded front of a video payload.
type Header struct {
	FrameType FrameType
	Codec     Codec
	// Enhanced headers carry a FourCC instead of a codec id.
	Enhanced   bool
	FourCC     string
	PacketType AVCPacketType
}

// ParseHeader reads the header of payload. ok is false when payload is too
// short to hold one.
func ParseHeader(payload []byte) (h Header, ok bool) {
	if len(payload) < 1 {
		return h, false
	}
	b := payload[0]
	if b&exHeaderFlag != 0 {
		if len(payload) < 5 {
			return h, false
		}
		h.Enhanced = true
		h.FrameType = FrameType((b >> 4) & 0x07)
		h.PacketType = AVCPacketType(b & 0x0F)
		h.FourCC = string(payload[1:5])
		return h, true
	}

	h.FrameType = FrameType(b >> 4)
	h.Codec = Codec(b & 0x0F)
	if h.Codec == H264 || h.Codec == HEVC {
		if len(payload) < 2 {
			return h, false
		}
		h.PacketType = AVCPacketType(payload[1])
	}
	return h, true
}

// IsSequenceHeader reports whether payload carries the decoder
// configuration record (AVC or HEVC) or an enhanced sequence start.
func IsSequenceHeader(payload []byte) bool {
	h, ok := ParseHeader(payload)
	if !ok {
		return false
	}
	if h.Enhanced {
		return h.PacketType == 0
	}
	return (h.Codec == H264 || h.Codec == HEVC) && h.PacketType == AVCSequenceHeader
}

func IsKeyFrame(payload []byte) bool {
	h, ok := ParseHeader(payload)
	return ok && h.FrameType == KeyFrame
}

// IsPlayable reports whether a frame with this header can go into a stream
// or file: a regular key or inter frame, or any enhanced frame.
func (h Header) IsPlayable() bool {
	if h.Enhanced {
		return true
	}
	return h.FrameType == KeyFrame || h.FrameType == InterFrame || h.FrameType == DisposableInterFrame
}
