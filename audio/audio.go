// Package audio decodes the one or two byte header at the front of an FLV
// audio tag body, which is also the payload of an RTMP audio message.
package audio

import "fmt"

type Format uint8

const (
	LinearPCMPlatformEndian Format = 0
	ADPCM                   Format = 1
	MP3                     Format = 2
	LinearPCMLittleEndian   Format = 3
	Nellymoser16KHzMono     Format = 4
	Nellymoser8KHzMono      Format = 5
	Nellymoser              Format = 6
	G711ALaw                Format = 7
	G711MuLaw               Format = 8
	AAC                     Format = 10
	Speex                   Format = 11
	MP38KHz                 Format = 14
	DeviceSpecific          Format = 15
)

func (f Format) String() string {
	switch f {
	case MP3, MP38KHz:
		return "mp3"
	case AAC:
		return "aac"
	case Speex:
		return "speex"
	case G711ALaw:
		return "pcma"
	case G711MuLaw:
		return "pcmu"
	case Nellymoser, Nellymoser8KHzMono, Nellymoser16KHzMono:
		return "nellymoser"
	case LinearPCMPlatformEndian, LinearPCMLittleEndian:
		return "pcm"
	case ADPCM:
		return "adpcm"
	}
	return fmt.Sprintf("audio(%d)", uint8(f))
}

type SampleRate uint8

const (
	Rate5p5KHz SampleRate = 0
	Rate11KHz  SampleRate = 1
	Rate22KHz  SampleRate = 2
	Rate44KHz  SampleRate = 3
)

// Hz returns the nominal rate in hertz.
func (r SampleRate) Hz() int {
	switch r {
	case Rate5p5KHz:
		return 5512
	case Rate11KHz:
		return 11025
	case Rate22KHz:
		return 22050
	}
	return 44100
}

type SampleSize uint8

const (
	Size8Bit  SampleSize = 0
	Size16Bit SampleSize = 1
)

type Channel uint8

const (
	Mono   Channel = 0
	Stereo Channel = 1
)

type AACPacketType uint8

const (
	AACSequenceHeader AACPacketType = 0
	AACRaw            AACPacketType = 1
)

// Header is the decoded first byte of an audio payload plus, for AAC, the
// packet type that follows it.
type Header struct {
	Format     Format
	SampleRate SampleRate
	SampleSize SampleSize
	Channels   Channel
	PacketType AACPacketType
}

// ParseHeader reads the header of payload. ok is false when payload is too
// short to hold one.
func ParseHeader(payload []byte) (h Header, ok bool) {
	if len(payload) < 1 {
		return h, false
	}
	b := payload[0]
	h.Format = Format(b >> 4)
	h.SampleRate = SampleRate((b >> 2) & 0x03)
	h.SampleSize = SampleSize((b >> 1) & 0x01)
	h.Channels = Channel(b & 0x01)
	if h.Format == AAC {
		if len(payload) < 2 {
			return h, false
		}
		h.PacketType = AACPacketType(payload[1])
	}
	return h, true
}

// IsSequenceHeader reports whether payload carries the AAC decoder
// configuration that players need before any raw frame.
func IsSequenceHeader(payload []byte) bool {
	h, ok := ParseHeader(payload)
	return ok && h.Format == AAC && h.PacketType == AACSequenceHeader
}
