package rtmp

import (
	"fmt"

	"github.com/rtmpengine/rtmp/amf/amf0"
	"github.com/rtmpengine/rtmp/amf/amf3"
)

type MessageType uint8

const (
	SetChunkSizeMessage MessageType = 1 + iota
	AbortMessage
	AcknowledgementMessage
	UserControlMessage
	WindowAcknowledgementSizeMessage
	SetPeerBandwidthMessage

	AudioMessage MessageType = 8
	VideoMessage MessageType = 9

	DataMessageAMF3         MessageType = 15
	SharedObjectMessageAMF3 MessageType = 16
	CommandMessageAMF3      MessageType = 17

	DataMessageAMF0         MessageType = 18
	SharedObjectMessageAMF0 MessageType = 19
	CommandMessageAMF0      MessageType = 20

	AggregateMessage MessageType = 22
)

func (t MessageType) String() string {
	switch t {
	case SetChunkSizeMessage:
		return "SetChunkSize"
	case AbortMessage:
		return "Abort"
	case AcknowledgementMessage:
		return "Acknowledgement"
	case UserControlMessage:
		return "UserControl"
	case WindowAcknowledgementSizeMessage:
		return "WindowAcknowledgementSize"
	case SetPeerBandwidthMessage:
		return "SetPeerBandwidth"
	case AudioMessage:
		return "Audio"
	case VideoMessage:
		return "Video"
	case DataMessageAMF3:
		return "DataAMF3"
	case SharedObjectMessageAMF3:
		return "SharedObjectAMF3"
	case CommandMessageAMF3:
		return "CommandAMF3"
	case DataMessageAMF0:
		return "DataAMF0"
	case SharedObjectMessageAMF0:
		return "SharedObjectAMF0"
	case CommandMessageAMF0:
		return "CommandAMF0"
	case AggregateMessage:
		return "Aggregate"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// MessageHeader is the logical header of a message once every chunk header
// field has been resolved. Timestamp is always absolute.
type MessageHeader struct {
	Timestamp uint32
	Length    uint32
	Type      MessageType
	StreamID  uint32
}

// Body is the typed payload of a message.
type Body interface {
	Type() MessageType
	Marshal(ctx *SerializationContext) ([]byte, error)
}

// Message is a fully reassembled and decoded message.
type Message struct {
	Header MessageHeader
	Body   Body
}

// SerializationContext carries the AMF reference tables for one message.
// Reset must be called between independent messages.
type SerializationContext struct {
	AMF0Decoder *amf0.Decoder
	AMF0Encoder *amf0.Encoder
	AMF3Decoder *amf3.Decoder
	AMF3Encoder *amf3.Encoder
}

// NewSerializationContext builds a context whose AMF3 decoders resolve
// class names through classes, which may be nil.
func NewSerializationContext(classes *amf3.Registry) *SerializationContext {
	return &SerializationContext{
		AMF0Decoder: amf0.NewDecoder(classes),
		AMF0Encoder: amf0.NewEncoder(),
		AMF3Decoder: amf3.NewDecoder(classes),
		AMF3Encoder: amf3.NewEncoder(),
	}
}

func (c *SerializationContext) Reset() {
	c.AMF0Decoder.Reset()
	c.AMF0Encoder.Reset()
	c.AMF3Decoder.Reset()
	c.AMF3Encoder.Reset()
}
