package rtmp

import (
	"github.com/pkg/errors"

	"github.com/rtmpengine/rtmp/audio"
	"github.com/rtmpengine/rtmp/internal/netbits"
	"github.com/rtmpengine/rtmp/video"
)

// Audio is an audio message. Payload is an FLV audio tag body.
type Audio struct {
	Payload []byte
}

func (m *Audio) Type() MessageType { return AudioMessage }

func (m *Audio) Marshal(*SerializationContext) ([]byte, error) {
	return m.Payload, nil
}

func (m *Audio) Header() (audio.Header, bool) {
	return audio.ParseHeader(m.Payload)
}

func (m *Audio) IsSequenceHeader() bool {
	return audio.IsSequenceHeader(m.Payload)
}

// Video is a video message. Payload is an FLV video tag body.
type Video struct {
	Payload []byte
}

func (m *Video) Type() MessageType { return VideoMessage }

func (m *Video) Marshal(*SerializationContext) ([]byte, error) {
	return m.Payload, nil
}

func (m *Video) Header() (video.Header, bool) {
	return video.ParseHeader(m.Payload)
}

func (m *Video) IsSequenceHeader() bool {
	return video.IsSequenceHeader(m.Payload)
}

func (m *Video) IsKeyFrame() bool {
	return video.IsKeyFrame(m.Payload)
}

// The payloads handed to factories live in pooled buffers that are reused
// once decoding returns, so media bodies keep their own copy.
func clonePayload(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

func decodeAudio(_ MessageHeader, payload []byte, _ *SerializationContext) (Body, int, error) {
	return &Audio{Payload: clonePayload(payload)}, len(payload), nil
}

func decodeVideo(_ MessageHeader, payload []byte, _ *SerializationContext) (Body, int, error) {
	return &Video{Payload: clonePayload(payload)}, len(payload), nil
}

// aggregateTagHeaderLength is the FLV style header in front of each
// message inside an aggregate: type, size, timestamp, timestamp extension
// and stream id.
const (
	aggregateTagHeaderLength   = 11
	aggregateBackPointerLength = 4
)

// AggregateItem is one message inside an aggregate. Header.Timestamp is
// already rebased onto the aggregate's own timestamp.
type AggregateItem struct {
	Header  MessageHeader
	Payload []byte
}

// Aggregate bundles several audio, video or data messages into one.
type Aggregate struct {
	Items []AggregateItem
}

func (m *Aggregate) Type() MessageType { return AggregateMessage }

// Marshal writes the items with their timestamps relative to the first
// item, which is what the receiver adds the aggregate timestamp to.
func (m *Aggregate) Marshal(*SerializationContext) ([]byte, error) {
	var out []byte
	var base uint32
	for i, item := range m.Items {
		if i == 0 {
			base = item.Header.Timestamp
		}
		size := len(item.Payload)
		if size > 0xFFFFFF {
			return nil, errors.Errorf("rtmp: aggregate item of %d bytes", size)
		}
		ts := item.Header.Timestamp - base

		var hdr [aggregateTagHeaderLength]byte
		hdr[0] = byte(item.Header.Type)
		netbits.PutUint24(hdr[1:4], uint32(size))
		netbits.PutUint24(hdr[4:7], ts&0xFFFFFF)
		hdr[7] = byte(ts >> 24)
		netbits.PutUint24(hdr[8:11], item.Header.StreamID)
		out = append(out, hdr[:]...)
		out = append(out, item.Payload...)

		var back [aggregateBackPointerLength]byte
		netbits.PutUint32(back[:], uint32(aggregateTagHeaderLength+size))
		out = append(out, back[:]...)
	}
	return out, nil
}

// decodeAggregate splits an aggregate into its items. Inner timestamps are
// taken relative to the first item and added to the aggregate timestamp;
// every item belongs to the aggregate's message stream.
func decodeAggregate(h MessageHeader, payload []byte, _ *SerializationContext) (Body, int, error) {
	m := &Aggregate{}
	var first uint32
	for off := 0; off < len(payload); {
		if len(payload)-off < aggregateTagHeaderLength {
			return nil, 0, protocolViolation("aggregate: truncated item header at %d", off)
		}
		b := payload[off:]
		size := int(netbits.Uint24(b[1:4]))
		ts := netbits.Uint24(b[4:7]) | uint32(b[7])<<24
		end := aggregateTagHeaderLength + size
		if len(b) < end {
			return nil, 0, protocolViolation("aggregate: item of %d bytes at %d overruns the message", size, off)
		}
		if len(m.Items) == 0 {
			first = ts
		}

		m.Items = append(m.Items, AggregateItem{
			Header: MessageHeader{
				Timestamp: h.Timestamp + (ts - first),
				Length:    uint32(size),
				Type:      MessageType(b[0]),
				StreamID:  h.StreamID,
			},
			Payload: clonePayload(b[aggregateTagHeaderLength:end]),
		})

		// the back pointer is optional after the last item
		off += end
		if len(payload)-off >= aggregateBackPointerLength {
			off += aggregateBackPointerLength
		} else {
			off = len(payload)
		}
	}
	return m, len(payload), nil
}
