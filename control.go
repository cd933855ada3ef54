package rtmp

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/rtmpengine/rtmp/internal/netbits"
)

// Control messages travel on message stream 0 and chunk stream 2.

type SetChunkSize struct {
	Size uint32
}

func (m *SetChunkSize) Type() MessageType { return SetChunkSizeMessage }

func (m *SetChunkSize) Marshal(*SerializationContext) ([]byte, error) {
	b := make([]byte, 4)
	netbits.PutUint32(b, m.Size&MaxChunkSize)
	return b, nil
}

// Abort tells the peer to drop the partly sent message on a chunk stream.
type Abort struct {
	ChunkStreamID uint32
}

func (m *Abort) Type() MessageType { return AbortMessage }

func (m *Abort) Marshal(*SerializationContext) ([]byte, error) {
	b := make([]byte, 4)
	netbits.PutUint32(b, m.ChunkStreamID)
	return b, nil
}

// Acknowledgement carries the total number of bytes received so far.
type Acknowledgement struct {
	SequenceNumber uint32
}

func (m *Acknowledgement) Type() MessageType { return AcknowledgementMessage }

func (m *Acknowledgement) Marshal(*SerializationContext) ([]byte, error) {
	b := make([]byte, 4)
	netbits.PutUint32(b, m.SequenceNumber)
	return b, nil
}

type WindowAcknowledgementSize struct {
	Size uint32
}

func (m *WindowAcknowledgementSize) Type() MessageType { return WindowAcknowledgementSizeMessage }

func (m *WindowAcknowledgementSize) Marshal(*SerializationContext) ([]byte, error) {
	b := make([]byte, 4)
	netbits.PutUint32(b, m.Size)
	return b, nil
}

type LimitType uint8

const (
	LimitHard LimitType = iota
	LimitSoft
	LimitDynamic
)

func (l LimitType) String() string {
	switch l {
	case LimitHard:
		return "hard"
	case LimitSoft:
		return "soft"
	case LimitDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// ParseLimitType accepts the names returned by LimitType.String.
func ParseLimitType(s string) (LimitType, error) {
	switch s {
	case "hard":
		return LimitHard, nil
	case "soft":
		return LimitSoft, nil
	case "dynamic":
		return LimitDynamic, nil
	}
	return 0, errors.Errorf("unknown limit type %q", s)
}

type SetPeerBandwidth struct {
	Size  uint32
	Limit LimitType
}

func (m *SetPeerBandwidth) Type() MessageType { return SetPeerBandwidthMessage }

func (m *SetPeerBandwidth) Marshal(*SerializationContext) ([]byte, error) {
	b := make([]byte, 5)
	netbits.PutUint32(b, m.Size)
	b[4] = byte(m.Limit)
	return b, nil
}

type UserControlEvent uint16

const (
	EventStreamBegin UserControlEvent = iota
	EventStreamEOF
	EventStreamDry
	EventSetBufferLength
	EventStreamIsRecorded
	_
	EventPingRequest
	EventPingResponse
)

func (e UserControlEvent) String() string {
	switch e {
	case EventStreamBegin:
		return "StreamBegin"
	case EventStreamEOF:
		return "StreamEOF"
	case EventStreamDry:
		return "StreamDry"
	case EventSetBufferLength:
		return "SetBufferLength"
	case EventStreamIsRecorded:
		return "StreamIsRecorded"
	case EventPingRequest:
		return "PingRequest"
	case EventPingResponse:
		return "PingResponse"
	default:
		return fmt.Sprintf("UserControlEvent(%d)", uint16(e))
	}
}

// UserControl is a user control message. StreamID is set for the stream
// events and SetBufferLength, BufferLength (milliseconds) for
// SetBufferLength only, Timestamp for the ping events.
type UserControl struct {
	Event        UserControlEvent
	StreamID     uint32
	BufferLength uint32
	Timestamp    uint32
}

func (m *UserControl) Type() MessageType { return UserControlMessage }

func (m *UserControl) Marshal(*SerializationContext) ([]byte, error) {
	switch m.Event {
	case EventStreamBegin, EventStreamEOF, EventStreamDry, EventStreamIsRecorded:
		b := make([]byte, 6)
		netbits.PutUint16(b, uint16(m.Event))
		netbits.PutUint32(b[2:], m.StreamID)
		return b, nil
	case EventSetBufferLength:
		b := make([]byte, 10)
		netbits.PutUint16(b, uint16(m.Event))
		netbits.PutUint32(b[2:], m.StreamID)
		netbits.PutUint32(b[6:], m.BufferLength)
		return b, nil
	case EventPingRequest, EventPingResponse:
		b := make([]byte, 6)
		netbits.PutUint16(b, uint16(m.Event))
		netbits.PutUint32(b[2:], m.Timestamp)
		return b, nil
	}
	return nil, errors.Errorf("rtmp: cannot marshal user control event %s", m.Event)
}

func needPayload(t MessageType, payload []byte, n int) error {
	if len(payload) < n {
		return protocolViolation("%s message needs %d bytes, got %d", t, n, len(payload))
	}
	return nil
}

func decodeSetChunkSize(_ MessageHeader, payload []byte, _ *SerializationContext) (Body, int, error) {
	if err := needPayload(SetChunkSizeMessage, payload, 4); err != nil {
		return nil, 0, err
	}
	size := netbits.Uint32(payload) & MaxChunkSize
	if size == 0 {
		return nil, 0, protocolViolation("chunk size 0")
	}
	return &SetChunkSize{Size: size}, 4, nil
}

func decodeAbort(_ MessageHeader, payload []byte, _ *SerializationContext) (Body, int, error) {
	if err := needPayload(AbortMessage, payload, 4); err != nil {
		return nil, 0, err
	}
	return &Abort{ChunkStreamID: netbits.Uint32(payload)}, 4, nil
}

func decodeAcknowledgement(_ MessageHeader, payload []byte, _ *SerializationContext) (Body, int, error) {
	if err := needPayload(AcknowledgementMessage, payload, 4); err != nil {
		return nil, 0, err
	}
	return &Acknowledgement{SequenceNumber: netbits.Uint32(payload)}, 4, nil
}

func decodeWindowAcknowledgementSize(_ MessageHeader, payload []byte, _ *SerializationContext) (Body, int, error) {
	if err := needPayload(WindowAcknowledgementSizeMessage, payload, 4); err != nil {
		return nil, 0, err
	}
	return &WindowAcknowledgementSize{Size: netbits.Uint32(payload)}, 4, nil
}

func decodeSetPeerBandwidth(_ MessageHeader, payload []byte, _ *SerializationContext) (Body, int, error) {
	if err := needPayload(SetPeerBandwidthMessage, payload, 5); err != nil {
		return nil, 0, err
	}
	limit := LimitType(payload[4])
	if limit > LimitDynamic {
		return nil, 0, protocolViolation("unknown bandwidth limit type %d", payload[4])
	}
	return &SetPeerBandwidth{Size: netbits.Uint32(payload), Limit: limit}, 5, nil
}

func decodeUserControl(_ MessageHeader, payload []byte, _ *SerializationContext) (Body, int, error) {
	if err := needPayload(UserControlMessage, payload, 6); err != nil {
		return nil, 0, err
	}
	m := &UserControl{Event: UserControlEvent(netbits.Uint16(payload))}
	switch m.Event {
	case EventStreamBegin, EventStreamEOF, EventStreamDry, EventStreamIsRecorded:
		m.StreamID = netbits.Uint32(payload[2:])
		return m, 6, nil
	case EventSetBufferLength:
		if err := needPayload(UserControlMessage, payload, 10); err != nil {
			return nil, 0, err
		}
		m.StreamID = netbits.Uint32(payload[2:])
		m.BufferLength = netbits.Uint32(payload[6:])
		return m, 10, nil
	case EventPingRequest, EventPingResponse:
		m.Timestamp = netbits.Uint32(payload[2:])
		return m, 6, nil
	}
	return nil, 0, errors.Wrapf(ErrUnknownMessageType, "user control event %d", uint16(m.Event))
}
