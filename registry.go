package rtmp

import (
	"sync"

	"github.com/pkg/errors"
)

// MessageFactory decodes the payload of one message. payload is only valid
// for the duration of the call. It returns the body and the number of
// bytes used.
type MessageFactory func(h MessageHeader, payload []byte, ctx *SerializationContext) (Body, int, error)

// MessageRegistry maps message types to factories. It is safe for
// concurrent use.
type MessageRegistry struct {
	mu        sync.RWMutex
	factories map[MessageType]MessageFactory
}

func NewMessageRegistry() *MessageRegistry {
	return &MessageRegistry{factories: make(map[MessageType]MessageFactory)}
}

// DefaultMessageRegistry knows every message type the server handles.
// Shared object messages are not registered.
func DefaultMessageRegistry() *MessageRegistry {
	r := NewMessageRegistry()
	r.Register(SetChunkSizeMessage, decodeSetChunkSize)
	r.Register(AbortMessage, decodeAbort)
	r.Register(AcknowledgementMessage, decodeAcknowledgement)
	r.Register(UserControlMessage, decodeUserControl)
	r.Register(WindowAcknowledgementSizeMessage, decodeWindowAcknowledgementSize)
	r.Register(SetPeerBandwidthMessage, decodeSetPeerBandwidth)
	r.Register(AudioMessage, decodeAudio)
	r.Register(VideoMessage, decodeVideo)
	r.Register(DataMessageAMF3, decodeData)
	r.Register(DataMessageAMF0, decodeData)
	r.Register(CommandMessageAMF3, decodeCommand)
	r.Register(CommandMessageAMF0, decodeCommand)
	r.Register(AggregateMessage, decodeAggregate)
	return r
}

// Register replaces any factory already set for t.
func (r *MessageRegistry) Register(t MessageType, f MessageFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = f
}

func (r *MessageRegistry) Lookup(t MessageType) (MessageFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[t]
	return f, ok
}

// Decode runs the factory for h.Type on payload. The error wraps
// ErrUnknownMessageType when no factory is registered.
func (r *MessageRegistry) Decode(h MessageHeader, payload []byte, ctx *SerializationContext) (*Message, error) {
	f, ok := r.Lookup(h.Type)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMessageType, "type %s", h.Type)
	}
	if ctx != nil {
		ctx.Reset()
	}
	body, _, err := f(h, payload, ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s message", h.Type)
	}
	return &Message{Header: h, Body: body}, nil
}
