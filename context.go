package rtmp

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/rtmpengine/rtmp/amf"
)

// ContextStore keeps the live streams: who publishes each stream key,
// who is watching it, and what a late joiner must receive first.
type ContextStore interface {
	RegisterPublisher(streamKey string, publisherID string) error
	DestroyPublisher(streamKey string, publisherID string) error
	RegisterSubscriber(streamKey string, subscriber Subscriber) error
	GetSubscribersForStream(streamKey string) ([]Subscriber, error)
	DestroySubscriber(streamKey string, subscriberID string) error
	StreamExists(streamKey string) bool
	SetVideoSequenceHeader(streamKey string, payload []byte)
	GetVideoSequenceHeader(streamKey string) []byte
	SetAudioSequenceHeader(streamKey string, payload []byte)
	GetAudioSequenceHeader(streamKey string) []byte
	SetMetadata(streamKey string, metadata amf.Value)
	GetMetadata(streamKey string) amf.Value
}

var (
	StreamNotFound      = errors.New("StreamNotFound")
	StreamAlreadyExists = errors.New("StreamAlreadyExists")
)

type liveStream struct {
	publisherID string
	subscribers []Subscriber
	videoHeader []byte
	audioHeader []byte
	metadata    amf.Value
}

type InMemoryContext struct {
	mu      sync.RWMutex
	streams map[string]*liveStream
}

func NewInMemoryContext() *InMemoryContext {
	return &InMemoryContext{
		streams: make(map[string]*liveStream),
	}
}

// RegisterPublisher claims streamKey for publisherID. A key has at most one
// publisher at a time.
func (c *InMemoryContext) RegisterPublisher(streamKey string, publisherID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.streams[streamKey]; exists {
		return StreamAlreadyExists
	}
	// Assume there will be a small amount of subscribers per stream
	c.streams[streamKey] = &liveStream{
		publisherID: publisherID,
		subscribers: make([]Subscriber, 0, 4),
	}
	return nil
}

// DestroyPublisher removes the stream if publisherID still owns it. The
// subscribers are dropped with it.
func (c *InMemoryContext) DestroyPublisher(streamKey string, publisherID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, exists := c.streams[streamKey]
	if !exists {
		return StreamNotFound
	}
	if s.publisherID != publisherID {
		return errors.Errorf("stream %q is published by another session", streamKey)
	}
	delete(c.streams, streamKey)
	return nil
}

func (c *InMemoryContext) RegisterSubscriber(streamKey string, subscriber Subscriber) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, exists := c.streams[streamKey]
	if !exists {
		return StreamNotFound
	}
	s.subscribers = append(s.subscribers, subscriber)
	return nil
}

func (c *InMemoryContext) StreamExists(streamKey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.streams[streamKey]
	return exists
}

// GetSubscribersForStream returns a copy of the subscriber list, safe to
// range over while subscribers come and go.
func (c *InMemoryContext) GetSubscribersForStream(streamKey string) ([]Subscriber, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, exists := c.streams[streamKey]
	if !exists {
		return nil, StreamNotFound
	}
	subscribers := make([]Subscriber, len(s.subscribers))
	copy(subscribers, s.subscribers)
	return subscribers, nil
}

func (c *InMemoryContext) DestroySubscriber(streamKey string, subscriberID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, exists := c.streams[streamKey]
	if !exists {
		return nil
	}
	for i, sub := range s.subscribers {
		if sub.GetID() == subscriberID {
			// Swap the subscriber we're deleting with the last element
			last := len(s.subscribers) - 1
			s.subscribers[i] = s.subscribers[last]
			s.subscribers[last] = nil
			s.subscribers = s.subscribers[:last]
			return nil
		}
	}
	return nil
}

func (c *InMemoryContext) update(streamKey string, f func(s *liveStream)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, exists := c.streams[streamKey]; exists {
		f(s)
	}
}

func (c *InMemoryContext) read(streamKey string, f func(s *liveStream)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, exists := c.streams[streamKey]; exists {
		f(s)
	}
}

func (c *InMemoryContext) SetVideoSequenceHeader(streamKey string, payload []byte) {
	c.update(streamKey, func(s *liveStream) { s.videoHeader = payload })
}

func (c *InMemoryContext) GetVideoSequenceHeader(streamKey string) (payload []byte) {
	c.read(streamKey, func(s *liveStream) { payload = s.videoHeader })
	return payload
}

func (c *InMemoryContext) SetAudioSequenceHeader(streamKey string, payload []byte) {
	c.update(streamKey, func(s *liveStream) { s.audioHeader = payload })
}

func (c *InMemoryContext) GetAudioSequenceHeader(streamKey string) (payload []byte) {
	c.read(streamKey, func(s *liveStream) { payload = s.audioHeader })
	return payload
}

func (c *InMemoryContext) SetMetadata(streamKey string, metadata amf.Value) {
	c.update(streamKey, func(s *liveStream) { s.metadata = metadata })
}

func (c *InMemoryContext) GetMetadata(streamKey string) (metadata amf.Value) {
	c.read(streamKey, func(s *liveStream) { metadata = s.metadata })
	return metadata
}
