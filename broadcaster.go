package rtmp

import (
	"go.uber.org/zap"

	"github.com/rtmpengine/rtmp/amf"
	"github.com/rtmpengine/rtmp/audio"
	"github.com/rtmpengine/rtmp/metrics"
	"github.com/rtmpengine/rtmp/video"
)

// A subscriber gets sent audio, video and data messages that flow in a
// particular stream (identified with streamKey). The Send methods must not
// block.
type Subscriber interface {
	SendAudio(payload []byte, timestamp uint32)
	SendVideo(payload []byte, timestamp uint32)
	SendMetadata(metadata amf.Value, timestamp uint32)
	GetID() string
	SendEndOfStream()
}

// Broadcaster relays a publisher's media to the subscribers of its stream
// key and remembers what late subscribers need to start decoding.
type Broadcaster struct {
	context ContextStore
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewBroadcaster(context ContextStore, logger *zap.Logger, m *metrics.Metrics) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		context: context,
		logger:  logger,
		metrics: m,
	}
}

func (b *Broadcaster) RegisterPublisher(streamKey string, publisherID string) error {
	if err := b.context.RegisterPublisher(streamKey, publisherID); err != nil {
		return err
	}
	b.metrics.StreamPublished()
	b.logger.Info("[broadcaster] publisher registered", zap.String("stream", streamKey), zap.String("session", publisherID))
	return nil
}

// DestroyPublisher tells every subscriber the stream ended and removes it.
func (b *Broadcaster) DestroyPublisher(streamKey string, publisherID string) error {
	b.BroadcastEndOfStream(streamKey)
	if err := b.context.DestroyPublisher(streamKey, publisherID); err != nil {
		return err
	}
	b.metrics.StreamUnpublished()
	b.logger.Info("[broadcaster] publisher removed", zap.String("stream", streamKey), zap.String("session", publisherID))
	return nil
}

func (b *Broadcaster) RegisterSubscriber(streamKey string, subscriber Subscriber) error {
	return b.context.RegisterSubscriber(streamKey, subscriber)
}

func (b *Broadcaster) DestroySubscriber(streamKey string, subscriberID string) error {
	return b.context.DestroySubscriber(streamKey, subscriberID)
}

func (b *Broadcaster) StreamExists(streamKey string) bool {
	return b.context.StreamExists(streamKey)
}

// BroadcastAudio caches AAC sequence headers and forwards payload.
func (b *Broadcaster) BroadcastAudio(streamKey string, payload []byte, timestamp uint32) error {
	if audio.IsSequenceHeader(payload) {
		b.context.SetAudioSequenceHeader(streamKey, payload)
	}
	subscribers, err := b.context.GetSubscribersForStream(streamKey)
	if err != nil {
		return err
	}
	for _, sub := range subscribers {
		sub.SendAudio(payload, timestamp)
	}
	return nil
}

// BroadcastVideo caches AVC and HEVC sequence headers and forwards
// payload.
func (b *Broadcaster) BroadcastVideo(streamKey string, payload []byte, timestamp uint32) error {
	if video.IsSequenceHeader(payload) {
		b.context.SetVideoSequenceHeader(streamKey, payload)
	}
	subscribers, err := b.context.GetSubscribersForStream(streamKey)
	if err != nil {
		return err
	}
	for _, sub := range subscribers {
		sub.SendVideo(payload, timestamp)
	}
	return nil
}

func (b *Broadcaster) BroadcastMetadata(streamKey string, metadata amf.Value, timestamp uint32) error {
	b.context.SetMetadata(streamKey, metadata)
	subscribers, err := b.context.GetSubscribersForStream(streamKey)
	if err != nil {
		return err
	}
	for _, sub := range subscribers {
		sub.SendMetadata(metadata, timestamp)
	}
	return nil
}

func (b *Broadcaster) BroadcastEndOfStream(streamKey string) {
	subscribers, err := b.context.GetSubscribersForStream(streamKey)
	if err != nil {
		return
	}
	for _, sub := range subscribers {
		sub.SendEndOfStream()
	}
}

// StartupMessages returns what a new subscriber needs before live frames:
// metadata and the cached sequence headers, in that order. Missing parts
// are nil.
func (b *Broadcaster) StartupMessages(streamKey string) (metadata amf.Value, videoHeader []byte, audioHeader []byte) {
	return b.context.GetMetadata(streamKey),
		b.context.GetVideoSequenceHeader(streamKey),
		b.context.GetAudioSequenceHeader(streamKey)
}
