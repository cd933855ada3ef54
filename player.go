package rtmp

import (
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/rtmpengine/rtmp/amf"
	"github.com/rtmpengine/rtmp/metrics"
	"github.com/rtmpengine/rtmp/video"
)

type queuedMessage struct {
	csid uint32
	msg  *Message
}

// player is the Subscriber behind a play command. Media is queued without
// blocking the publisher and written by the player's own goroutine; when
// the queue is full frames are dropped until the next key frame.
type player struct {
	id       string
	conn     *Conn
	streamID uint32
	logger   *zap.Logger
	metrics  *metrics.Metrics

	queue    chan queuedMessage
	eof      chan struct{}
	eofOnce  sync.Once
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// only touched by the publisher's goroutine
	waitKeyFrame bool
}

func newPlayer(c *Conn, streamID uint32, queueSize int, m *metrics.Metrics) *player {
	if queueSize <= 0 {
		queueSize = 256
	}
	id := c.ID() + "/" + strconv.FormatUint(uint64(streamID), 10)
	return &player{
		id:       id,
		conn:     c,
		streamID: streamID,
		logger:   c.Logger().With(zap.Uint32("stream", streamID)),
		metrics:  m,
		queue:    make(chan queuedMessage, queueSize),
		eof:      make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *player) GetID() string { return p.id }

func (p *player) message(ts uint32, body Body) *Message {
	return &Message{Header: MessageHeader{Timestamp: ts, StreamID: p.streamID}, Body: body}
}

func (p *player) push(csid uint32, m *Message) bool {
	select {
	case p.queue <- queuedMessage{csid: csid, msg: m}:
		return true
	case <-p.stop:
		return false
	default:
		p.metrics.Dropped()
		return false
	}
}

func (p *player) SendAudio(payload []byte, timestamp uint32) {
	p.push(AudioChunkStreamID, p.message(timestamp, &Audio{Payload: payload}))
}

func (p *player) SendVideo(payload []byte, timestamp uint32) {
	if p.waitKeyFrame && !video.IsKeyFrame(payload) && !video.IsSequenceHeader(payload) {
		p.metrics.Dropped()
		return
	}
	p.waitKeyFrame = !p.push(VideoChunkStreamID, p.message(timestamp, &Video{Payload: payload}))
}

func (p *player) SendMetadata(metadata amf.Value, timestamp uint32) {
	p.push(DataChunkStreamID, p.message(timestamp, &DataMessage{Handler: DataOnMetaData, Values: []amf.Value{metadata}}))
}

func (p *player) SendEndOfStream() {
	p.eofOnce.Do(func() { close(p.eof) })
}

// start writes initial and then the queued media until the stream ends,
// the player is stopped or its connection closes.
func (p *player) start(initial []queuedMessage) {
	p.metrics.SubscriberAdded()
	go func() {
		defer close(p.done)
		defer p.metrics.SubscriberRemoved()
		for _, q := range initial {
			if !p.write(q) {
				return
			}
		}
		for {
			select {
			case q := <-p.queue:
				if !p.write(q) {
					return
				}
			case <-p.eof:
				p.finish()
				return
			case <-p.stop:
				return
			case <-p.conn.Done():
				return
			}
		}
	}()
}

// finish flushes what is queued and tells the client the stream is over.
func (p *player) finish() {
	for len(p.queue) > 0 {
		if !p.write(<-p.queue) {
			return
		}
	}
	if !p.write(queuedMessage{ControlChunkStreamID, p.message(0, &UserControl{Event: EventStreamEOF, StreamID: p.streamID})}) {
		return
	}
	p.write(queuedMessage{CommandChunkStreamID, p.message(0, newStatus(StatusInfo("status", "NetStream.Play.Stop", "Stopped playing stream.")))})
}

func (p *player) write(q queuedMessage) bool {
	if err := p.conn.WriteMessage(p.conn.Context(), q.csid, q.msg); err != nil {
		p.logger.Debug("[player] write failed", zap.Error(err))
		return false
	}
	return true
}

// Stop makes the player's goroutine return after the message it is
// writing, if any. It does not wait: that write may need an
// acknowledgement the caller is responsible for reading.
func (p *player) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Done is closed when the player's goroutine has returned.
func (p *player) Done() <-chan struct{} {
	return p.done
}
