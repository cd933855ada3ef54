package rtmp

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rtmpengine/rtmp/amf"
	"github.com/rtmpengine/rtmp/amf/amf0"
	"github.com/rtmpengine/rtmp/flv"
	"github.com/rtmpengine/rtmp/metrics"
)

// filePlayerCommand is a seek or pause request from the client, applied by
// the file player's goroutine between tags.
type filePlayerCommand struct {
	seek     bool
	pause    bool
	position uint32
}

// filePlayer plays a recorded FLV file on a stream, pacing tags by their
// timestamps. Seek and pause are applied in order with the media, so the
// status a client receives always precedes the frames it refers to.
type filePlayer struct {
	key      string
	conn     *Conn
	streamID uint32
	reader   *flv.Reader
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	pending  []filePlayerCommand
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newFilePlayer(c *Conn, streamID uint32, key string, r *flv.Reader, m *metrics.Metrics) *filePlayer {
	return &filePlayer{
		key:      key,
		conn:     c,
		streamID: streamID,
		reader:   r,
		logger:   c.Logger().With(zap.Uint32("stream", streamID), zap.String("file", r.Path())),
		metrics:  m,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *filePlayer) message(ts uint32, body Body) *Message {
	return &Message{Header: MessageHeader{Timestamp: ts, StreamID: p.streamID}, Body: body}
}

func (p *filePlayer) status(code, description string) queuedMessage {
	return queuedMessage{CommandChunkStreamID, p.message(0, newStatus(StatusInfo("status", code, description)))}
}

// Seek restarts playback from the last key frame at or before position,
// in milliseconds.
func (p *filePlayer) Seek(position uint32) {
	p.post(filePlayerCommand{seek: true, position: position})
}

// Pause holds playback or, when pause is false, resumes it from position.
func (p *filePlayer) Pause(pause bool, position uint32) {
	p.post(filePlayerCommand{pause: pause, position: position})
}

func (p *filePlayer) post(cmd filePlayerCommand) {
	p.mu.Lock()
	p.pending = append(p.pending, cmd)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *filePlayer) take() []filePlayerCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmds := p.pending
	p.pending = nil
	return cmds
}

// playback is the state of the file player's goroutine.
type playback struct {
	tag      flv.Tag
	hasTag   bool
	paused   bool
	ended    bool
	anchored bool
	wall     time.Time
	base     uint32
}

// due returns how long to wait before tag should be written, anchoring
// the clock on the first tag after a start, seek or resume.
func (s *playback) due(tag flv.Tag) time.Duration {
	if !s.anchored {
		s.anchored = true
		s.wall = time.Now()
		s.base = tag.Timestamp
	}
	offset := time.Duration(int64(tag.Timestamp)-int64(s.base)) * time.Millisecond
	return time.Until(s.wall.Add(offset))
}

// start writes initial and then the file's tags until the player is
// stopped or its connection closes. The end of the file is reported to the
// client, after which a seek starts playback again.
func (p *filePlayer) start(initial []queuedMessage) {
	p.metrics.SubscriberAdded()
	go func() {
		defer close(p.done)
		defer p.metrics.SubscriberRemoved()
		defer p.reader.Close()

		for _, q := range initial {
			if !p.write(q) {
				return
			}
		}

		var s playback
		for {
			for _, cmd := range p.take() {
				if !p.apply(&s, cmd) {
					return
				}
			}

			if !s.hasTag && !s.paused && !s.ended {
				tag, err := p.reader.ReadTag()
				if err != nil {
					if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
						p.logger.Warn("[player] reading recording", zap.Error(err))
					}
					s.ended = true
					if !p.finish() {
						return
					}
					continue
				}
				s.tag, s.hasTag = tag, true
			}

			var timer *time.Timer
			var fire <-chan time.Time
			if s.hasTag && !s.paused {
				d := s.due(s.tag)
				if d <= 0 {
					s.hasTag = false
					if !p.writeTag(s.tag) {
						return
					}
					continue
				}
				timer = time.NewTimer(d)
				fire = timer.C
			}

			select {
			case <-fire:
				s.hasTag = false
				if !p.writeTag(s.tag) {
					return
				}
			case <-p.wake:
			case <-p.stop:
				return
			case <-p.conn.Done():
				return
			}
			if timer != nil {
				timer.Stop()
			}
		}
	}()
}

func (p *filePlayer) apply(s *playback, cmd filePlayerCommand) bool {
	switch {
	case cmd.seek:
		if !p.write(p.status("NetStream.Seek.Notify", "Seeking "+p.key+".")) {
			return false
		}
		return p.seek(s, cmd.position)
	case cmd.pause:
		if s.paused {
			return true
		}
		s.paused = true
		return p.write(p.status("NetStream.Pause.Notify", "Pausing "+p.key+"."))
	default:
		if !s.paused {
			return true
		}
		s.paused = false
		if !p.write(p.status("NetStream.Unpause.Notify", "Unpausing "+p.key+".")) {
			return false
		}
		return p.seek(s, cmd.position)
	}
}

// seek moves the reader and sends the configuration tags the key frame it
// lands on depends on.
func (p *filePlayer) seek(s *playback, position uint32) bool {
	headers, err := p.reader.SeekKeyFrame(position)
	if err != nil {
		p.logger.Warn("[player] seeking recording", zap.Uint32("position", position), zap.Error(err))
		return false
	}
	s.hasTag, s.ended, s.anchored = false, false, false
	for _, tag := range headers {
		if !p.writeTag(tag) {
			return false
		}
	}
	return true
}

func (p *filePlayer) writeTag(tag flv.Tag) bool {
	switch {
	case tag.IsAudio():
		return p.write(queuedMessage{AudioChunkStreamID, p.message(tag.Timestamp, &Audio{Payload: tag.Payload})})
	case tag.IsVideo():
		return p.write(queuedMessage{VideoChunkStreamID, p.message(tag.Timestamp, &Video{Payload: tag.Payload})})
	}

	values, err := amf0.NewDecoder(nil).DecodeAll(tag.Payload)
	if err != nil || len(values) == 0 {
		p.logger.Debug("[player] skipping script tag", zap.Error(err))
		return true
	}
	handler, ok := amf.AsString(values[0])
	if !ok {
		return true
	}
	return p.write(queuedMessage{DataChunkStreamID, p.message(tag.Timestamp, &DataMessage{Handler: handler, Values: values[1:]})})
}

// finish tells the client the recording is over.
func (p *filePlayer) finish() bool {
	if !p.write(queuedMessage{ControlChunkStreamID, p.message(0, &UserControl{Event: EventStreamEOF, StreamID: p.streamID})}) {
		return false
	}
	return p.write(p.status("NetStream.Play.Stop", "Stopped playing "+p.key+"."))
}

func (p *filePlayer) write(q queuedMessage) bool {
	if err := p.conn.WriteMessage(p.conn.Context(), q.csid, q.msg); err != nil {
		p.logger.Debug("[player] write failed", zap.Error(err))
		return false
	}
	return true
}

// Stop makes the player's goroutine return and close the file.
func (p *filePlayer) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *filePlayer) Done() <-chan struct{} {
	return p.done
}
