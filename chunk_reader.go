package rtmp

import (
	"github.com/pkg/errors"

	"github.com/rtmpengine/rtmp/internal/bufpool"
	"github.com/rtmpengine/rtmp/internal/netbits"
)

type readState uint8

const (
	stateBasicHeader readState = iota
	stateMessageHeader
	stateExtendedTimestamp
	stateBody
)

// rawMessage is a reassembled message whose payload still lives in a pooled
// buffer. Whoever receives it owns the payload and must release it.
type rawMessage struct {
	Header  MessageHeader
	payload *bufpool.Handle
}

func (m *rawMessage) Payload() []byte {
	return m.payload.Bytes()
}

func (m *rawMessage) release() {
	m.payload.Release()
}

// readChunkStream is the receive state of one chunk stream id: the last
// header seen on it and the message being reassembled, if any.
type readChunkStream struct {
	header    MessageHeader
	hasHeader bool
	// the last type 0, 1 or 2 header carried an extended timestamp
	extended bool

	body     *bufpool.Handle
	received uint32
}

// chunkReader turns the chunk stream back into messages. It is fed whatever
// bytes are available and keeps its place between calls.
type chunkReader struct {
	chunkSize uint32
	pool      *bufpool.Pool
	streams   map[uint32]*readChunkStream
	state     readState

	// the chunk currently being parsed
	typ     ChunkType
	csid    uint32
	stream  *readChunkStream
	pending MessageHeader
	field   uint32
	// the 24-bit timestamp field held the extended timestamp marker
	extended bool
}

func newChunkReader(pool *bufpool.Pool, chunkSize uint32) *chunkReader {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	return &chunkReader{
		chunkSize: chunkSize,
		pool:      pool,
		streams:   make(map[uint32]*readChunkStream),
	}
}

// process consumes as much of b as forms complete protocol units and
// passes every completed message to emit, which takes ownership of it. It
// returns the number of bytes consumed; the rest must be offered again
// together with more data.
func (r *chunkReader) process(b []byte, emit func(*rawMessage) error) (int, error) {
	consumed := 0
	for {
		n, more, err := r.step(b[consumed:], emit)
		consumed += n
		if err != nil || !more {
			return consumed, err
		}
	}
}

// step runs the current state once. more is false when the state needs
// bytes that are not available yet; nothing is consumed in that case.
func (r *chunkReader) step(b []byte, emit func(*rawMessage) error) (n int, more bool, err error) {
	switch r.state {
	case stateBasicHeader:
		return r.readBasicHeader(b)
	case stateMessageHeader:
		return r.readMessageHeader(b, emit)
	case stateExtendedTimestamp:
		return r.readExtendedTimestamp(b, emit)
	default:
		return r.readBody(b, emit)
	}
}

func (r *chunkReader) readBasicHeader(b []byte) (int, bool, error) {
	typ, csid, n, ok := parseBasicHeader(b)
	if !ok {
		return 0, false, nil
	}

	s := r.streams[csid]
	if typ != ChunkType0 && (s == nil || !s.hasHeader) {
		return 0, false, errors.Wrapf(ErrMissingPreviousHeader, "chunk stream %d, type %d", csid, typ)
	}
	if s == nil {
		s = &readChunkStream{}
		r.streams[csid] = s
	}

	r.typ = typ
	r.csid = csid
	r.stream = s
	r.state = stateMessageHeader
	return n, true, nil
}

func (r *chunkReader) readMessageHeader(b []byte, emit func(*rawMessage) error) (int, bool, error) {
	need := messageHeaderLengths[r.typ]
	if len(b) < need {
		return 0, false, nil
	}

	s := r.stream
	if r.typ != ChunkType3 && s.body != nil {
		return 0, false, protocolViolation("chunk stream %d: new message header with %d of %d bytes still pending",
			r.csid, s.received, s.header.Length)
	}

	h := s.header
	extended := s.extended
	if r.typ != ChunkType3 {
		r.field = netbits.Uint24(b[0:3])
		extended = r.field == extendedTimestampMarker
		switch r.typ {
		case ChunkType0:
			h.Length = netbits.Uint24(b[3:6])
			h.Type = MessageType(b[6])
			h.StreamID = netbits.Uint32LE(b[7:11])
		case ChunkType1:
			h.Length = netbits.Uint24(b[3:6])
			h.Type = MessageType(b[6])
		}
	}
	r.pending = h
	r.extended = extended

	if extended {
		r.state = stateExtendedTimestamp
		return need, true, nil
	}
	if err := r.headerDone(emit); err != nil {
		return need, false, err
	}
	return need, true, nil
}

func (r *chunkReader) readExtendedTimestamp(b []byte, emit func(*rawMessage) error) (int, bool, error) {
	if len(b) < extendedTimestampLength {
		return 0, false, nil
	}
	// a type 3 chunk repeats the extended field of the header it inherits
	if r.typ != ChunkType3 {
		r.field = netbits.Uint32(b)
	}
	if err := r.headerDone(emit); err != nil {
		return extendedTimestampLength, false, err
	}
	return extendedTimestampLength, true, nil
}

// headerDone resolves the timestamp, records the header for the chunk
// stream and prepares the body.
func (r *chunkReader) headerDone(emit func(*rawMessage) error) error {
	s := r.stream
	h := r.pending
	switch r.typ {
	case ChunkType0:
		h.Timestamp = r.field
	case ChunkType1, ChunkType2:
		h.Timestamp = s.header.Timestamp + r.field
	}
	if r.typ != ChunkType3 {
		s.extended = r.extended
	}
	s.header = h
	s.hasHeader = true
	r.state = stateBody

	if s.body != nil {
		return nil
	}
	if h.Length == 0 {
		r.state = stateBasicHeader
		return emit(&rawMessage{Header: h, payload: r.pool.Get(0)})
	}
	s.body = r.pool.Get(int(h.Length))
	s.received = 0
	return nil
}

func (r *chunkReader) readBody(b []byte, emit func(*rawMessage) error) (int, bool, error) {
	s := r.stream
	n := s.header.Length - s.received
	if n > r.chunkSize {
		n = r.chunkSize
	}
	if uint32(len(b)) < n {
		return 0, false, nil
	}

	copy(s.body.Bytes()[s.received:], b[:n])
	s.received += n
	r.state = stateBasicHeader
	r.stream = nil

	if s.received < s.header.Length {
		return int(n), true, nil
	}
	m := &rawMessage{Header: s.header, payload: s.body}
	s.body = nil
	s.received = 0
	if err := emit(m); err != nil {
		return int(n), false, err
	}
	return int(n), true, nil
}

func (r *chunkReader) setChunkSize(size uint32) {
	r.chunkSize = size
}

// abort drops the partly received message on csid.
func (r *chunkReader) abort(csid uint32) {
	s := r.streams[csid]
	if s == nil || s.body == nil {
		return
	}
	s.body.Release()
	s.body = nil
	s.received = 0
}

// close releases every partly received message.
func (r *chunkReader) close() {
	for csid := range r.streams {
		r.abort(csid)
	}
}
