package rtmp

import (
	"context"
	"sync"

	"github.com/rtmpengine/rtmp/internal/bufpool"
)

// maxChunkHeaderLength covers the largest basic header, a type 0 message
// header and an extended timestamp.
const maxChunkHeaderLength = 3 + chunkType0MessageHeaderLength + extendedTimestampLength

// enqueueFunc hands a frame to the socket writer and takes ownership of it.
// The returned channel yields the result of writing the frame.
type enqueueFunc func(ctx context.Context, frame *bufpool.Handle) (<-chan error, error)

// chunkWriter splits messages into chunks. The wire lock is held for the
// whole of one chunk, so chunks of different messages never interleave
// inside a chunk, and a per chunk stream lock keeps one message at a time
// on each chunk stream.
type chunkWriter struct {
	wire      sync.Mutex
	chunkSize uint32
	prev      map[uint32]*MessageHeader

	streamsMu sync.Mutex
	streams   map[uint32]*sync.Mutex

	window  *ackWindow
	pool    *bufpool.Pool
	enqueue enqueueFunc
	// closed, when set, ends waits for a frame that will never be written
	closed <-chan struct{}
}

func newChunkWriter(pool *bufpool.Pool, window *ackWindow, chunkSize uint32, enqueue enqueueFunc) *chunkWriter {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	return &chunkWriter{
		chunkSize: chunkSize,
		prev:      make(map[uint32]*MessageHeader),
		streams:   make(map[uint32]*sync.Mutex),
		window:    window,
		pool:      pool,
		enqueue:   enqueue,
	}
}

func (w *chunkWriter) streamLock(csid uint32) *sync.Mutex {
	w.streamsMu.Lock()
	defer w.streamsMu.Unlock()
	mu, ok := w.streams[csid]
	if !ok {
		mu = &sync.Mutex{}
		w.streams[csid] = mu
	}
	return mu
}

// setChunkSize must be called with the wire lock held.
func (w *chunkWriter) setChunkSize(size uint32) {
	w.chunkSize = size
}

// writeMessage sends payload on csid and returns once its last chunk has
// been written to the socket. afterLast, if set, runs with the wire lock
// held right after the last chunk is queued, before any other chunk can
// be.
func (w *chunkWriter) writeMessage(ctx context.Context, csid uint32, h MessageHeader, payload []byte, afterLast func()) error {
	if !validChunkStreamID(csid) {
		return protocolViolation("chunk stream id %d out of range", csid)
	}
	h.Length = uint32(len(payload))

	mu := w.streamLock(csid)
	mu.Lock()
	defer mu.Unlock()

	var (
		done  <-chan error
		field uint32
		off   int
	)
	for first := true; first || off < len(payload); first = false {
		var (
			err     error
			partial bool
		)
		done, field, off, partial, err = w.writeChunk(ctx, csid, h, payload, off, field, first, afterLast)
		if err != nil {
			if partial || !first {
				return &brokenStreamError{err: err}
			}
			return err
		}
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.closed:
		return ErrConnClosed
	}
}

func (w *chunkWriter) writeChunk(ctx context.Context, csid uint32, h MessageHeader, payload []byte, off int, field uint32, first bool, afterLast func()) (<-chan error, uint32, int, bool, error) {
	w.wire.Lock()
	defer w.wire.Unlock()

	prev := w.prev[csid]
	typ := selectChunkType(h, prev, first)
	if first {
		field = timestampField(typ, h, prev)
	}

	size := len(payload) - off
	if size > int(w.chunkSize) {
		size = int(w.chunkSize)
	}

	var hdr [maxChunkHeaderLength]byte
	b := appendBasicHeader(hdr[:0], typ, csid)
	b = appendMessageHeader(b, typ, h, field)

	frame := w.pool.Get(len(b) + size)
	n := copy(frame.Bytes(), b)
	copy(frame.Bytes()[n:], payload[off:off+size])

	sent := h
	w.prev[csid] = &sent
	off += size

	done, partial, err := w.send(ctx, frame)
	if err != nil {
		return nil, field, off, partial, err
	}
	if off == len(payload) && afterLast != nil {
		afterLast()
	}
	return done, field, off, false, nil
}

// send queues frame in pieces the acknowledgement window allows. The
// returned channel reports the write of the last piece. partial is set when
// an error left some of the frame queued.
func (w *chunkWriter) send(ctx context.Context, frame *bufpool.Handle) (done <-chan error, partial bool, err error) {
	data := frame.Bytes()
	n, err := w.window.reserve(ctx, len(data))
	if err != nil {
		frame.Release()
		return nil, false, err
	}
	if n == len(data) {
		done, err = w.enqueue(ctx, frame)
		return done, false, err
	}
	defer frame.Release()

	for off := 0; off < len(data); off += n {
		if off > 0 {
			if n, err = w.window.reserve(ctx, len(data)-off); err != nil {
				return nil, true, err
			}
		}
		piece := w.pool.Get(n)
		copy(piece.Bytes(), data[off:off+n])
		if done, err = w.enqueue(ctx, piece); err != nil {
			return nil, off > 0, err
		}
	}
	return done, false, nil
}

// brokenStreamError is returned when a write failed after part of a message
// was queued. The peer can no longer parse the chunk stream.
type brokenStreamError struct {
	err error
}

func (e *brokenStreamError) Error() string {
	return "rtmp: message partly written: " + e.err.Error()
}

func (e *brokenStreamError) Cause() error  { return e.err }
func (e *brokenStreamError) Unwrap() error { return e.err }
