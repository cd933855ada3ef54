package rtmp

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/rtmpengine/rtmp/amf/amf3"
	"github.com/rtmpengine/rtmp/internal/bufpool"
	"github.com/rtmpengine/rtmp/metrics"
	"github.com/rtmpengine/rtmp/rand"
)

const (
	readBufferSize        = 4096
	writeBufferSize       = 4096
	readQueueSize         = 8
	maxUnflushedFrames    = 32
	DefaultWriteQueueSize = 64
)

// ConnConfig configures one connection. Zero values select the defaults.
type ConnConfig struct {
	ReadChunkSize  uint32
	WriteChunkSize uint32
	// ReadWindowSize is how many bytes may arrive before an
	// acknowledgement is sent; 0 sends none until the peer asks.
	ReadWindowSize uint32
	// WriteWindowSize is how many bytes may be sent without an
	// acknowledgement; 0 disables backpressure until the peer sets one.
	WriteWindowSize uint32
	WriteQueueSize  int

	Registry   *MessageRegistry
	Classes    *amf3.Registry
	Dispatcher Dispatcher
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Pool       *bufpool.Pool
}

// Dispatcher receives every decoded message that is not handled by the
// connection itself. It runs on the connection's read path and must not
// block for long; replies should go through Conn.Send.
type Dispatcher interface {
	HandleMessage(c *Conn, streamID uint32, m *Message) error
}

// ConnObserver is implemented by dispatchers that keep per-connection
// state.
type ConnObserver interface {
	OnConnOpen(c *Conn)
	OnConnClose(c *Conn)
}

type writeRequest struct {
	frame *bufpool.Handle
	done  chan error
}

type readBuffer struct {
	buf *bufpool.Handle
	n   int
}

type outboxItem struct {
	csid uint32
	msg  *Message
}

// Conn is one RTMP connection. A reader goroutine feeds pooled buffers to
// a consumer that runs the handshake and the chunk reader, a writer
// goroutine owns the socket's write side, and an outbox goroutine sends
// replies in order without holding up the consumer.
type Conn struct {
	id      string
	netConn net.Conn
	cfg     ConnConfig
	logger  *zap.Logger
	pool    *bufpool.Pool

	ctx    context.Context
	cancel context.CancelFunc

	readCh  chan readBuffer
	writeCh chan writeRequest
	// set by readLoop before it hands over its first buffer
	in *Reader

	outboxMu     sync.Mutex
	outbox       []outboxItem
	outboxSignal chan struct{}

	// consumer state
	handshake *handshake
	reader    *chunkReader
	pending   []byte
	lastAck   uint64
	serial    *SerializationContext
	peerLimit *LimitType

	writer     *chunkWriter
	window     *ackWindow
	readWindow atomic.Uint32

	sendMu    sync.RWMutex
	sendShut  bool
	closed    chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	wg        sync.WaitGroup
	finished  chan struct{}
}

func NewConn(netConn net.Conn, cfg ConnConfig) *Conn {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultMessageRegistry()
	}
	if cfg.Pool == nil {
		cfg.Pool = bufpool.New()
	}
	if cfg.WriteQueueSize <= 0 {
		cfg.WriteQueueSize = DefaultWriteQueueSize
	}

	id := rand.SessionID()
	c := &Conn{
		id:      id,
		netConn: netConn,
		cfg:     cfg,
		pool:    cfg.Pool,
		logger: cfg.Logger.With(
			zap.String("session", id),
			zap.String("remote", remoteAddr(netConn)),
		),
		readCh:       make(chan readBuffer, readQueueSize),
		writeCh:      make(chan writeRequest, cfg.WriteQueueSize),
		outboxSignal: make(chan struct{}, 1),
		handshake:    newHandshake(nil),
		reader:       newChunkReader(cfg.Pool, cfg.ReadChunkSize),
		serial:       NewSerializationContext(cfg.Classes),
		window:       newAckWindow(cfg.WriteWindowSize),
		closed:       make(chan struct{}),
		finished:     make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.writer = newChunkWriter(cfg.Pool, c.window, cfg.WriteChunkSize, c.enqueue)
	c.writer.closed = c.closed
	c.readWindow.Store(cfg.ReadWindowSize)
	return c
}

func remoteAddr(c net.Conn) string {
	if c == nil || c.RemoteAddr() == nil {
		return ""
	}
	return c.RemoteAddr().String()
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) RemoteAddr() net.Addr { return c.netConn.RemoteAddr() }

func (c *Conn) Logger() *zap.Logger { return c.logger }

// Context is cancelled when the connection shuts down.
func (c *Conn) Context() context.Context { return c.ctx }

// Done is closed once the connection has shut down.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Err returns the error that closed the connection, or nil.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Serve runs the connection until the peer disconnects, a fatal error
// occurs, ctx is cancelled or Close is called. A clean disconnect returns
// nil.
func (c *Conn) Serve(ctx context.Context) error {
	c.cfg.Metrics.ConnectionOpened()
	defer c.cfg.Metrics.ConnectionClosed()
	if o, ok := c.cfg.Dispatcher.(ConnObserver); ok {
		o.OnConnOpen(c)
	}

	c.wg.Add(4)
	go c.readLoop()
	go c.consumeLoop()
	go c.writeLoop()
	go c.outboxLoop()
	go func() {
		c.wg.Wait()
		c.cleanup()
		close(c.finished)
	}()

	select {
	case <-ctx.Done():
		c.shutdown(ctx.Err())
	case <-c.closed:
	}
	<-c.finished

	err := c.Err()
	if errors.Is(err, io.EOF) || errors.Is(err, ErrConnClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close shuts the connection down and waits for its goroutines when
// Serve is running.
func (c *Conn) Close() error {
	c.shutdown(ErrConnClosed)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()

		c.cancel()
		close(c.closed)
		c.netConn.Close()

		c.sendMu.Lock()
		c.sendShut = true
		c.sendMu.Unlock()
	})
}

// cleanup runs once every goroutine has returned.
func (c *Conn) cleanup() {
	for {
		select {
		case req := <-c.writeCh:
			req.frame.Release()
			req.done <- ErrConnClosed
		case rb := <-c.readCh:
			rb.buf.Release()
		default:
			c.reader.close()
			c.outboxMu.Lock()
			c.outbox = nil
			c.outboxMu.Unlock()
			if o, ok := c.cfg.Dispatcher.(ConnObserver); ok {
				o.OnConnClose(c)
			}
			return
		}
	}
}

func (c *Conn) fail(err error) {
	if errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrUnsupportedVersion) {
		c.cfg.Metrics.ProtocolError()
		c.logger.Warn("[conn] closing after protocol error", zap.Error(err))
	} else if !errors.Is(err, io.EOF) && !errors.Is(err, ErrConnClosed) {
		select {
		case <-c.closed:
		default:
			c.logger.Debug("[conn] closing", zap.Error(err))
		}
	}
	c.shutdown(err)
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	r, err := NewReader(c.netConn)
	if err != nil {
		c.fail(err)
		return
	}
	c.in = r

	for {
		buf := c.pool.Get(readBufferSize)
		n, err := r.Read(buf.Bytes())
		if n > 0 {
			c.cfg.Metrics.Received(n)
			select {
			case c.readCh <- readBuffer{buf: buf, n: n}:
			case <-c.closed:
				buf.Release()
				return
			}
		} else {
			buf.Release()
		}
		if err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *Conn) consumeLoop() {
	defer c.wg.Done()
	for {
		select {
		case rb := <-c.readCh:
			c.pending = append(c.pending, rb.buf.Bytes()[:rb.n]...)
			rb.buf.Release()
			if err := c.consume(); err != nil {
				c.fail(err)
				return
			}
		case <-c.closed:
			return
		}
	}
}

// consume processes as much of the pending input as possible and keeps
// the incomplete rest for the next read.
func (c *Conn) consume() error {
	off := 0
	for !c.handshake.done() {
		n, reply, err := c.handshake.process(c.pending[off:])
		if err != nil {
			return err
		}
		if reply != nil {
			if err := c.writeRaw(reply); err != nil {
				return err
			}
		}
		if n == 0 {
			break
		}
		off += n
		if c.handshake.done() {
			c.logger.Debug("[conn] handshake complete")
		}
	}

	if c.handshake.done() {
		n, err := c.reader.process(c.pending[off:], c.emit)
		off += n
		if err != nil {
			return err
		}
	}

	rest := copy(c.pending, c.pending[off:])
	c.pending = c.pending[:rest]

	received := c.in.ReadBytes()
	if rw := c.readWindow.Load(); rw > 0 && received-c.lastAck >= uint64(rw) {
		c.lastAck = received
		c.Send(ControlChunkStreamID, &Message{Body: &Acknowledgement{SequenceNumber: uint32(received)}})
	}
	return nil
}

// writeRaw queues bytes that bypass chunking. They count against the
// write window like any other bytes the peer receives.
func (c *Conn) writeRaw(b []byte) error {
	frame := c.pool.Get(len(b))
	copy(frame.Bytes(), b)
	c.window.add(len(b))
	_, err := c.enqueue(c.ctx, frame)
	return err
}

// emit takes every reassembled message on the consumer goroutine.
func (c *Conn) emit(raw *rawMessage) error {
	defer raw.release()
	c.cfg.Metrics.MessageIn(raw.Header.Type.String())

	m, err := c.cfg.Registry.Decode(raw.Header, raw.Payload(), c.serial)
	if errors.Is(err, ErrUnknownMessageType) {
		c.logger.Warn("[conn] skipping message of unknown type",
			zap.Stringer("type", raw.Header.Type), zap.Uint32("length", raw.Header.Length))
		return nil
	}
	if err != nil {
		return err
	}
	return c.handle(m)
}

func (c *Conn) handle(m *Message) error {
	switch b := m.Body.(type) {
	case *SetChunkSize:
		c.logger.Debug("[conn] peer chunk size", zap.Uint32("size", b.Size))
		c.reader.setChunkSize(b.Size)
		return nil
	case *Abort:
		c.reader.abort(b.ChunkStreamID)
		return nil
	case *Acknowledgement:
		if delta, clamped := c.window.acknowledge(b.SequenceNumber); clamped {
			c.logger.Warn("[conn] peer acknowledged more than was sent",
				zap.Uint32("sequence", b.SequenceNumber), zap.Uint32("delta", delta))
		}
		return nil
	case *WindowAcknowledgementSize:
		c.readWindow.Store(b.Size)
		return nil
	case *SetPeerBandwidth:
		c.applyPeerBandwidth(b)
		return nil
	case *UserControl:
		if b.Event == EventPingRequest {
			c.Send(ControlChunkStreamID, &Message{Body: &UserControl{Event: EventPingResponse, Timestamp: b.Timestamp}})
			return nil
		}
		if b.Event == EventPingResponse {
			return nil
		}
	case *Aggregate:
		return c.handleAggregate(m.Header, b)
	}
	return c.dispatch(m)
}

func (c *Conn) applyPeerBandwidth(b *SetPeerBandwidth) {
	limit := b.Limit
	switch limit {
	case LimitSoft:
		if cur := c.window.Size(); cur != 0 && b.Size > cur {
			return
		}
	case LimitDynamic:
		if c.peerLimit == nil || *c.peerLimit != LimitHard {
			return
		}
		limit = LimitHard
	}
	c.peerLimit = &limit
	c.window.setSize(b.Size)
	c.Send(ControlChunkStreamID, &Message{Body: &WindowAcknowledgementSize{Size: b.Size}})
}

func (c *Conn) handleAggregate(h MessageHeader, agg *Aggregate) error {
	for _, item := range agg.Items {
		m, err := c.cfg.Registry.Decode(item.Header, item.Payload, c.serial)
		if errors.Is(err, ErrUnknownMessageType) {
			c.logger.Warn("[conn] skipping aggregate item of unknown type", zap.Stringer("type", item.Header.Type))
			continue
		}
		if err != nil {
			return errors.Wrap(err, "aggregate item")
		}
		if _, nested := m.Body.(*Aggregate); nested {
			c.logger.Warn("[conn] skipping nested aggregate")
			continue
		}
		if err := c.dispatch(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) dispatch(m *Message) error {
	if c.cfg.Dispatcher == nil {
		return nil
	}
	return c.cfg.Dispatcher.HandleMessage(c, m.Header.StreamID, m)
}

// enqueue hands a frame to the writer goroutine.
func (c *Conn) enqueue(ctx context.Context, frame *bufpool.Handle) (<-chan error, error) {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.sendShut {
		frame.Release()
		return nil, ErrConnClosed
	}

	req := writeRequest{frame: frame, done: make(chan error, 1)}
	select {
	case c.writeCh <- req:
		return req.done, nil
	case <-c.closed:
		frame.Release()
		return nil, ErrConnClosed
	case <-ctx.Done():
		frame.Release()
		return nil, ctx.Err()
	}
}

// writeLoop writes frames in queue order and flushes whenever the queue
// runs dry or enough frames are waiting. A frame's done channel fires
// after the flush that carried it.
func (c *Conn) writeLoop() {
	defer c.wg.Done()
	w, err := NewWriter(c.netConn, writeBufferSize)
	if err != nil {
		c.fail(err)
		return
	}

	var waiting []chan error
	finish := func(err error) {
		for _, done := range waiting {
			done <- err
		}
		waiting = waiting[:0]
	}

	for {
		var req writeRequest
		select {
		case req = <-c.writeCh:
		case <-c.closed:
			finish(ErrConnClosed)
			return
		}

		n := req.frame.Len()
		_, err := w.Write(req.frame.Bytes())
		req.frame.Release()
		waiting = append(waiting, req.done)
		if err == nil && (len(c.writeCh) == 0 || len(waiting) >= maxUnflushedFrames) {
			err = w.Flush()
			if err == nil {
				finish(nil)
			}
		}
		if err != nil {
			err = errors.Wrap(err, "write")
			finish(err)
			c.fail(err)
			return
		}
		c.cfg.Metrics.Sent(n)
	}
}

// Send queues m for writing on csid and returns at once. Messages passed
// to Send are written in the order of the calls.
func (c *Conn) Send(csid uint32, m *Message) {
	c.outboxMu.Lock()
	c.outbox = append(c.outbox, outboxItem{csid: csid, msg: m})
	c.outboxMu.Unlock()
	select {
	case c.outboxSignal <- struct{}{}:
	default:
	}
}

// CloseAfterSends closes the connection once every message queued with
// Send before it has been written.
func (c *Conn) CloseAfterSends() {
	c.Send(0, nil)
}

func (c *Conn) outboxLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.outboxSignal:
		case <-c.closed:
			return
		}
		for {
			c.outboxMu.Lock()
			if len(c.outbox) == 0 {
				c.outboxMu.Unlock()
				break
			}
			item := c.outbox[0]
			c.outbox[0] = outboxItem{}
			c.outbox = c.outbox[1:]
			c.outboxMu.Unlock()

			if item.msg == nil {
				c.shutdown(ErrConnClosed)
				return
			}
			if err := c.WriteMessage(c.ctx, item.csid, item.msg); err != nil {
				if !errors.Is(err, ErrConnClosed) && !errors.Is(err, context.Canceled) {
					c.logger.Warn("[conn] queued send failed", zap.Stringer("type", item.msg.Body.Type()), zap.Error(err))
				}
				return
			}
		}
	}
}

// WriteMessage marshals m, sends it on chunk stream csid and returns once
// it has been written to the socket. m.Header.Type and Length are filled
// in from the body.
func (c *Conn) WriteMessage(ctx context.Context, csid uint32, m *Message) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	payload, err := m.Body.Marshal(NewSerializationContext(c.cfg.Classes))
	if err != nil {
		return errors.Wrapf(err, "marshal %s", m.Body.Type())
	}
	h := m.Header
	h.Type = m.Body.Type()

	err = c.writer.writeMessage(ctx, csid, h, payload, c.afterSent(m.Body))
	var broken *brokenStreamError
	if errors.As(err, &broken) {
		c.fail(err)
	}
	if err != nil {
		return err
	}
	c.cfg.Metrics.MessageOut(h.Type.String())
	return nil
}

// afterSent returns the state change a control message causes once it is
// on the wire, applied before any later chunk is queued.
func (c *Conn) afterSent(b Body) func() {
	switch b := b.(type) {
	case *SetChunkSize:
		return func() { c.writer.setChunkSize(b.Size) }
	case *WindowAcknowledgementSize:
		return func() { c.window.setSize(b.Size) }
	case *SetPeerBandwidth:
		return func() { c.readWindow.Store(b.Size) }
	}
	return nil
}
