package rtmp

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rtmpengine/rtmp/amf"
	"github.com/rtmpengine/rtmp/internal/bufpool"
)

const testTimeout = 5 * time.Second

// testClient speaks the client side of a connection with the package's own
// chunk reader and writer.
type testClient struct {
	t        *testing.T
	conn     net.Conn
	writer   *chunkWriter
	reader   *chunkReader
	registry *MessageRegistry
	pending  []byte
	queue    []*Message
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	c := &testClient{
		t:        t,
		conn:     conn,
		reader:   newChunkReader(bufpool.New(), DefaultChunkSize),
		registry: DefaultMessageRegistry(),
	}
	c.writer = newChunkWriter(bufpool.New(), newAckWindow(0), DefaultChunkSize, c.enqueue)
	return c
}

func (c *testClient) enqueue(_ context.Context, frame *bufpool.Handle) (<-chan error, error) {
	_, err := c.conn.Write(frame.Bytes())
	frame.Release()
	done := make(chan error, 1)
	done <- err
	return done, err
}

func (c *testClient) handshake() {
	c.t.Helper()
	c0c1 := clientHello(RtmpVersion3)
	_, err := c.conn.Write(c0c1)
	require.NoError(c.t, err)

	reply := make([]byte, 1+2*handshakeSize)
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(testTimeout)))
	_, err = io.ReadFull(c.conn, reply)
	require.NoError(c.t, err)
	require.Equal(c.t, byte(RtmpVersion3), reply[0])
	require.Equal(c.t, c0c1[1+handshakeRandomOffset:], reply[1+handshakeSize+handshakeRandomOffset:])

	_, err = c.conn.Write(reply[1 : 1+handshakeSize])
	require.NoError(c.t, err)
}

func (c *testClient) send(csid, streamID, timestamp uint32, body Body) {
	c.t.Helper()
	c.sendThen(csid, streamID, timestamp, body, nil)
}

func (c *testClient) sendThen(csid, streamID, timestamp uint32, body Body, afterLast func()) {
	c.t.Helper()
	payload, err := body.Marshal(NewSerializationContext(nil))
	require.NoError(c.t, err)
	h := MessageHeader{Timestamp: timestamp, Type: body.Type(), StreamID: streamID}
	require.NoError(c.t, c.writer.writeMessage(context.Background(), csid, h, payload, afterLast))
}

func (c *testClient) setChunkSize(size uint32) {
	c.t.Helper()
	c.sendThen(ControlChunkStreamID, 0, 0, &SetChunkSize{Size: size}, func() { c.writer.setChunkSize(size) })
}

func (c *testClient) emit(raw *rawMessage) error {
	defer raw.release()
	m, err := c.registry.Decode(raw.Header, raw.Payload(), NewSerializationContext(nil))
	if err != nil {
		return err
	}
	if b, ok := m.Body.(*SetChunkSize); ok {
		c.reader.setChunkSize(b.Size)
	}
	c.queue = append(c.queue, m)
	return nil
}

func (c *testClient) read() error {
	if err := c.conn.SetReadDeadline(time.Now().Add(testTimeout)); err != nil {
		return err
	}
	buf := make([]byte, 4096)
	n, err := c.conn.Read(buf)
	if err != nil {
		return err
	}
	c.pending = append(c.pending, buf[:n]...)
	used, err := c.reader.process(c.pending, c.emit)
	c.pending = c.pending[used:]
	return err
}

func (c *testClient) next() *Message {
	c.t.Helper()
	for len(c.queue) == 0 {
		require.NoError(c.t, c.read())
	}
	m := c.queue[0]
	c.queue = c.queue[1:]
	return m
}

func (c *testClient) nextCommand() *CommandMessage {
	c.t.Helper()
	m := c.next()
	cmd, ok := m.Body.(*CommandMessage)
	require.True(c.t, ok, "expected a command, got %T", m.Body)
	return cmd
}

// sync sends a ping and returns every message that arrived before the
// answer. The server handles input in order, so everything sent earlier
// has been dispatched by then.
func (c *testClient) sync() []*Message {
	c.t.Helper()
	c.send(ControlChunkStreamID, 0, 0, &UserControl{Event: EventPingRequest, Timestamp: 99})
	var before []*Message
	for {
		m := c.next()
		if uc, ok := m.Body.(*UserControl); ok && uc.Event == EventPingResponse && uc.Timestamp == 99 {
			return before
		}
		before = append(before, m)
	}
}

// expectClosed reads until the server hangs up.
func (c *testClient) expectClosed() {
	c.t.Helper()
	for {
		if err := c.read(); err != nil {
			require.ErrorIs(c.t, err, io.EOF)
			return
		}
	}
}

type dispatcherMock struct {
	messages chan *Message

	mu     sync.Mutex
	opened int
	closed int
}

func newDispatcherMock() *dispatcherMock {
	return &dispatcherMock{messages: make(chan *Message, 64)}
}

func (d *dispatcherMock) HandleMessage(_ *Conn, _ uint32, m *Message) error {
	d.messages <- m
	return nil
}

func (d *dispatcherMock) OnConnOpen(*Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened++
}

func (d *dispatcherMock) OnConnClose(*Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
}

func (d *dispatcherMock) next(t *testing.T) *Message {
	t.Helper()
	select {
	case m := <-d.messages:
		return m
	case <-time.After(testTimeout):
		t.Fatal("no message dispatched")
		return nil
	}
}

// serveResult holds what Serve returned once it has.
type serveResult struct {
	done chan struct{}
	err  error
}

func (r *serveResult) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-r.done:
		return r.err
	case <-time.After(testTimeout):
		t.Fatal("Serve did not return")
		return nil
	}
}

// startConn serves one side of a pipe and hands the other to a client.
func startConn(t *testing.T, cfg ConnConfig) (*testClient, *Conn, *serveResult) {
	server, client := net.Pipe()
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	c := NewConn(server, cfg)

	served := &serveResult{done: make(chan struct{})}
	go func() {
		served.err = c.Serve(context.Background())
		close(served.done)
	}()
	t.Cleanup(func() {
		c.Close()
		client.Close()
		select {
		case <-served.done:
		case <-time.After(testTimeout):
			t.Error("connection did not shut down")
		}
	})
	return newTestClient(t, client), c, served
}

func TestConnDispatchesMessages(t *testing.T) {
	d := newDispatcherMock()
	client, _, _ := startConn(t, ConnConfig{Dispatcher: d})
	client.handshake()

	client.send(CommandChunkStreamID, 0, 0, &CommandMessage{Name: CommandConnect, TransactionID: 1,
		CommandObject: amf.NewObject(amf.Field{Key: "app", Value: amf.String("live")})})
	client.send(VideoChunkStreamID, 1, 40, &Video{Payload: []byte{0x17, 0x01, 0, 0, 0}})

	m := d.next(t)
	cmd, ok := m.Body.(*CommandMessage)
	require.True(t, ok)
	require.Equal(t, CommandConnect, cmd.Name)
	require.Equal(t, "live", amf.LookupString(cmd.CommandObject, "app"))

	m = d.next(t)
	require.Equal(t, MessageHeader{Timestamp: 40, Length: 5, Type: VideoMessage, StreamID: 1}, m.Header)
}

func TestConnControlMessages(t *testing.T) {
	d := newDispatcherMock()
	client, _, _ := startConn(t, ConnConfig{Dispatcher: d})
	client.handshake()

	client.send(ControlChunkStreamID, 0, 0, &UserControl{Event: EventPingRequest, Timestamp: 42})
	require.Equal(t, &UserControl{Event: EventPingResponse, Timestamp: 42}, client.next().Body)

	client.send(ControlChunkStreamID, 0, 0, &SetPeerBandwidth{Size: 50000, Limit: LimitHard})
	require.Equal(t, &WindowAcknowledgementSize{Size: 50000}, client.next().Body)

	// a soft limit above the current window is ignored
	client.send(ControlChunkStreamID, 0, 0, &SetPeerBandwidth{Size: 100000, Limit: LimitSoft})
	require.Empty(t, client.sync())

	// dynamic counts as hard after a hard limit
	client.send(ControlChunkStreamID, 0, 0, &SetPeerBandwidth{Size: 30000, Limit: LimitDynamic})
	require.Equal(t, &WindowAcknowledgementSize{Size: 30000}, client.next().Body)

	client.send(ControlChunkStreamID, 0, 0, &SetPeerBandwidth{Size: 20000, Limit: LimitSoft})
	require.Equal(t, &WindowAcknowledgementSize{Size: 20000}, client.next().Body)

	// control messages never reach the dispatcher
	select {
	case m := <-d.messages:
		t.Fatalf("dispatched %s", m.Header.Type)
	default:
	}
}

func TestConnDynamicLimitFirst(t *testing.T) {
	client, _, _ := startConn(t, ConnConfig{Dispatcher: newDispatcherMock()})
	client.handshake()

	client.send(ControlChunkStreamID, 0, 0, &SetPeerBandwidth{Size: 3000, Limit: LimitDynamic})
	require.Empty(t, client.sync())
}

func TestConnAcknowledgesReceivedBytes(t *testing.T) {
	client, _, _ := startConn(t, ConnConfig{Dispatcher: newDispatcherMock()})
	client.handshake()

	client.send(ControlChunkStreamID, 0, 0, &WindowAcknowledgementSize{Size: 100})
	// C0C1, C2 and the 16 byte chunk carrying the window size
	require.Equal(t, &Acknowledgement{SequenceNumber: 1 + 2*handshakeSize + 16}, client.next().Body)
}

func TestConnPeerChunkSize(t *testing.T) {
	d := newDispatcherMock()
	client, _, _ := startConn(t, ConnConfig{Dispatcher: d})
	client.handshake()

	client.setChunkSize(4096)
	payload := make([]byte, 3000)
	payload[0] = 0x27
	client.send(VideoChunkStreamID, 1, 0, &Video{Payload: payload})
	require.Equal(t, uint32(4096), client.writer.chunkSize)

	m := d.next(t)
	require.Equal(t, payload, m.Body.(*Video).Payload)
}

func TestConnAggregate(t *testing.T) {
	d := newDispatcherMock()
	client, _, _ := startConn(t, ConnConfig{Dispatcher: d})
	client.handshake()

	agg := &Aggregate{Items: []AggregateItem{
		{Header: MessageHeader{Timestamp: 100, Type: AudioMessage}, Payload: []byte{0xAF, 0x01, 0x00}},
		{Header: MessageHeader{Timestamp: 110, Type: MessageType(0x21)}, Payload: []byte{1}},
		{Header: MessageHeader{Timestamp: 120, Type: VideoMessage}, Payload: []byte{0x27, 0x01, 0, 0, 0}},
	}}
	client.send(AudioChunkStreamID, 3, 1000, agg)

	m := d.next(t)
	require.Equal(t, MessageHeader{Timestamp: 1000, Length: 3, Type: AudioMessage, StreamID: 3}, m.Header)
	m = d.next(t)
	require.Equal(t, MessageHeader{Timestamp: 1020, Length: 5, Type: VideoMessage, StreamID: 3}, m.Header)
}

func TestConnSkipsUnknownMessages(t *testing.T) {
	d := newDispatcherMock()
	client, _, _ := startConn(t, ConnConfig{Dispatcher: d})
	client.handshake()

	h := MessageHeader{Type: SharedObjectMessageAMF0, StreamID: 0}
	require.NoError(t, client.writer.writeMessage(context.Background(), CommandChunkStreamID, h, []byte{0, 1, 2}, nil))
	h.Type = MessageType(0x30)
	require.NoError(t, client.writer.writeMessage(context.Background(), CommandChunkStreamID, h, []byte{3}, nil))

	require.Empty(t, client.sync())
}

func TestConnProtocolViolation(t *testing.T) {
	d := newDispatcherMock()
	client, _, served := startConn(t, ConnConfig{Dispatcher: d})
	client.handshake()

	// a type 1 header on a chunk stream that never had a header
	_, err := client.conn.Write([]byte{0x43, 0, 0, 0, 0, 0, 4, 9})
	require.NoError(t, err)

	client.expectClosed()
	require.ErrorIs(t, served.wait(t), ErrMissingPreviousHeader)

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Equal(t, 1, d.opened)
	require.Equal(t, 1, d.closed)
}

func TestConnUnsupportedVersion(t *testing.T) {
	client, _, served := startConn(t, ConnConfig{})
	_, err := client.conn.Write(clientHello(2))
	require.NoError(t, err)

	client.expectClosed()
	require.ErrorIs(t, served.wait(t), ErrUnsupportedVersion)
}

func TestConnPeerDisconnect(t *testing.T) {
	client, _, served := startConn(t, ConnConfig{})
	client.handshake()
	require.NoError(t, client.conn.Close())
	require.NoError(t, served.wait(t))
}

func TestConnClose(t *testing.T) {
	client, c, served := startConn(t, ConnConfig{})
	client.handshake()

	require.NoError(t, c.Close())
	require.NoError(t, served.wait(t))
	<-c.Done()

	err := c.WriteMessage(context.Background(), ControlChunkStreamID, &Message{Body: &UserControl{Event: EventStreamBegin}})
	require.ErrorIs(t, err, ErrConnClosed)
	// Send after close is dropped silently
	c.Send(ControlChunkStreamID, &Message{Body: &UserControl{Event: EventStreamBegin}})
}

func TestConnWriteMessage(t *testing.T) {
	client, c, _ := startConn(t, ConnConfig{})
	client.handshake()

	written := make(chan error, 1)
	go func() {
		written <- c.WriteMessage(context.Background(), DataChunkStreamID, &Message{
			Header: MessageHeader{Timestamp: 7, StreamID: 1},
			Body:   &DataMessage{Handler: DataOnMetaData, Values: []amf.Value{amf.NewObject()}},
		})
	}()

	m := client.next()
	require.NoError(t, <-written)
	require.Equal(t, DataMessageAMF0, m.Header.Type)
	require.Equal(t, uint32(7), m.Header.Timestamp)
	require.Equal(t, uint32(1), m.Header.StreamID)
	require.Equal(t, DataOnMetaData, m.Body.(*DataMessage).Handler)
}

func TestConnWriteMessageRespectsContext(t *testing.T) {
	client, c, _ := startConn(t, ConnConfig{WriteWindowSize: 100})
	client.handshake()

	// the handshake reply already used up the window
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.WriteMessage(ctx, ControlChunkStreamID, &Message{Body: &UserControl{Event: EventStreamBegin}})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	client.send(ControlChunkStreamID, 0, 0, &Acknowledgement{SequenceNumber: 1 + 2*handshakeSize})
	require.Eventually(t, func() bool { return c.window.Outstanding() == 0 }, testTimeout, time.Millisecond)

	written := make(chan error, 1)
	go func() {
		written <- c.WriteMessage(context.Background(), ControlChunkStreamID, &Message{Body: &UserControl{Event: EventStreamBegin, StreamID: 1}})
	}()
	require.Equal(t, &UserControl{Event: EventStreamBegin, StreamID: 1}, client.next().Body)
	require.NoError(t, <-written)
}
