package rtmp

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rtmpengine/rtmp/amf"
	"github.com/rtmpengine/rtmp/config"
	"github.com/rtmpengine/rtmp/flv"
	"github.com/rtmpengine/rtmp/metrics"
	"github.com/rtmpengine/rtmp/rand"
)

// Session is the default Dispatcher: a live relay where publishers push
// streams under a stream key and players pull them. Message stream 0
// carries the connection commands; every stream created with createStream
// gets an entry in the connection's stream table.
type Session struct {
	Broadcaster *Broadcaster
	Logger      *zap.Logger
	Metrics     *metrics.Metrics

	// App, when set, is the only application name connect accepts.
	App string
	// Announced to every client after connect.
	WindowAckSize uint32
	PeerBandwidth uint32
	LimitType     LimitType
	ChunkSize     uint32

	// RecordDir, when set, receives an FLV file per published stream.
	// Playing a stream nobody publishes plays its latest recording.
	RecordDir       string
	PlayerQueueSize int

	mu    sync.Mutex
	conns map[*Conn]*connState
}

// connState is only used from the connection's consumer goroutine and,
// once that has returned, from OnConnClose.
type connState struct {
	app          string
	tcURL        string
	flashVer     string
	connected    bool
	streams      map[uint32]*netStream
	nextStreamID uint32
}

type netStream struct {
	id       uint32
	key      string
	publish  bool
	recorder *flv.Recorder
	player   *player
	file     *filePlayer
}

func (ns *netStream) busy() bool {
	return ns.publish || ns.player != nil || ns.file != nil
}

func NewSession(b *Broadcaster, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		Broadcaster:   b,
		Logger:        logger,
		WindowAckSize: config.DefaultPeerBandwidth,
		PeerBandwidth: config.DefaultPeerBandwidth,
		LimitType:     LimitDynamic,
		ChunkSize:     DefaultChunkSize,
		conns:         make(map[*Conn]*connState),
	}
}

func (s *Session) OnConnOpen(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		s.conns = make(map[*Conn]*connState)
	}
	s.conns[c] = &connState{streams: make(map[uint32]*netStream), nextStreamID: 1}
}

// OnConnClose stops everything the connection published or played.
func (s *Session) OnConnClose(c *Conn) {
	s.mu.Lock()
	st := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()
	if st == nil {
		return
	}
	for id, ns := range st.streams {
		s.closeStream(c, ns)
		delete(st.streams, id)
	}
}

func (s *Session) state(c *Conn) *connState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.conns[c]
	if !ok {
		st = &connState{streams: make(map[uint32]*netStream), nextStreamID: 1}
		if s.conns == nil {
			s.conns = make(map[*Conn]*connState)
		}
		s.conns[c] = st
	}
	return st
}

// HandleMessage routes m to the connection or to the stream table entry
// for streamID.
func (s *Session) HandleMessage(c *Conn, streamID uint32, m *Message) error {
	st := s.state(c)
	if streamID == 0 {
		return s.handleConnection(c, st, m)
	}
	ns, ok := st.streams[streamID]
	if !ok {
		c.Logger().Debug("[session] message for unknown stream", zap.Uint32("stream", streamID), zap.Stringer("type", m.Header.Type))
		if cmd, ok := m.Body.(*CommandMessage); ok {
			s.reply(c, streamID, cmd, newError(cmd.TransactionID, StatusInfo("error", "NetStream.Failed", "Unknown stream.")))
		}
		return nil
	}
	return s.handleStream(c, st, ns, m)
}

func (s *Session) reply(c *Conn, streamID uint32, req *CommandMessage, resp *CommandMessage) {
	resp.Encoding = req.Encoding
	c.Send(CommandChunkStreamID, &Message{Header: MessageHeader{StreamID: streamID}, Body: resp})
}

func (s *Session) status(c *Conn, streamID uint32, level, code, description string) {
	c.Send(CommandChunkStreamID, &Message{Header: MessageHeader{StreamID: streamID}, Body: newStatus(StatusInfo(level, code, description))})
}

func (s *Session) handleConnection(c *Conn, st *connState, m *Message) error {
	cmd, ok := m.Body.(*CommandMessage)
	if !ok {
		c.Logger().Debug("[session] ignoring message on stream 0", zap.Stringer("type", m.Header.Type))
		return nil
	}
	c.Logger().Debug("[session] command", zap.String("name", cmd.Name), zap.Float64("transaction", cmd.TransactionID))

	switch cmd.Name {
	case CommandConnect:
		s.onConnect(c, st, cmd)
	case CommandCreateStream:
		s.onCreateStream(c, st, cmd)
	case CommandDeleteStream:
		s.onDeleteStream(c, st, cmd)
	case CommandReleaseStream:
		s.reply(c, 0, cmd, newResult(cmd.TransactionID, amf.Null{}, amf.Undefined{}))
	case CommandFCPublish:
		key, _ := cmd.StringArgument(0)
		s.reply(c, 0, cmd, &CommandMessage{Name: CommandOnFCPublish, CommandObject: amf.Null{},
			Arguments: []amf.Value{StatusInfo("status", "NetStream.Publish.Start", key)}})
	case CommandFCUnpublish:
		key, _ := cmd.StringArgument(0)
		s.reply(c, 0, cmd, &CommandMessage{Name: CommandOnFCUnpublish, CommandObject: amf.Null{},
			Arguments: []amf.Value{StatusInfo("status", "NetStream.Unpublish.Success", key)}})
	case CommandResult, CommandError, CommandOnStatus:
	default:
		s.reply(c, 0, cmd, newError(cmd.TransactionID, StatusInfo("error", "NetConnection.Call.Failed", "Unknown command "+cmd.Name+".")))
	}
	return nil
}

func (s *Session) onConnect(c *Conn, st *connState, cmd *CommandMessage) {
	obj := cmd.CommandObject
	st.app = strings.Trim(amf.LookupString(obj, "app"), "/")
	st.tcURL = amf.LookupString(obj, "tcUrl")
	st.flashVer = amf.LookupString(obj, "flashVer")
	if st.flashVer == "" {
		st.flashVer = amf.LookupString(obj, "flashver")
	}
	encoding := 0.0
	if v, ok := amf.Lookup(obj, "objectEncoding"); ok {
		encoding, _ = amf.AsNumber(v)
	}

	c.Logger().Info("[session] connect", zap.String("app", st.app), zap.String("tcUrl", st.tcURL), zap.String("flashVer", st.flashVer))

	if s.App != "" && st.app != s.App {
		c.Logger().Info("[session] rejecting connect to unknown app", zap.String("app", st.app))
		s.reply(c, 0, cmd, newError(cmd.TransactionID, StatusInfo("error", "NetConnection.Connect.Rejected", "Unknown application "+st.app+".")))
		c.CloseAfterSends()
		return
	}
	st.connected = true

	if s.WindowAckSize > 0 {
		c.Send(ControlChunkStreamID, &Message{Body: &WindowAcknowledgementSize{Size: s.WindowAckSize}})
	}
	if s.PeerBandwidth > 0 {
		c.Send(ControlChunkStreamID, &Message{Body: &SetPeerBandwidth{Size: s.PeerBandwidth, Limit: s.LimitType}})
	}
	c.Send(ControlChunkStreamID, &Message{Body: &UserControl{Event: EventStreamBegin, StreamID: 0}})
	if s.ChunkSize > 0 && s.ChunkSize != DefaultChunkSize {
		c.Send(ControlChunkStreamID, &Message{Body: &SetChunkSize{Size: s.ChunkSize}})
	}

	props := amf.NewObject(
		amf.Field{Key: "fmsVer", Value: amf.String(config.FlashMediaServerVersion)},
		amf.Field{Key: "capabilities", Value: amf.Number(config.Capabilities)},
		amf.Field{Key: "mode", Value: amf.Number(config.Mode)},
	)
	info := StatusInfo("status", "NetConnection.Connect.Success", "Connection succeeded.")
	info.Set("objectEncoding", amf.Number(encoding))
	s.reply(c, 0, cmd, newResult(cmd.TransactionID, props, info))
}

func (s *Session) onCreateStream(c *Conn, st *connState, cmd *CommandMessage) {
	id := st.nextStreamID
	st.nextStreamID++
	st.streams[id] = &netStream{id: id}
	s.reply(c, 0, cmd, newResult(cmd.TransactionID, amf.Null{}, amf.Number(id)))
}

func (s *Session) onDeleteStream(c *Conn, st *connState, cmd *CommandMessage) {
	n, ok := amf.AsNumber(cmd.Argument(0))
	if !ok {
		return
	}
	id := uint32(n)
	if ns, ok := st.streams[id]; ok {
		s.closeStream(c, ns)
		delete(st.streams, id)
	}
}

func (s *Session) handleStream(c *Conn, st *connState, ns *netStream, m *Message) error {
	switch b := m.Body.(type) {
	case *CommandMessage:
		s.handleStreamCommand(c, st, ns, b)
	case *Audio:
		if ns.publish {
			s.Broadcaster.BroadcastAudio(ns.key, b.Payload, m.Header.Timestamp)
			s.record(c, ns, func(r *flv.Recorder) error { return r.WriteAudio(m.Header.Timestamp, b.Payload) })
		}
	case *Video:
		if ns.publish {
			s.Broadcaster.BroadcastVideo(ns.key, b.Payload, m.Header.Timestamp)
			s.record(c, ns, func(r *flv.Recorder) error { return r.WriteVideo(m.Header.Timestamp, b.Payload) })
		}
	case *DataMessage:
		metadata, ok := b.Metadata()
		if ns.publish && ok {
			s.Broadcaster.BroadcastMetadata(ns.key, metadata, m.Header.Timestamp)
			s.record(c, ns, func(r *flv.Recorder) error { return r.WriteMetadata(m.Header.Timestamp, metadata) })
		}
	}
	return nil
}

func (s *Session) handleStreamCommand(c *Conn, st *connState, ns *netStream, cmd *CommandMessage) {
	c.Logger().Debug("[session] stream command", zap.String("name", cmd.Name), zap.Uint32("stream", ns.id))
	switch cmd.Name {
	case CommandPublish:
		s.onPublish(c, ns, cmd)
	case CommandPlay:
		s.onPlay(c, ns, cmd)
	case CommandSeek:
		s.onSeek(c, ns, cmd)
	case CommandPause:
		s.onPause(c, ns, cmd)
	case CommandCloseStream:
		s.closeStream(c, ns)
	case CommandDeleteStream:
		s.onDeleteStream(c, st, cmd)
	case CommandFCUnpublish, CommandReleaseStream:
	default:
		s.reply(c, ns.id, cmd, newError(cmd.TransactionID, StatusInfo("error", "NetStream.Failed", "Unknown command "+cmd.Name+".")))
	}
}

func (s *Session) onPublish(c *Conn, ns *netStream, cmd *CommandMessage) {
	key, _ := cmd.StringArgument(0)
	if key == "" {
		s.status(c, ns.id, "error", "NetStream.Publish.BadName", "Missing stream name.")
		return
	}
	if ns.busy() {
		s.status(c, ns.id, "error", "NetStream.Publish.BadConnection", "Stream is busy.")
		return
	}
	if err := s.Broadcaster.RegisterPublisher(key, c.ID()); err != nil {
		c.Logger().Info("[session] publish rejected", zap.String("stream", key), zap.Error(err))
		s.status(c, ns.id, "error", "NetStream.Publish.BadName", key+" is already being published.")
		return
	}
	ns.key = key
	ns.publish = true

	if s.RecordDir != "" {
		path := filepath.Join(s.RecordDir, recordingName(key))
		r, err := flv.Create(path, c.Logger())
		if err != nil {
			c.Logger().Warn("[session] cannot record stream", zap.String("stream", key), zap.Error(err))
		} else {
			ns.recorder = r
		}
	}

	c.Send(ControlChunkStreamID, &Message{Body: &UserControl{Event: EventStreamBegin, StreamID: ns.id}})
	s.status(c, ns.id, "status", "NetStream.Publish.Start", key+" is now published.")
}

// recordingName makes a unique file name from a stream key, which may
// hold any character.
func recordingName(key string) string {
	return recordingPrefix(key) + rand.SessionID() + ".flv"
}

func recordingPrefix(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, key) + "-"
}

// findRecording returns the most recently written recording of key, or ""
// when there is none.
func (s *Session) findRecording(key string) string {
	if s.RecordDir == "" || key == "" {
		return ""
	}
	prefix := recordingPrefix(key)
	entries, err := os.ReadDir(s.RecordDir)
	if err != nil {
		return ""
	}

	var newest string
	var newestInfo os.FileInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".flv") {
			continue
		}
		// keys sharing a prefix, like "cam" and "cam-2", must not match
		if _, err := uuid.Parse(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".flv")); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newestInfo == nil || info.ModTime().After(newestInfo.ModTime()) {
			newest, newestInfo = name, info
		}
	}
	if newest == "" {
		return ""
	}
	return filepath.Join(s.RecordDir, newest)
}

func (s *Session) record(c *Conn, ns *netStream, write func(r *flv.Recorder) error) {
	if ns.recorder == nil {
		return
	}
	if err := write(ns.recorder); err != nil {
		c.Logger().Warn("[session] recording stopped", zap.String("stream", ns.key), zap.Error(err))
		ns.recorder.Close()
		ns.recorder = nil
	}
}

func (s *Session) onPlay(c *Conn, ns *netStream, cmd *CommandMessage) {
	key, _ := cmd.StringArgument(0)
	if ns.busy() {
		s.status(c, ns.id, "error", "NetStream.Play.Failed", "Stream is busy.")
		return
	}
	if !s.Broadcaster.StreamExists(key) {
		// a start of -1 asks for the live stream only
		if start, ok := amf.AsNumber(cmd.Argument(1)); !ok || start != -1 {
			if path := s.findRecording(key); path != "" {
				s.playRecording(c, ns, key, path, cmd)
				return
			}
		}
		s.status(c, ns.id, "error", "NetStream.Play.StreamNotFound", key+" not found.")
		return
	}

	p := newPlayer(c, ns.id, s.PlayerQueueSize, s.Metrics)
	initial := playStartMessages(ns.id, key, p.message)
	metadata, videoHeader, audioHeader := s.Broadcaster.StartupMessages(key)
	if metadata != nil {
		initial = append(initial, queuedMessage{DataChunkStreamID, p.message(0, &DataMessage{Handler: DataOnMetaData, Values: []amf.Value{metadata}})})
	}
	if videoHeader != nil {
		initial = append(initial, queuedMessage{VideoChunkStreamID, p.message(0, &Video{Payload: videoHeader})})
	}
	if audioHeader != nil {
		initial = append(initial, queuedMessage{AudioChunkStreamID, p.message(0, &Audio{Payload: audioHeader})})
	}

	p.start(initial)
	if err := s.Broadcaster.RegisterSubscriber(key, p); err != nil {
		p.Stop()
		s.status(c, ns.id, "error", "NetStream.Play.StreamNotFound", key+" not found.")
		return
	}
	ns.key = key
	ns.player = p
	c.Logger().Info("[session] playing", zap.String("stream", key))
}

func playStartMessages(streamID uint32, key string, message func(uint32, Body) *Message) []queuedMessage {
	return []queuedMessage{
		{ControlChunkStreamID, &Message{Body: &UserControl{Event: EventStreamBegin, StreamID: streamID}}},
		{CommandChunkStreamID, message(0, newStatus(StatusInfo("status", "NetStream.Play.Reset", "Playing and resetting "+key+".")))},
		{CommandChunkStreamID, message(0, newStatus(StatusInfo("status", "NetStream.Play.Start", "Started playing "+key+".")))},
		{DataChunkStreamID, message(0, &DataMessage{Handler: DataRtmpSampleAccess, Values: []amf.Value{amf.Bool(true), amf.Bool(true)}})},
	}
}

// playRecording plays the FLV file at path, starting from the key frame
// at or before the start argument of play when one is given.
func (s *Session) playRecording(c *Conn, ns *netStream, key, path string, cmd *CommandMessage) {
	r, err := flv.Open(path)
	if err != nil {
		c.Logger().Warn("[session] cannot open recording", zap.String("stream", key), zap.Error(err))
		s.status(c, ns.id, "error", "NetStream.Play.StreamNotFound", key+" not found.")
		return
	}

	p := newFilePlayer(c, ns.id, key, r, s.Metrics)
	if start, ok := amf.AsNumber(cmd.Argument(1)); ok && start > 0 {
		p.Seek(clampPosition(start))
	}
	p.start(playStartMessages(ns.id, key, p.message))
	ns.key = key
	ns.file = p
	c.Logger().Info("[session] playing recording", zap.String("stream", key), zap.String("file", path))
}

func (s *Session) onSeek(c *Conn, ns *netStream, cmd *CommandMessage) {
	position, _ := amf.AsNumber(cmd.Argument(0))
	if ns.file == nil {
		s.status(c, ns.id, "error", "NetStream.Seek.Failed", "Stream is not seekable.")
		return
	}
	ns.file.Seek(clampPosition(position))
}

func (s *Session) onPause(c *Conn, ns *netStream, cmd *CommandMessage) {
	pause, _ := cmd.Argument(0).(amf.Bool)
	position, _ := amf.AsNumber(cmd.Argument(1))
	if ns.file == nil {
		s.status(c, ns.id, "error", "NetStream.Pause.Failed", "Stream cannot be paused.")
		return
	}
	ns.file.Pause(bool(pause), clampPosition(position))
}

// clampPosition turns a stream position in milliseconds into a timestamp.
func clampPosition(ms float64) uint32 {
	switch {
	case math.IsNaN(ms), ms <= 0:
		return 0
	case ms >= 1<<32-1:
		return 1<<32 - 1
	}
	return uint32(ms)
}

func (s *Session) closeStream(c *Conn, ns *netStream) {
	if ns.publish {
		if err := s.Broadcaster.DestroyPublisher(ns.key, c.ID()); err != nil {
			c.Logger().Debug("[session] unpublish", zap.String("stream", ns.key), zap.Error(err))
		}
		if ns.recorder != nil {
			if err := ns.recorder.Close(); err != nil {
				c.Logger().Warn("[session] closing recording", zap.Error(err))
			}
			ns.recorder = nil
		}
		ns.publish = false
	}
	if ns.player != nil {
		s.Broadcaster.DestroySubscriber(ns.key, ns.player.GetID())
		ns.player.Stop()
		ns.player = nil
	}
	if ns.file != nil {
		ns.file.Stop()
		ns.file = nil
	}
	ns.key = ""
}
