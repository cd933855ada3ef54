package rtmp

import (
	"github.com/rtmpengine/rtmp/internal/netbits"
)

type ChunkType uint8

const (
	ChunkType0 ChunkType = iota
	ChunkType1
	ChunkType2
	ChunkType3
)

const (
	chunkType0MessageHeaderLength = 11
	chunkType1MessageHeaderLength = 7
	chunkType2MessageHeaderLength = 3
	extendedTimestampLength       = 4

	// A timestamp field holding this value is followed by an extended timestamp.
	extendedTimestampMarker = 0xFFFFFF

	// Chunk stream ids that fit each basic header size.
	minChunkStreamID = 2
	maxOneByteID     = 63
	maxTwoByteID     = 319
	maxChunkStreamID = 65599

	DefaultChunkSize uint32 = 128
	MaxChunkSize     uint32 = 0x7FFFFFFF

	// Chunk stream ids used for outgoing messages.
	ControlChunkStreamID uint32 = 2
	CommandChunkStreamID uint32 = 3
	AudioChunkStreamID   uint32 = 4
	VideoChunkStreamID   uint32 = 6
	DataChunkStreamID    uint32 = 5
)

var messageHeaderLengths = [4]int{
	chunkType0MessageHeaderLength,
	chunkType1MessageHeaderLength,
	chunkType2MessageHeaderLength,
	0,
}

// basicHeaderLength returns how many bytes the basic header occupies given
// its first byte.
func basicHeaderLength(first byte) int {
	switch first & 0x3F {
	case 0:
		return 2
	case 1:
		return 3
	default:
		return 1
	}
}

// parseBasicHeader decodes a basic header from b. ok is false when b does
// not hold the whole header yet.
func parseBasicHeader(b []byte) (typ ChunkType, csid uint32, n int, ok bool) {
	if len(b) < 1 {
		return 0, 0, 0, false
	}
	n = basicHeaderLength(b[0])
	if len(b) < n {
		return 0, 0, 0, false
	}
	typ = ChunkType(b[0] >> 6)
	switch n {
	case 2:
		csid = uint32(b[1]) + 64
	case 3:
		csid = uint32(b[2])*256 + uint32(b[1]) + 64
	default:
		csid = uint32(b[0] & 0x3F)
	}
	return typ, csid, n, true
}

func validChunkStreamID(csid uint32) bool {
	return csid >= minChunkStreamID && csid <= maxChunkStreamID
}

// appendBasicHeader uses the smallest form that can carry csid.
func appendBasicHeader(dst []byte, typ ChunkType, csid uint32) []byte {
	f := byte(typ) << 6
	switch {
	case csid <= maxOneByteID:
		return append(dst, f|byte(csid))
	case csid <= maxTwoByteID:
		return append(dst, f, byte(csid-64))
	default:
		id := csid - 64
		return append(dst, f|1, byte(id), byte(id>>8))
	}
}

// selectChunkType picks the smallest header that lets the peer rebuild h
// from the previous header sent on the same chunk stream.
func selectChunkType(h MessageHeader, prev *MessageHeader, first bool) ChunkType {
	if prev == nil {
		return ChunkType0
	}
	if !first {
		return ChunkType3
	}
	if h.Timestamp < prev.Timestamp {
		return ChunkType0
	}
	if h.Type == prev.Type && h.Length == prev.Length && h.StreamID == prev.StreamID && h.Timestamp != prev.Timestamp {
		return ChunkType2
	}
	if h.StreamID == prev.StreamID {
		return ChunkType1
	}
	return ChunkType0
}

// timestampField returns the value carried in the timestamp field of a
// header of type typ: absolute for type 0, a delta for types 1 and 2.
func timestampField(typ ChunkType, h MessageHeader, prev *MessageHeader) uint32 {
	switch typ {
	case ChunkType1, ChunkType2:
		return h.Timestamp - prev.Timestamp
	default:
		return h.Timestamp
	}
}

// appendMessageHeader writes the message header of a chunk and, when the
// timestamp needs it, the extended timestamp.
func appendMessageHeader(dst []byte, typ ChunkType, h MessageHeader, ts uint32) []byte {
	var b [chunkType0MessageHeaderLength + extendedTimestampLength]byte
	field := ts
	if field >= extendedTimestampMarker {
		field = extendedTimestampMarker
	}

	n := messageHeaderLengths[typ]
	if typ != ChunkType3 {
		netbits.PutUint24(b[0:3], field)
	}
	if typ == ChunkType0 || typ == ChunkType1 {
		netbits.PutUint24(b[3:6], h.Length)
		b[6] = byte(h.Type)
	}
	if typ == ChunkType0 {
		netbits.PutUint32LE(b[7:11], h.StreamID)
	}
	if ts >= extendedTimestampMarker {
		netbits.PutUint32(b[n:n+4], ts)
		n += extendedTimestampLength
	}
	return append(dst, b[:n]...)
}
