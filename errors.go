package rtmp

import "github.com/pkg/errors"

var ErrNilWriter = errors.New("Expected io.Writer to be non-nil, but got a nil value")
var ErrNilReader = errors.New("Expected io.Reader to be non-nil, but got a nil value")

// ErrProtocolViolation marks a peer that broke the wire protocol. The
// connection cannot continue after it.
var ErrProtocolViolation = errors.New("rtmp: protocol violation")

// ErrMissingPreviousHeader is returned for a type 1, 2 or 3 chunk on a
// chunk stream that has not carried a header yet.
var ErrMissingPreviousHeader = errors.Wrap(ErrProtocolViolation, "chunk header needs a previous header")

// ErrUnsupportedVersion is returned for a C0 version below 3.
var ErrUnsupportedVersion = errors.New("rtmp: unsupported protocol version")

// ErrUnknownMessageType is returned when no factory is registered for a
// message type.
var ErrUnknownMessageType = errors.New("rtmp: unknown message type")

var ErrConnClosed = errors.New("rtmp: connection closed")

func protocolViolation(format string, args ...interface{}) error {
	return errors.Wrapf(ErrProtocolViolation, format, args...)
}
