package rtmp

import (
	"github.com/pkg/errors"

	"github.com/rtmpengine/rtmp/amf"
)

// Command names.
const (
	CommandConnect       = "connect"
	CommandCreateStream  = "createStream"
	CommandDeleteStream  = "deleteStream"
	CommandCloseStream   = "closeStream"
	CommandReleaseStream = "releaseStream"
	CommandFCPublish     = "FCPublish"
	CommandFCUnpublish   = "FCUnpublish"
	CommandPublish       = "publish"
	CommandPlay          = "play"
	CommandPause         = "pause"
	CommandSeek          = "seek"
	CommandResult        = "_result"
	CommandError         = "_error"
	CommandOnStatus      = "onStatus"
	CommandOnFCPublish   = "onFCPublish"
	CommandOnFCUnpublish = "onFCUnpublish"
)

// Data message handler names.
const (
	DataSetDataFrame     = "@setDataFrame"
	DataClearDataFrame   = "@clearDataFrame"
	DataOnMetaData       = "onMetaData"
	DataRtmpSampleAccess = "|RtmpSampleAccess"
)

// CommandMessage is a remote call. Encoding is amf.Version0 for message
// type 20 and amf.Version3 for type 17.
type CommandMessage struct {
	Encoding      uint8
	Name          string
	TransactionID float64
	CommandObject amf.Value
	Arguments     []amf.Value
}

func (m *CommandMessage) Type() MessageType {
	if m.Encoding == amf.Version3 {
		return CommandMessageAMF3
	}
	return CommandMessageAMF0
}

func (m *CommandMessage) Marshal(ctx *SerializationContext) ([]byte, error) {
	obj := m.CommandObject
	if obj == nil {
		obj = amf.Null{}
	}
	values := append([]amf.Value{amf.String(m.Name), amf.Number(m.TransactionID), obj}, m.Arguments...)
	return marshalValues(ctx, m.Encoding, values)
}

// Argument returns the i-th argument after the command object, or nil.
func (m *CommandMessage) Argument(i int) amf.Value {
	if i < 0 || i >= len(m.Arguments) {
		return nil
	}
	return amf.Unwrap(m.Arguments[i])
}

// StringArgument returns the i-th argument when it is a string.
func (m *CommandMessage) StringArgument(i int) (string, bool) {
	return amf.AsString(m.Argument(i))
}

// DataMessage carries a handler name followed by values, such as
// "@setDataFrame", "onMetaData", metadata.
type DataMessage struct {
	Encoding uint8
	Handler  string
	Values   []amf.Value
}

func (m *DataMessage) Type() MessageType {
	if m.Encoding == amf.Version3 {
		return DataMessageAMF3
	}
	return DataMessageAMF0
}

func (m *DataMessage) Marshal(ctx *SerializationContext) ([]byte, error) {
	values := append([]amf.Value{amf.String(m.Handler)}, m.Values...)
	return marshalValues(ctx, m.Encoding, values)
}

// Metadata returns the stream metadata carried by an onMetaData or
// @setDataFrame message, unwrapping the @setDataFrame envelope.
func (m *DataMessage) Metadata() (amf.Value, bool) {
	values := m.Values
	switch m.Handler {
	case DataSetDataFrame:
		if len(values) < 1 {
			return nil, false
		}
		if name, _ := amf.AsString(values[0]); name != DataOnMetaData {
			return nil, false
		}
		values = values[1:]
	case DataOnMetaData:
	default:
		return nil, false
	}
	if len(values) < 1 {
		return nil, false
	}
	return amf.Unwrap(values[0]), true
}

// marshalValues writes values as AMF0. AMF3 payloads start with a zero
// format byte and escape every value after the first into AMF3.
func marshalValues(ctx *SerializationContext, encoding uint8, values []amf.Value) ([]byte, error) {
	if ctx == nil {
		ctx = NewSerializationContext(nil)
	}
	enc := ctx.AMF0Encoder

	var out []byte
	if encoding == amf.Version3 {
		out = append(out, 0)
	}
	var err error
	for i, v := range values {
		if encoding == amf.Version3 && i > 0 {
			if _, ok := v.(amf.AVMPlus); !ok {
				v = amf.AVMPlus{Value: v}
			}
		}
		if out, err = enc.Append(out, v); err != nil {
			return nil, errors.Wrapf(err, "marshal value %d", i)
		}
	}
	return out, nil
}

func unmarshalValues(ctx *SerializationContext, encoding uint8, payload []byte) ([]amf.Value, error) {
	if ctx == nil {
		ctx = NewSerializationContext(nil)
	}
	if encoding == amf.Version3 && len(payload) > 0 && payload[0] == 0 {
		payload = payload[1:]
	}
	return ctx.AMF0Decoder.DecodeAll(payload)
}

func encodingOf(t MessageType) uint8 {
	if t == CommandMessageAMF3 || t == DataMessageAMF3 {
		return amf.Version3
	}
	return amf.Version0
}

func decodeCommand(h MessageHeader, payload []byte, ctx *SerializationContext) (Body, int, error) {
	enc := encodingOf(h.Type)
	values, err := unmarshalValues(ctx, enc, payload)
	if err != nil {
		return nil, 0, errors.Wrap(err, "decode command")
	}
	if len(values) < 2 {
		return nil, 0, errors.Wrapf(amf.ErrMalformed, "command with %d values", len(values))
	}
	name, ok := amf.AsString(values[0])
	if !ok {
		return nil, 0, errors.Wrap(amf.ErrMalformed, "command name is not a string")
	}
	tid, ok := amf.AsNumber(values[1])
	if !ok {
		return nil, 0, errors.Wrapf(amf.ErrMalformed, "command %s: transaction id is not a number", name)
	}

	m := &CommandMessage{Encoding: enc, Name: name, TransactionID: tid, CommandObject: amf.Null{}}
	if len(values) > 2 {
		m.CommandObject = amf.Unwrap(values[2])
	}
	if len(values) > 3 {
		m.Arguments = values[3:]
	}
	return m, len(payload), nil
}

func decodeData(h MessageHeader, payload []byte, ctx *SerializationContext) (Body, int, error) {
	enc := encodingOf(h.Type)
	values, err := unmarshalValues(ctx, enc, payload)
	if err != nil {
		return nil, 0, errors.Wrap(err, "decode data message")
	}
	if len(values) < 1 {
		return nil, 0, errors.Wrap(amf.ErrMalformed, "empty data message")
	}
	handler, ok := amf.AsString(values[0])
	if !ok {
		return nil, 0, errors.Wrap(amf.ErrMalformed, "data message handler is not a string")
	}
	return &DataMessage{Encoding: enc, Handler: handler, Values: values[1:]}, len(payload), nil
}

// StatusInfo builds the info object of an onStatus call.
func StatusInfo(level, code, description string) *amf.Object {
	return amf.NewObject(
		amf.Field{Key: "level", Value: amf.String(level)},
		amf.Field{Key: "code", Value: amf.String(code)},
		amf.Field{Key: "description", Value: amf.String(description)},
	)
}

func newResult(tid float64, obj amf.Value, args ...amf.Value) *CommandMessage {
	return &CommandMessage{Name: CommandResult, TransactionID: tid, CommandObject: obj, Arguments: args}
}

func newError(tid float64, info amf.Value) *CommandMessage {
	return &CommandMessage{Name: CommandError, TransactionID: tid, CommandObject: amf.Null{}, Arguments: []amf.Value{info}}
}

func newStatus(info amf.Value) *CommandMessage {
	return &CommandMessage{Name: CommandOnStatus, CommandObject: amf.Null{}, Arguments: []amf.Value{info}}
}
