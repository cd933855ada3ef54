package amf0

import (
	"github.com/pkg/errors"
	"github.com/rtmpengine/rtmp/amf"
	"github.com/rtmpengine/rtmp/amf/amf3"
	"github.com/rtmpengine/rtmp/internal/netbits"
)

// Encoder writes AMF0 values. Complex values written twice in one message
// are sent as a back reference the second time.
type Encoder struct {
	buf     []byte
	refs    map[amf.Value]int
	nrefs   int
	avmplus *amf3.Encoder
}

func NewEncoder() *Encoder {
	return &Encoder{refs: make(map[amf.Value]int)}
}

func (e *Encoder) Reset() {
	e.refs = make(map[amf.Value]int)
	e.nrefs = 0
	if e.avmplus != nil {
		e.avmplus.Reset()
	}
}

// Append encodes v onto the end of dst. Values that have no AMF0 form
// (vectors, byte arrays, dictionaries, AMF3 arrays, externalizables, XML)
// are escaped into AMF3 with the AVM+ marker.
func (e *Encoder) Append(dst []byte, v amf.Value) ([]byte, error) {
	e.buf = dst
	err := e.writeValue(v)
	out := e.buf
	e.buf = nil
	if err != nil {
		return dst, err
	}
	return out, nil
}

func (e *Encoder) Encode(v amf.Value) ([]byte, error) {
	return e.Append(nil, v)
}

// Encode writes v with a fresh context.
func Encode(v amf.Value) ([]byte, error) {
	return NewEncoder().Encode(v)
}

// EncodeAll writes each value in order sharing one context.
func EncodeAll(values ...amf.Value) ([]byte, error) {
	e := NewEncoder()
	var out []byte
	var err error
	for _, v := range values {
		if out, err = e.Append(out, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *Encoder) writeValue(v amf.Value) error {
	switch v := v.(type) {
	case nil, amf.Null:
		e.buf = append(e.buf, TypeNull)
	case amf.Undefined:
		e.buf = append(e.buf, TypeUndefined)
	case amf.Unsupported:
		e.buf = append(e.buf, TypeUnsupported)
	case amf.Number:
		e.number(float64(v))
	case amf.Integer:
		e.number(float64(v))
	case amf.Bool:
		if v {
			e.buf = append(e.buf, TypeBoolean, 1)
		} else {
			e.buf = append(e.buf, TypeBoolean, 0)
		}
	case amf.String:
		e.string(string(v))
	case amf.XMLDocument:
		e.buf = append(e.buf, TypeXMLDocument)
		e.longString(string(v))
	case amf.Date:
		e.buf = append(e.buf, TypeDate)
		var p [10]byte
		netbits.PutFloat64(p[:], v.Millis())
		netbits.PutUint16(p[8:], uint16(v.TimeZone))
		e.buf = append(e.buf, p[:]...)
	case *amf.Object:
		if e.reference(v) {
			return nil
		}
		e.buf = append(e.buf, TypeObject)
		if err := e.properties(v.Fields); err != nil {
			return err
		}
		return e.propertiesEnd(v.Dynamic)
	case *amf.TypedObject:
		if e.reference(v) {
			return nil
		}
		e.buf = append(e.buf, TypeTypedObject)
		e.shortString(v.ClassName)
		if err := e.properties(v.Fields); err != nil {
			return err
		}
		return e.propertiesEnd(v.Dynamic)
	case *amf.ECMAArray:
		if e.reference(v) {
			return nil
		}
		e.buf = append(e.buf, TypeECMAArray)
		var p [4]byte
		netbits.PutUint32(p[:], uint32(len(v.Fields)))
		e.buf = append(e.buf, p[:]...)
		return e.propertiesEnd(v.Fields)
	case *amf.StrictArray:
		if e.reference(v) {
			return nil
		}
		e.buf = append(e.buf, TypeStrictArray)
		var p [4]byte
		netbits.PutUint32(p[:], uint32(len(v.Items)))
		e.buf = append(e.buf, p[:]...)
		for _, item := range v.Items {
			if err := e.writeValue(item); err != nil {
				return err
			}
		}
	case amf.AVMPlus:
		return e.avm(v.Value)
	case amf.XML, amf.ByteArray, *amf.Array, *amf.Externalizable, *amf.Dictionary,
		*amf.VectorInt, *amf.VectorUint, *amf.VectorDouble, *amf.VectorObject:
		return e.avm(v)
	default:
		return errors.Wrapf(amf.ErrUnsupportedValue, "amf0: %T", v)
	}
	return nil
}

func (e *Encoder) avm(v amf.Value) error {
	if e.avmplus == nil {
		e.avmplus = amf3.NewEncoder()
	}
	e.buf = append(e.buf, TypeAVMPlus)
	out, err := e.avmplus.Append(e.buf, v)
	if err != nil {
		return err
	}
	e.buf = out
	return nil
}

// reference writes a back reference when v was already written. Otherwise v
// takes the next index, matching the order the decoder assigns them in.
func (e *Encoder) reference(v amf.Value) bool {
	if idx, ok := e.refs[v]; ok {
		e.buf = append(e.buf, TypeReference, byte(idx>>8), byte(idx))
		return true
	}
	if e.nrefs < maxReferences {
		e.refs[v] = e.nrefs
	}
	e.nrefs++
	return false
}

func (e *Encoder) number(f float64) {
	var p [9]byte
	p[0] = TypeNumber
	netbits.PutFloat64(p[1:], f)
	e.buf = append(e.buf, p[:]...)
}

func (e *Encoder) string(s string) {
	if len(s) <= maxShortString {
		e.buf = append(e.buf, TypeString)
		e.shortString(s)
		return
	}
	// Strings that require more than 65535 bytes use TypeLongString
	e.buf = append(e.buf, TypeLongString)
	e.longString(s)
}

func (e *Encoder) shortString(s string) {
	var p [2]byte
	netbits.PutUint16(p[:], uint16(len(s)))
	e.buf = append(e.buf, p[:]...)
	e.buf = append(e.buf, s...)
}

func (e *Encoder) longString(s string) {
	var p [4]byte
	netbits.PutUint32(p[:], uint32(len(s)))
	e.buf = append(e.buf, p[:]...)
	e.buf = append(e.buf, s...)
}

func (e *Encoder) properties(fields []amf.Field) error {
	for _, f := range fields {
		if f.Key == "" || len(f.Key) > maxShortString {
			return errors.Wrapf(amf.ErrUnsupportedValue, "amf0: property name of length %d", len(f.Key))
		}
		e.shortString(f.Key)
		if err := e.writeValue(f.Value); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) propertiesEnd(fields []amf.Field) error {
	if err := e.properties(fields); err != nil {
		return err
	}
	e.buf = append(e.buf, 0x00, 0x00, TypeObjectEnd)
	return nil
}
