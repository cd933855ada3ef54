package amf3

import (
	"github.com/pkg/errors"
	"github.com/rtmpengine/rtmp/amf"
	"github.com/rtmpengine/rtmp/internal/netbits"
)

// Encoder writes AMF3 values. Like Decoder, its reference tables span every
// value written until Reset.
type Encoder struct {
	buf         []byte
	strings     map[string]int
	objects     map[amf.Value]int
	objectCount int
	traits      map[string]int
}

func NewEncoder() *Encoder {
	e := &Encoder{}
	e.Reset()
	return e
}

// Reset clears the reference tables before the next independent message.
func (e *Encoder) Reset() {
	e.strings = make(map[string]int)
	e.objects = make(map[amf.Value]int)
	e.objectCount = 0
	e.traits = make(map[string]int)
}

// Append encodes v onto the end of dst.
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

// Encode returns v in its AMF3 form.
// Integers greater than MaxInt or less than MinInt are encoded as doubles.
func (e *Encoder) Encode(v amf.Value) ([]byte, error) {
	return e.Append(nil, v)
}

// Encode writes a single value with fresh reference tables.
func Encode(v amf.Value) ([]byte, error) {
	return NewEncoder().Encode(v)
}

func (e *Encoder) u29(v uint32) error {
	var err error
	e.buf, err = AppendU29(e.buf, v)
	return err
}

func (e *Encoder) double(f float64) {
	var p [8]byte
	netbits.PutFloat64(p[:], f)
	e.buf = append(e.buf, p[:]...)
}

// reference writes a back reference if v was already written and otherwise
// reserves the next object index for it.
func (e *Encoder) reference(v amf.Value) (bool, error) {
	if idx, ok := e.objects[v]; ok {
		return true, e.u29(uint32(idx) << 1)
	}
	e.objects[v] = e.objectCount
	e.objectCount++
	return false, nil
}

// reserve takes an object index for a value that cannot be referenced by
// identity. The decoder still counts it.
func (e *Encoder) reserve() {
	e.objectCount++
}

func (e *Encoder) writeValue(v amf.Value) error {
	switch v := v.(type) {
	case nil, amf.Null:
		e.buf = append(e.buf, TypeNull)
	case amf.Undefined, amf.Unsupported:
		e.buf = append(e.buf, TypeUndefined)
	case amf.Bool:
		if v {
			e.buf = append(e.buf, TypeTrue)
		} else {
			e.buf = append(e.buf, TypeFalse)
		}
	case amf.Integer:
		if int(v) < MinInt || int(v) > MaxInt {
			e.buf = append(e.buf, TypeDouble)
			e.double(float64(v))
			return nil
		}
		e.buf = append(e.buf, TypeInteger)
		return e.u29(uint32(v) & MaxU29)
	case amf.Number:
		e.buf = append(e.buf, TypeDouble)
		e.double(float64(v))
	case amf.String:
		e.buf = append(e.buf, TypeString)
		return e.writeString(string(v))
	case amf.XMLDocument:
		e.buf = append(e.buf, TypeXmlDoc)
		return e.writeInlineBytes([]byte(v))
	case amf.XML:
		e.buf = append(e.buf, TypeXml)
		return e.writeInlineBytes([]byte(v))
	case amf.ByteArray:
		e.buf = append(e.buf, TypeByteArray)
		return e.writeInlineBytes(v)
	case amf.Date:
		e.buf = append(e.buf, TypeDate)
		e.reserve()
		if err := e.u29(flagInline); err != nil {
			return err
		}
		e.double(v.Millis())
	case *amf.Array:
		return e.writeArray(v, v.Associative, v.Dense)
	case *amf.ECMAArray:
		return e.writeArray(v, v.Fields, nil)
	case *amf.StrictArray:
		return e.writeArray(v, nil, v.Items)
	case *amf.Object:
		t := &traits{dynamic: v.IsDynamic || len(v.Dynamic) > 0, members: fieldKeys(v.Fields)}
		return e.writeObject(v, t, v.Fields, v.Dynamic)
	case *amf.TypedObject:
		t := &traits{className: v.ClassName, dynamic: len(v.Dynamic) > 0, members: fieldKeys(v.Fields)}
		return e.writeObject(v, t, v.Fields, v.Dynamic)
	case *amf.Externalizable:
		return e.writeExternalizable(v)
	case *amf.VectorInt:
		return e.writeVector(v, TypeVectorInt, len(v.Items), v.Fixed, func() error {
			var p [4]byte
			for _, i := range v.Items {
				netbits.PutUint32(p[:], uint32(i))
				e.buf = append(e.buf, p[:]...)
			}
			return nil
		})
	case *amf.VectorUint:
		return e.writeVector(v, TypeVectorUint, len(v.Items), v.Fixed, func() error {
			var p [4]byte
			for _, i := range v.Items {
				netbits.PutUint32(p[:], i)
				e.buf = append(e.buf, p[:]...)
			}
			return nil
		})
	case *amf.VectorDouble:
		return e.writeVector(v, TypeVectorDouble, len(v.Items), v.Fixed, func() error {
			for _, f := range v.Items {
				e.double(f)
			}
			return nil
		})
	case *amf.VectorObject:
		return e.writeVector(v, TypeVectorObject, len(v.Items), v.Fixed, func() error {
			typeName := v.TypeName
			if typeName == "" {
				typeName = "*"
			}
			if err := e.writeString(typeName); err != nil {
				return err
			}
			for _, item := range v.Items {
				if err := e.writeValue(item); err != nil {
					return err
				}
			}
			return nil
		})
	case *amf.Dictionary:
		return e.writeDictionary(v)
	case amf.AVMPlus:
		return e.writeValue(v.Value)
	default:
		return errors.Wrapf(amf.ErrUnsupportedValue, "amf3: %T", v)
	}
	return nil
}

// writeString writes a string body without a marker. The empty string is
// never entered into the table.
func (e *Encoder) writeString(s string) error {
	if s == "" {
		e.buf = append(e.buf, UTF8Empty)
		return nil
	}
	if idx, ok := e.strings[s]; ok {
		return e.u29(uint32(idx) << 1)
	}
	if err := e.u29(uint32(len(s))<<1 | flagInline); err != nil {
		return err
	}
	e.strings[s] = len(e.strings)
	e.buf = append(e.buf, s...)
	return nil
}

func (e *Encoder) writeInlineBytes(p []byte) error {
	e.reserve()
	if err := e.u29(uint32(len(p))<<1 | flagInline); err != nil {
		return err
	}
	e.buf = append(e.buf, p...)
	return nil
}

func (e *Encoder) writeArray(ref amf.Value, assoc []amf.Field, dense []amf.Value) error {
	e.buf = append(e.buf, TypeArray)
	if done, err := e.reference(ref); done || err != nil {
		return err
	}
	if err := e.u29(uint32(len(dense))<<1 | flagInline); err != nil {
		return err
	}
	for _, f := range assoc {
		if f.Key == "" {
			return errors.Wrap(amf.ErrUnsupportedValue, "amf3: array key cannot be empty")
		}
		if err := e.writeString(f.Key); err != nil {
			return err
		}
		if err := e.writeValue(f.Value); err != nil {
			return err
		}
	}
	e.buf = append(e.buf, UTF8Empty)
	for _, v := range dense {
		if err := e.writeValue(v); err != nil {
			return err
		}
	}
	return nil
}

// writeTraits writes the object header, either a trait reference or the
// full inline trait definition.
func (e *Encoder) writeTraits(t *traits) error {
	key := t.key()
	if idx, ok := e.traits[key]; ok {
		return e.u29(uint32(idx)<<2 | flagInline)
	}
	e.traits[key] = len(e.traits)

	h := uint32(len(t.members))<<4 | flagInlineTraits | flagInline
	if t.externalizable {
		h |= flagExternalizable
	}
	if t.dynamic {
		h |= flagDynamic
	}
	if err := e.u29(h); err != nil {
		return err
	}
	if err := e.writeString(t.className); err != nil {
		return err
	}
	for _, m := range t.members {
		if err := e.writeString(m); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeObject(ref amf.Value, t *traits, fields, dynamic []amf.Field) error {
	e.buf = append(e.buf, TypeObject)
	if done, err := e.reference(ref); done || err != nil {
		return err
	}
	if err := e.writeTraits(t); err != nil {
		return err
	}
	for _, f := range fields {
		if err := e.writeValue(f.Value); err != nil {
			return err
		}
	}
	if !t.dynamic {
		return nil
	}
	for _, f := range dynamic {
		if f.Key == "" {
			return errors.Wrap(amf.ErrUnsupportedValue, "amf3: dynamic member name cannot be empty")
		}
		if err := e.writeString(f.Key); err != nil {
			return err
		}
		if err := e.writeValue(f.Value); err != nil {
			return err
		}
	}
	e.buf = append(e.buf, UTF8Empty)
	return nil
}

func (e *Encoder) writeExternalizable(v *amf.Externalizable) error {
	if v.ClassName == "" || v.Object == nil {
		return errors.Wrap(amf.ErrUnsupportedValue, "amf3: externalizable needs a class name and an object")
	}
	e.buf = append(e.buf, TypeObject)
	if done, err := e.reference(v); done || err != nil {
		return err
	}
	if err := e.writeTraits(&traits{className: v.ClassName, externalizable: true}); err != nil {
		return err
	}
	return v.Object.WriteExternal(&externalWriter{e: e})
}

func (e *Encoder) writeVector(ref amf.Value, marker byte, n int, fixed bool, items func() error) error {
	e.buf = append(e.buf, marker)
	if done, err := e.reference(ref); done || err != nil {
		return err
	}
	if err := e.u29(uint32(n)<<1 | flagInline); err != nil {
		return err
	}
	if fixed {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
	return items()
}

func (e *Encoder) writeDictionary(v *amf.Dictionary) error {
	e.buf = append(e.buf, TypeDictionary)
	if done, err := e.reference(v); done || err != nil {
		return err
	}
	if err := e.u29(uint32(len(v.Entries))<<1 | flagInline); err != nil {
		return err
	}
	if v.WeakKeys {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
	for _, entry := range v.Entries {
		if err := e.writeValue(entry.Key); err != nil {
			return err
		}
		if err := e.writeValue(entry.Value); err != nil {
			return err
		}
	}
	return nil
}

func fieldKeys(fields []amf.Field) []string {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.Key
	}
	return keys
}

type externalWriter struct {
	e *Encoder
}

func (w *externalWriter) WriteValue(v amf.Value) error {
	return w.e.writeValue(v)
}

func (w *externalWriter) WriteBytes(b []byte) {
	w.e.buf = append(w.e.buf, b...)
}
