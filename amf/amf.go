// Package amf holds the value model shared by the AMF0 and AMF3 codecs.
//
// Value is a closed sum type: every concrete AMF shape is one of the types
// declared in this package, and callers inspect values with a type switch.
package amf

import "time"

const (
	Version0 uint8 = 0
	Version3 uint8 = 3
)

// MaxDepth bounds how deeply a decoder follows nested values, counting
// both AMF0 and the AMF3 values escaped inside it.
const MaxDepth = 1024

// Value is any AMF value. The set of implementations is closed.
type Value interface {
	amfValue()
}

type (
	Undefined   struct{}
	Null        struct{}
	Unsupported struct{}
	Bool        bool
	Number      float64
	// Integer is an AMF3 29-bit signed integer.
	Integer     int32
	String      string
	XMLDocument string
	// XML is the AMF3 E4X xml type.
	XML         string
	ByteArray   []byte
)

// Date is a point in time with millisecond precision. TimeZone is the AMF0
// timezone field, which peers are expected to leave at zero.
type Date struct {
	Time     time.Time
	TimeZone int16
}

// NewDate truncates t to the millisecond and keeps it in UTC so decoded dates
// compare equal to the value that was encoded.
func NewDate(t time.Time) Date {
	return Date{Time: time.UnixMilli(t.UnixMilli()).UTC()}
}

// DateFromMillis builds a Date from a unix millisecond count.
func DateFromMillis(ms float64) Date {
	return Date{Time: time.UnixMilli(int64(ms)).UTC()}
}

// Millis returns the unix millisecond count stored on the wire.
func (d Date) Millis() float64 {
	return float64(d.Time.UnixMilli())
}

type Field struct {
	Key   string
	Value Value
}

// Object is an anonymous object. Fields are the sealed members in order,
// Dynamic the key/value pairs that follow them when IsDynamic is set.
type Object struct {
	Fields    []Field
	Dynamic   []Field
	IsDynamic bool
}

func NewObject(fields ...Field) *Object {
	return &Object{Fields: fields}
}

// Get returns the first member named key, searching sealed members first.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return nil, false
	}
	if v, ok := getField(o.Fields, key); ok {
		return v, true
	}
	return getField(o.Dynamic, key)
}

// Set replaces the member named key or appends it to the sealed members.
func (o *Object) Set(key string, v Value) {
	o.Fields = setField(o.Fields, key, v)
}

// TypedObject is an object bound to a class name.
type TypedObject struct {
	ClassName string
	Fields    []Field
	Dynamic   []Field
}

func (o *TypedObject) Get(key string) (Value, bool) {
	if v, ok := getField(o.Fields, key); ok {
		return v, true
	}
	return getField(o.Dynamic, key)
}

// Externalizer is implemented by class types that serialize themselves.
type Externalizer interface {
	WriteExternal(w ExternalWriter) error
	ReadExternal(r ExternalReader) error
}

type ExternalWriter interface {
	WriteValue(v Value) error
	WriteBytes(b []byte)
}

type ExternalReader interface {
	ReadValue() (Value, error)
	ReadBytes(n int) ([]byte, error)
}

type Externalizable struct {
	ClassName string
	Object    Externalizer
}

// ECMAArray is the AMF0 associative array.
type ECMAArray struct {
	Fields []Field
}

func (a *ECMAArray) Get(key string) (Value, bool) {
	return getField(a.Fields, key)
}

// StrictArray is the AMF0 dense array.
type StrictArray struct {
	Items []Value
}

// Array is the AMF3 array: an associative part followed by a dense part.
type Array struct {
	Associative []Field
	Dense       []Value
}

type DictionaryEntry struct {
	Key   Value
	Value Value
}

type Dictionary struct {
	WeakKeys bool
	Entries  []DictionaryEntry
}

// AVMPlus wraps a value that travels inside an AMF0 stream in AMF3 form.
type AVMPlus struct {
	Value Value
}

func (Undefined) amfValue() {}
func (Null) amfValue() {}
func (Unsupported) amfValue() {}
func (Bool) amfValue() {}
func (Number) amfValue() {}
func (Integer) amfValue() {}
func (String) amfValue() {}
func (XMLDocument) amfValue() {}
func (XML) amfValue() {}
func (ByteArray) amfValue() {}
func (Date) amfValue() {}
func (*Object) amfValue() {}
func (*TypedObject) amfValue() {}
func (*Externalizable) amfValue() {}
func (*ECMAArray) amfValue() {}
func (*StrictArray) amfValue() {}
func (*Array) amfValue() {}
func (*VectorInt) amfValue() {}
func (*VectorUint) amfValue() {}
func (*VectorDouble) amfValue() {}
func (*VectorObject) amfValue() {}
func (*Dictionary) amfValue() {}
func (AVMPlus) amfValue() {}

func getField(fields []Field, key string) (Value, bool) {
	for _, f := range fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func setField(fields []Field, key string, v Value) []Field {
	for i := range fields {
		if fields[i].Key == key {
			fields[i].Value = v
			return fields
		}
	}
	return append(fields, Field{Key: key, Value: v})
}
