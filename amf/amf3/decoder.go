package amf3

import (
	"math"

	"github.com/pkg/errors"
	"github.com/rtmpengine/rtmp/amf"
	"github.com/rtmpengine/rtmp/internal/netbits"
)

// Decoder reads AMF3 values. Its reference tables live until Reset, so one
// Decoder serves exactly one message.
type Decoder struct {
	registry *Registry
	strings  []string
	objects  []amf.Value
	traits   []*traits
	depth    int
}

func NewDecoder(registry *Registry) *Decoder {
	return &Decoder{registry: registry}
}

// Reset clears the reference tables before the next independent message.
func (d *Decoder) Reset() {
	d.strings = d.strings[:0]
	d.objects = d.objects[:0]
	d.traits = d.traits[:0]
}

// Decode reads one value from the start of b. On failure it returns a zero
// byte count and leaves the result nil.
func (d *Decoder) Decode(b []byte) (amf.Value, int, error) {
	return d.DecodeNested(b, 0)
}

// DecodeNested is Decode for a value that already sits depth levels deep
// in an enclosing AMF0 value.
func (d *Decoder) DecodeNested(b []byte, depth int) (amf.Value, int, error) {
	r := &reader{b: b}
	d.depth = depth
	v, err := d.readValue(r)
	if err != nil {
		return nil, 0, err
	}
	return v, r.pos, nil
}

// Decode reads a single value with fresh tables and no registered classes.
func Decode(b []byte) (amf.Value, int, error) {
	return NewDecoder(nil).Decode(b)
}

type reader struct {
	b   []byte
	pos int
}

func (r *reader) need(n int) error {
	if n < 0 || len(r.b)-r.pos < n {
		return errors.Wrapf(amf.ErrMalformed, "amf3: need %d bytes at offset %d, have %d", n, r.pos, len(r.b)-r.pos)
	}
	return nil
}

func (r *reader) byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	p := r.b[r.pos : r.pos+n]
	r.pos += n
	return p, nil
}

func (r *reader) u29() (uint32, error) {
	v, n, err := ReadU29(r.b[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *reader) double() (float64, error) {
	p, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return netbits.Float64(p), nil
}

// header reads the U29 that precedes every reference-capable value. It
// returns the remaining bits and whether the value is defined inline.
func (r *reader) header() (uint32, bool, error) {
	h, err := r.u29()
	if err != nil {
		return 0, false, err
	}
	return h >> 1, h&flagInline != 0, nil
}

func (d *Decoder) readValue(r *reader) (amf.Value, error) {
	if d.depth >= amf.MaxDepth {
		return nil, errors.Wrap(amf.ErrMalformed, "amf3: nesting too deep")
	}
	d.depth++
	defer func() { d.depth-- }()

	marker, err := r.byte()
	if err != nil {
		return nil, err
	}

	switch marker {
	case TypeUndefined:
		return amf.Undefined{}, nil
	case TypeNull:
		return amf.Null{}, nil
	case TypeFalse:
		return amf.Bool(false), nil
	case TypeTrue:
		return amf.Bool(true), nil
	case TypeInteger:
		v, err := r.u29()
		if err != nil {
			return nil, err
		}
		// sign extend from 29 bits
		if v&0x10000000 != 0 {
			return amf.Integer(int32(v) - 0x20000000), nil
		}
		return amf.Integer(v), nil
	case TypeDouble:
		f, err := r.double()
		if err != nil {
			return nil, err
		}
		return amf.Number(f), nil
	case TypeString:
		s, err := d.readString(r)
		if err != nil {
			return nil, err
		}
		return amf.String(s), nil
	case TypeXmlDoc, TypeXml:
		return d.readXML(r, marker)
	case TypeDate:
		return d.readDate(r)
	case TypeArray:
		return d.readArray(r)
	case TypeObject:
		return d.readObject(r)
	case TypeByteArray:
		return d.readByteArray(r)
	case TypeVectorInt, TypeVectorUint, TypeVectorDouble, TypeVectorObject:
		return d.readVector(r, marker)
	case TypeDictionary:
		return d.readDictionary(r)
	default:
		return nil, errors.Wrapf(amf.ErrUnsupportedMarker, "amf3: marker 0x%02x at offset %d", marker, r.pos-1)
	}
}

func (d *Decoder) readString(r *reader) (string, error) {
	h, inline, err := r.header()
	if err != nil {
		return "", err
	}
	if !inline {
		if int(h) >= len(d.strings) {
			return "", errors.Wrapf(amf.ErrOutOfRangeReference, "amf3: string %d, table has %d", h, len(d.strings))
		}
		return d.strings[h], nil
	}
	if h == 0 {
		return "", nil
	}
	p, err := r.bytes(int(h))
	if err != nil {
		return "", err
	}
	s := string(p)
	d.strings = append(d.strings, s)
	return s, nil
}

func (d *Decoder) objectRef(idx uint32) (amf.Value, error) {
	if int(idx) >= len(d.objects) {
		return nil, errors.Wrapf(amf.ErrOutOfRangeReference, "amf3: object %d, table has %d", idx, len(d.objects))
	}
	return d.objects[idx], nil
}

func (d *Decoder) remember(v amf.Value) int {
	d.objects = append(d.objects, v)
	return len(d.objects) - 1
}

func (d *Decoder) readXML(r *reader, marker byte) (amf.Value, error) {
	h, inline, err := r.header()
	if err != nil {
		return nil, err
	}
	if !inline {
		return d.objectRef(h)
	}
	p, err := r.bytes(int(h))
	if err != nil {
		return nil, err
	}
	var v amf.Value = amf.XML(p)
	if marker == TypeXmlDoc {
		v = amf.XMLDocument(p)
	}
	d.remember(v)
	return v, nil
}

func (d *Decoder) readDate(r *reader) (amf.Value, error) {
	h, inline, err := r.header()
	if err != nil {
		return nil, err
	}
	if !inline {
		return d.objectRef(h)
	}
	ms, err := r.double()
	if err != nil {
		return nil, err
	}
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return nil, errors.Wrap(amf.ErrMalformed, "amf3: date is not finite")
	}
	v := amf.DateFromMillis(ms)
	d.remember(v)
	return v, nil
}

func (d *Decoder) readByteArray(r *reader) (amf.Value, error) {
	h, inline, err := r.header()
	if err != nil {
		return nil, err
	}
	if !inline {
		return d.objectRef(h)
	}
	p, err := r.bytes(int(h))
	if err != nil {
		return nil, err
	}
	v := amf.ByteArray(append([]byte(nil), p...))
	d.remember(v)
	return v, nil
}

func (d *Decoder) readArray(r *reader) (amf.Value, error) {
	h, inline, err := r.header()
	if err != nil {
		return nil, err
	}
	if !inline {
		return d.objectRef(h)
	}
	// every dense item takes at least one byte
	if err := r.need(int(h)); err != nil {
		return nil, err
	}

	arr := &amf.Array{}
	d.remember(arr)
	for {
		key, err := d.readString(r)
		if err != nil {
			return nil, err
		}
		if key == "" {
			break
		}
		v, err := d.readValue(r)
		if err != nil {
			return nil, err
		}
		arr.Associative = append(arr.Associative, amf.Field{Key: key, Value: v})
	}
	if h > 0 {
		arr.Dense = make([]amf.Value, 0, h)
	}
	for i := uint32(0); i < h; i++ {
		v, err := d.readValue(r)
		if err != nil {
			return nil, err
		}
		arr.Dense = append(arr.Dense, v)
	}
	return arr, nil
}

func (d *Decoder) readTraits(r *reader, h uint32) (*traits, error) {
	// h has already lost the inline object bit
	if h&(flagInlineTraits>>1) == 0 {
		idx := h >> 1
		if int(idx) >= len(d.traits) {
			return nil, errors.Wrapf(amf.ErrOutOfRangeReference, "amf3: traits %d, table has %d", idx, len(d.traits))
		}
		return d.traits[idx], nil
	}

	t := &traits{
		externalizable: h&(flagExternalizable>>1) != 0,
		dynamic:        h&(flagDynamic>>1) != 0,
	}
	count := h >> 3
	name, err := d.readString(r)
	if err != nil {
		return nil, err
	}
	t.className = name
	if err := r.need(int(count)); err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		m, err := d.readString(r)
		if err != nil {
			return nil, err
		}
		t.members = append(t.members, m)
	}
	d.traits = append(d.traits, t)
	return t, nil
}

func (d *Decoder) readObject(r *reader) (amf.Value, error) {
	h, inline, err := r.header()
	if err != nil {
		return nil, err
	}
	if !inline {
		return d.objectRef(h)
	}
	t, err := d.readTraits(r, h)
	if err != nil {
		return nil, err
	}

	if t.externalizable {
		ext, err := d.registry.externalizer(t.className)
		if err != nil {
			return nil, err
		}
		v := &amf.Externalizable{ClassName: t.className, Object: ext}
		d.remember(v)
		if err := ext.ReadExternal(&externalReader{d: d, r: r}); err != nil {
			return nil, errors.Wrapf(amf.ErrMalformed, "amf3: %s: %s", t.className, err)
		}
		return v, nil
	}

	if t.className != "" {
		if err := d.registry.checkTyped(t.className, t.members); err != nil {
			return nil, err
		}
		obj := &amf.TypedObject{ClassName: t.className}
		d.remember(obj)
		if obj.Fields, err = d.readMembers(r, t.members); err != nil {
			return nil, err
		}
		if t.dynamic {
			if obj.Dynamic, err = d.readDynamic(r); err != nil {
				return nil, err
			}
		}
		return obj, nil
	}

	obj := &amf.Object{IsDynamic: t.dynamic}
	d.remember(obj)
	if obj.Fields, err = d.readMembers(r, t.members); err != nil {
		return nil, err
	}
	if t.dynamic {
		if obj.Dynamic, err = d.readDynamic(r); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func (d *Decoder) readMembers(r *reader, members []string) ([]amf.Field, error) {
	if len(members) == 0 {
		return nil, nil
	}
	fields := make([]amf.Field, 0, len(members))
	for _, m := range members {
		v, err := d.readValue(r)
		if err != nil {
			return nil, err
		}
		fields = append(fields, amf.Field{Key: m, Value: v})
	}
	return fields, nil
}

func (d *Decoder) readDynamic(r *reader) ([]amf.Field, error) {
	var fields []amf.Field
	for {
		key, err := d.readString(r)
		if err != nil {
			return nil, err
		}
		if key == "" {
			return fields, nil
		}
		v, err := d.readValue(r)
		if err != nil {
			return nil, err
		}
		fields = append(fields, amf.Field{Key: key, Value: v})
	}
}

func (d *Decoder) readVector(r *reader, marker byte) (amf.Value, error) {
	h, inline, err := r.header()
	if err != nil {
		return nil, err
	}
	if !inline {
		return d.objectRef(h)
	}
	fixed, err := r.byte()
	if err != nil {
		return nil, err
	}
	n := int(h)

	switch marker {
	case TypeVectorInt:
		p, err := r.bytes(4 * n)
		if err != nil {
			return nil, err
		}
		v := &amf.VectorInt{}
		d.remember(v)
		for i := 0; i < n; i++ {
			v.Items = append(v.Items, int32(netbits.Uint32(p[4*i:])))
		}
		v.Fixed = fixed != 0
		return v, nil
	case TypeVectorUint:
		p, err := r.bytes(4 * n)
		if err != nil {
			return nil, err
		}
		v := &amf.VectorUint{}
		d.remember(v)
		for i := 0; i < n; i++ {
			v.Items = append(v.Items, netbits.Uint32(p[4*i:]))
		}
		v.Fixed = fixed != 0
		return v, nil
	case TypeVectorDouble:
		p, err := r.bytes(8 * n)
		if err != nil {
			return nil, err
		}
		v := &amf.VectorDouble{}
		d.remember(v)
		for i := 0; i < n; i++ {
			v.Items = append(v.Items, netbits.Float64(p[8*i:]))
		}
		v.Fixed = fixed != 0
		return v, nil
	default:
		typeName, err := d.readString(r)
		if err != nil {
			return nil, err
		}
		if err := r.need(n); err != nil {
			return nil, err
		}
		v := &amf.VectorObject{TypeName: typeName}
		d.remember(v)
		for i := 0; i < n; i++ {
			item, err := d.readValue(r)
			if err != nil {
				return nil, err
			}
			v.Items = append(v.Items, item)
		}
		v.Fixed = fixed != 0
		return v, nil
	}
}

func (d *Decoder) readDictionary(r *reader) (amf.Value, error) {
	h, inline, err := r.header()
	if err != nil {
		return nil, err
	}
	if !inline {
		return d.objectRef(h)
	}
	weak, err := r.byte()
	if err != nil {
		return nil, err
	}
	if err := r.need(2 * int(h)); err != nil {
		return nil, err
	}

	dict := &amf.Dictionary{WeakKeys: weak != 0}
	d.remember(dict)
	for i := uint32(0); i < h; i++ {
		k, err := d.readValue(r)
		if err != nil {
			return nil, err
		}
		v, err := d.readValue(r)
		if err != nil {
			return nil, err
		}
		dict.Entries = append(dict.Entries, amf.DictionaryEntry{Key: k, Value: v})
	}
	return dict, nil
}

// externalReader gives an Externalizer access to the enclosing decode
// context.
type externalReader struct {
	d *Decoder
	r *reader
}

func (e *externalReader) ReadValue() (amf.Value, error) {
	return e.d.readValue(e.r)
}

func (e *externalReader) ReadBytes(n int) ([]byte, error) {
	p, err := e.r.bytes(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), p...), nil
}
