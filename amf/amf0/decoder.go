package amf0

import (
	"github.com/pkg/errors"
	"github.com/rtmpengine/rtmp/amf"
	"github.com/rtmpengine/rtmp/amf/amf3"
	"github.com/rtmpengine/rtmp/internal/netbits"
)

// Decoder reads AMF0 values. Objects, typed objects and both array kinds are
// remembered for back references until Reset. The first AVM+ marker creates
// an AMF3 decoder that is kept for the rest of the message.
type Decoder struct {
	registry *amf3.Registry
	refs     []amf.Value
	avmplus  *amf3.Decoder
	depth    int
}

// NewDecoder returns a decoder whose AMF3 values resolve classes through
// registry. A nil registry accepts only anonymous AMF3 objects.
func NewDecoder(registry *amf3.Registry) *Decoder {
	return &Decoder{registry: registry}
}

func (d *Decoder) Reset() {
	d.refs = d.refs[:0]
	if d.avmplus != nil {
		d.avmplus.Reset()
	}
}

// Decode returns the first value in b and the number of bytes it took.
// A Number is always returned as amf.Number, even if it holds an integer.
func (d *Decoder) Decode(b []byte) (amf.Value, int, error) {
	r := &reader{b: b}
	d.depth = 0
	v, err := d.readValue(r)
	if err != nil {
		return nil, 0, err
	}
	return v, r.pos, nil
}

// DecodeAll decodes values until b is exhausted.
func (d *Decoder) DecodeAll(b []byte) ([]amf.Value, error) {
	var values []amf.Value
	for len(b) > 0 {
		v, n, err := d.Decode(b)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		b = b[n:]
	}
	return values, nil
}

// Decode reads one value with a fresh context.
func Decode(b []byte) (amf.Value, int, error) {
	return NewDecoder(nil).Decode(b)
}

type reader struct {
	b   []byte
	pos int
}

func (r *reader) need(n int) error {
	if n < 0 || len(r.b)-r.pos < n {
		return errors.Wrapf(amf.ErrMalformed, "amf0: need %d bytes at offset %d, have %d", n, r.pos, len(r.b)-r.pos)
	}
	return nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	p := r.b[r.pos : r.pos+n]
	r.pos += n
	return p, nil
}

func (r *reader) u16() (uint16, error) {
	p, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return netbits.Uint16(p), nil
}

func (r *reader) u32() (uint32, error) {
	p, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return netbits.Uint32(p), nil
}

func (r *reader) double() (float64, error) {
	p, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return netbits.Float64(p), nil
}

func (r *reader) shortString() (string, error) {
	n, err := r.u16()
	if err != nil {
		return "", err
	}
	p, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

func (r *reader) longString() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	p, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(p), nil
}

func (d *Decoder) readValue(r *reader) (amf.Value, error) {
	if d.depth >= amf.MaxDepth {
		return nil, errors.Wrap(amf.ErrMalformed, "amf0: nesting too deep")
	}
	d.depth++
	defer func() { d.depth-- }()

	if err := r.need(1); err != nil {
		return nil, err
	}
	marker := r.b[r.pos]
	r.pos++

	switch marker {
	case TypeNumber:
		f, err := r.double()
		if err != nil {
			return nil, err
		}
		return amf.Number(f), nil
	case TypeBoolean:
		p, err := r.bytes(1)
		if err != nil {
			return nil, err
		}
		return amf.Bool(p[0] != 0), nil
	case TypeString:
		s, err := r.shortString()
		if err != nil {
			return nil, err
		}
		return amf.String(s), nil
	case TypeLongString:
		s, err := r.longString()
		if err != nil {
			return nil, err
		}
		return amf.String(s), nil
	case TypeXMLDocument:
		s, err := r.longString()
		if err != nil {
			return nil, err
		}
		return amf.XMLDocument(s), nil
	case TypeNull:
		return amf.Null{}, nil
	case TypeUndefined:
		return amf.Undefined{}, nil
	case TypeUnsupported:
		return amf.Unsupported{}, nil
	case TypeDate:
		ms, err := r.double()
		if err != nil {
			return nil, err
		}
		tz, err := r.u16()
		if err != nil {
			return nil, err
		}
		date := amf.DateFromMillis(ms)
		date.TimeZone = int16(tz)
		return date, nil
	case TypeObject:
		obj := &amf.Object{}
		d.refs = append(d.refs, obj)
		fields, err := d.readProperties(r)
		if err != nil {
			return nil, err
		}
		obj.Fields = fields
		return obj, nil
	case TypeTypedObject:
		name, err := r.shortString()
		if err != nil {
			return nil, err
		}
		obj := &amf.TypedObject{ClassName: name}
		d.refs = append(d.refs, obj)
		if obj.Fields, err = d.readProperties(r); err != nil {
			return nil, err
		}
		return obj, nil
	case TypeECMAArray:
		// the associative count is only a hint, the end marker terminates the array
		if _, err := r.u32(); err != nil {
			return nil, err
		}
		arr := &amf.ECMAArray{}
		d.refs = append(d.refs, arr)
		fields, err := d.readProperties(r)
		if err != nil {
			return nil, err
		}
		arr.Fields = fields
		return arr, nil
	case TypeStrictArray:
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		if err := r.need(int(n)); err != nil {
			return nil, err
		}
		arr := &amf.StrictArray{}
		d.refs = append(d.refs, arr)
		if n > 0 {
			arr.Items = make([]amf.Value, 0, n)
		}
		for i := uint32(0); i < n; i++ {
			v, err := d.readValue(r)
			if err != nil {
				return nil, err
			}
			arr.Items = append(arr.Items, v)
		}
		return arr, nil
	case TypeReference:
		idx, err := r.u16()
		if err != nil {
			return nil, err
		}
		if int(idx) >= len(d.refs) {
			return nil, errors.Wrapf(amf.ErrOutOfRangeReference, "amf0: reference %d, table has %d", idx, len(d.refs))
		}
		return d.refs[idx], nil
	case TypeAVMPlus:
		if d.avmplus == nil {
			d.avmplus = amf3.NewDecoder(d.registry)
		}
		v, n, err := d.avmplus.DecodeNested(r.b[r.pos:], d.depth)
		if err != nil {
			return nil, err
		}
		r.pos += n
		return amf.AVMPlus{Value: v}, nil
	default:
		return nil, errors.Wrapf(amf.ErrUnsupportedMarker, "amf0: marker 0x%02x at offset %d", marker, r.pos-1)
	}
}

// readProperties reads key/value pairs up to the empty key and object end
// marker.
func (d *Decoder) readProperties(r *reader) ([]amf.Field, error) {
	var fields []amf.Field
	for {
		key, err := r.shortString()
		if err != nil {
			return nil, err
		}
		if key == "" {
			p, err := r.bytes(1)
			if err != nil {
				return nil, err
			}
			if p[0] != TypeObjectEnd {
				return nil, errors.Wrapf(amf.ErrMalformed, "amf0: expected object end, got 0x%02x", p[0])
			}
			return fields, nil
		}
		v, err := d.readValue(r)
		if err != nil {
			return nil, err
		}
		fields = append(fields, amf.Field{Key: key, Value: v})
	}
}
