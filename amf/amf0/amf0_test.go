package amf0

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rtmpengine/rtmp/amf"
	"github.com/rtmpengine/rtmp/amf/amf3"
	"github.com/stretchr/testify/require"
)

func TestEncodeKnownBytes(t *testing.T) {
	tests := []struct {
		name string
		in   amf.Value
		out  []byte
	}{
		{"number", amf.Number(1), []byte{TypeNumber, 0x3F, 0xF0, 0, 0, 0, 0, 0, 0}},
		{"integerAsNumber", amf.Integer(1), []byte{TypeNumber, 0x3F, 0xF0, 0, 0, 0, 0, 0, 0}},
		{"true", amf.Bool(true), []byte{TypeBoolean, 1}},
		{"string", amf.String("app"), []byte{TypeString, 0, 3, 'a', 'p', 'p'}},
		{"null", amf.Null{}, []byte{TypeNull}},
		{"nil", nil, []byte{TypeNull}},
		{"undefined", amf.Undefined{}, []byte{TypeUndefined}},
		{"object", amf.NewObject(amf.Field{Key: "a", Value: amf.Bool(false)}), []byte{TypeObject, 0, 1, 'a', TypeBoolean, 0, 0, 0, TypeObjectEnd}},
		{"ecmaArray", &amf.ECMAArray{Fields: []amf.Field{{Key: "a", Value: amf.Null{}}}}, []byte{TypeECMAArray, 0, 0, 0, 1, 0, 1, 'a', TypeNull, 0, 0, TypeObjectEnd}},
		{"avmplus", amf.AVMPlus{Value: amf.Integer(5)}, []byte{TypeAVMPlus, amf3.TypeInteger, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.out, b)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value amf.Value
	}{
		{"number", amf.Number(-12.75)},
		{"boolean", amf.Bool(true)},
		{"string", amf.String("NetConnection.Connect.Success")},
		{"emptyString", amf.String("")},
		{"longString", amf.String(strings.Repeat("x", 70000))},
		{"null", amf.Null{}},
		{"undefined", amf.Undefined{}},
		{"unsupported", amf.Unsupported{}},
		{"date", amf.NewDate(time.Date(2019, 1, 2, 3, 4, 5, 0, time.UTC))},
		{"xmlDocument", amf.XMLDocument("<x/>")},
		{"object", amf.NewObject(
			amf.Field{Key: "app", Value: amf.String("live")},
			amf.Field{Key: "capabilities", Value: amf.Number(15)},
			amf.Field{Key: "nested", Value: amf.NewObject(amf.Field{Key: "k", Value: amf.Null{}})},
		)},
		{"emptyObject", amf.NewObject()},
		{"typedObject", &amf.TypedObject{ClassName: "com.example.User", Fields: []amf.Field{{Key: "name", Value: amf.String("ann")}}}},
		{"ecmaArray", &amf.ECMAArray{Fields: []amf.Field{{Key: "duration", Value: amf.Number(0)}, {Key: "width", Value: amf.Number(1280)}}}},
		{"strictArray", &amf.StrictArray{Items: []amf.Value{amf.Number(1), amf.String("two"), amf.Null{}}}},
		{"avmplus", amf.AVMPlus{Value: &amf.Array{Dense: []amf.Value{amf.Integer(1)}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.value)
			require.NoError(t, err)

			v, n, err := Decode(b)
			require.NoError(t, err)
			require.Equal(t, len(b), n)
			require.Equal(t, tt.value, v)
		})
	}
}

func TestLongStringMarker(t *testing.T) {
	b, err := Encode(amf.String(strings.Repeat("a", 65535)))
	require.NoError(t, err)
	require.Equal(t, TypeString, b[0])

	b, err = Encode(amf.String(strings.Repeat("a", 65536)))
	require.NoError(t, err)
	require.Equal(t, TypeLongString, b[0])
	require.Equal(t, []byte{0, 1, 0, 0}, b[1:5])
}

func TestReferences(t *testing.T) {
	shared := amf.NewObject(amf.Field{Key: "k", Value: amf.Number(1)})
	arr := &amf.StrictArray{Items: []amf.Value{shared, shared}}

	b, err := Encode(arr)
	require.NoError(t, err)
	// the array is reference 0, the object reference 1
	require.Equal(t, []byte{TypeReference, 0, 1}, b[len(b)-3:])

	v, n, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	got := v.(*amf.StrictArray)
	require.Same(t, got.Items[0], got.Items[1])
	require.Equal(t, arr, got)
}

func TestEncoderSharesContextAcrossValues(t *testing.T) {
	obj := amf.NewObject(amf.Field{Key: "a", Value: amf.Null{}})
	b, err := EncodeAll(amf.String("cmd"), obj, obj)
	require.NoError(t, err)
	require.Equal(t, []byte{TypeReference, 0, 0}, b[len(b)-3:])

	values, err := NewDecoder(nil).DecodeAll(b)
	require.NoError(t, err)
	require.Len(t, values, 3)
	require.Same(t, values[1], values[2])
}

func TestAMF3ValuesAreEscaped(t *testing.T) {
	e := NewEncoder()
	b, err := e.Encode(amf.ByteArray{1, 2})
	require.NoError(t, err)
	require.Equal(t, TypeAVMPlus, b[0])

	// the AMF3 string table lives for the whole message
	b, err = e.Append(b, amf.AVMPlus{Value: amf.String("hi")})
	require.NoError(t, err)
	b, err = e.Append(b, amf.AVMPlus{Value: amf.String("hi")})
	require.NoError(t, err)
	require.Equal(t, []byte{TypeAVMPlus, amf3.TypeString, 0x00}, b[len(b)-3:])

	values, err := NewDecoder(nil).DecodeAll(b)
	require.NoError(t, err)
	require.Equal(t, []amf.Value{
		amf.AVMPlus{Value: amf.ByteArray{1, 2}},
		amf.AVMPlus{Value: amf.String("hi")},
		amf.AVMPlus{Value: amf.String("hi")},
	}, values)
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		err  error
	}{
		{"empty", []byte{}, amf.ErrMalformed},
		{"movieClip", []byte{TypeMovieClip}, amf.ErrUnsupportedMarker},
		{"recordSet", []byte{TypeRecordSet}, amf.ErrUnsupportedMarker},
		{"unknown", []byte{0x42}, amf.ErrUnsupportedMarker},
		{"truncatedNumber", []byte{TypeNumber, 0x3F}, amf.ErrMalformed},
		{"truncatedString", []byte{TypeString, 0, 5, 'a'}, amf.ErrMalformed},
		{"unterminatedObject", []byte{TypeObject, 0, 1, 'a', TypeNull}, amf.ErrMalformed},
		{"badObjectEnd", []byte{TypeObject, 0, 0, 0x01}, amf.ErrMalformed},
		{"reference", []byte{TypeReference, 0, 0}, amf.ErrOutOfRangeReference},
		{"hugeStrictArray", []byte{TypeStrictArray, 0xFF, 0xFF, 0xFF, 0xFF}, amf.ErrMalformed},
		{"badAvmplus", []byte{TypeAVMPlus, 0x20}, amf.ErrUnsupportedMarker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, n, err := Decode(tt.in)
			require.ErrorIs(t, err, tt.err)
			require.Nil(t, v)
			require.Equal(t, 0, n)
		})
	}
}

// nestedStrictArrays builds n strict arrays of one item each around tail.
func nestedStrictArrays(n int, tail ...byte) []byte {
	b := bytes.Repeat([]byte{TypeStrictArray, 0, 0, 0, 1}, n)
	return append(b, tail...)
}

func TestNestingLimit(t *testing.T) {
	amf3Arrays := func(n int) []byte {
		b := bytes.Repeat([]byte{amf3.TypeArray, 0x03, 0x01}, n)
		return append(b, amf3.TypeNull)
	}

	tests := []struct {
		name string
		in   []byte
		ok   bool
	}{
		{"belowLimit", nestedStrictArrays(amf.MaxDepth-1, TypeNull), true},
		{"atLimit", nestedStrictArrays(amf.MaxDepth, TypeNull), false},
		{"messageSized", nestedStrictArrays(1<<20, TypeNull), false},
		{"objects", bytes.Repeat([]byte{TypeObject, 0, 1, 'a'}, amf.MaxDepth+1), false},
		{"avmplusBelowLimit", nestedStrictArrays(500, append([]byte{TypeAVMPlus}, amf3Arrays(500)...)...), true},
		{"avmplusCountsOuterDepth", nestedStrictArrays(1000, append([]byte{TypeAVMPlus}, amf3Arrays(100)...)...), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, n, err := Decode(tt.in)
			if tt.ok {
				require.NoError(t, err)
				require.Equal(t, len(tt.in), n)
				require.IsType(t, &amf.StrictArray{}, v)
				return
			}
			require.ErrorIs(t, err, amf.ErrMalformed)
			require.Nil(t, v)
		})
	}
}
