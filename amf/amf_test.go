package amf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixedVectorRejectsAppend(t *testing.T) {
	v := &VectorInt{Items: []int32{1}}
	require.NoError(t, v.Append(2, 3))
	require.Equal(t, []int32{1, 2, 3}, v.Items)

	v.Fixed = true
	require.ErrorIs(t, v.Append(4), ErrFixedVector)
	require.Len(t, v.Items, 3)

	o := &VectorObject{Fixed: true, TypeName: "*"}
	require.ErrorIs(t, o.Append(String("x")), ErrFixedVector)
	u := &VectorUint{Fixed: true}
	require.ErrorIs(t, u.Append(1), ErrFixedVector)
	d := &VectorDouble{Fixed: true}
	require.ErrorIs(t, d.Append(1), ErrFixedVector)
}

func TestObjectGetSet(t *testing.T) {
	o := NewObject(Field{"app", String("live")})
	o.Set("tcUrl", String("rtmp://localhost/live"))
	o.Set("app", String("vod"))
	o.Dynamic = []Field{{"extra", Bool(true)}}

	require.Equal(t, "vod", LookupString(o, "app"))
	require.Equal(t, "rtmp://localhost/live", LookupString(o, "tcUrl"))
	v, ok := o.Get("extra")
	require.True(t, ok)
	require.Equal(t, Bool(true), v)

	_, ok = o.Get("missing")
	require.False(t, ok)

	var nilObj *Object
	_, ok = nilObj.Get("app")
	require.False(t, ok)
}

func TestConversions(t *testing.T) {
	n, ok := AsNumber(Integer(5))
	require.True(t, ok)
	require.Equal(t, 5.0, n)

	n, ok = AsNumber(AVMPlus{Value: Number(2.5)})
	require.True(t, ok)
	require.Equal(t, 2.5, n)

	_, ok = AsNumber(String("1"))
	require.False(t, ok)

	s, ok := AsString(AVMPlus{Value: String("play")})
	require.True(t, ok)
	require.Equal(t, "play", s)

	arr := &ECMAArray{Fields: []Field{{"duration", Number(0)}}}
	v, ok := Lookup(arr, "duration")
	require.True(t, ok)
	require.Equal(t, Number(0), v)
}

func TestDate(t *testing.T) {
	ts := time.Date(2020, 5, 1, 12, 30, 0, 123456789, time.FixedZone("x", 3600))
	d := NewDate(ts)
	require.Equal(t, float64(ts.UnixMilli()), d.Millis())
	require.Equal(t, d, DateFromMillis(d.Millis()))
}
