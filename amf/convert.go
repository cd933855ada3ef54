package amf

// Unwrap strips any AVMPlus wrappers.
func Unwrap(v Value) Value {
	for {
		p, ok := v.(AVMPlus)
		if !ok {
			return v
		}
		v = p.Value
	}
}

// AsString returns the string held by v, if any.
func AsString(v Value) (string, bool) {
	switch s := Unwrap(v).(type) {
	case String:
		return string(s), true
	case XML:
		return string(s), true
	case XMLDocument:
		return string(s), true
	}
	return "", false
}

// AsNumber returns v as a float64 when it is a Number or an Integer.
func AsNumber(v Value) (float64, bool) {
	switch n := Unwrap(v).(type) {
	case Number:
		return float64(n), true
	case Integer:
		return float64(n), true
	}
	return 0, false
}

// Lookup reads a member of an object-like value.
func Lookup(v Value, key string) (Value, bool) {
	switch o := Unwrap(v).(type) {
	case *Object:
		return o.Get(key)
	case *TypedObject:
		return o.Get(key)
	case *ECMAArray:
		return o.Get(key)
	case *Array:
		return getField(o.Associative, key)
	}
	return nil, false
}

// LookupString is Lookup followed by AsString.
func LookupString(v Value, key string) string {
	f, ok := Lookup(v, key)
	if !ok {
		return ""
	}
	s, _ := AsString(f)
	return s
}
