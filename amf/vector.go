package amf

// VectorInt is a Vector.<int>. Once Fixed is set, Append fails.
type VectorInt struct {
	Fixed bool
	Items []int32
}

func (v *VectorInt) Append(items ...int32) error {
	if v.Fixed {
		return ErrFixedVector
	}
	v.Items = append(v.Items, items...)
	return nil
}

type VectorUint struct {
	Fixed bool
	Items []uint32
}

func (v *VectorUint) Append(items ...uint32) error {
	if v.Fixed {
		return ErrFixedVector
	}
	v.Items = append(v.Items, items...)
	return nil
}

type VectorDouble struct {
	Fixed bool
	Items []float64
}

func (v *VectorDouble) Append(items ...float64) error {
	if v.Fixed {
		return ErrFixedVector
	}
	v.Items = append(v.Items, items...)
	return nil
}

// VectorObject is a Vector.<T> of objects; TypeName "*" means any type.
type VectorObject struct {
	Fixed    bool
	TypeName string
	Items    []Value
}

func (v *VectorObject) Append(items ...Value) error {
	if v.Fixed {
		return ErrFixedVector
	}
	v.Items = append(v.Items, items...)
	return nil
}
