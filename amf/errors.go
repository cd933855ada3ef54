package amf

import "github.com/pkg/errors"

var (
	// ErrMalformed is returned for truncated or otherwise unreadable input.
	ErrMalformed           = errors.New("amf: malformed input")
	ErrUnsupportedMarker   = errors.New("amf: unsupported type marker")
	ErrOutOfRangeReference = errors.New("amf: reference index out of range")
	ErrUnregisteredClass   = errors.New("amf: class is not registered")
	ErrTraitMismatch       = errors.New("amf: members do not match registered class")
	ErrFixedVector         = errors.New("amf: vector is fixed length")
	ErrUnsupportedValue    = errors.New("amf: value cannot be encoded")
)

// IsDecodeError reports whether err came from decoding malformed wire data.
func IsDecodeError(err error) bool {
	for _, target := range []error{ErrMalformed, ErrUnsupportedMarker, ErrOutOfRangeReference, ErrUnregisteredClass, ErrTraitMismatch} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
