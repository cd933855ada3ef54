package amf3

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rtmpengine/rtmp/amf"
)

// Registry maps AMF3 class names to the shapes and constructors the decoder
// accepts. It is safe for concurrent use and is normally built at startup.
type Registry struct {
	mu       sync.RWMutex
	typed    map[string][]string
	external map[string]func() amf.Externalizer
}

func NewRegistry() *Registry {
	return &Registry{
		typed:    make(map[string][]string),
		external: make(map[string]func() amf.Externalizer),
	}
}

// RegisterTypedObject declares the member set a typed object named
// className must carry on the wire. Member order does not matter.
func (r *Registry) RegisterTypedObject(className string, members ...string) error {
	if className == "" {
		return errors.New("amf3: typed object needs a class name")
	}
	set := append([]string(nil), members...)
	sort.Strings(set)
	for i := 1; i < len(set); i++ {
		if set[i] == set[i-1] {
			return errors.Errorf("amf3: class %s declares member %s twice", className, set[i])
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.typed[className] = set
	return nil
}

// RegisterExternalizable declares a class that reads and writes its own
// payload. factory must return a fresh instance on every call.
func (r *Registry) RegisterExternalizable(className string, factory func() amf.Externalizer) error {
	if className == "" || factory == nil {
		return errors.New("amf3: externalizable needs a class name and a factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.external[className] = factory
	return nil
}

func (r *Registry) checkTyped(className string, members []string) error {
	if r == nil {
		return errors.Wrap(amf.ErrUnregisteredClass, className)
	}
	r.mu.RLock()
	want, ok := r.typed[className]
	r.mu.RUnlock()
	if !ok {
		return errors.Wrap(amf.ErrUnregisteredClass, className)
	}

	got := append([]string(nil), members...)
	sort.Strings(got)
	if len(got) != len(want) {
		return errors.Wrapf(amf.ErrTraitMismatch, "%s: got %v, want %v", className, got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			return errors.Wrapf(amf.ErrTraitMismatch, "%s: got %v, want %v", className, got, want)
		}
	}
	return nil
}

func (r *Registry) externalizer(className string) (amf.Externalizer, error) {
	if r == nil {
		return nil, errors.Wrap(amf.ErrUnregisteredClass, className)
	}
	r.mu.RLock()
	factory, ok := r.external[className]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(amf.ErrUnregisteredClass, className)
	}
	return factory(), nil
}
