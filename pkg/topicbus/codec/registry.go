package codec

import (
	"fmt"
	"sync"
)

// Registry is a thread-safe table of named codecs. The zero value is not
// usable; construct with NewRegistry, which pre-registers the defaults.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry creates a registry carrying the default "json" and "yaml"
// codecs.
func NewRegistry() *Registry {
	r := &Registry{
		codecs: make(map[string]Codec),
	}
	r.codecs[JSON{}.Name()] = JSON{}
	r.codecs[YAML{}.Name()] = YAML{}
	return r
}

// Register adds a codec under its own name. Registering a name twice
// returns ErrAlreadyRegistered; the built-in defaults cannot be
// replaced.
func (r *Registry) Register(c Codec) error {
	if c == nil {
		return ErrNilCodec
	}
	name := c.Name()
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrNilCodec)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.codecs[name]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
	}
	r.codecs[name] = c
	return nil
}

// RegisterFuncs adds a codec built from an encode/decode function pair.
func (r *Registry) RegisterFuncs(name string, encode func(any) ([]byte, error), decode func([]byte, any) error) error {
	if encode == nil || decode == nil {
		return ErrNilCodec
	}
	return r.Register(&funcCodec{name: name, encode: encode, decode: decode})
}

// Get returns the codec registered under name, or ErrUnknownSerializer.
func (r *Registry) Get(name string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSerializer, name)
	}
	return c, nil
}

// Has reports whether a codec is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.codecs[name]
	return ok
}

// Names returns the registered codec names. Order is unspecified.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.codecs))
	for name := range r.codecs {
		names = append(names, name)
	}
	return names
}

// Encode serializes v with the named codec.
func (r *Registry) Encode(name string, v any) ([]byte, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return c.Encode(v)
}

// Decode deserializes data with the named codec into the value pointed
// to by into.
func (r *Registry) Decode(name string, data []byte, into any) error {
	c, err := r.Get(name)
	if err != nil {
		return err
	}
	return c.Decode(data, into)
}
