// Package codec provides named payload serializers and the optional
// symmetric payload encryption applied at serialization boundaries.
//
// A Registry holds named Codec implementations. The default registry
// always carries "json" and "yaml". Subscriptions that declare a
// serialization boundary have their payload encoded, optionally
// encrypted and decrypted, and decoded again before the handler runs,
// simulating delivery across a transport.
//
// # Basic Usage
//
//	reg := codec.NewRegistry()
//	data, err := reg.Encode(codec.DefaultName, payload)
//	// ...
//	var out map[string]any
//	err = reg.Decode(codec.DefaultName, data, &out)
//
// # Custom Codecs
//
// Register a codec type, or a pair of functions:
//
//	reg.Register(myCodec)
//	reg.RegisterFuncs("csv", encodeCSV, decodeCSV)
package codec

import "errors"

// DefaultName is the serializer that is always present.
const DefaultName = "json"

var (
	// ErrUnknownSerializer is returned when a codec name was never
	// registered. This is a programmer error, surfaced immediately and
	// never retried.
	ErrUnknownSerializer = errors.New("unknown serializer")

	// ErrAlreadyRegistered is returned when registering a codec under a
	// name that is already taken.
	ErrAlreadyRegistered = errors.New("serializer already registered")

	// ErrNilCodec is returned when registering a nil codec or nil
	// encode/decode functions.
	ErrNilCodec = errors.New("nil codec")
)

// Codec is a named encode/decode pair. Implementations must be safe for
// concurrent use.
type Codec interface {
	// Name identifies the codec in the registry.
	Name() string

	// Encode serializes a payload.
	Encode(v any) ([]byte, error)

	// Decode deserializes data into the value pointed to by into.
	Decode(data []byte, into any) error
}

// funcCodec adapts a pair of functions to the Codec interface.
type funcCodec struct {
	name   string
	encode func(any) ([]byte, error)
	decode func([]byte, any) error
}

func (c *funcCodec) Name() string { return c.name }

func (c *funcCodec) Encode(v any) ([]byte, error) { return c.encode(v) }

func (c *funcCodec) Decode(data []byte, into any) error { return c.decode(data, into) }
