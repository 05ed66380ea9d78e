package codec

import "encoding/json"

// JSON is the default serializer, backed by encoding/json.
type JSON struct{}

// Name returns "json".
func (JSON) Name() string { return "json" }

// Encode marshals v to JSON.
func (JSON) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode unmarshals JSON data into the value pointed to by into.
func (JSON) Decode(data []byte, into any) error {
	return json.Unmarshal(data, into)
}
