package codec

import "gopkg.in/yaml.v3"

// YAML serializes payloads with gopkg.in/yaml.v3. Registered by default
// alongside JSON.
type YAML struct{}

// Name returns "yaml".
func (YAML) Name() string { return "yaml" }

// Encode marshals v to YAML.
func (YAML) Encode(v any) ([]byte, error) {
	return yaml.Marshal(v)
}

// Decode unmarshals YAML data into the value pointed to by into.
func (YAML) Decode(data []byte, into any) error {
	return yaml.Unmarshal(data, into)
}
