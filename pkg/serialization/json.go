package serialization

import "encoding/json"

// JSON implements Codec using encoding/json.
type JSON struct{}

// Marshal serializes v into JSON bytes.
func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes JSON bytes into v.
func (JSON) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Type returns the codec type name.
func (JSON) Type() string { return JSONType }
