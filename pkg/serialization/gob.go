package serialization

import (
	"bytes"
	"encoding/gob"
)

// Gob implements Codec using encoding/gob.
type Gob struct{}

// Marshal serializes v into gob bytes.
func (Gob) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal deserializes gob bytes into v.
func (Gob) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Type returns the codec type name.
func (Gob) Type() string { return GobType }
