// Package serialization provides the codecs used to serialize cache
// payloads before they are stored or moved between tiers.
package serialization

import "fmt"

const (
	// JSONType represents the serialization type for JSON format.
	JSONType = "json"
	// GobType represents the serialization type for Gob format.
	GobType = "gob"
)

// Codec encodes and decodes cache payloads.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Type() string
}

// New returns the codec registered for the given type name.
func New(codecType string) (Codec, error) {
	switch codecType {
	case JSONType:
		return JSON{}, nil
	case GobType:
		return Gob{}, nil
	default:
		return nil, fmt.Errorf("unsupported serialization type: %s", codecType)
	}
}
