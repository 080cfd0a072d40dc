// Package msgenc encodes and decodes the Job Queue Facade's wire payloads.
// msgpack is used instead of JSON for the internal queue wire format: it is
// more compact and nothing outside this process ever parses it directly.
package msgenc

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode serializes v into a msgpack byte slice.
func Encode(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgenc: encode: %w", err)
	}
	return b, nil
}

// Decode deserializes data into v, which must be a pointer.
func Decode(data []byte, v interface{}) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("msgenc: decode: %w", err)
	}
	return nil
}
