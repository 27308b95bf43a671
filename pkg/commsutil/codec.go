package commsutil

import (
	"encoding/json"
	"fmt"
)

// EncodePayload serializes a payload crossing the module boundary. The
// returned slice is a fresh copy owned by the caller; no buffer is shared
// with the input value or the transport.
func EncodePayload(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload deserializes a payload received from the boundary into v.
// The data slice is not retained.
func DecodePayload(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
