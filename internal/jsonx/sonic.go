// Package jsonx provides JSON serialization using Sonic.
// It is a drop-in replacement for encoding/json on the request hot path.
package jsonx

import (
	"io"

	"github.com/bytedance/sonic"
)

// Marshal returns the JSON encoding of v using Sonic.
func Marshal(v interface{}) ([]byte, error) {
	return sonic.Marshal(v)
}

// Unmarshal parses the JSON-encoded data and stores the result
// in the value pointed to by v using Sonic.
func Unmarshal(data []byte, v interface{}) error {
	return sonic.Unmarshal(data, v)
}

// MarshalWrite encodes v directly to w.
func MarshalWrite(w io.Writer, v interface{}) error {
	return sonic.ConfigDefault.NewEncoder(w).Encode(v)
}

// DecodeReader reads everything from r and unmarshals it into v.
func DecodeReader(r io.Reader, v interface{}) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return sonic.Unmarshal(data, v)
}
