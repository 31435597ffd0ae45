package onem2m

import (
	"github.com/bytedance/sonic"
)

// codec keeps encoding/json semantics: sorted map keys, HTML escaping and
// json.Marshaler support.
var codec = sonic.ConfigStd

// Marshal encodes a primitive or resource body.
func Marshal(v any) ([]byte, error) {
	return codec.Marshal(v)
}

// Unmarshal decodes a primitive or resource body.
func Unmarshal(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}
