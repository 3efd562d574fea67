package es

import "encoding/json"

// Codec serializes event payloads and mementos. The core treats encoded
// payloads as opaque bytes, so deployments can plug in any format.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default Codec.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

var _ Codec = JSONCodec{}
