// Package codec selects how message bodies are turned into bytes and back.
//
// Each route in each direction uses one of two strategies: the schema codec when the
// handshake supplied a schema for that route, JSON text otherwise.
package codec

import (
	"encoding/json"

	"github.com/luciancaetano/pinion/internal/protobuf"
)

// BodyCodec converts message bodies for one route.
type BodyCodec interface {
	// Name identifies the strategy in logs and metrics.
	Name() string
	Encode(route string, body any) ([]byte, error)
	Decode(route string, data []byte) (any, error)
}

// JSON is the text fallback codec.
type JSON struct{}

// Name returns "json".
func (JSON) Name() string { return "json" }

func (JSON) Encode(_ string, body any) ([]byte, error) {
	return json.Marshal(body)
}

// Decode parses data as JSON. An empty body decodes to nil.
func (JSON) Decode(_ string, data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Schema is the binary codec backed by a parsed schema table.
type Schema struct {
	protos *protobuf.Protos
}

// NewSchema returns a codec for the routes in protos.
func NewSchema(protos *protobuf.Protos) *Schema {
	return &Schema{protos: protos}
}

// Name returns "schema".
func (*Schema) Name() string { return "schema" }

func (s *Schema) Encode(route string, body any) ([]byte, error) {
	return s.protos.Encode(route, body)
}

func (s *Schema) Decode(route string, data []byte) (any, error) {
	return s.protos.Decode(route, data)
}

// Has reports whether the table has a schema for route.
func (s *Schema) Has(route string) bool {
	return s.protos.Has(route)
}
