package codec

import (
	"fmt"

	"github.com/luciancaetano/pinion/internal/protobuf"
)

// Direction is the direction a body travels in.
type Direction int

const (
	// Outbound bodies are authored by the client.
	Outbound Direction = iota
	// Inbound bodies are authored by the server.
	Inbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Selector picks the body codec per direction and route.
//
// The zero value selects JSON for everything, which is what a session uses until the
// handshake provides schemas.
type Selector struct {
	outbound *Schema
	inbound  *Schema
}

// NewSelector builds a selector from the two schema tables of a handshake response:
// client-authored bodies use the client table, server-authored bodies the server table.
// Either table may be nil.
func NewSelector(client, server map[string]any) (*Selector, error) {
	out, err := protobuf.Parse(client)
	if err != nil {
		return nil, fmt.Errorf("client protos: %w", err)
	}
	in, err := protobuf.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("server protos: %w", err)
	}
	return &Selector{outbound: NewSchema(out), inbound: NewSchema(in)}, nil
}

// Reverse returns a selector with the directions swapped, for the server side of a
// connection.
func (s *Selector) Reverse() *Selector {
	if s == nil {
		return nil
	}
	return &Selector{outbound: s.inbound, inbound: s.outbound}
}

// HasSchema reports whether route has a schema in direction d.
func (s *Selector) HasSchema(d Direction, route string) bool {
	if s == nil {
		return false
	}
	schema := s.outbound
	if d == Inbound {
		schema = s.inbound
	}
	return schema != nil && schema.Has(route)
}

// For returns the codec for route in direction d.
func (s *Selector) For(d Direction, route string) BodyCodec {
	if !s.HasSchema(d, route) {
		return JSON{}
	}
	if d == Inbound {
		return s.inbound
	}
	return s.outbound
}
