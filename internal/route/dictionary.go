// Package route holds the route dictionary negotiated at handshake.
package route

import (
	"fmt"
	"math"
)

// Dictionary maps route strings to the short codes the server assigned them, and back.
//
// A Dictionary is immutable once built; both directions are derived from the same
// input so they can never disagree. The zero value is an empty dictionary.
type Dictionary struct {
	codes  map[string]uint16
	routes map[uint16]string
}

// NewDictionary builds a dictionary from the forward mapping. Codes must fit in 16 bits
// and be unique.
func NewDictionary(forward map[string]uint16) (*Dictionary, error) {
	d := &Dictionary{
		codes:  make(map[string]uint16, len(forward)),
		routes: make(map[uint16]string, len(forward)),
	}
	for route, code := range forward {
		if other, ok := d.routes[code]; ok {
			return nil, fmt.Errorf("route: code %d assigned to both %q and %q", code, other, route)
		}
		d.codes[route] = code
		d.routes[code] = route
	}
	return d, nil
}

// FromJSON builds a dictionary from the sys.dict object of a handshake response, where
// codes arrive as JSON numbers.
func FromJSON(raw map[string]any) (*Dictionary, error) {
	forward := make(map[string]uint16, len(raw))
	for route, v := range raw {
		f, ok := v.(float64)
		if !ok || f < 0 || f > math.MaxUint16 || f != math.Trunc(f) {
			return nil, fmt.Errorf("route: invalid code %v for %q", v, route)
		}
		forward[route] = uint16(f)
	}
	return NewDictionary(forward)
}

// Code returns the code for route.
func (d *Dictionary) Code(route string) (uint16, bool) {
	if d == nil {
		return 0, false
	}
	code, ok := d.codes[route]
	return code, ok
}

// Route returns the route for code.
func (d *Dictionary) Route(code uint16) (string, bool) {
	if d == nil {
		return "", false
	}
	route, ok := d.routes[code]
	return route, ok
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.codes)
}

// Forward returns a copy of the route -> code mapping.
func (d *Dictionary) Forward() map[string]uint16 {
	out := make(map[string]uint16, d.Len())
	if d == nil {
		return out
	}
	for route, code := range d.codes {
		out[route] = code
	}
	return out
}
