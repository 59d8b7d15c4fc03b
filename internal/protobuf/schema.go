// Package protobuf implements the schema-based body codec.
//
// Schemas arrive in the handshake as JSON objects keyed by route. Each route maps to a
// message definition whose keys read "<option> <type> <name>" and whose values are
// field tags, for example:
//
//	{
//	    "chat.message": {
//	        "required string text": 1,
//	        "optional uInt32 from": 2,
//	        "repeated Attachment files": 3,
//	        "message Attachment": {
//	            "required string name": 1,
//	            "optional uInt64 size": 2
//	        }
//	    }
//	}
//
// Keys of the form "message <Name>" declare nested message types, visible to the
// declaring message and everything nested below it. Top-level "message <Name>" keys
// declare types visible to every route.
//
// Bodies are encoded with the protocol buffers wire format, so any standard protobuf
// decoder with a matching .proto can read them.
package protobuf

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrInvalidSchema  = errors.New("protobuf: invalid schema")
	ErrUnknownMessage = errors.New("protobuf: no schema for route")
	ErrUnknownType    = errors.New("protobuf: unknown field type")
	ErrMissingField   = errors.New("protobuf: missing required field")
	ErrInvalidValue   = errors.New("protobuf: invalid field value")
	ErrTruncated      = errors.New("protobuf: truncated message")
)

// Option is the field cardinality.
type Option string

const (
	Required Option = "required"
	Optional Option = "optional"
	Repeated Option = "repeated"
)

// Field is one declared message field.
type Field struct {
	Name   string
	Option Option
	Type   string
	Tag    protowire.Number
}

// MessageDef is a parsed message definition.
type MessageDef struct {
	Name   string
	Fields []*Field // sorted by tag
	Nested map[string]*MessageDef

	byName map[string]*Field
	byTag  map[protowire.Number]*Field
	parent *MessageDef
}

// FieldByName returns the field called name.
func (m *MessageDef) FieldByName(name string) (*Field, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// Protos is a parsed schema table for one direction.
type Protos struct {
	routes  map[string]*MessageDef
	globals map[string]*MessageDef
}

// Parse parses a schema table. A nil or empty table yields an empty Protos.
func Parse(raw map[string]any) (*Protos, error) {
	p := &Protos{
		routes:  make(map[string]*MessageDef),
		globals: make(map[string]*MessageDef),
	}
	for key, v := range raw {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not an object", ErrInvalidSchema, key)
		}
		if name, ok := messageDecl(key); ok {
			def, err := parseMessage(name, obj, nil)
			if err != nil {
				return nil, err
			}
			p.globals[name] = def
			continue
		}
		def, err := parseMessage(key, obj, nil)
		if err != nil {
			return nil, err
		}
		p.routes[key] = def
	}
	return p, nil
}

// Has reports whether route has a schema.
func (p *Protos) Has(route string) bool {
	if p == nil {
		return false
	}
	_, ok := p.routes[route]
	return ok
}

// Routes returns the routes with a schema, sorted.
func (p *Protos) Routes() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.routes))
	for route := range p.routes {
		out = append(out, route)
	}
	sort.Strings(out)
	return out
}

// Message returns the definition for route.
func (p *Protos) Message(route string) (*MessageDef, bool) {
	if p == nil {
		return nil, false
	}
	def, ok := p.routes[route]
	return def, ok
}

// resolve finds a message type by walking from scope up to the top-level declarations.
func (p *Protos) resolve(scope *MessageDef, name string) (*MessageDef, bool) {
	for m := scope; m != nil; m = m.parent {
		if def, ok := m.Nested[name]; ok {
			return def, true
		}
	}
	def, ok := p.globals[name]
	return def, ok
}

func messageDecl(key string) (string, bool) {
	parts := strings.Fields(key)
	if len(parts) == 2 && parts[0] == "message" {
		return parts[1], true
	}
	return "", false
}

func parseMessage(name string, obj map[string]any, parent *MessageDef) (*MessageDef, error) {
	def := &MessageDef{
		Name:   name,
		Nested: make(map[string]*MessageDef),
		byName: make(map[string]*Field),
		byTag:  make(map[protowire.Number]*Field),
		parent: parent,
	}

	for key, v := range obj {
		if nestedName, ok := messageDecl(key); ok {
			nestedObj, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s is not an object", ErrInvalidSchema, name, nestedName)
			}
			nested, err := parseMessage(nestedName, nestedObj, def)
			if err != nil {
				return nil, err
			}
			def.Nested[nestedName] = nested
			continue
		}

		parts := strings.Fields(key)
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: %s: malformed field %q", ErrInvalidSchema, name, key)
		}
		opt := Option(parts[0])
		if opt != Required && opt != Optional && opt != Repeated {
			return nil, fmt.Errorf("%w: %s: unknown option %q", ErrInvalidSchema, name, parts[0])
		}
		tag, ok := tagValue(v)
		if !ok || tag < 1 || tag > float64(protowire.MaxValidNumber) || tag != float64(int32(tag)) {
			return nil, fmt.Errorf("%w: %s: bad tag %v for %q", ErrInvalidSchema, name, v, parts[2])
		}
		f := &Field{Name: parts[2], Option: opt, Type: parts[1], Tag: protowire.Number(tag)}
		if other, dup := def.byTag[f.Tag]; dup {
			return nil, fmt.Errorf("%w: %s: tag %d used by %q and %q", ErrInvalidSchema, name, f.Tag, other.Name, f.Name)
		}
		def.byName[f.Name] = f
		def.byTag[f.Tag] = f
		def.Fields = append(def.Fields, f)
	}

	sort.Slice(def.Fields, func(i, j int) bool {
		return def.Fields[i].Tag < def.Fields[j].Tag
	})
	return def, nil
}

// tagValue accepts tags decoded from JSON as well as the integer types of tables
// built in Go or loaded from TOML.
func tagValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
