package protobuf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

type kind int

const (
	kindMessage kind = iota
	kindUint32
	kindUint64
	kindInt32
	kindInt64
	kindSint32
	kindSint64
	kindBool
	kindFloat
	kindDouble
	kindString
)

// scalarKind maps a schema type name to its scalar kind. Names are matched without
// regard to case so both "uInt32" and "uint32" work.
func scalarKind(typ string) kind {
	switch strings.ToLower(typ) {
	case "uint32":
		return kindUint32
	case "uint64":
		return kindUint64
	case "int32":
		return kindInt32
	case "int64":
		return kindInt64
	case "sint32":
		return kindSint32
	case "sint64":
		return kindSint64
	case "bool":
		return kindBool
	case "float":
		return kindFloat
	case "double":
		return kindDouble
	case "string":
		return kindString
	default:
		return kindMessage
	}
}

func (k kind) wireType() protowire.Type {
	switch k {
	case kindFloat:
		return protowire.Fixed32Type
	case kindDouble:
		return protowire.Fixed64Type
	case kindString, kindMessage:
		return protowire.BytesType
	default:
		return protowire.VarintType
	}
}

func (k kind) packable() bool {
	return k != kindString && k != kindMessage
}

// Encode encodes body with the schema registered for route.
//
// body may be a map or anything encoding/json can marshal into an object; it is
// normalized through its JSON form first so structs with json tags work.
func (p *Protos) Encode(route string, body any) ([]byte, error) {
	def, ok := p.Message(route)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, route)
	}
	obj, err := normalize(body)
	if err != nil {
		return nil, err
	}
	return p.encodeMessage(nil, def, obj)
}

// Decode decodes data with the schema registered for route.
//
// 32-bit integers, floats and doubles decode to float64, matching what encoding/json
// produces for the same body. 64-bit integers keep their precision as int64 or uint64.
// Nested messages decode to map[string]any and repeated fields to []any.
func (p *Protos) Decode(route string, data []byte) (map[string]any, error) {
	def, ok := p.Message(route)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, route)
	}
	return p.decodeMessage(def, data)
}

func normalize(body any) (map[string]any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: body must be an object: %v", ErrInvalidValue, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func (p *Protos) encodeMessage(b []byte, def *MessageDef, obj map[string]any) ([]byte, error) {
	for _, f := range def.Fields {
		val, ok := obj[f.Name]
		if !ok || val == nil {
			if f.Option == Required {
				return nil, fmt.Errorf("%w: %s.%s", ErrMissingField, def.Name, f.Name)
			}
			continue
		}
		var err error
		if f.Option == Repeated {
			b, err = p.encodeRepeated(b, def, f, val)
		} else {
			b, err = p.encodeSingle(b, def, f, val)
		}
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (p *Protos) encodeSingle(b []byte, scope *MessageDef, f *Field, val any) ([]byte, error) {
	k := scalarKind(f.Type)
	if k != kindMessage {
		b = protowire.AppendTag(b, f.Tag, k.wireType())
		return appendScalar(b, k, f, val)
	}

	sub, ok := p.resolve(scope, f.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s has type %q", ErrUnknownType, scope.Name, f.Name, f.Type)
	}
	obj, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an object, got %T", ErrInvalidValue, f.Name, val)
	}
	inner, err := p.encodeMessage(nil, sub, obj)
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, f.Tag, protowire.BytesType)
	return protowire.AppendBytes(b, inner), nil
}

func (p *Protos) encodeRepeated(b []byte, scope *MessageDef, f *Field, val any) ([]byte, error) {
	items, ok := val.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list, got %T", ErrInvalidValue, f.Name, val)
	}
	if len(items) == 0 {
		return b, nil
	}

	// Numeric lists are packed into a single length-delimited field.
	if k := scalarKind(f.Type); k.packable() {
		var packed []byte
		for _, item := range items {
			var err error
			if packed, err = appendScalar(packed, k, f, item); err != nil {
				return nil, err
			}
		}
		b = protowire.AppendTag(b, f.Tag, protowire.BytesType)
		return protowire.AppendBytes(b, packed), nil
	}

	for _, item := range items {
		var err error
		if b, err = p.encodeSingle(b, scope, f, item); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func appendScalar(b []byte, k kind, f *Field, val any) ([]byte, error) {
	switch k {
	case kindUint32, kindUint64:
		bits := 64
		if k == kindUint32 {
			bits = 32
		}
		u, err := toUint(val, bits)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, f.Name, err)
		}
		return protowire.AppendVarint(b, u), nil
	case kindInt32, kindInt64, kindSint32, kindSint64:
		bits := 64
		if k == kindInt32 || k == kindSint32 {
			bits = 32
		}
		i, err := toInt(val, bits)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, f.Name, err)
		}
		if k == kindSint32 || k == kindSint64 {
			return protowire.AppendVarint(b, protowire.EncodeZigZag(i)), nil
		}
		return protowire.AppendVarint(b, uint64(i)), nil
	case kindBool:
		v, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a bool, got %T", ErrInvalidValue, f.Name, val)
		}
		return protowire.AppendVarint(b, protowire.EncodeBool(v)), nil
	case kindFloat:
		v, err := toFloat(val)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, f.Name, err)
		}
		return protowire.AppendFixed32(b, math.Float32bits(float32(v))), nil
	case kindDouble:
		v, err := toFloat(val)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, f.Name, err)
		}
		return protowire.AppendFixed64(b, math.Float64bits(v)), nil
	case kindString:
		v, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidValue, f.Name, val)
		}
		return protowire.AppendString(b, v), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, f.Type)
	}
}

func toUint(val any, bits int) (uint64, error) {
	switch v := val.(type) {
	case json.Number:
		if u, err := strconv.ParseUint(string(v), 10, bits); err == nil {
			return u, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, err
		}
		return toUint(f, bits)
	case float64:
		if v < 0 || v != math.Trunc(v) || v >= math.Ldexp(1, bits) {
			return 0, fmt.Errorf("%v out of range for uint%d", v, bits)
		}
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", val)
	}
}

func toInt(val any, bits int) (int64, error) {
	switch v := val.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(v), 10, bits); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, err
		}
		return toInt(f, bits)
	case float64:
		limit := math.Ldexp(1, bits-1)
		if v != math.Trunc(v) || v < -limit || v >= limit {
			return 0, fmt.Errorf("%v out of range for int%d", v, bits)
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", val)
	}
}

func toFloat(val any) (float64, error) {
	switch v := val.(type) {
	case json.Number:
		return v.Float64()
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", val)
	}
}

func (p *Protos) decodeMessage(def *MessageDef, b []byte) (map[string]any, error) {
	out := make(map[string]any)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %s: %v", ErrTruncated, def.Name, protowire.ParseError(n))
		}
		b = b[n:]

		f, ok := def.byTag[num]
		if !ok {
			// Unknown fields are skipped.
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %s: %v", ErrTruncated, def.Name, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		k := scalarKind(f.Type)
		if f.Option == Repeated && k.packable() && typ == protowire.BytesType {
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrTruncated, def.Name, f.Name, protowire.ParseError(n))
			}
			b = b[n:]
			list, _ := out[f.Name].([]any)
			for len(packed) > 0 {
				v, m, err := consumeScalar(k, packed)
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", def.Name, f.Name, err)
				}
				packed = packed[m:]
				list = append(list, v)
			}
			out[f.Name] = list
			continue
		}

		v, n, err := p.consumeValue(def, f, k, typ, b)
		if err != nil {
			return nil, err
		}
		b = b[n:]
		if f.Option == Repeated {
			list, _ := out[f.Name].([]any)
			out[f.Name] = append(list, v)
		} else {
			out[f.Name] = v
		}
	}
	return out, nil
}

func (p *Protos) consumeValue(scope *MessageDef, f *Field, k kind, typ protowire.Type, b []byte) (any, int, error) {
	if typ != k.wireType() {
		return nil, 0, fmt.Errorf("%w: %s.%s has wire type %d, want %d", ErrInvalidValue, scope.Name, f.Name, typ, k.wireType())
	}
	if k != kindMessage {
		v, n, err := consumeScalar(k, b)
		if err != nil {
			return nil, 0, fmt.Errorf("%s.%s: %w", scope.Name, f.Name, err)
		}
		return v, n, nil
	}

	sub, ok := p.resolve(scope, f.Type)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s.%s has type %q", ErrUnknownType, scope.Name, f.Name, f.Type)
	}
	raw, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: %s.%s: %v", ErrTruncated, scope.Name, f.Name, protowire.ParseError(n))
	}
	v, err := p.decodeMessage(sub, raw)
	if err != nil {
		return nil, 0, err
	}
	return v, n, nil
}

func consumeScalar(k kind, b []byte) (any, int, error) {
	switch k.wireType() {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, 0, fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
		}
		switch k {
		case kindUint32:
			return float64(uint32(v)), n, nil
		case kindUint64:
			return v, n, nil
		case kindInt32:
			return float64(int32(v)), n, nil
		case kindInt64:
			return int64(v), n, nil
		case kindSint32:
			return float64(int32(protowire.DecodeZigZag(v))), n, nil
		case kindSint64:
			return protowire.DecodeZigZag(v), n, nil
		default:
			return protowire.DecodeBool(v), n, nil
		}
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, 0, fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
		}
		return float64(math.Float32frombits(v)), n, nil
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, 0, fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
		}
		return math.Float64frombits(v), n, nil
	default:
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return nil, 0, fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
		}
		return v, n, nil
	}
}
