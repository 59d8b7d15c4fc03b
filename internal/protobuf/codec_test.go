package protobuf

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

const testSchema = `{
	"chat.message": {
		"required string text": 1,
		"optional uInt32 from": 2,
		"repeated uInt32 tags": 3,
		"repeated Attachment files": 4,
		"optional sInt32 delta": 5,
		"optional bool urgent": 6,
		"optional double score": 7,
		"optional float ratio": 8,
		"optional int64 big": 9,
		"optional uInt64 ubig": 10,
		"optional Meta meta": 11,
		"repeated string names": 12,
		"message Attachment": {
			"required string name": 1,
			"optional uInt32 size": 2
		}
	},
	"room.join": {
		"required uInt32 roomId": 1
	},
	"message Meta": {
		"optional string origin": 1,
		"optional int32 skew": 2
	}
}`

func mustParse(t *testing.T, schema string) *Protos {
	t.Helper()
	var raw map[string]any
	if err := json.Unmarshal([]byte(schema), &raw); err != nil {
		t.Fatalf("schema json: %v", err)
	}
	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return p
}

// TestParse tests schema parsing and route lookup
func TestParse(t *testing.T) {
	t.Parallel()

	p := mustParse(t, testSchema)

	if !p.Has("chat.message") || !p.Has("room.join") {
		t.Error("expected schemas for chat.message and room.join")
	}
	if p.Has("Meta") || p.Has("message Meta") {
		t.Error("top-level message declarations must not register as routes")
	}
	if got := p.Routes(); !reflect.DeepEqual(got, []string{"chat.message", "room.join"}) {
		t.Errorf("Routes() = %v", got)
	}

	def, _ := p.Message("chat.message")
	for i := 1; i < len(def.Fields); i++ {
		if def.Fields[i-1].Tag >= def.Fields[i].Tag {
			t.Fatalf("fields not sorted by tag: %v", def.Fields)
		}
	}
	f, ok := def.FieldByName("files")
	if !ok || f.Option != Repeated || f.Type != "Attachment" || f.Tag != 4 {
		t.Errorf("files field = %+v", f)
	}

	var nilProtos *Protos
	if nilProtos.Has("room.join") {
		t.Error("nil Protos should have no routes")
	}
}

// TestParseErrors tests malformed schemas
// TestParseIntegerTags tests tables built in Go or decoded from TOML
func TestParseIntegerTags(t *testing.T) {
	t.Parallel()

	p, err := Parse(map[string]any{
		"room.join": map[string]any{
			"required uInt32 roomId": 1,
			"optional string name":   int64(2),
		},
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	got, err := p.Encode("room.join", map[string]any{"roomId": 5})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if want := []byte{0x08, 0x05}; !reflect.DeepEqual(got, want) {
		t.Errorf("Encode() = %x, want %x", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		schema string
	}{
		{"route not an object", `{"a": 1}`},
		{"two-word field", `{"a": {"string x": 1}}`},
		{"unknown option", `{"a": {"packed uInt32 x": 1}}`},
		{"zero tag", `{"a": {"required uInt32 x": 0}}`},
		{"fractional tag", `{"a": {"required uInt32 x": 1.5}}`},
		{"string tag", `{"a": {"required uInt32 x": "1"}}`},
		{"duplicate tag", `{"a": {"required uInt32 x": 1, "optional string y": 1}}`},
		{"nested not an object", `{"a": {"message B": 3}}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var raw map[string]any
			if err := json.Unmarshal([]byte(tt.schema), &raw); err != nil {
				t.Fatalf("schema json: %v", err)
			}
			if _, err := Parse(raw); !errors.Is(err, ErrInvalidSchema) {
				t.Errorf("Parse() error = %v, want %v", err, ErrInvalidSchema)
			}
		})
	}
}

// TestEncodeDecodeRoundTrip verifies that Encode and Decode are inverses
func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	p := mustParse(t, testSchema)

	body := map[string]any{
		"text":  "hi",
		"from":  7,
		"tags":  []int{1, 2, 300},
		"delta": -42,
		"files": []map[string]any{
			{"name": "a.png", "size": 1024},
			{"name": "b.txt"},
		},
		"urgent": true,
		"score":  2.5,
		"ratio":  0.5,
		"big":    int64(-1) << 40,
		"ubig":   uint64(math.MaxUint64),
		"meta":   map[string]any{"origin": "eu", "skew": -3},
		"names":  []string{"x", "y"},
	}

	encoded, err := p.Encode("chat.message", body)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got, err := p.Decode("chat.message", encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	want := map[string]any{
		"text":  "hi",
		"from":  float64(7),
		"tags":  []any{float64(1), float64(2), float64(300)},
		"delta": float64(-42),
		"files": []any{
			map[string]any{"name": "a.png", "size": float64(1024)},
			map[string]any{"name": "b.txt"},
		},
		"urgent": true,
		"score":  2.5,
		"ratio":  0.5,
		"big":    int64(-1) << 40,
		"ubig":   uint64(math.MaxUint64),
		"meta":   map[string]any{"origin": "eu", "skew": float64(-3)},
		"names":  []any{"x", "y"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Decode() = %#v\nwant %#v", got, want)
	}
}

// TestEncodeStruct tests that tagged structs are accepted as bodies
func TestEncodeStruct(t *testing.T) {
	t.Parallel()

	p := mustParse(t, testSchema)

	type join struct {
		RoomID uint32 `json:"roomId"`
	}
	encoded, err := p.Encode("room.join", join{RoomID: 5})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	// field 1, varint, value 5
	if want := []byte{0x08, 0x05}; !reflect.DeepEqual(encoded, want) {
		t.Errorf("Encode() = %v, want %v", encoded, want)
	}
}

// TestPackedRepeatedWire checks that numeric lists use one length-delimited field
func TestPackedRepeatedWire(t *testing.T) {
	t.Parallel()

	p := mustParse(t, `{"r": {"repeated uInt32 ids": 1}}`)

	encoded, err := p.Encode("r", map[string]any{"ids": []int{1, 2, 3}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if want := []byte{0x0A, 0x03, 0x01, 0x02, 0x03}; !reflect.DeepEqual(encoded, want) {
		t.Errorf("Encode() = %v, want %v", encoded, want)
	}

	// Unpacked encoding of the same list must decode to the same value.
	var unpacked []byte
	for _, v := range []uint64{1, 2, 3} {
		unpacked = protowire.AppendTag(unpacked, 1, protowire.VarintType)
		unpacked = protowire.AppendVarint(unpacked, v)
	}
	got, err := p.Decode("r", unpacked)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if want := []any{float64(1), float64(2), float64(3)}; !reflect.DeepEqual(got["ids"], want) {
		t.Errorf("Decode() ids = %v, want %v", got["ids"], want)
	}
}

// TestDecodeSkipsUnknownFields tests forward compatibility with newer server schemas
func TestDecodeSkipsUnknownFields(t *testing.T) {
	t.Parallel()

	p := mustParse(t, `{"r": {"optional string a": 1}}`)

	var data []byte
	data = protowire.AppendTag(data, 9, protowire.BytesType)
	data = protowire.AppendString(data, "future")
	data = protowire.AppendTag(data, 1, protowire.BytesType)
	data = protowire.AppendString(data, "known")

	got, err := p.Decode("r", data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(got, map[string]any{"a": "known"}) {
		t.Errorf("Decode() = %v", got)
	}
}

// TestEncodeErrors tests error conditions during encoding
func TestEncodeErrors(t *testing.T) {
	t.Parallel()

	p := mustParse(t, testSchema)
	bad := mustParse(t, `{"r": {"optional Missing m": 1}}`)

	tests := []struct {
		name      string
		protos    *Protos
		route     string
		body      any
		wantError error
	}{
		{"unknown route", p, "nope", map[string]any{}, ErrUnknownMessage},
		{"missing required", p, "room.join", map[string]any{}, ErrMissingField},
		{"negative uint", p, "room.join", map[string]any{"roomId": -1}, ErrInvalidValue},
		{"uint32 overflow", p, "room.join", map[string]any{"roomId": uint64(1) << 33}, ErrInvalidValue},
		{"fractional uint", p, "room.join", map[string]any{"roomId": 1.5}, ErrInvalidValue},
		{"string for number", p, "room.join", map[string]any{"roomId": "5"}, ErrInvalidValue},
		{"body not an object", p, "room.join", []int{1}, ErrInvalidValue},
		{"list for scalar list field", p, "chat.message", map[string]any{"text": "x", "tags": 5}, ErrInvalidValue},
		{"unresolvable type", bad, "r", map[string]any{"m": map[string]any{}}, ErrUnknownType},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := tt.protos.Encode(tt.route, tt.body); !errors.Is(err, tt.wantError) {
				t.Errorf("Encode() error = %v, want %v", err, tt.wantError)
			}
		})
	}
}

// TestDecodeErrors tests error conditions during decoding
func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	p := mustParse(t, testSchema)

	tests := []struct {
		name      string
		route     string
		data      []byte
		wantError error
	}{
		{"unknown route", "nope", nil, ErrUnknownMessage},
		{"truncated tag", "room.join", []byte{0x80}, ErrTruncated},
		{"truncated varint", "room.join", []byte{0x08, 0x80}, ErrTruncated},
		{"wrong wire type", "room.join", []byte{0x0D, 0, 0, 0, 0}, ErrInvalidValue},
		{"truncated string", "chat.message", []byte{0x0A, 0x05, 'a'}, ErrTruncated},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := p.Decode(tt.route, tt.data); !errors.Is(err, tt.wantError) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantError)
			}
		})
	}
}

// BenchmarkEncode benchmarks schema encoding of a small body
func BenchmarkEncode(b *testing.B) {
	var raw map[string]any
	_ = json.Unmarshal([]byte(testSchema), &raw)
	p, _ := Parse(raw)
	body := map[string]any{"text": "hello", "from": 7, "tags": []int{1, 2, 3}}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = p.Encode("chat.message", body)
	}
}
