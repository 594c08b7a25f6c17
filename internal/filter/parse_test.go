package filter

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/tombee/conduit/internal/spi"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantNil bool
		wantErr bool
	}{
		{"empty payload", "", true, false},
		{"null payload", "null", true, false},
		{"simple comparison", `{"type":"CMP","op":"EQ","path":["name"],"value":"alice"}`, false, false},
		{"integer value", `{"type":"CMP","op":"GT","path":["age"],"value":30}`, false, false},
		{"boolean value", `{"type":"CMP","op":"EQ","path":["active"],"value":true}`, false, false},
		{"nested path", `{"type":"CMP","op":"EQ","path":["address","city"],"value":"Oslo"}`, false, false},
		{"exists without value", `{"type":"CMP","op":"EXISTS","path":["mail"]}`, false, false},
		{"exists with value", `{"type":"CMP","op":"EXISTS","path":["mail"],"value":"x"}`, false, true},
		{"exists with null value", `{"type":"CMP","op":"EXISTS","path":["mail"],"value":null}`, false, true},
		{"eq without value", `{"type":"CMP","op":"EQ","path":["name"]}`, false, true},
		{"eq with null value", `{"type":"CMP","op":"EQ","path":["name"],"value":null}`, false, true},
		{"unknown operator", `{"type":"CMP","op":"MATCHES","path":["name"],"value":"x"}`, false, true},
		{"unknown type tag", `{"type":"XOR","nodes":[]}`, false, true},
		{"missing type tag", `{"op":"EQ","path":["name"],"value":"x"}`, false, true},
		{"unknown field", `{"type":"CMP","op":"EQ","path":["name"],"value":"x","extra":1}`, false, true},
		{"empty path", `{"type":"CMP","op":"EQ","path":[],"value":"x"}`, false, true},
		{"blank path segment", `{"type":"CMP","op":"EQ","path":[""],"value":"x"}`, false, true},
		{
			"path too long",
			`{"type":"CMP","op":"EQ","path":["a","b","c","d","e","f","g","h","i"],"value":"x"}`,
			false, true,
		},
		{"empty and", `{"type":"AND","nodes":[]}`, false, true},
		{"empty or", `{"type":"OR","nodes":[]}`, false, true},
		{
			"and with children",
			`{"type":"AND","nodes":[{"type":"CMP","op":"EQ","path":["a"],"value":1},{"type":"CMP","op":"EXISTS","path":["b"]}]}`,
			false, false,
		},
		{"not without node", `{"type":"NOT"}`, false, true},
		{"not with node", `{"type":"NOT","node":{"type":"CMP","op":"EQ","path":["a"],"value":1}}`, false, false},
		{"in with values", `{"type":"CMP","op":"IN","path":["dept"],"value":["eng","ops"]}`, false, false},
		{"in with scalar", `{"type":"CMP","op":"IN","path":["dept"],"value":"eng"}`, false, true},
		{"in empty array", `{"type":"CMP","op":"IN","path":["dept"],"value":[]}`, false, true},
		{"in with object value", `{"type":"CMP","op":"IN","path":["dept"],"value":[{"a":1}]}`, false, true},
		{"object value", `{"type":"CMP","op":"EQ","path":["a"],"value":{"x":1}}`, false, true},
		{"cmp with nodes", `{"type":"CMP","op":"EQ","path":["a"],"value":1,"nodes":[]}`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !spi.IsType(err, spi.ErrorTypeValidation) {
					t.Errorf("error type = %v, want validation", err)
				}
				return
			}
			if (f == nil) != tt.wantNil {
				t.Errorf("Parse() nil = %v, want %v", f == nil, tt.wantNil)
			}
		})
	}
}

func TestParse_IntegerValuesStayIntegral(t *testing.T) {
	f, err := Parse(json.RawMessage(`{"type":"CMP","op":"EQ","path":["age"],"value":42}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if v, ok := f.Value.(int64); !ok || v != 42 {
		t.Errorf("value = %T(%v), want int64(42)", f.Value, f.Value)
	}
}

func TestParse_DepthBound(t *testing.T) {
	leaf := `{"type":"CMP","op":"EXISTS","path":["a"]}`
	deep := leaf
	for i := 0; i < spi.MaxFilterDepth; i++ {
		deep = fmt.Sprintf(`{"type":"NOT","node":%s}`, deep)
	}

	if _, err := Parse(json.RawMessage(deep)); err == nil {
		t.Error("expected depth bound violation")
	} else if !strings.Contains(err.Error(), "depth") {
		t.Errorf("unexpected error: %v", err)
	}

	ok := leaf
	for i := 0; i < spi.MaxFilterDepth-2; i++ {
		ok = fmt.Sprintf(`{"type":"NOT","node":%s}`, ok)
	}
	if _, err := Parse(json.RawMessage(ok)); err != nil {
		t.Errorf("tree within depth bound rejected: %v", err)
	}
}

func TestParse_InValueBound(t *testing.T) {
	values := make([]string, spi.MaxFilterInValues+1)
	for i := range values {
		values[i] = fmt.Sprintf("%q", fmt.Sprintf("v%d", i))
	}
	raw := fmt.Sprintf(`{"type":"CMP","op":"IN","path":["dept"],"value":[%s]}`, strings.Join(values, ","))

	if _, err := Parse(json.RawMessage(raw)); err == nil {
		t.Error("expected IN value bound violation")
	}
}

func TestValidate_HandBuiltTrees(t *testing.T) {
	tests := []struct {
		name    string
		f       *spi.Filter
		wantErr bool
	}{
		{"nil matches all", nil, false},
		{"valid cmp", spi.Cmp(spi.OpEQ, []string{"name"}, "alice"), false},
		{"valid exists", spi.Cmp(spi.OpExists, []string{"mail"}, nil), false},
		{"exists with value", spi.Cmp(spi.OpExists, []string{"mail"}, "x"), true},
		{"cmp without value", spi.Cmp(spi.OpEQ, []string{"name"}, nil), true},
		{"empty and", spi.And(), true},
		{"not without node", spi.Not(nil), true},
		{
			"valid composite",
			spi.And(
				spi.Cmp(spi.OpEQ, []string{"dept"}, "eng"),
				spi.Or(
					spi.Cmp(spi.OpGT, []string{"age"}, int64(30)),
					spi.Not(spi.Cmp(spi.OpExists, []string{"mail"}, nil)),
				),
			),
			false,
		},
		{"in with non-array", spi.Cmp(spi.OpIn, []string{"dept"}, "eng"), true},
		{"in with array", spi.Cmp(spi.OpIn, []string{"dept"}, []any{"eng", "ops"}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.f)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
