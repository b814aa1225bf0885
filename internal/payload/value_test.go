package payload

import (
	"encoding/json"
	"testing"
)

func TestValue_MarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{name: "none", value: Value{}, want: "null"},
		{name: "float", value: Float(49.9), want: "49.9"},
		{name: "int", value: Int(-7), want: "-7"},
		{name: "string", value: Str("on"), want: `"on"`},
		{name: "bool", value: Boolean(true), want: "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.value)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestValue_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  ValueKind
	}{
		{name: "null", input: "null", kind: KindNone},
		{name: "integer literal decodes as float", input: "42", kind: KindFloat},
		{name: "float", input: "0.93", kind: KindFloat},
		{name: "string", input: `"alarm"`, kind: KindString},
		{name: "false", input: "false", kind: KindBool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Value
			if err := json.Unmarshal([]byte(tt.input), &v); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if v.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", v.Kind(), tt.kind)
			}
		})
	}
}

func TestValue_UnmarshalRejectsObjects(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{"a":1}`), &v); err == nil {
		t.Error("Unmarshal() expected error for object value")
	}
}

func TestValue_Accessors(t *testing.T) {
	if f, ok := Int(3).Float64(); !ok || f != 3 {
		t.Errorf("Int(3).Float64() = %v, %v", f, ok)
	}
	if _, ok := Str("x").Float64(); ok {
		t.Error("Str.Float64() ok = true, want false")
	}
	if s, ok := Str("x").Text(); !ok || s != "x" {
		t.Errorf("Text() = %q, %v", s, ok)
	}
	if b, ok := Boolean(true).Bool(); !ok || !b {
		t.Errorf("Bool() = %v, %v", b, ok)
	}
	if !(Value{}).IsNone() {
		t.Error("zero Value IsNone() = false")
	}
}
