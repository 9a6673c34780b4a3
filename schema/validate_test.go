package schema

import (
	"encoding/json"
	"testing"
)

func TestRangeBounds(t *testing.T) {
	if r := Validate(`{"type":"range","min":100,"max":0}`); r.Valid {
		t.Fatal("min > max must be rejected")
	}
	if r := Validate(`{"type":"range","min":0,"max":100}`); !r.Valid {
		t.Fatalf("expect valid, got %v", r.Errors)
	}
	if r := Validate(Param{Type: TypeRange, Min: Float(0), Max: Float(100)}); !r.Valid {
		t.Fatalf("expect valid struct, got %v", r.Errors)
	}
	if r := Validate(&Param{Type: TypeRange, Min: Float(100), Max: Float(0)}); r.Valid {
		t.Fatal("pointer input: min > max must be rejected")
	}
}

func TestParamRules(t *testing.T) {
	cases := []struct {
		name  string
		p     Param
		valid bool
	}{
		{"missing type", Param{Name: "x"}, false},
		{"unknown type", Param{Type: "widget"}, false},
		{"range without max", Param{Type: TypeRange, Min: Float(0)}, false},
		{"range zero step", Param{Type: TypeRange, Min: Float(0), Max: Float(1), Step: Float(0)}, false},
		{"range default out of bounds", Param{Type: TypeRange, Min: Float(0), Max: Float(10), Default: 11.0}, false},
		{"number open bounds", Param{Type: TypeNumber}, true},
		{"number min > max", Param{Type: TypeNumber, Min: Float(5), Max: Float(1)}, false},
		{"number default string", Param{Type: TypeNumber, Default: "3"}, false},
		{"select empty", Param{Type: TypeSelect}, false},
		{"select default listed", Param{Type: TypeSelect, Options: []any{"a", "b"}, Default: "b"}, true},
		{"select default unlisted", Param{Type: TypeSelect, Options: []any{"a"}, Default: "z"}, false},
		{"select labelled options", Param{Type: TypeSelect, Options: []any{map[string]any{"label": "One", "value": 1.0}}, Default: 1.0}, true},
		{"boolean default", Param{Type: TypeBoolean, Default: true}, true},
		{"boolean bad default", Param{Type: TypeBoolean, Default: "yes"}, false},
		{"color short", Param{Type: TypeColor, Default: "#fff"}, true},
		{"color long", Param{Type: TypeColor, Default: "#00ff88"}, true},
		{"color bad", Param{Type: TypeColor, Default: "red"}, false},
		{"date ok", Param{Type: TypeDate, Default: "2024-02-29", After: "2024-01-01", Before: "2024-12-31"}, true},
		{"date bad", Param{Type: TypeDate, Default: "2024-13-01"}, false},
		{"date inverted bounds", Param{Type: TypeDate, After: "2024-12-31", Before: "2024-01-01"}, false},
		{"time with seconds", Param{Type: TypeTime, Default: "09:30:15"}, true},
		{"time bad", Param{Type: TypeTime, Default: "25:00"}, false},
		{"datetime rfc3339", Param{Type: TypeDatetime, Default: "2024-05-01T10:00:00Z"}, true},
		{"datetime local", Param{Type: TypeDatetime, Default: "2024-05-01T10:00"}, true},
		{"object any default", Param{Type: TypeObject, Default: map[string]any{"a": 1}}, true},
		{"any", Param{Type: TypeAny}, true},
	}
	for _, tc := range cases {
		r := ValidateParam(tc.p)
		if r.Valid != tc.valid {
			t.Fatalf("%s: expect valid=%v, got %v (%v)", tc.name, tc.valid, r.Valid, r.Errors)
		}
		if r.Valid && len(r.Errors) != 0 {
			t.Fatalf("%s: valid result carries errors %v", tc.name, r.Errors)
		}
	}
}

func TestValidateFunction(t *testing.T) {
	good := Function{
		Name: "greet",
		Kind: KindSync,
		Params: []Param{
			{Name: "name", Type: TypeString, Required: true},
			{Name: "times", Type: TypeRange, Min: Float(1), Max: Float(5), Default: 1},
		},
	}
	if r := ValidateFunction(good); !r.Valid {
		t.Fatalf("expect valid, got %v", r.Errors)
	}

	bad := Function{
		Kind: "later",
		Params: []Param{
			{Name: "a", Type: TypeString},
			{Name: "a", Type: TypeString},
			{Type: TypeNumber},
			{Name: "r", Type: TypeRange, Min: Float(9), Max: Float(1)},
		},
	}
	r := ValidateFunction(bad)
	if r.Valid {
		t.Fatal("expect invalid")
	}
	// name, kind, duplicate, missing param name, range bounds
	if len(r.Errors) != 5 {
		t.Fatalf("expect 5 errors, got %d: %v", len(r.Errors), r.Errors)
	}
}

func TestValidateJSONSniffing(t *testing.T) {
	fn := json.RawMessage(`{"name":"add","params":[{"name":"a","type":"number"},{"name":"b","type":"number"}]}`)
	if r := Validate(fn); !r.Valid {
		t.Fatalf("expect valid function, got %v", r.Errors)
	}
	if r := Validate([]byte(`{"name":"add","kind":"eventually","params":[]}`)); r.Valid {
		t.Fatal("bad kind must be rejected")
	}
	if r := Validate(map[string]any{"type": "select", "options": []any{"x"}}); !r.Valid {
		t.Fatalf("expect valid map param, got %v", r.Errors)
	}
	if r := Validate("not json"); r.Valid {
		t.Fatal("garbage must be rejected")
	}
	if r := Validate(42); r.Valid {
		t.Fatal("unsupported candidate must be rejected")
	}
	if r := Validate(nil); r.Valid {
		t.Fatal("nil must be rejected")
	}
}
