package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"time"
)

// Result of a validation. Errors is empty when Valid.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func result(errs []string) Result {
	return Result{Valid: len(errs) == 0, Errors: errs}
}

var colorRe = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Accepted layouts per temporal type, tried in order.
var layouts = map[ParamType][]string{
	TypeDate:     {"2006-01-02"},
	TypeTime:     {"15:04", "15:04:05"},
	TypeDatetime: {time.RFC3339, "2006-01-02T15:04", "2006-01-02T15:04:05"},
}

func parseTemporal(t ParamType, s string) (time.Time, error) {
	var lastErr error
	for _, layout := range layouts[t] {
		v, err := time.Parse(layout, s)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ValidateParam checks a single parameter description. Absent optional
// fields are always accepted.
func ValidateParam(p Param) Result {
	return result(paramErrors(p))
}

func paramErrors(p Param) []string {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if p.Type == "" {
		add("type is required")
		return errs
	}
	if !p.Type.Known() {
		add("unknown type %q", p.Type)
		return errs
	}

	switch p.Type {
	case TypeRange:
		if p.Min == nil || p.Max == nil {
			add("range requires min and max")
		}
		if p.Step != nil && *p.Step <= 0 {
			add("step must be positive, got %v", *p.Step)
		}
		errs = append(errs, boundsErrors(p)...)
	case TypeNumber:
		if p.Step != nil && *p.Step <= 0 {
			add("step must be positive, got %v", *p.Step)
		}
		errs = append(errs, boundsErrors(p)...)
	case TypeSelect:
		if len(p.Options) == 0 {
			add("select requires options")
		} else if p.Default != nil && !containsOption(p.Options, p.Default) {
			add("default %v is not one of the options", p.Default)
		}
	case TypeBoolean:
		if p.Default != nil {
			if _, ok := p.Default.(bool); !ok {
				add("default must be a boolean")
			}
		}
	case TypeString:
		if p.Default != nil {
			if _, ok := p.Default.(string); !ok {
				add("default must be a string")
			}
		}
	case TypeColor:
		if p.Default != nil {
			s, ok := p.Default.(string)
			if !ok || !colorRe.MatchString(s) {
				add("default must be a #rgb or #rrggbb color")
			}
		}
	case TypeDate, TypeTime, TypeDatetime:
		errs = append(errs, temporalErrors(p)...)
	}
	return errs
}

func boundsErrors(p Param) []string {
	var errs []string
	if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
		errs = append(errs, fmt.Sprintf("min %v is greater than max %v", *p.Min, *p.Max))
	}
	if p.Default == nil {
		return errs
	}
	n, ok := toFloat(p.Default)
	if !ok {
		return append(errs, "default must be a number")
	}
	if p.Min != nil && n < *p.Min {
		errs = append(errs, fmt.Sprintf("default %v is below min %v", n, *p.Min))
	}
	if p.Max != nil && n > *p.Max {
		errs = append(errs, fmt.Sprintf("default %v is above max %v", n, *p.Max))
	}
	return errs
}

func temporalErrors(p Param) []string {
	var errs []string
	parse := func(field, v string) (time.Time, bool) {
		if v == "" {
			return time.Time{}, false
		}
		t, err := parseTemporal(p.Type, v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s %q is not a valid %s", field, v, p.Type))
			return time.Time{}, false
		}
		return t, true
	}

	if p.Default != nil {
		s, ok := p.Default.(string)
		if !ok {
			errs = append(errs, fmt.Sprintf("default must be a %s string", p.Type))
		} else {
			parse("default", s)
		}
	}
	after, okAfter := parse("after", p.After)
	before, okBefore := parse("before", p.Before)
	if okAfter && okBefore && after.After(before) {
		errs = append(errs, fmt.Sprintf("after %q is later than before %q", p.After, p.Before))
	}
	return errs
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func containsOption(options []any, v any) bool {
	for _, o := range options {
		if reflect.DeepEqual(o, v) {
			return true
		}
		// {"label": ..., "value": ...} entries match on value
		if m, ok := o.(map[string]any); ok && reflect.DeepEqual(m["value"], v) {
			return true
		}
		if a, aok := toFloat(o); aok {
			if b, bok := toFloat(v); bok && a == b {
				return true
			}
		}
	}
	return false
}

// ValidateFunction checks a function description and each of its params.
func ValidateFunction(f Function) Result {
	var errs []string
	if f.Name == "" {
		errs = append(errs, "name is required")
	}
	switch f.Kind {
	case "", KindSync, KindAsync:
	default:
		errs = append(errs, fmt.Sprintf("unknown kind %q", f.Kind))
	}
	seen := make(map[string]bool, len(f.Params))
	for i, p := range f.Params {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("params[%d]: name is required", i))
		} else if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("params[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
		for _, e := range paramErrors(p) {
			errs = append(errs, fmt.Sprintf("params[%d]: %s", i, e))
		}
	}
	return result(errs)
}

// Validate checks a Param or Function given as a value, a pointer, or raw
// JSON (json.RawMessage, []byte, string, or a decoded map). JSON input is a
// function when it has a "params" or "kind" key, otherwise a param.
func Validate(candidate any) Result {
	switch v := candidate.(type) {
	case Param:
		return ValidateParam(v)
	case *Param:
		if v == nil {
			return result([]string{"nil param"})
		}
		return ValidateParam(*v)
	case Function:
		return ValidateFunction(v)
	case *Function:
		if v == nil {
			return result([]string{"nil function"})
		}
		return ValidateFunction(*v)
	case json.RawMessage:
		return validateJSON(v)
	case []byte:
		return validateJSON(v)
	case string:
		return validateJSON([]byte(v))
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return result([]string{err.Error()})
		}
		return validateJSON(data)
	case nil:
		return result([]string{"nothing to validate"})
	}
	return result([]string{fmt.Sprintf("cannot validate %T", candidate)})
}

func validateJSON(data []byte) Result {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return result([]string{"invalid JSON: " + err.Error()})
	}
	_, hasParams := probe["params"]
	_, hasKind := probe["kind"]
	if hasParams || hasKind {
		var f Function
		if err := json.Unmarshal(data, &f); err != nil {
			return result([]string{"invalid function: " + err.Error()})
		}
		return ValidateFunction(f)
	}
	var p Param
	if err := json.Unmarshal(data, &p); err != nil {
		return result([]string{"invalid param: " + err.Error()})
	}
	return ValidateParam(p)
}
