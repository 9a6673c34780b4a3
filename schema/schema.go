// Package schema describes the parameters of dynamically exposed functions
// and validates those descriptions. The types follow the input widgets a
// devtools panel offers: plain strings and numbers, sliders (range),
// dropdowns (select), date and time pickers, colors, and raw JSON values.
package schema

// ParamType is the kind of input a parameter takes.
type ParamType string

const (
	TypeString   ParamType = "string"
	TypeNumber   ParamType = "number"
	TypeBoolean  ParamType = "boolean"
	TypeRange    ParamType = "range"
	TypeSelect   ParamType = "select"
	TypeDate     ParamType = "date"     // 2006-01-02
	TypeTime     ParamType = "time"     // 15:04 or 15:04:05
	TypeDatetime ParamType = "datetime" // RFC 3339, or 2006-01-02T15:04
	TypeColor    ParamType = "color"    // #rgb or #rrggbb
	TypeObject   ParamType = "object"
	TypeArray    ParamType = "array"
	TypeAny      ParamType = "any"
)

// Known reports whether t is one of the declared types.
func (t ParamType) Known() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeRange, TypeSelect, TypeDate,
		TypeTime, TypeDatetime, TypeColor, TypeObject, TypeArray, TypeAny:
		return true
	}
	return false
}

// Param describes one positional parameter.
type Param struct {
	Name        string    `json:"name,omitempty"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Default     any       `json:"default,omitempty"`

	// number and range
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step *float64 `json:"step,omitempty"`

	// select
	Options []any `json:"options,omitempty"`

	// date, time and datetime bounds, in the type's own format
	After  string `json:"after,omitempty"`
	Before string `json:"before,omitempty"`
}

// Kind tells whether a function completes immediately or takes a context.
type Kind string

const (
	KindSync  Kind = "sync"
	KindAsync Kind = "async"
)

// Function describes one exposed callable.
type Function struct {
	Name        string   `json:"name"`
	Kind        Kind     `json:"kind,omitempty"`
	Params      []Param  `json:"params"`
	Description string   `json:"description,omitempty"`
	Returns     string   `json:"returns,omitempty"`
	Examples    []string `json:"examples,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Float is a helper for the optional numeric fields.
func Float(v float64) *float64 {
	return &v
}
