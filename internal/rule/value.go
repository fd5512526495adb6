package rule

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueKind discriminates the metadata value union.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueNumber
	ValueList
)

// Value is a metadata value: string, number, or list of strings.
// The source format is loosely typed, so merge logic needs a closed
// union it can match on instead of an untyped blob. Variable marks keys
// declared under a variables block; VARIABLES inheritance merges only
// those.
type Value struct {
	Kind     ValueKind `json:"kind"`
	Str      string    `json:"str,omitempty"`
	Num      float64   `json:"num,omitempty"`
	List     []string  `json:"list,omitempty"`
	Variable bool      `json:"variable,omitempty"`
}

// StringValue wraps a plain string.
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }

// NumberValue wraps a number.
func NumberValue(n float64) Value { return Value{Kind: ValueNumber, Num: n} }

// ListValue wraps a list of strings.
func ListValue(items ...string) Value {
	return Value{Kind: ValueList, List: items}
}

// AsString renders the value for display and convention matching.
func (v Value) AsString() string {
	switch v.Kind {
	case ValueNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case ValueList:
		return strings.Join(v.List, ", ")
	default:
		return v.Str
	}
}

// Equal reports whether two values carry the same content. The Variable
// flag is provenance, not content, so it does not participate.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueNumber:
		return v.Num == o.Num
	case ValueList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if v.List[i] != o.List[i] {
				return false
			}
		}
		return true
	default:
		return v.Str == o.Str
	}
}

// FromAny coerces a decoded YAML/JSON scalar into a Value. Maps and
// other shapes the union cannot hold are rendered through fmt as a
// string rather than rejected, per the parse leniency policy.
func FromAny(raw any) Value {
	switch x := raw.(type) {
	case string:
		return StringValue(x)
	case bool:
		return StringValue(strconv.FormatBool(x))
	case int:
		return NumberValue(float64(x))
	case int64:
		return NumberValue(float64(x))
	case float64:
		return NumberValue(x)
	case []any:
		items := make([]string, 0, len(x))
		for _, it := range x {
			items = append(items, FromAny(it).AsString())
		}
		return ListValue(items...)
	case []string:
		return ListValue(x...)
	case nil:
		return StringValue("")
	default:
		return StringValue(fmt.Sprintf("%v", x))
	}
}
