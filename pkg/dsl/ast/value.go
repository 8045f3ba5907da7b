package ast

import (
	"strconv"
	"strings"
	"time"
)

// ValueType tags the dynamic type of a Value. The same tags describe
// literals in conditions and attribute values in evaluation contexts.
type ValueType string

const (
	ValueTypeNone      ValueType = "" // absent (exists comparators carry no value)
	ValueTypeString    ValueType = "string"
	ValueTypeNumber    ValueType = "number"
	ValueTypeBoolean   ValueType = "boolean"
	ValueTypeTimestamp ValueType = "timestamp"
	ValueTypeList      ValueType = "list"
)

// NowLiteral is the string literal that resolves to the evaluation clock.
const NowLiteral = "now"

// Value is a tagged scalar or list. Only the field matching Type is
// meaningful.
type Value struct {
	Type ValueType
	Str  string
	Num  float64
	Bool bool
	Time time.Time
	List []Value
}

// String builds a string value.
func String(s string) Value { return Value{Type: ValueTypeString, Str: s} }

// Number builds a numeric value.
func Number(n float64) Value { return Value{Type: ValueTypeNumber, Num: n} }

// Bool builds a boolean value.
func Bool(b bool) Value { return Value{Type: ValueTypeBoolean, Bool: b} }

// Timestamp builds a timestamp value.
func Timestamp(t time.Time) Value { return Value{Type: ValueTypeTimestamp, Time: t} }

// List builds a list value.
func List(items ...Value) Value { return Value{Type: ValueTypeList, List: items} }

// Now is shorthand for the "now" string literal.
func Now() Value { return String(NowLiteral) }

// IsZero reports whether the value is absent.
func (v Value) IsZero() bool { return v.Type == ValueTypeNone }

// IsNow reports whether the value is the "now" literal.
func (v Value) IsNow() bool {
	return v.Type == ValueTypeString && v.Str == NowLiteral
}

// Interface converts the value to plain Go data (string, float64, bool,
// RFC 3339 string, []any).
func (v Value) Interface() any {
	switch v.Type {
	case ValueTypeString:
		return v.Str
	case ValueTypeNumber:
		return v.Num
	case ValueTypeBoolean:
		return v.Bool
	case ValueTypeTimestamp:
		return v.Time.UTC().Format(time.RFC3339Nano)
	case ValueTypeList:
		items := make([]any, len(v.List))
		for i, item := range v.List {
			items[i] = item.Interface()
		}
		return items
	default:
		return nil
	}
}

// String renders the value for rationales and error messages.
func (v Value) String() string {
	switch v.Type {
	case ValueTypeString:
		return strconv.Quote(v.Str)
	case ValueTypeNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case ValueTypeBoolean:
		return strconv.FormatBool(v.Bool)
	case ValueTypeTimestamp:
		return v.Time.UTC().Format(time.RFC3339)
	case ValueTypeList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "<none>"
	}
}

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case ValueTypeString:
		return v.Str == o.Str
	case ValueTypeNumber:
		return v.Num == o.Num
	case ValueTypeBoolean:
		return v.Bool == o.Bool
	case ValueTypeTimestamp:
		return v.Time.Equal(o.Time)
	case ValueTypeList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(o.List[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
