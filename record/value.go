// Package record provides the tagged-union value model for records under
// validation.
//
// A Record maps field names to Values. Values are immutable once built;
// lists and maps are copied on construction and on access through Items
// and Fields, so the validator can never alter a caller's record.
package record

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"
)

// Kind is the runtime type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInteger
	KindFloat
	KindBool
	KindDate
	KindList
	KindMap
)

var kindNames = [...]string{
	KindNull:    "null",
	KindString:  "string",
	KindInteger: "integer",
	KindFloat:   "float",
	KindBool:    "bool",
	KindDate:    "date",
	KindList:    "list",
	KindMap:     "map",
}

// String returns the lower-case kind name used in diagnostics.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is a record field value.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	d    Date
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInteger, i: i} }

// Float returns a float value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// DateValue returns a date value.
func DateValue(d Date) Value { return Value{kind: KindDate, d: d} }

// List returns a list value holding a copy of items.
func List(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value{}, items...)}
}

// Map returns a map value holding a copy of fields.
func Map(fields map[string]Value) Value {
	m := make(map[string]Value, len(fields))
	for k, v := range fields {
		m[k] = v
	}
	return Value{kind: KindMap, m: m}
}

// Kind returns the runtime type of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string held by a string value.
func (v Value) Str() (string, bool) {
	return v.s, v.kind == KindString
}

// Int64 returns the integer held by an integer value.
func (v Value) Int64() (int64, bool) {
	return v.i, v.kind == KindInteger
}

// Number returns the numeric value of an integer or float value.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindInteger:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Boolean returns the boolean held by a bool value.
func (v Value) Boolean() (bool, bool) {
	return v.b, v.kind == KindBool
}

// Date returns the date held by a date value.
func (v Value) Date() (Date, bool) {
	return v.d, v.kind == KindDate
}

// Items returns a copy of the items of a list value.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return append([]Value{}, v.list...)
}

// Len returns the number of items or fields of a list or map value.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	case KindString:
		return len(v.s)
	default:
		return 0
	}
}

// Fields returns a copy of the fields of a map value.
func (v Value) Fields() map[string]Value {
	if v.kind != KindMap {
		return nil
	}
	m := make(map[string]Value, len(v.m))
	for k, f := range v.m {
		m[k] = f
	}
	return m
}

// Keys returns the sorted field names of a map value.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	return sortedKeys(v.m)
}

// Field returns one field of a map value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	f, ok := v.m[name]
	return f, ok
}

// Equal reports whether two values are deeply equal. Integer and float
// values are never equal to each other.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindInteger:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindBool:
		return v.b == o.b
	case KindDate:
		return v.d.Equal(o.d)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, f := range v.m {
			g, ok := o.m[k]
			if !ok || !f.Equal(g) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value for diagnostics. Strings are returned
// unquoted; lists and maps render as JSON.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.s
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindDate:
		return v.d.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return v.kind.String()
		}
		return string(data)
	}
}

// Native returns the value as plain Go data: nil, string, int64, float64,
// bool, time.Time, []any or map[string]any.
func (v Value) Native() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindDate:
		return v.d.Time
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Native()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, f := range v.m {
			out[k] = f.Native()
		}
		return out
	default:
		return nil
	}
}

// JSONNative is like Native but renders dates as ISO-8601 strings at their
// precision, which is how they appear in a record's JSON encoding.
func (v Value) JSONNative() any {
	switch v.kind {
	case KindDate:
		return v.d.String()
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.JSONNative()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, f := range v.m {
			out[k] = f.JSONNative()
		}
		return out
	default:
		return v.Native()
	}
}

// MarshalJSON encodes the value; map keys are emitted in sorted order.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindFloat && (math.IsNaN(v.f) || math.IsInf(v.f, 0)) {
		return json.Marshal(v.String())
	}
	return json.Marshal(v.JSONNative())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Precision is the granularity of a date value.
type Precision uint8

const (
	PrecisionYear Precision = iota + 1
	PrecisionMonth
	PrecisionDay
	PrecisionTime
)

// String returns the precision name.
func (p Precision) String() string {
	switch p {
	case PrecisionYear:
		return "year"
	case PrecisionMonth:
		return "month"
	case PrecisionDay:
		return "day"
	case PrecisionTime:
		return "time"
	default:
		return "unknown"
	}
}

// Date is a calendar date or timestamp with the precision it was given at.
type Date struct {
	Time      time.Time
	Precision Precision
}

var dateLayouts = []struct {
	layout    string
	precision Precision
}{
	{"2006", PrecisionYear},
	{"2006-01", PrecisionMonth},
	{"2006-01-02", PrecisionDay},
	{time.RFC3339Nano, PrecisionTime},
	{"2006-01-02T15:04:05", PrecisionTime},
	{"2006-01-02T15:04", PrecisionTime},
	{"2006-01-02 15:04:05", PrecisionTime},
}

// ParseDate parses an ISO-8601 date or timestamp: YYYY, YYYY-MM,
// YYYY-MM-DD, or an RFC 3339 date-time.
func ParseDate(s string) (Date, error) {
	for _, l := range dateLayouts {
		if len(s) < 4 {
			break
		}
		t, err := time.Parse(l.layout, s)
		if err == nil {
			return Date{Time: t, Precision: l.precision}, nil
		}
	}
	return Date{}, &time.ParseError{Layout: "ISO-8601", Value: s, Message: ": not an ISO-8601 date"}
}

// DateOf returns a time-precision date for t.
func DateOf(t time.Time) Date {
	return Date{Time: t, Precision: PrecisionTime}
}

// Year returns the date generalized to year precision.
func (d Date) Year() Date {
	return Date{Time: time.Date(d.Time.Year(), 1, 1, 0, 0, 0, 0, time.UTC), Precision: PrecisionYear}
}

// Equal reports whether two dates denote the same instant at the same precision.
func (d Date) Equal(o Date) bool {
	return d.Precision == o.Precision && d.Time.Equal(o.Time)
}

// Compare orders two dates chronologically.
func (d Date) Compare(o Date) int {
	return d.Time.Compare(o.Time)
}

// String formats the date at its precision.
func (d Date) String() string {
	switch d.Precision {
	case PrecisionYear:
		return d.Time.Format("2006")
	case PrecisionMonth:
		return d.Time.Format("2006-01")
	case PrecisionDay:
		return d.Time.Format("2006-01-02")
	default:
		return d.Time.Format(time.RFC3339Nano)
	}
}
