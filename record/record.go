package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// Record maps field names to values.
//
// The validator treats records as read-only: every operation that derives a
// record, such as redaction, returns a new one.
type Record map[string]Value

// Keys returns the field names of r in sorted order.
func (r Record) Keys() []string {
	return sortedKeys(r)
}

// Get returns a field of r.
func (r Record) Get(name string) (Value, bool) {
	v, ok := r[name]
	return v, ok
}

// Present reports whether the field exists and is not null.
func (r Record) Present(name string) bool {
	v, ok := r[name]
	return ok && !v.IsNull()
}

// Lookup resolves a dotted path such as "contact.phone" through nested maps.
// A field whose name itself contains a dot takes precedence.
func (r Record) Lookup(path string) (Value, bool) {
	if v, ok := r[path]; ok {
		return v, true
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		return Value{}, false
	}
	v, ok := r[head]
	for ok && rest != "" {
		head, rest, _ = strings.Cut(rest, ".")
		v, ok = v.Field(head)
	}
	return v, ok
}

// Clone returns a copy of r. Values are immutable so the copy is deep.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// With returns a copy of r with one field replaced.
func (r Record) With(name string, v Value) Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	out[name] = v
	return out
}

// Without returns a copy of r with the named fields removed.
func (r Record) Without(names ...string) Record {
	out := r.Clone()
	for _, n := range names {
		delete(out, n)
	}
	return out
}

// Equal reports whether two records hold the same fields with deeply equal
// values.
func (r Record) Equal(o Record) bool {
	if len(r) != len(o) {
		return false
	}
	for k, v := range r {
		w, ok := o[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}

// Native returns r as plain Go data. Dates become time.Time values.
func (r Record) Native() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v.Native()
	}
	return out
}

// JSONNative returns r as JSON-compatible Go data. Dates become ISO-8601
// strings.
func (r Record) JSONNative() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v.JSONNative()
	}
	return out
}

// MarshalJSON encodes r with keys in sorted order.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]Value, len(r))
	for k, v := range r {
		m[k] = v
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes a JSON object. Numbers without a fraction or
// exponent decode as integers, all other numbers as floats. Strings stay
// strings; use a schema to interpret them as dates.
func (r *Record) UnmarshalJSON(data []byte) error {
	rec, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// ParseJSON decodes a JSON object into a record.
func ParseJSON(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("decode record: not a JSON object")
	}
	return FromMap(raw)
}

// FromMap converts plain Go data into a record.
func FromMap(m map[string]any) (Record, error) {
	out := make(Record, len(m))
	for k, raw := range m {
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// MustFromMap is like FromMap but panics on error. It is intended for
// tests and static fixtures.
func MustFromMap(m map[string]any) Record {
	r, err := FromMap(m)
	if err != nil {
		panic(err)
	}
	return r
}

// FromAny converts a Go value into a Value. Supported inputs are nil,
// strings, booleans, all integer and float types, json.Number, time.Time,
// Date, Value, slices and string-keyed maps.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", x)
		}
		return Int(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", x)
		}
		return Int(int64(x)), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case json.Number:
		return fromNumber(x)
	case time.Time:
		return DateValue(DateOf(x)), nil
	case Date:
		return DateValue(x), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = v
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			fields[k] = v
		}
		return Value{kind: KindMap, m: fields}, nil
	case Record:
		return Map(x), nil
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]Value, rv.Len())
		for i := range items {
			v, err := FromAny(rv.Index(i).Interface())
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = v
		}
		return Value{kind: KindList, list: items}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		fields := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			v, err := FromAny(iter.Value().Interface())
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", iter.Key().String(), err)
			}
			fields[iter.Key().String()] = v
		}
		return Value{kind: KindMap, m: fields}, nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", raw)
}

func fromNumber(n json.Number) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return Int(i), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return Value{}, fmt.Errorf("number %s: %w", s, err)
	}
	return Float(f), nil
}
