package valueobjects

import (
	"encoding/json"
	"fmt"
	"time"
)

// ValueKind discriminates the variants of a property Value
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindFloat
	KindInt
	KindBool
	KindTime
	KindList
	KindMap
)

// Value is a tagged union over the property types the graph store accepts.
// Node and relationship properties are schemaless maps of these values;
// validation against a soft schema happens as a pre-write hook, not here.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	i    int64
	b    bool
	t    time.Time
	list []Value
	m    map[string]Value
}

// Null returns the null Value
func Null() Value { return Value{kind: KindNull} }

// String wraps a string
func String(s string) Value { return Value{kind: KindString, str: s} }

// Float wraps a float64
func Float(f float64) Value { return Value{kind: KindFloat, num: f} }

// Int wraps an int64
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Bool wraps a bool
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time wraps a timestamp
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// ListOf wraps a list of values
func ListOf(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// MapOf wraps a nested map of values
func MapOf(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind returns the variant tag
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is the null variant
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string variant
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsFloat returns the numeric value of a Float or Int variant
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.num, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// AsInt returns the int variant
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		return int64(v.num), true
	}
	return 0, false
}

// AsBool returns the bool variant
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsTime returns the time variant. String variants holding RFC 3339
// timestamps are accepted because graph stores round-trip times as text.
func (v Value) AsTime() (time.Time, bool) {
	switch v.kind {
	case KindTime:
		return v.t, true
	case KindString:
		if t, err := time.Parse(time.RFC3339Nano, v.str); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AsList returns the list variant
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsMap returns the map variant
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// StringOr returns the string variant or a fallback
func (v Value) StringOr(fallback string) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	return fallback
}

// FloatOr returns the numeric variant or a fallback
func (v Value) FloatOr(fallback float64) float64 {
	if f, ok := v.AsFloat(); ok {
		return f
	}
	return fallback
}

// Equal reports deep equality between two values
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		// Numeric variants compare across Int/Float
		vf, vok := v.AsFloat()
		of, ook := other.AsFloat()
		return vok && ook && vf == of
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == other.str
	case KindFloat:
		return v.num == other.num
	case KindInt:
		return v.i == other.i
	case KindBool:
		return v.b == other.b
	case KindTime:
		return v.t.Equal(other.t)
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, val := range v.m {
			ov, ok := other.m[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// ToAny unwraps the value into the plain Go representation used as
// driver query parameters.
func (v Value) ToAny() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindFloat:
		return v.num
	case KindInt:
		return v.i
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.ToAny()
		}
		return out
	}
	return nil
}

// FromAny converts a plain Go value (driver row cell, decoded JSON) into a Value
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case string:
		return String(t)
	case float64:
		return Float(t)
	case float32:
		return Float(float64(t))
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case bool:
		return Bool(t)
	case time.Time:
		return Time(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return ListOf(items...)
	case []string:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = String(item)
		}
		return ListOf(items...)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = FromAny(item)
		}
		return MapOf(m)
	case Value:
		return t
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}
