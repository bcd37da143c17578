package pv

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a tagged variant holding the current value of a parameter. The zero
// Value is unset.
type Value struct {
	kind Kind
	set  bool
	b    bool
	i    int64
	f    float64
	s    string
}

// BoolValue returns a set bool value.
func BoolValue(v bool) Value { return Value{kind: KindBool, set: true, b: v} }

// EnumValue returns a set enum value holding index.
func EnumValue(index int) Value { return Value{kind: KindEnum, set: true, i: int64(index)} }

// FloatValue returns a set float value.
func FloatValue(v float64) Value { return Value{kind: KindFloat, set: true, f: v} }

// IntValue returns a set integer value.
func IntValue(v int64) Value { return Value{kind: KindInt, set: true, i: v} }

// TextValue returns a set text value.
func TextValue(v string) Value { return Value{kind: KindText, set: true, s: v} }

func unsetValue(kind Kind) Value { return Value{kind: kind} }

func (v Value) Kind() Kind { return v.kind }

// IsSet reports whether the value has been assigned.
func (v Value) IsSet() bool { return v.set }

func (v Value) Bool() bool { return v.b }

// Int returns the integer or enum index.
func (v Value) Int() int64 { return v.i }

// Float returns the numeric value of any numeric kind, treating bools as 0/1.
func (v Value) Float() float64 {
	switch v.kind {
	case KindFloat:
		return v.f
	case KindInt, KindEnum:
		return float64(v.i)
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func (v Value) Text() string { return v.s }

// Interface returns the native Go representation: bool, int, float64, string,
// or nil when unset.
func (v Value) Interface() any {
	if !v.set {
		return nil
	}
	switch v.kind {
	case KindBool:
		return v.b
	case KindEnum:
		return int(v.i)
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindText:
		return v.s
	default:
		return nil
	}
}

// Equal reports whether both values have the same kind, set state and payload.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind || v.set != other.set {
		return false
	}
	if !v.set {
		return true
	}
	switch v.kind {
	case KindBool:
		return v.b == other.b
	case KindEnum, KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f || (math.IsNaN(v.f) && math.IsNaN(other.f))
	case KindText:
		return v.s == other.s
	}
	return false
}

// Format renders the value for display: floats at def.Precision, bools and
// enums through their labels. The stored value keeps full precision.
func (v Value) Format(def Definition) string {
	if !v.set {
		return ""
	}
	switch v.kind {
	case KindBool:
		idx := 0
		if v.b {
			idx = 1
		}
		if idx < len(def.Labels) {
			return def.Labels[idx]
		}
		return strconv.FormatBool(v.b)
	case KindEnum:
		if v.i >= 0 && int(v.i) < len(def.Labels) {
			return def.Labels[v.i]
		}
		return strconv.FormatInt(v.i, 10)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', def.Precision, 64)
	case KindText:
		return v.s
	}
	return ""
}

func (v Value) String() string {
	if !v.set {
		return "<unset>"
	}
	return fmt.Sprint(v.Interface())
}

// MarshalJSON encodes the native representation.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// coerce validates raw against def and returns the canonical Value. The
// returned string is a human readable rejection reason.
func coerce(def Definition, raw any) (Value, string) {
	if typed, ok := raw.(Value); ok {
		if !typed.set {
			return Value{}, "value is unset"
		}
		raw = typed.Interface()
	}
	if raw == nil {
		return Value{}, "value is nil"
	}

	switch def.Kind {
	case KindBool:
		if b, ok := raw.(bool); ok {
			return BoolValue(b), ""
		}
		if label, ok := raw.(string); ok {
			idx, found := labelIndex(def.Labels, label)
			if !found {
				return Value{}, fmt.Sprintf("label %q not in %v", label, def.Labels)
			}
			return BoolValue(idx == 1), ""
		}
		n, ok := integral(raw)
		if !ok {
			return Value{}, fmt.Sprintf("expected bool, got %T", raw)
		}
		if n != 0 && n != 1 {
			return Value{}, fmt.Sprintf("bool value %d not in {0,1}", n)
		}
		return BoolValue(n == 1), ""
	case KindEnum:
		if label, ok := raw.(string); ok {
			idx, found := labelIndex(def.Labels, label)
			if !found {
				return Value{}, fmt.Sprintf("label %q not in %v", label, def.Labels)
			}
			return EnumValue(idx), ""
		}
		n, ok := integral(raw)
		if !ok {
			return Value{}, fmt.Sprintf("expected enum index, got %T", raw)
		}
		if n < 0 || n >= int64(len(def.Labels)) {
			return Value{}, fmt.Sprintf("enum value %d not in [0,%d]", n, len(def.Labels)-1)
		}
		return EnumValue(int(n)), ""
	case KindFloat:
		f, ok := numeric(raw)
		if !ok {
			return Value{}, fmt.Sprintf("expected number, got %T", raw)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, "value is not finite"
		}
		return FloatValue(f), ""
	case KindInt:
		n, ok := integral(raw)
		if !ok {
			return Value{}, fmt.Sprintf("expected integer, got %v", raw)
		}
		return IntValue(n), ""
	case KindText:
		var s string
		switch typed := raw.(type) {
		case string:
			s = typed
		case []byte:
			s = string(typed)
		default:
			return Value{}, fmt.Sprintf("expected text, got %T", raw)
		}
		if len(s) > def.Capacity {
			return Value{}, fmt.Sprintf("text is %d bytes, capacity is %d", len(s), def.Capacity)
		}
		return TextValue(s), ""
	}
	return Value{}, fmt.Sprintf("unsupported kind %s", def.Kind)
}

func labelIndex(labels []string, label string) (int, bool) {
	trimmed := strings.TrimSpace(label)
	for idx, candidate := range labels {
		if strings.EqualFold(candidate, trimmed) {
			return idx, true
		}
	}
	return 0, false
}

func numeric(raw any) (float64, bool) {
	switch typed := raw.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int8:
		return float64(typed), true
	case int16:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint:
		return float64(typed), true
	case uint8:
		return float64(typed), true
	case uint16:
		return float64(typed), true
	case uint32:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case json.Number:
		f, err := typed.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func integral(raw any) (int64, bool) {
	switch typed := raw.(type) {
	case int:
		return int64(typed), true
	case int8:
		return int64(typed), true
	case int16:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case int64:
		return typed, true
	case uint8:
		return int64(typed), true
	case uint16:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case uint:
		if uint64(typed) > math.MaxInt64 {
			return 0, false
		}
		return int64(typed), true
	case uint64:
		if typed > math.MaxInt64 {
			return 0, false
		}
		return int64(typed), true
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n, true
		}
	}
	f, ok := numeric(raw)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
