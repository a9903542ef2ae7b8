package device

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Value is a sensor value: numeric or text, never both.
type Value struct {
	Number *float64
	Text   *string
}

// NumberValue returns a numeric Value.
func NumberValue(f float64) Value {
	return Value{Number: &f}
}

// TextValue returns a text Value.
func TextValue(s string) Value {
	return Value{Text: &s}
}

// IsNumeric reports whether the value is stored in the numeric column.
func (v Value) IsNumeric() bool {
	return v.Number != nil
}

// Interface returns the value as float64, string, or nil when unset.
func (v Value) Interface() any {
	switch {
	case v.Number != nil:
		return *v.Number
	case v.Text != nil:
		return *v.Text
	default:
		return nil
	}
}

// String formats the value for logs.
func (v Value) String() string {
	switch {
	case v.Number != nil:
		return strconv.FormatFloat(*v.Number, 'g', -1, 64)
	case v.Text != nil:
		return *v.Text
	default:
		return "<nil>"
	}
}

// MarshalJSON encodes the value as a bare JSON number or string.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// ParseValue classifies a decoded JSON field value.
//
// Rules:
//   - numbers (float64, json.Number, Go integer and float kinds) are numeric
//   - booleans are numeric 1 or 0
//   - strings are text
//   - objects and arrays are text holding their compact JSON encoding
//   - null, NaN and infinities are rejected with ErrInvalidValue
func ParseValue(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Value{}, fmt.Errorf("%w: null", ErrInvalidValue)
	case bool:
		if v {
			return NumberValue(1), nil
		}
		return NumberValue(0), nil
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		return NumberValue(float64(v)), nil
	case int8:
		return NumberValue(float64(v)), nil
	case int16:
		return NumberValue(float64(v)), nil
	case int32:
		return NumberValue(float64(v)), nil
	case int64:
		return NumberValue(float64(v)), nil
	case uint:
		return NumberValue(float64(v)), nil
	case uint8:
		return NumberValue(float64(v)), nil
	case uint16:
		return NumberValue(float64(v)), nil
	case uint32:
		return NumberValue(float64(v)), nil
	case uint64:
		return NumberValue(float64(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: number %q: %w", ErrInvalidValue, v.String(), err)
		}
		return finite(f)
	case string:
		return TextValue(v), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %T: %w", ErrInvalidValue, raw, err)
		}
		return TextValue(string(encoded)), nil
	}
}

func finite(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("%w: non-finite number", ErrInvalidValue)
	}
	return NumberValue(f), nil
}
