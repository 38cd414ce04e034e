package interfaces

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"
)

// systemFields are filled in by the backends when absent.
var systemFields = map[string]bool{"created_at": true, "updated_at": true}

// Normalize converts data to the canonical Go representation of each field
// type so both backends store and compare identical values. With partial set
// (updates) missing required fields are allowed.
func (s *Schema) Normalize(data map[string]interface{}, partial bool) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(s.Fields))

	for name, value := range data {
		field, ok := s.Fields[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q on %s", ErrInvalidData, name, s.TableName)
		}
		v, err := NormalizeValue(field.Type, value)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidData, name, err)
		}
		if v == nil && !field.Nullable && !partial && field.DefaultValue == nil && !systemFields[name] {
			return nil, fmt.Errorf("%w: field %q cannot be null", ErrInvalidData, name)
		}
		out[name] = v
	}

	if partial {
		return out, nil
	}

	pk := s.PrimaryKey()
	for name, field := range s.Fields {
		v, present := out[name]
		if present && v != nil {
			continue
		}
		if field.DefaultValue != nil {
			dv, err := NormalizeValue(field.Type, field.DefaultValue)
			if err != nil {
				return nil, fmt.Errorf("%w: default for %q: %v", ErrInvalidData, name, err)
			}
			out[name] = dv
			continue
		}
		if field.Nullable {
			out[name] = nil
			continue
		}
		if systemFields[name] || name == pk {
			continue
		}
		return nil, fmt.Errorf("%w: field %q is required", ErrInvalidData, name)
	}
	return out, nil
}

// NormalizeValue converts v to the canonical representation for fieldType:
// string, int64, float64, bool, time.Time (UTC), json.RawMessage, []string
// or []float64. Nil and nil pointers stay nil.
func NormalizeValue(fieldType string, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		v = rv.Elem().Interface()
	case reflect.Slice, reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
	}

	switch fieldType {
	case FieldString:
		switch t := v.(type) {
		case string:
			return t, nil
		case []byte:
			return string(t), nil
		case fmt.Stringer:
			return t.String(), nil
		}
	case FieldInt64:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		}
		if f, ok := ToFloat(v); ok {
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("expected an integer, got %v", v)
			}
			return int64(f), nil
		}
	case FieldFloat64:
		if f, ok := ToFloat(v); ok {
			return f, nil
		}
	case FieldBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case FieldTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, err
			}
			return parsed.UTC(), nil
		}
	case FieldJSON:
		switch t := v.(type) {
		case json.RawMessage:
			if !json.Valid(t) {
				return nil, fmt.Errorf("invalid json")
			}
			return append(json.RawMessage(nil), t...), nil
		case []byte:
			if !json.Valid(t) {
				return nil, fmt.Errorf("invalid json")
			}
			return json.RawMessage(append([]byte(nil), t...)), nil
		default:
			b, err := json.Marshal(t)
			if err != nil {
				return nil, err
			}
			return json.RawMessage(b), nil
		}
	case FieldStringArray:
		switch t := v.(type) {
		case []string:
			return append([]string{}, t...), nil
		case []interface{}:
			out := make([]string, 0, len(t))
			for _, e := range t {
				s, ok := e.(string)
				if !ok {
					return nil, fmt.Errorf("expected string element, got %T", e)
				}
				out = append(out, s)
			}
			return out, nil
		}
	case FieldFloatArray:
		switch t := v.(type) {
		case []float64:
			return append([]float64{}, t...), nil
		case []float32:
			out := make([]float64, len(t))
			for i, e := range t {
				out[i] = float64(e)
			}
			return out, nil
		case []interface{}:
			out := make([]float64, 0, len(t))
			for _, e := range t {
				f, ok := ToFloat(e)
				if !ok {
					return nil, fmt.Errorf("expected numeric element, got %T", e)
				}
				out = append(out, f)
			}
			return out, nil
		}
	default:
		return nil, fmt.Errorf("unknown field type %q", fieldType)
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, fieldType)
}

// ToFloat converts any Go numeric value (and json.Number) to float64.
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
