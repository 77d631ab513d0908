// Package domain defines the catalog record model and the error taxonomy
// shared by the loader, the sources and the index backends.
package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Default field names of a book record.
const (
	DefaultTextField   = "description"
	DefaultIDField     = "id"
	DefaultVectorField = "embedding"
)

// Record is one catalog item as a flat mapping of field name to value.
// Values are strings, numbers (int64 or float64), lists of strings, or,
// after embedding, a []float32 vector.
type Record map[string]any

// Text returns the trimmed string value of field, or "" when absent or not text.
func (r Record) Text(field string) string {
	s, ok := r[field].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// ID returns the identifier field rendered as a string, or "" when absent.
func (r Record) ID(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	return Stringify(v)
}

// Strings returns the values of a tag field. A scalar yields a single-element
// slice; a list yields each element.
func (r Record) Strings(field string) []string {
	switch v := r[field].(type) {
	case nil:
		return nil
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if e != nil {
				out = append(out, Stringify(e))
			}
		}
		return out
	default:
		return []string{Stringify(v)}
	}
}

// Vector returns the embedding stored under field.
func (r Record) Vector(field string) ([]float32, bool) {
	switch v := r[field].(type) {
	case []float32:
		return v, true
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out, true
	case []any:
		out := make([]float32, len(v))
		for i, e := range v {
			f, ok := toFloat(e)
			if !ok {
				return nil, false
			}
			out[i] = float32(f)
		}
		return out, true
	}
	return nil, false
}

// Without returns a shallow copy of r lacking the named fields.
func (r Record) Without(fields ...string) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// Stringify renders a scalar field value. Integral floats print without a
// fractional part so that numeric ids read from JSON stay stable.
func Stringify(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case int:
		return strconv.Itoa(tv)
	case int64:
		return strconv.FormatInt(tv, 10)
	case float64:
		if tv == math.Trunc(tv) && math.Abs(tv) < 1<<53 {
			return strconv.FormatInt(int64(tv), 10)
		}
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(tv)
	default:
		return fmt.Sprint(tv)
	}
}

func toFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case float64:
		return tv, true
	case float32:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case int:
		return float64(tv), true
	}
	return 0, false
}
