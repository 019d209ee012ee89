package model

import "encoding/json"

// Values is a JSON object returned by configs, experiments and layers.
type Values map[string]any

// Get returns the value under key if it has type T.
func Get[T any](v Values, key string, fallback T) T {
	if raw, ok := v[key]; ok {
		if typed, ok := raw.(T); ok {
			return typed
		}
	}
	return fallback
}

func (v Values) GetString(key, fallback string) string { return Get(v, key, fallback) }

// GetNumber accepts any JSON number; decoded JSON numbers are float64.
func (v Values) GetNumber(key string, fallback float64) float64 {
	switch n := v[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return fallback
}

func (v Values) GetBool(key string, fallback bool) bool { return Get(v, key, fallback) }

func (v Values) GetSlice(key string, fallback []any) []any { return Get(v, key, fallback) }

func (v Values) GetMap(key string, fallback map[string]any) map[string]any {
	return Get(v, key, fallback)
}

// Clone returns a deep copy.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = cloneAny(val)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Values(t).Clone())
	case Values:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneAny(e)
		}
		return out
	default:
		return v
	}
}
