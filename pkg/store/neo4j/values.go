package neo4j

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func getString(r *neo4j.Record, key string) string {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func getFloat(r *neo4j.Record, key string) float64 {
	v, ok := r.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func getInt(r *neo4j.Record, key string) int64 {
	v, ok := r.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

func getStrings(r *neo4j.Record, key string) []string {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return nil
	}
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getFloat32s(r *neo4j.Record, key string) []float32 {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return nil
	}
	switch list := v.(type) {
	case []float64:
		out := make([]float32, len(list))
		for i, f := range list {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, 0, len(list))
		for _, item := range list {
			if f, ok := item.(float64); ok {
				out = append(out, float32(f))
			}
		}
		return out
	}
	return nil
}

func toFloat64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
