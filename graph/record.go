package graph

import "github.com/neo4j/neo4j-go-driver/v5/neo4j"

// Record mapping helpers. Neo4j returns all numeric list properties as
// []interface{} of float64; embeddings are converted back to float32.

func recordString(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func recordInt(record *neo4j.Record, key string) int {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	switch v := val.(type) {
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func recordFloats(record *neo4j.Record, key string) []float32 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	slice, ok := val.([]interface{})
	if !ok {
		return nil
	}
	result := make([]float32, 0, len(slice))
	for _, v := range slice {
		if f, ok := v.(float64); ok {
			result = append(result, float32(f))
		}
	}
	return result
}

func float32sToFloat64s(f32 []float32) []float64 {
	f64 := make([]float64, len(f32))
	for i, v := range f32 {
		f64[i] = float64(v)
	}
	return f64
}
