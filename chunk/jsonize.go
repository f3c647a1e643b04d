package chunk

import (
	"math"
	"reflect"
	"unicode/utf8"
)

// JSON strings used for non-finite floats.
const (
	JSONNaN    = "NaN"
	JSONInf    = "Infinity"
	JSONNegInf = "-Infinity"
)

// Jsonize converts a value into one encoding/json can marshal: non-finite
// floats become strings, byte strings become text, and slices become lists.
func Jsonize(v interface{}) interface{} {
	switch x := v.(type) {
	case nil, bool, string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x
	case float32:
		return jsonFloat(float64(x))
	case float64:
		return jsonFloat(x)
	case []byte:
		if utf8.Valid(x) {
			return string(x)
		}
		return string([]rune(string(x)))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, val := range x {
			out[k] = Jsonize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, val := range x {
			out[i] = Jsonize(val)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = Jsonize(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

func jsonFloat(f float64) interface{} {
	switch {
	case math.IsNaN(f):
		return JSONNaN
	case math.IsInf(f, 1):
		return JSONInf
	case math.IsInf(f, -1):
		return JSONNegInf
	}
	return f
}
