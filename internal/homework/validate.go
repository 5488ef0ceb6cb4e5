package homework

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ValidateResponse checks the batch shape and returns the homeworks sequence
// unchanged. Records are checked one by one in Translate.
func ValidateResponse(resp Response) ([]any, error) {
	m, ok := resp.(map[string]any)
	if !ok {
		return nil, schemaError("response is not an object (got %s)", typeName(resp))
	}
	raw, ok := m["homeworks"]
	if !ok {
		return nil, schemaError("missing homeworks key")
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, schemaError("homeworks is not a list (got %s)", typeName(raw))
	}
	return list, nil
}

// CurrentDate extracts the optional current_date field. ok is false when
// the field is absent or not an integer.
func CurrentDate(resp Response) (int64, bool) {
	m, isMap := resp.(map[string]any)
	if !isMap {
		return 0, false
	}
	switch v := m["current_date"].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if f, err := v.Float64(); err == nil {
			return floatToInt64(f)
		}
	case float64:
		return floatToInt64(v)
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// floatToInt64 accepts whole numbers inside the int64 range only.
func floatToInt64(f float64) (int64, bool) {
	// float64(math.MaxInt64) rounds up to 2^63, hence the strict bound.
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "list"
	case string:
		return "string"
	case bool:
		return "bool"
	case json.Number, float64, int, int64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
