package features

import (
	"fmt"
)

// numberField reads a numeric field from a raw mapping, substituting the
// default when the key is absent. Booleans coerce to 0/1 because some
// backends encode flags either way. Any other type is a malformed value
// and escalates to the caller.
func numberField(raw map[string]any, key string, def float64) (float64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}

	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("feature %q: expected number, got %T", key, v)
	}
}

// boolField reads a boolean field, accepting numeric encodings where
// any non-zero value is true.
func boolField(raw map[string]any, key string, def bool) (bool, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}

	switch b := v.(type) {
	case bool:
		return b, nil
	case float64:
		return b != 0, nil
	case int:
		return b != 0, nil
	default:
		return false, fmt.Errorf("feature %q: expected bool, got %T", key, v)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
