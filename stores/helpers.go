package stores

import (
	"fmt"
	"time"

	"github.com/oarkflow/date"
)

// parseFlexibleTime handles the timestamp representations different drivers
// hand back (RFC3339 strings, sqlite datetime text, time.Time).
func parseFlexibleTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case string:
		return date.Parse(t)
	case []byte:
		return date.Parse(string(t))
	}
	return time.Time{}, fmt.Errorf("unsupported time value %T", v)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool { return i != 0 }
