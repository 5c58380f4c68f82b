package mapping

import (
	"fmt"
	"strconv"
	"time"
)

// ParseTimestamp normalises a legacy timestamp field — which may arrive as
// an epoch-millisecond number, an epoch-millisecond numeric string, or an
// RFC3339 string — into a Unix-millisecond int64 for the new schema's
// createdAt/updatedAt fields.
func ParseTimestamp(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int64(t), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		return parseTimestampString(t)
	default:
		return 0, fmt.Errorf("mapping: unsupported timestamp type %T", v)
	}
}

func parseTimestampString(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UnixMilli(), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UnixMilli(), nil
	}
	if ts, err := time.Parse("2006-01-02", s); err == nil {
		return ts.UnixMilli(), nil
	}
	return 0, fmt.Errorf("mapping: unrecognized timestamp format %q", s)
}
