package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Fixed-width fraction keeps TEXT timestamps in lexical order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseRFC3339 parses the timestamp strings stored in SQLite.
// SQLite has no native datetime type; we store RFC3339 TEXT.
func parseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// timeCol scans either a TEXT timestamp (SQLite) or a native time.Time
// (PostgreSQL TIMESTAMPTZ).
type timeCol struct {
	t *time.Time
}

func (c timeCol) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*c.t = v.UTC()
		return nil
	case string:
		t, err := parseRFC3339(v)
		if err != nil {
			return err
		}
		*c.t = t
		return nil
	case []byte:
		return c.Scan(string(v))
	case nil:
		*c.t = time.Time{}
		return nil
	}
	return fmt.Errorf("unsupported time column type %T", src)
}

// jsonCol decodes a JSON TEXT/JSONB column into dst. NULL leaves dst
// untouched.
type jsonCol struct {
	dst any
}

func (c jsonCol) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, c.dst)
}

func jsonArg(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
