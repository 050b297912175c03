package store

import (
	"fmt"
	"strings"
	"time"
)

// ResultColumn is the column a condition query must return.
const ResultColumn = "result"

// timeLayout is used for every timestamp stored as TEXT.
const timeLayout = time.RFC3339Nano

// marshalTime converts a time to UTC TEXT for storage.
func marshalTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// unmarshalTime parses TEXT written by marshalTime.
func unmarshalTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unmarshal time %q: %w", s, err)
	}
	return t, nil
}

// unmarshalBool interprets a scanned condition result.
//
// Accepted: Go bool, integers 0 and 1 (SQLite's boolean), and the strings
// "true"/"false"/"1"/"0" in any case. Anything else, including NULL, is
// rejected with a reason for MalformedResultError.
func unmarshalBool(v any) (bool, string) {
	switch x := v.(type) {
	case bool:
		return x, ""
	case int64:
		switch x {
		case 0:
			return false, ""
		case 1:
			return true, ""
		}
		return false, fmt.Sprintf("integer %d is not a boolean", x)
	case []byte:
		return parseBoolText(string(x))
	case string:
		return parseBoolText(x)
	case nil:
		return false, "value is NULL"
	default:
		return false, fmt.Sprintf("value of type %T is not a boolean", v)
	}
}

func parseBoolText(s string) (bool, string) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true, ""
	case "false", "0":
		return false, ""
	}
	return false, fmt.Sprintf("text %q is not a boolean", s)
}
