package logger

import "strings"

const (
	sanitizeMaxLen      = 200
	sanitizeHeadTailLen = 50
)

// SanitizeForLog recursively truncates long strings in data before it is
// passed to a debug-level log call, so a base64-encoded image in a request
// body doesn't flood the logs. data:image;base64,... values keep their
// prefix and a head/tail slice of the encoded payload; any other string
// longer than five times the max length is truncated the same way. Strings
// within bounds, and non-string/map/slice values, pass through unchanged.
func SanitizeForLog(data any) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = SanitizeForLog(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = SanitizeForLog(val)
		}
		return out
	case string:
		return sanitizeString(v)
	default:
		return v
	}
}

func sanitizeString(s string) string {
	if strings.HasPrefix(s, "data:image") && strings.Contains(s, "base64,") && len(s) > sanitizeMaxLen {
		prefixEnd := strings.Index(s, "base64,") + len("base64,")
		prefix := s[:prefixEnd]
		encoded := s[prefixEnd:]
		if len(encoded) > sanitizeMaxLen-prefixEnd {
			return prefix + encoded[:sanitizeHeadTailLen] + "...[truncated]..." + encoded[len(encoded)-sanitizeHeadTailLen:]
		}
		return s
	}

	if len(s) > sanitizeMaxLen*5 {
		safeHeadTail := sanitizeHeadTailLen * 2
		if safeHeadTail > len(s)/2 {
			safeHeadTail = len(s) / 2
		}
		return s[:safeHeadTail] + "...[truncated]..." + s[len(s)-safeHeadTail:]
	}
	return s
}
