package logger

import (
	"strings"
	"testing"
)

func TestSanitizeForLogLeavesShortStringUnchanged(t *testing.T) {
	got := SanitizeForLog("short string")
	if got != "short string" {
		t.Fatalf("expected unchanged string, got %v", got)
	}
}

func TestSanitizeForLogTruncatesBase64Image(t *testing.T) {
	encoded := strings.Repeat("A", 300)
	data := "data:image/png;base64," + encoded

	got, ok := SanitizeForLog(data).(string)
	if !ok {
		t.Fatalf("expected a string result")
	}
	if len(got) >= len(data) {
		t.Fatalf("expected the image payload to be truncated, got length %d (original %d)", len(got), len(data))
	}
	if !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("expected the data URI prefix to survive, got %q", got)
	}
	if !strings.Contains(got, "...[truncated]...") {
		t.Fatalf("expected a truncation marker, got %q", got)
	}
}

func TestSanitizeForLogTruncatesVeryLongPlainString(t *testing.T) {
	long := strings.Repeat("x", 1500)
	got, ok := SanitizeForLog(long).(string)
	if !ok {
		t.Fatalf("expected a string result")
	}
	if len(got) >= len(long) {
		t.Fatalf("expected the long string to be truncated")
	}
}

func TestSanitizeForLogWalksNestedStructures(t *testing.T) {
	long := strings.Repeat("y", 1500)
	data := map[string]any{
		"messages": []any{
			map[string]any{"role": "user", "content": long},
		},
	}

	sanitized := SanitizeForLog(data).(map[string]any)
	messages := sanitized["messages"].([]any)
	first := messages[0].(map[string]any)
	content := first["content"].(string)

	if len(content) >= len(long) {
		t.Fatalf("expected nested long string to be truncated")
	}
	if first["role"] != "user" {
		t.Fatalf("expected role to pass through unchanged, got %v", first["role"])
	}
}
