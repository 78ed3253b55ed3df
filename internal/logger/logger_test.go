package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func captureLog(t *testing.T, level LogLevel) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	SetOutput(&buf)
	original := Level()
	SetLevel(level)

	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel(original)
	})

	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) == 0 || lines[0] == "" {
		t.Fatal("Expected log output, got none")
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("Expected valid JSON log entry, got error: %v", err)
	}
	return entry
}

func TestDebug(t *testing.T) {
	buf := captureLog(t, DEBUG)

	Debug("test debug message", map[string]interface{}{
		"field1": "value1",
		"field2": 42,
	})

	entry := lastEntry(t, buf)
	if entry["level"] != "debug" {
		t.Errorf("Expected level debug, got %v", entry["level"])
	}
	if entry["message"] != "test debug message" {
		t.Errorf("Expected message 'test debug message', got %v", entry["message"])
	}

	fields, ok := entry["fields"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected fields object, got %v", entry["fields"])
	}
	if fields["field1"] != "value1" {
		t.Errorf("Expected field1=value1, got %v", fields["field1"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("Expected a timestamp on every entry")
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureLog(t, WARN)

	Debug("hidden")
	Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected no output below WARN, got %q", buf.String())
	}

	Warn("shown")
	entry := lastEntry(t, buf)
	if entry["level"] != "warn" {
		t.Errorf("Expected level warn, got %v", entry["level"])
	}

	Error("also shown")
	entry = lastEntry(t, buf)
	if entry["level"] != "error" {
		t.Errorf("Expected level error, got %v", entry["level"])
	}
}

func TestSanitizeFields(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    interface{}
		expected interface{}
	}{
		{"license key is truncated", "license_key", "LIC-PRO-cus_123-DEADBEEF", "LIC...EEF"},
		{"short secret is redacted", "secret", "abc", "[REDACTED]"},
		{"non string token is redacted", "token", 12345, "[REDACTED]"},
		{"signature header is truncated", "Stripe-Signature", "t=123,v1=abcdef", "t=1...def"},
		{"plain field is untouched", "customer_id", "cus_123", "cus_123"},
		{"numbers are untouched", "status", 402, 402},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeFields(map[string]interface{}{tt.key: tt.value})
			if got[tt.key] != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got[tt.key])
			}
		})
	}
}

func TestSanitizeFields_Nil(t *testing.T) {
	if sanitizeFields(nil) != nil {
		t.Error("Expected nil for nil fields")
	}
}

func TestMergeFields(t *testing.T) {
	merged := mergeFields(
		map[string]interface{}{"a": 1, "b": 2},
		map[string]interface{}{"b": 3},
	)

	if merged["a"] != 1 || merged["b"] != 3 {
		t.Errorf("Expected later maps to win, got %v", merged)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"Error":   ERROR,
		"":        INFO,
		"verbose": INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerWritesToGivenWriter(t *testing.T) {
	var buf bytes.Buffer
	l := New(INFO, &buf)

	l.Info("hello", map[string]interface{}{"api_key": "sk_test_1234567890"})

	entry := lastEntry(t, &buf)
	fields := entry["fields"].(map[string]interface{})
	if fields["api_key"] != "sk_...890" {
		t.Errorf("Expected redacted api_key, got %v", fields["api_key"])
	}
}
