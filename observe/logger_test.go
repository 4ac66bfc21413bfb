package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("warn", &buf)
	ctx := context.Background()

	l.Debug(ctx, "dropped debug")
	l.Info(ctx, "dropped info")
	l.Warn(ctx, "kept warn")
	l.Error(ctx, "kept error")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0]["level"] != "warn" || entries[1]["level"] != "error" {
		t.Errorf("unexpected levels: %v, %v", entries[0]["level"], entries[1]["level"])
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("info", &buf)

	l.WithComponent("filestore").Info(context.Background(), "resolved")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0]["component"] != "filestore" {
		t.Errorf("component = %v, want filestore", entries[0]["component"])
	}
	if entries[0]["msg"] != "resolved" {
		t.Errorf("msg = %v, want resolved", entries[0]["msg"])
	}
}

func TestLogger_Redaction(t *testing.T) {
	tests := []struct {
		key      string
		redacted bool
	}{
		{"password", true},
		{"api_key", true},
		{"access_token", true},
		{"signed_url", true},
		{"table", false},
		{"record_id", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewLoggerWithWriter("info", &buf)
			l.Info(context.Background(), "msg", Field{Key: tt.key, Value: "sensitive"})

			entries := decodeLines(t, &buf)
			got := entries[0][tt.key]
			if tt.redacted && got != "[REDACTED]" {
				t.Errorf("%s = %v, want [REDACTED]", tt.key, got)
			}
			if !tt.redacted && got != "sensitive" {
				t.Errorf("%s = %v, want sensitive", tt.key, got)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
