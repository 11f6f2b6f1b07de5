package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

// TestLogger_JSONOutput verifies entries are single-line JSON with the
// standard keys.
func TestLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "state persisted", F("path", "state.json"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v\nOutput: %s", err, buf.String())
	}

	if entry["msg"] != "state persisted" {
		t.Errorf("msg = %v, want 'state persisted'", entry["msg"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["path"] != "state.json" {
		t.Errorf("path = %v, want state.json", entry["path"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("entry missing ts")
	}
}

// TestLogger_LevelFiltering verifies entries below the configured level
// are dropped.
func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)

	logger.Debug(context.Background(), "dropped")
	logger.Info(context.Background(), "dropped")
	logger.Warn(context.Background(), "kept")
	logger.Error(context.Background(), "kept too")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d entries, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "kept") {
		t.Errorf("first entry = %s, want the warn entry", lines[0])
	}
}

// TestLogger_WithAttachesFields verifies derived loggers carry base fields.
func TestLogger_WithAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	derived := logger.With(F("component", "retry"))
	derived.Info(context.Background(), "attempt failed", F("attempt", 2))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v", err)
	}
	if entry["component"] != "retry" {
		t.Errorf("component = %v, want retry", entry["component"])
	}
	if entry["attempt"] != float64(2) {
		t.Errorf("attempt = %v, want 2", entry["attempt"])
	}

	// The parent logger is unaffected.
	buf.Reset()
	entry = nil
	logger.Info(context.Background(), "plain")
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v", err)
	}
	if _, ok := entry["component"]; ok {
		t.Error("With fields leaked into the parent logger")
	}
}

// TestLogger_CallSiteFieldWins verifies a per-entry field overrides the
// base field with the same key.
func TestLogger_CallSiteFieldWins(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).With(F("component", "base"))

	logger.Info(context.Background(), "msg", F("component", "override"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output as JSON: %v", err)
	}
	if entry["component"] != "override" {
		t.Errorf("component = %v, want override", entry["component"])
	}
}

// TestLogger_ConcurrentUse verifies derived loggers serialize writes.
func TestLogger_ConcurrentUse(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.With(F("goroutine", n)).Info(context.Background(), "tick")
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 20 {
		t.Fatalf("got %d entries, want 20", len(lines))
	}
	for _, line := range lines {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Errorf("interleaved write produced invalid JSON: %s", line)
		}
	}
}

// TestParseLogLevel verifies level parsing including the unknown fallback.
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestNopLogger verifies the no-op logger discards everything and OrNop
// substitutes it for nil.
func TestNopLogger(t *testing.T) {
	logger := OrNop(nil)
	logger.Info(context.Background(), "discarded")
	logger.With(F("k", "v")).Error(context.Background(), "also discarded")

	var buf bytes.Buffer
	real := NewLoggerWithWriter("info", &buf)
	if OrNop(real) != real {
		t.Error("OrNop must return the given logger unchanged")
	}
}
