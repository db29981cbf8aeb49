package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LevelInfo)
	l.SetOutput(&buf)

	l.Info("hello", map[string]interface{}{"target": "abc", "count": 3})
	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e["msg"] != "hello" || e["level"] != "info" || e["target"] != "abc" {
		t.Fatalf("unexpected entry %v", e)
	}
	if _, ok := e["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", e)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LevelWarn)
	l.SetOutput(&buf)

	l.Debug("debug", nil)
	l.Info("info", nil)
	l.Warn("warn", nil)
	if entries := decodeLines(t, &buf); len(entries) != 1 || entries[0]["msg"] != "warn" {
		t.Fatalf("expected only warn entry, got %v", entries)
	}

	buf.Reset()
	l.SetLevel(LevelDebug)
	l.Debug("debug", nil)
	if entries := decodeLines(t, &buf); len(entries) != 1 {
		t.Fatalf("expected debug entry after SetLevel, got %v", entries)
	}
}

func TestLogProbeResult(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LevelDebug)
	l.SetOutput(&buf)

	l.LogProbeResult("id1", false, 12.5, 1.5, 0)
	l.LogProbeResult("id1", true, 0, 0, 100)
	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["level"] != "debug" || entries[0]["latency_ms"] != 12.5 {
		t.Fatalf("unexpected success entry %v", entries[0])
	}
	if entries[1]["level"] != "warn" || entries[1]["error"] != true {
		t.Fatalf("unexpected failure entry %v", entries[1])
	}
}

func TestLogErrorAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LevelInfo)
	l.SetOutput(&buf)

	l.LogError("scheduler", errors.New("boom"), nil)
	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["component"] != "scheduler" || entries[0]["error"] != "boom" {
		t.Fatalf("unexpected entry %v", entries)
	}
}

func TestWithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LevelInfo)
	l.SetOutput(&buf)

	l.With(map[string]interface{}{"target": "t1"}).Info("child", nil)
	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["target"] != "t1" {
		t.Fatalf("expected inherited field, got %v", entries)
	}
}

func TestNewFileLoggerCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l, err := NewFileLogger(LevelInfo, dir)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	l.Info("to file", nil)
	_ = l.Sync()
	if _, err := os.Stat(filepath.Join(dir, logFileName)); err != nil {
		t.Fatalf("expected log file: %v", err)
	}
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.Error("ignored", map[string]interface{}{"k": "v"})
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
