package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSLogLoggerEmitsAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewSLogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	l.Info("rule table swapped", "tables", 8, "checksum", "abc123", "dry_run", false)
	out := buf.String()
	if !strings.Contains(out, "rule table swapped") {
		t.Fatalf("message missing from output: %s", out)
	}
	if !strings.Contains(out, "tables=8") || !strings.Contains(out, "checksum=abc123") {
		t.Fatalf("attrs missing from output: %s", out)
	}

	buf.Reset()
	l.Debug("debug line", "k", "v")
	if !strings.Contains(buf.String(), "debug line") {
		t.Fatalf("debug output missing: %s", buf.String())
	}
}

func TestSLogLoggerDefaults(t *testing.T) {
	l := NewSLogLogger(nil)
	if l == nil {
		t.Fatalf("nil slog should fall back to the default logger")
	}
}

func TestPhusluLoggerDoesNotPanic(t *testing.T) {
	l := NewPhusluLogger()
	l.Info("context invalidated", "user", "u1", "count", 3, "enabled", true, "extra", []string{"a"})
	l.Error("bundle apply failed", "error", "boom")
	// odd keyval count drops the trailing key
	l.Debug("partial", "only-a-key")
}

func TestNullLogger(t *testing.T) {
	var l Logger = NewNullLogger()
	l.Info("ignored")
	l.Error("ignored")
	l.Debug("ignored")
}
