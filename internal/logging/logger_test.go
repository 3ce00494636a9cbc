package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:      LevelDebug,
		Output:     &buf,
		JSON:       true,
		TimeFormat: time.RFC3339,
	})
	if logger == nil {
		t.Fatal("New logger should not be nil")
	}

	t.Run("Levels", func(t *testing.T) {
		for _, fn := range []struct {
			log func(string, ...any)
			msg string
		}{
			{logger.Debug, "debug msg"},
			{logger.Info, "info msg"},
			{logger.Warn, "warn msg"},
			{logger.Error, "error msg"},
		} {
			buf.Reset()
			fn.log(fn.msg)
			if !strings.Contains(buf.String(), fn.msg) {
				t.Errorf("missing %q in output", fn.msg)
			}
		}
	})

	t.Run("DynamicLevel", func(t *testing.T) {
		logger.SetLevel(LevelError)
		if logger.GetLevel() != LevelError {
			t.Error("SetLevel failed")
		}

		buf.Reset()
		logger.Info("should not appear")
		if buf.Len() > 0 {
			t.Error("Logged info message when level was Error")
		}

		logger.SetLevel(LevelDebug)
	})

	t.Run("WithComponent", func(t *testing.T) {
		buf.Reset()
		logger.WithComponent("stats").Info("msg")

		var rec map[string]any
		if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if rec["component"] != "stats" {
			t.Errorf("component = %v, want stats", rec["component"])
		}
	})

	t.Run("WithFields", func(t *testing.T) {
		buf.Reset()
		logger.WithFields(map[string]any{"kind": "traffic"}).Info("msg")
		if !strings.Contains(buf.String(), "traffic") {
			t.Error("WithFields missing field")
		}
	})
}

func TestConsoleHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	logger.WithComponent("Firewall").Warn("skipped record", "zone", "public", "reason", "bad port")

	line := buf.String()
	if !strings.Contains(line, "warden[") {
		t.Errorf("missing process tag: %s", line)
	}
	if !strings.Contains(line, "[warn] firewall: skipped record") {
		t.Errorf("unexpected header: %s", line)
	}
	if !strings.Contains(line, "zone=public") {
		t.Errorf("missing attr: %s", line)
	}
	if !strings.Contains(line, `reason="bad port"`) {
		t.Errorf("values with spaces should be quoted: %s", line)
	}
	if strings.Contains(line, "component=") {
		t.Errorf("component should be promoted, not repeated: %s", line)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing")
	if l.Enabled(context.Background(), LevelError) {
		t.Error("Discard logger should not be enabled for errors")
	}
}

func TestSetup(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	var buf bytes.Buffer
	l, err := Setup("warn", false, &buf)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if Default() != l {
		t.Error("Setup should install the process logger")
	}
	WithComponent("monitor").Info("dropped")
	WithComponent("monitor").Warn("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "monitor: kept") {
		t.Errorf("unexpected output: %s", buf.String())
	}

	l, err = Setup("chatty", true, &buf)
	if err == nil {
		t.Error("unknown level should be reported")
	}
	if l.GetLevel() != LevelInfo {
		t.Errorf("unknown level should fall back to info, got %v", l.GetLevel())
	}
}

func TestSetLevel_SharedWithDerived(t *testing.T) {
	var buf bytes.Buffer
	root := New(Config{Level: LevelInfo, Output: &buf})
	child := root.WithComponent("stats")

	root.SetLevel(LevelDebug)
	child.Debug("refreshed")
	if !strings.Contains(buf.String(), "refreshed") {
		t.Error("derived logger should follow the root level")
	}
}
