package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("patched config", "num_hidden_layers", 3)

	output := buf.String()
	if !strings.Contains(output, "patched config") {
		t.Fatalf("expected message in output, got: %s", output)
	}
	if !strings.Contains(output, `"num_hidden_layers":3`) {
		t.Fatalf("expected attr in JSON output, got: %s", output)
	}
	if !strings.Contains(output, `"level":"INFO"`) {
		t.Fatalf("expected level INFO in output, got: %s", output)
	}
}

func TestJSONLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("should not appear")
	log.Debug("also should not appear")
	if buf.Len() > 0 {
		t.Fatalf("expected no output below warn, got: %s", buf.String())
	}
	log.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("expected warn message in output, got: %s", buf.String())
	}
}

func TestWith(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("component", "layout")
	log.Info("child message")
	if !strings.Contains(buf.String(), `"component":"layout"`) {
		t.Fatalf("expected component attr, got: %s", buf.String())
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).Info("roundtrip")
	if !strings.Contains(buf.String(), "roundtrip") {
		t.Fatalf("expected message via context logger, got: %s", buf.String())
	}
}

func TestFromContextDefault(t *testing.T) {
	t.Parallel()
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext with no logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input     string
		expected  slog.Level
		wantError bool
	}{
		{input: "debug", expected: slog.LevelDebug},
		{input: "DEBUG", expected: slog.LevelDebug},
		{input: "info", expected: slog.LevelInfo},
		{input: "", expected: slog.LevelInfo},
		{input: "warn", expected: slog.LevelWarn},
		{input: "warning", expected: slog.LevelWarn},
		{input: " error ", expected: slog.LevelError},
		{input: "verbose", wantError: true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.input)
		if tc.wantError {
			if err == nil {
				t.Errorf("ParseLevel(%q): expected error", tc.input)
			}
			continue
		}
		if err != nil || got != tc.expected {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tc.input, got, err, tc.expected)
		}
	}
}

func TestSetup(t *testing.T) {
	t.Parallel()
	for _, format := range []string{"pretty", "json", "text", ""} {
		var buf bytes.Buffer
		log, err := Setup(&buf, format, "info")
		if err != nil {
			t.Fatalf("Setup(%q): %v", format, err)
		}
		log.Info("hello")
		if !strings.Contains(buf.String(), "hello") {
			t.Fatalf("Setup(%q): expected output, got %q", format, buf.String())
		}
	}
	if _, err := Setup(&bytes.Buffer{}, "xml", "info"); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := Setup(&bytes.Buffer{}, "json", "loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	Discard().Error("dropped")
}

func TestPrettyHandlerEnabled(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info to be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error to be enabled at warn level")
	}
}

func TestPrettyHandlerAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := slog.New(NewPrettyHandler(&buf, nil).WithAttrs([]slog.Attr{slog.String("cmd", "inspect")}))
	l.Info("with attrs", "layers", 3)

	output := buf.String()
	if !strings.Contains(output, "cmd=inspect") || !strings.Contains(output, "layers=3") {
		t.Fatalf("expected attrs in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Fatalf("expected level in output, got: %s", output)
	}
}

func TestPrettyHandlerGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)
	if h.WithGroup("") != h {
		t.Fatal("WithGroup with empty name should return the same handler")
	}
	l := slog.New(h.WithGroup("a").WithGroup("b"))
	l.Info("nested", "key", "val", slog.Group("g", "x", 1))

	output := buf.String()
	if !strings.Contains(output, "a.b.key=val") {
		t.Fatalf("expected qualified key, got: %s", output)
	}
	if !strings.Contains(output, "a.b.g.x=1") {
		t.Fatalf("expected group attr, got: %s", output)
	}
}

func TestPrettyQuoting(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := slog.New(NewPrettyHandler(&buf, nil))
	l.Info("test", "msg", "hello world", "plain", "simple")

	output := buf.String()
	if !strings.Contains(output, `msg="hello world"`) {
		t.Fatalf("expected quoted string with spaces, got: %s", output)
	}
	if !strings.Contains(output, "plain=simple") {
		t.Fatalf("expected unquoted simple string, got: %s", output)
	}
}
