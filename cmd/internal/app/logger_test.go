package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newLogger(&buf, "warn", "json", false)

	log.Info("dropped")
	log.Warn("auth.login.rate_limited", "ip", "192.0.2.1")

	line := strings.TrimSpace(buf.String())
	if strings.Contains(line, "dropped") {
		t.Fatalf("info record emitted at warn level: %s", line)
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("not JSON: %q: %v", line, err)
	}
	if rec["msg"] != "auth.login.rate_limited" || rec["ip"] != "192.0.2.1" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if _, ok := rec["source"]; !ok {
		t.Fatalf("expected source attribute: %v", rec)
	}
}

func TestNewLogger_Pretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newLogger(&buf, "debug", "pretty", false)
	log.Debug("server.start", "addr", "0.0.0.0:8080")

	out := buf.String()
	for _, want := range []string{"lvl=[DEBUG]", "msg=server.start", "addr=0.0.0.0:8080"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}
