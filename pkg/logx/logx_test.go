package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerWithAppliesFixedFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "poller"))
	log.Info("tick", Int("items", 3))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if rec["comp"] != "poller" {
		t.Fatalf("comp=%v", rec["comp"])
	}
	if rec["items"].(float64) != 3 {
		t.Fatalf("items=%v", rec["items"])
	}
	if rec["message"] != "tick" {
		t.Fatalf("message=%v", rec["message"])
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	if log.Enabled(LevelInfo) {
		t.Fatalf("info should be disabled")
	}
	if !log.Enabled(LevelError) {
		t.Fatalf("error should be enabled")
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var log Logger
	if !log.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	log.Error("nothing happens")
}

func TestFormatChatRecord(t *testing.T) {
	t.Parallel()

	got := formatChatRecord([]byte(`{"level":"warn","message":"poll failed","time":"x","resource":"a/b","kind":"commits"}`))
	want := "[WARN] poll failed\n- kind=commits\n- resource=a/b"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	raw := formatChatRecord([]byte("not json\n"))
	if raw != "not json" {
		t.Fatalf("raw=%q", raw)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{strings.Repeat("a", 20), 12, strings.Repeat("a", 9) + "..."},
		{"abcdef", 4, "abcd"},
		{"abc", 0, "abc"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.n); got != tc.want {
			t.Fatalf("truncate(%q,%d)=%q want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	if parseLevel(" warning ", LevelInfo) != LevelWarn {
		t.Fatalf("warning alias")
	}
	if parseLevel("bogus", LevelError) != LevelError {
		t.Fatalf("default fallback")
	}
}
