package logx

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "poller"))
	log.Debug("hidden")
	log.Warn("fetch failed", String("repo", "acme/api"), Int("n", 3), Err(errors.New("boom")), Err(nil))

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %s", len(lines), buf.String())
	}
	got := lines[0]
	if got["level"] != "warn" || got["message"] != "fetch failed" {
		t.Fatalf("unexpected record: %v", got)
	}
	if got["comp"] != "poller" || got["repo"] != "acme/api" || got["n"] != float64(3) {
		t.Fatalf("missing fields: %v", got)
	}
	if got["err"] != "boom" && got["error"] != "boom" {
		t.Fatalf("missing error field: %v", got)
	}
	if c, _ := got["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller=%v", got["caller"])
	}
}

func TestZeroAndNopLoggersAreSafe(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	zero.Info("nothing")
	if Nop().IsZero() {
		t.Fatalf("Nop should not be zero")
	}
	Nop().With(String("a", "b")).Error("nothing")
}

func TestServiceApplySwitchesLevelLive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	child := log.With(String("comp", "app"))

	child.Info("before")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	child.Debug("after")
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := decodeLines(t, data)
	if len(lines) != 1 || lines[0]["message"] != "after" || lines[0]["comp"] != "app" {
		t.Fatalf("unexpected log file: %s", data)
	}
	if !child.Enabled(LevelDebug) {
		t.Fatalf("derived logger should follow applied level")
	}
}
