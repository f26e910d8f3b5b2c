package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(b), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestWriterLevelsAndFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "scheduler"))

	log.Debug("hidden")
	log.Info("scan done", Int("claimed", 3), Duration("took", 1500*time.Millisecond), Bool("busy", false))
	log.Error("finish failed", Err(errors.New("disk full")), Err(nil))

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2 (debug filtered)", len(lines))
	}
	if lines[0]["comp"] != "scheduler" || lines[0]["claimed"] != float64(3) || lines[0]["message"] != "scan done" {
		t.Fatalf("info line = %v", lines[0])
	}
	if lines[1]["err"] != "disk full" {
		t.Fatalf("error line = %v", lines[1])
	}
	if c, _ := lines[0]["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller = %q, want logx_test.go:N", c)
	}
}

func TestWithDoesNotMutateParent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	parent := NewWriter(&buf, "debug")
	_ = parent.With(String("child", "yes"))
	parent.Info("from parent")

	lines := decodeLines(t, buf.Bytes())
	if _, ok := lines[0]["child"]; ok {
		t.Fatalf("parent line carries child field: %v", lines[0])
	}
}

func TestZeroAndNopAreSafe(t *testing.T) {
	t.Parallel()

	var zero Logger
	if !zero.IsZero() {
		t.Fatalf("zero.IsZero() = false")
	}
	zero.Info("dropped", String("k", "v"))
	Nop().Error("dropped")
	if Nop().IsZero() {
		t.Fatalf("Nop().IsZero() = true")
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()

	for _, lv := range []string{"", "trace", "DEBUG", " info ", "warn", "warning", "error"} {
		if !ValidLevel(lv) {
			t.Fatalf("ValidLevel(%q) = false", lv)
		}
	}
	for _, lv := range []string{"fatal", "verbose", "1"} {
		if ValidLevel(lv) {
			t.Fatalf("ValidLevel(%q) = true", lv)
		}
	}
}

func TestServiceApplyFileSink(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pinetick.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Info("below level")
	log.Warn("kept", String("func_path", "jobs.Ping"))

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	if !log.Enabled(LevelDebug) {
		t.Fatalf("Enabled(debug) = false after Apply")
	}
	log.Debug("now visible")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := decodeLines(t, b)
	if len(lines) != 2 || lines[0]["message"] != "kept" || lines[1]["message"] != "now visible" {
		t.Fatalf("file lines = %v", lines)
	}
}

func TestApplyKeepsFileOpenForSamePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := filepath.Join(dir, "a.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	defer svc.Close()

	f := svc.file
	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: " " + first + " "}})
	if svc.file != f {
		t.Fatalf("Apply() reopened the log file for an unchanged path")
	}
	if log.Enabled(LevelWarn) {
		t.Fatalf("Enabled(warn) = true after Apply(error)")
	}

	second := filepath.Join(dir, "b.log")
	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: second}})
	if svc.filePath != second {
		t.Fatalf("filePath = %q, want %q", svc.filePath, second)
	}
	log.Info("moved")

	svc.Apply(Config{Level: "info", Console: true})
	if svc.file != nil {
		t.Fatalf("file still open after disabling the file sink")
	}

	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("read %s: %v", second, err)
	}
	if lines := decodeLines(t, b); len(lines) != 1 || lines[0]["message"] != "moved" {
		t.Fatalf("%s lines = %v", second, lines)
	}
}
