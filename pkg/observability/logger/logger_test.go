package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("line %q is not JSON: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNewZapLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewZapLogger(Config{Level: WarnLevel, Format: JSONFormat, Output: &buf})
	if err != nil {
		t.Fatalf("NewZapLogger() error = %v", err)
	}
	log.Info("skipped")
	log.Warn("kept", "collection", "members")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d entries, want 1: %s", len(lines), buf.String())
	}
	if lines[0]["message"] != "kept" || lines[0]["collection"] != "members" || lines[0]["level"] != "warn" {
		t.Fatalf("unexpected entry %v", lines[0])
	}
	if _, ok := lines[0]["timestamp"]; !ok {
		t.Fatalf("entry has no timestamp: %v", lines[0])
	}
}

func TestNewZapLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewZapLogger(Config{Format: TextFormat, Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hello", "k", "v")
	if out := buf.String(); !strings.Contains(out, "INFO") || !strings.Contains(out, "hello") {
		t.Fatalf("unexpected console output %q", out)
	}
}

func TestNewZapLogger_InvalidConfig(t *testing.T) {
	tests := []Config{
		{Level: "verbose"},
		{Format: "xml"},
	}
	for _, cfg := range tests {
		if _, err := NewZapLogger(cfg); err == nil {
			t.Errorf("NewZapLogger(%+v) should fail", cfg)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]bool{"debug": true, "INFO": true, "": true, "warning": true, " error ": true, "trace": false}
	for in, ok := range tests {
		if _, err := ParseLogLevel(in); (err == nil) != ok {
			t.Errorf("ParseLogLevel(%q) error = %v", in, err)
		}
	}
}

func TestWithContext_AddsFields(t *testing.T) {
	var buf bytes.Buffer
	log, _ := NewZapLogger(Config{Output: &buf})

	ctx := ContextWithFields(context.Background(), "op", "members/list")
	ctx = ContextWithFields(ctx, "uid", "u1")
	log.With("module", "members").WithContext(ctx).Info("served")
	log.WithContext(context.Background()).Info("plain")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d entries", len(lines))
	}
	if lines[0]["op"] != "members/list" || lines[0]["uid"] != "u1" || lines[0]["module"] != "members" {
		t.Fatalf("context fields missing: %v", lines[0])
	}
	if _, ok := lines[1]["op"]; ok {
		t.Fatalf("fields leaked into plain entry: %v", lines[1])
	}
}

func TestContextWithFields_DoesNotAlias(t *testing.T) {
	base := ContextWithFields(context.Background(), "a", 1)
	left := ContextWithFields(base, "b", 2)
	right := ContextWithFields(base, "c", 3)
	if got := FieldsFromContext(left); len(got) != 4 || got[2] != "b" {
		t.Fatalf("left = %v", got)
	}
	if got := FieldsFromContext(right); len(got) != 4 || got[2] != "c" {
		t.Fatalf("right = %v", got)
	}
}

type recorder struct {
	mu      sync.Mutex
	entries []string
	block   chan struct{}
}

func (r *recorder) add(msg string) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.entries = append(r.entries, msg)
	r.mu.Unlock()
}

func (r *recorder) Debug(msg string, _ ...any)          { r.add(msg) }
func (r *recorder) Info(msg string, _ ...any)           { r.add(msg) }
func (r *recorder) Warn(msg string, _ ...any)           { r.add(msg) }
func (r *recorder) Error(msg string, _ ...any)          { r.add(msg) }
func (r *recorder) With(...any) Logger                  { return r }
func (r *recorder) WithContext(context.Context) Logger  { return r }

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func TestWrapAsync_Disabled(t *testing.T) {
	base := &recorder{}
	if got := WrapAsync(base, AsyncConfig{}); got != Logger(base) {
		t.Fatal("disabled async should return the base logger")
	}
}

func TestWrapAsync_CloseDrains(t *testing.T) {
	base := &recorder{}
	log := WrapAsync(base, AsyncConfig{Enabled: true, QueueSize: 8, WorkerCount: 2}).(*AsyncLogger)

	for range 50 {
		log.With("k", "v").Info("queued")
	}
	log.Close()
	if n := base.len(); n != 50 {
		t.Fatalf("wrote %d entries after Close, want 50", n)
	}

	log.Error("after close")
	log.Close()
	if n := base.len(); n != 51 {
		t.Fatalf("entries after close should be written inline, got %d", n)
	}
}

func TestWrapAsync_DropWhenFull(t *testing.T) {
	base := &recorder{block: make(chan struct{})}
	log := WrapAsync(base, AsyncConfig{Enabled: true, QueueSize: 1, WorkerCount: 1, DropWhenFull: true}).(*AsyncLogger)

	// One entry held by the worker, one in the queue, the rest dropped.
	for range 10 {
		log.Warn("burst")
	}
	if log.Dropped() < 8 {
		t.Fatalf("Dropped() = %d, want at least 8", log.Dropped())
	}
	close(base.block)
	log.Close()
	if got := uint64(base.len()) + log.Dropped(); got != 10 {
		t.Fatalf("written+dropped = %d, want 10", got)
	}
}
