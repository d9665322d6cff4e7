package alertfile

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bastion-core/bastion/internal/domain/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSink(t *testing.T, cfg Config) *Sink {
	t.Helper()
	s, err := NewSink(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewSink() error: %v", err)
	}
	return s
}

func criticalEvent(action string) event.SecurityEvent {
	return event.SecurityEvent{
		ID:        event.NewEventID(),
		Timestamp: time.Now().UTC(),
		Category:  event.CategoryIntrusion,
		Severity:  event.SeverityCritical,
		Source:    "test",
		Action:    action,
	}
}

func readLines(t *testing.T, path string) []event.SecurityEvent {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open(%s) error: %v", path, err)
	}
	defer f.Close()

	var events []event.SecurityEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e event.SecurityEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		events = append(events, e)
	}
	return events
}

func TestSink_AppendsJSONLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newTestSink(t, Config{Dir: dir})

	s.Consume(criticalEvent("breach-detected"))
	s.Consume(criticalEvent("audit-failed"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	today := time.Now().UTC().Format(time.DateOnly)
	events := readLines(t, filepath.Join(dir, "alerts-"+today+".log"))
	if len(events) != 2 {
		t.Fatalf("lines = %d, want 2", len(events))
	}
	if events[0].Action != "breach-detected" || events[1].Action != "audit-failed" {
		t.Errorf("events = %+v, want append order preserved", events)
	}
	if s.WriteErrors() != 0 {
		t.Errorf("WriteErrors() = %d, want 0", s.WriteErrors())
	}
}

func TestSink_ResumesAcrossRestarts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := newTestSink(t, Config{Dir: dir})
	s.Consume(criticalEvent("first"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	s = newTestSink(t, Config{Dir: dir})
	s.Consume(criticalEvent("second"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	today := time.Now().UTC().Format(time.DateOnly)
	events := readLines(t, filepath.Join(dir, "alerts-"+today+".log"))
	if len(events) != 2 {
		t.Errorf("lines after restart = %d, want 2 appended to same file", len(events))
	}
}

func TestSink_SizeRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// 1 MB cap; each event is a few hundred bytes, so a few thousand
	// writes force at least one suffix rotation.
	s := newTestSink(t, Config{Dir: dir, MaxFileSizeMB: 1})
	e := criticalEvent("flood")
	e.Details = map[string]any{"padding": string(make([]byte, 512))}
	for i := 0; i < 4096; i++ {
		s.Consume(e)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	today := time.Now().UTC().Format(time.DateOnly)
	if _, err := os.Stat(filepath.Join(dir, "alerts-"+today+"-1.log")); err != nil {
		t.Errorf("expected rotated file with suffix 1: %v", err)
	}
	if s.WriteErrors() != 0 {
		t.Errorf("WriteErrors() = %d, want 0", s.WriteErrors())
	}
}

func TestSink_RetentionCleanup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := filepath.Join(dir, "alerts-2020-01-01.log")
	if err := os.WriteFile(old, []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	unrelated := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(unrelated, []byte("keep me"), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	s := newTestSink(t, Config{Dir: dir, RetentionDays: 7})
	defer s.Close()

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("expired alert file survived retention cleanup")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Error("retention cleanup touched a non-alert file")
	}
}

func TestSink_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestSink(t, Config{Dir: t.TempDir()})
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close(again) error = %v, want nil", err)
	}
	// Consuming after close is a silent no-op.
	s.Consume(criticalEvent("late"))
}
