// Package alertfile persists critical security alerts as JSON Lines with
// daily rotation, size caps, and retention cleanup. Subscribe it on the
// alert feed so critical events survive process restarts even without a
// database configured.
package alertfile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/bastion-core/bastion/internal/domain/event"
)

// alertFilePattern matches alert log filenames: alerts-YYYY-MM-DD.log or
// alerts-YYYY-MM-DD-N.log.
var alertFilePattern = regexp.MustCompile(`^alerts-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

// Config holds configuration for the alert file sink.
type Config struct {
	// Dir is the directory where alert files are stored.
	Dir string
	// RetentionDays is the number of days to keep alert files (default 30).
	RetentionDays int
	// MaxFileSizeMB is the maximum file size in megabytes before rotation
	// (default 50).
	MaxFileSizeMB int
}

// Sink appends security events to rotated JSON Lines files. It implements
// event.Sink; writes are synchronous since the alert feed is low-volume.
type Sink struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	logger        *slog.Logger

	mu            sync.Mutex
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	writeErrors   uint64
	closed        bool

	cancel context.CancelFunc
}

// NewSink creates the alert sink. It creates the directory if needed,
// opens today's log file, runs retention cleanup, and starts the hourly
// cleanup goroutine.
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 50
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create alert directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		cancel:        cancel,
	}

	today := time.Now().UTC().Format(time.DateOnly)
	if err := s.openCurrentFile(today); err != nil {
		cancel()
		return nil, fmt.Errorf("open alert file: %w", err)
	}

	s.runCleanup()
	go s.cleanupLoop(ctx)

	return s, nil
}

// Consume appends one event to the current alert file, rotating by date
// and size as needed. Write failures are counted and logged, never
// propagated; the publisher must not stall on disk trouble.
func (s *Sink) Consume(e event.SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if err := s.appendLocked(e); err != nil {
		s.writeErrors++
		s.logger.Error("alert sink write failed", "error", err, "event_id", e.ID)
	}
}

// WriteErrors returns the number of failed writes since creation.
func (s *Sink) WriteErrors() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeErrors
}

// Close stops the cleanup goroutine and closes the current file. Safe to
// call multiple times.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()

	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		err := s.currentFile.Close()
		s.currentFile = nil
		return err
	}
	return nil
}

func (s *Sink) appendLocked(e event.SecurityEvent) error {
	dateStr := e.Timestamp.UTC().Format(time.DateOnly)
	if dateStr != s.currentDate {
		if err := s.rotateDateLocked(dateStr); err != nil {
			return fmt.Errorf("date rotation: %w", err)
		}
	}
	if s.currentSize >= s.maxFileSize {
		if err := s.rotateSizeLocked(); err != nil {
			return fmt.Errorf("size rotation: %w", err)
		}
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	n, err := s.currentFile.Write(append(data, '\n'))
	if err != nil {
		return fmt.Errorf("write alert: %w", err)
	}
	s.currentSize += int64(n)
	return nil
}

// openCurrentFile opens or creates the alert file for the given date,
// resuming the highest existing suffix so restarts keep appending.
func (s *Sink) openCurrentFile(dateStr string) error {
	suffix := s.findHighestSuffix(dateStr)
	f, size, err := s.openFile(dateStr, suffix)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentDate = dateStr
	s.currentSize = size
	s.currentSuffix = suffix
	return nil
}

// findHighestSuffix returns the highest existing suffix for a date, or 0.
func (s *Sink) findHighestSuffix(dateStr string) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, e := range entries {
		date, suffix, ok := parseAlertFilename(e.Name())
		if !ok || date != dateStr {
			continue
		}
		if suffix > highest {
			highest = suffix
		}
	}
	return highest
}

func (s *Sink) openFile(dateStr string, suffix int) (*os.File, int64, error) {
	path := filepath.Join(s.dir, buildFilename(dateStr, suffix))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", path, err)
	}
	return f, info.Size(), nil
}

func buildFilename(dateStr string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("alerts-%s.log", dateStr)
	}
	return fmt.Sprintf("alerts-%s-%d.log", dateStr, suffix)
}

func parseAlertFilename(name string) (date string, suffix int, ok bool) {
	matches := alertFilePattern.FindStringSubmatch(name)
	if matches == nil {
		return "", 0, false
	}
	if matches[2] != "" {
		n, err := strconv.Atoi(matches[2])
		if err != nil {
			return "", 0, false
		}
		suffix = n
	}
	return matches[1], suffix, true
}

// rotateDateLocked closes the current file and opens a fresh one for the
// new date. Must be called with s.mu held.
func (s *Sink) rotateDateLocked(dateStr string) error {
	s.closeCurrentLocked()
	s.currentSuffix = 0
	s.currentDate = dateStr

	f, size, err := s.openFile(dateStr, 0)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentSize = size
	return nil
}

// rotateSizeLocked moves to the next suffix for the current date. Must be
// called with s.mu held.
func (s *Sink) rotateSizeLocked() error {
	s.closeCurrentLocked()
	s.currentSuffix++

	f, size, err := s.openFile(s.currentDate, s.currentSuffix)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentSize = size
	return nil
}

func (s *Sink) closeCurrentLocked() {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}
	s.currentSize = 0
}

// runCleanup deletes alert files older than the retention period.
func (s *Sink) runCleanup() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("alert cleanup: failed to read directory", "dir", s.dir, "error", err)
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays).Format(time.DateOnly)
	deleted := 0
	for _, e := range entries {
		date, _, ok := parseAlertFilename(e.Name())
		if !ok || date >= cutoff {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			s.logger.Error("alert cleanup: failed to delete file", "file", e.Name(), "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("alert cleanup removed expired files", "deleted", deleted)
	}
}

// cleanupLoop reruns retention cleanup hourly until the sink is closed.
func (s *Sink) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}
