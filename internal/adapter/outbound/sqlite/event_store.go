// Package sqlite provides a durable security-event sink backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bastion-core/bastion/internal/domain/event"
)

// EventStore persists security events to a SQLite database. It consumes
// events from the bus through a buffered channel and a background worker
// that batches inserts, so publishing never blocks on disk I/O.
type EventStore struct {
	db            *sql.DB
	eventChan     chan event.SecurityEvent
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	dropCount     atomic.Int64
	closeOnce     sync.Once
}

// Option configures an EventStore.
type Option func(*EventStore)

// WithBatchSize sets the number of events to batch before writing.
func WithBatchSize(size int) Option {
	return func(s *EventStore) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets the interval to flush pending events.
func WithFlushInterval(interval time.Duration) Option {
	return func(s *EventStore) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS security_events (
	id          TEXT PRIMARY KEY,
	ts          TEXT NOT NULL,
	category    TEXT NOT NULL,
	severity    TEXT NOT NULL,
	source      TEXT NOT NULL,
	identity_id TEXT,
	resource    TEXT,
	action      TEXT,
	details     TEXT,
	client_ip   TEXT,
	user_agent  TEXT
);
CREATE INDEX IF NOT EXISTS idx_security_events_ts ON security_events(ts);
CREATE INDEX IF NOT EXISTS idx_security_events_identity ON security_events(identity_id);
`

// NewEventStore opens (creating if needed) the database at path and
// prepares the schema. Use ":memory:" for an ephemeral store in tests.
func NewEventStore(path string, logger *slog.Logger, opts ...Option) (*EventStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event database: %w", err)
	}
	// modernc/sqlite serializes access per connection; a single connection
	// avoids SQLITE_BUSY between the worker and queries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare event schema: %w", err)
	}

	s := &EventStore{
		db:            db,
		eventChan:     make(chan event.SecurityEvent, 1000),
		logger:        logger,
		batchSize:     100,
		flushInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins the background worker that batches and writes events.
func (s *EventStore) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Consume implements event.Sink. Non-blocking: if the channel is full the
// event is dropped and counted rather than stalling the publisher.
func (s *EventStore) Consume(e event.SecurityEvent) {
	select {
	case s.eventChan <- e:
	default:
		drops := s.dropCount.Add(1)
		s.logger.Warn("security event dropped", "event_id", e.ID, "total_drops", drops)
	}
}

// DroppedEvents returns total dropped events (for metrics/alerting).
func (s *EventStore) DroppedEvents() int64 {
	return s.dropCount.Load()
}

// Close stops the worker, flushes pending events, and closes the database.
// Safe to call multiple times.
func (s *EventStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.eventChan)
	})
	s.wg.Wait()
	return s.db.Close()
}

// worker collects and flushes event batches.
func (s *EventStore) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]event.SecurityEvent, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-s.eventChan:
			if !ok {
				s.flush(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ctx.Done():
			// Drain whatever is already queued, then exit.
			for {
				select {
				case e, ok := <-s.eventChan:
					if !ok {
						s.flush(batch)
						return
					}
					batch = append(batch, e)
				default:
					s.flush(batch)
					return
				}
			}
		}
	}
}

// flush writes a batch inside one transaction.
// Errors are logged but not propagated; event persistence must not fail
// authentication or authorization traffic.
func (s *EventStore) flush(batch []event.SecurityEvent) {
	if len(batch) == 0 {
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		s.logger.Error("failed to begin event batch", "error", err, "count", len(batch))
		return
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO security_events
		(id, ts, category, severity, source, identity_id, resource, action, details, client_ip, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		s.logger.Error("failed to prepare event insert", "error", err)
		_ = tx.Rollback()
		return
	}
	defer stmt.Close()

	for _, e := range batch {
		details, _ := json.Marshal(e.Details)
		if _, err := stmt.Exec(
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			string(e.Category),
			string(e.Severity),
			e.Source,
			e.IdentityID,
			e.Resource,
			e.Action,
			string(details),
			e.ClientIP,
			e.UserAgent,
		); err != nil {
			s.logger.Error("failed to insert security event", "error", err, "event_id", e.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("failed to commit event batch", "error", err, "count", len(batch))
	}
}

// Query returns up to limit persisted events matching the filter, newest
// first. A limit <= 0 defaults to 100.
func (s *EventStore) Query(ctx context.Context, limit int, filter event.Filter) ([]event.SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, ts, category, severity, source, identity_id, resource, action, details, client_ip, user_agent
		FROM security_events WHERE 1=1`
	var args []any
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, string(filter.Category))
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}
	if filter.IdentityID != "" {
		query += " AND identity_id = ?"
		args = append(args, filter.IdentityID)
	}
	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, filter.Source)
	}
	if !filter.Since.IsZero() {
		query += " AND ts >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var result []event.SecurityEvent
	for rows.Next() {
		var e event.SecurityEvent
		var ts, details string
		if err := rows.Scan(&e.ID, &ts, &e.Category, &e.Severity, &e.Source,
			&e.IdentityID, &e.Resource, &e.Action, &details, &e.ClientIP, &e.UserAgent); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if details != "" && details != "null" {
			_ = json.Unmarshal([]byte(details), &e.Details)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Compile-time interface verification.
var _ event.Sink = (*EventStore)(nil)
