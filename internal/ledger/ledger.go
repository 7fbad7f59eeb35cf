// Package ledger keeps a persistent record of model acquisitions in
// SQLite so that "jarvis model status" can say when the current file
// was fetched, how long it took, and why the last attempt failed.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/jarvis-core/internal/events"
)

// Entry is one finished acquisition.
type Entry struct {
	JobID     string
	Variant   string
	Remote    string
	TargetDir string
	Outcome   string
	Path      string
	Reason    string
	Bytes     int64
	Elapsed   time.Duration
	At        time.Time
}

// Ledger is safe for concurrent use.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	l, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// New wraps an open database, creating the schema on first use.
func New(db *sql.DB) (*Ledger, error) {
	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return l, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`
	CREATE TABLE IF NOT EXISTS acquisitions (
		job_id     TEXT PRIMARY KEY,
		variant    TEXT NOT NULL DEFAULT '',
		remote     TEXT NOT NULL,
		target_dir TEXT NOT NULL,
		outcome    TEXT NOT NULL,
		path       TEXT NOT NULL DEFAULT '',
		reason     TEXT NOT NULL DEFAULT '',
		bytes      INTEGER NOT NULL DEFAULT 0,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		at         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS acquisitions_variant_at ON acquisitions (variant, at);
	`)
	return err
}

// Record stores e. A repeated job ID overwrites the earlier row.
func (l *Ledger) Record(e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := l.db.Exec(
		`INSERT INTO acquisitions (job_id, variant, remote, target_dir, outcome, path, reason, bytes, elapsed_ms, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET
		   variant = excluded.variant, remote = excluded.remote,
		   target_dir = excluded.target_dir, outcome = excluded.outcome,
		   path = excluded.path, reason = excluded.reason, bytes = excluded.bytes,
		   elapsed_ms = excluded.elapsed_ms, at = excluded.at`,
		e.JobID, e.Variant, e.Remote, e.TargetDir, e.Outcome, e.Path, e.Reason,
		e.Bytes, e.Elapsed.Milliseconds(), e.At.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", e.JobID, err)
	}
	return nil
}

// timeLayout is fixed width so that ORDER BY at sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `SELECT job_id, variant, remote, target_dir, outcome, path, reason, bytes, elapsed_ms, at FROM acquisitions`

// Recent returns up to n entries, newest first.
func (l *Ledger) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := l.db.Query(selectColumns+` ORDER BY at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Last returns the newest entry for variant, or nil when there is none.
func (l *Ledger) Last(variant string) (*Entry, error) {
	row := l.db.QueryRow(selectColumns+` WHERE variant = ? ORDER BY at DESC LIMIT 1`, variant)
	e, err := scan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Entry, error) {
	var (
		e         Entry
		elapsedMS int64
		at        string
	)
	if err := s.Scan(&e.JobID, &e.Variant, &e.Remote, &e.TargetDir, &e.Outcome, &e.Path, &e.Reason, &e.Bytes, &elapsedMS, &at); err != nil {
		if err == sql.ErrNoRows {
			return e, err
		}
		return e, fmt.Errorf("scan acquisition: %w", err)
	}
	e.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if t, err := time.Parse(timeLayout, at); err == nil {
		e.At = t
	}
	return e, nil
}

// EntryFromEvent converts an acquire_done event. ok is false for any
// other event.
func EntryFromEvent(ev events.Event) (Entry, bool) {
	if ev.Source != events.SourceResource || ev.Kind != events.KindAcquireDone {
		return Entry{}, false
	}
	str := func(k string) string {
		s, _ := ev.Data[k].(string)
		return s
	}
	return Entry{
		JobID:     str("job_id"),
		Variant:   str("variant"),
		Remote:    str("remote"),
		TargetDir: str("target_dir"),
		Outcome:   str("outcome"),
		Path:      str("path"),
		Reason:    str("reason"),
		Bytes:     toInt64(ev.Data["bytes"]),
		Elapsed:   time.Duration(toInt64(ev.Data["elapsed_ms"])) * time.Millisecond,
		At:        ev.Timestamp,
	}, true
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// Run records every acquire_done event published on bus until ctx is
// cancelled.
func (l *Ledger) Run(ctx context.Context, bus *events.Bus, logger *slog.Logger) {
	l.Start(ctx, bus, logger)()
}

// Start subscribes to bus before returning and records in the
// background. The returned function blocks until recording has stopped.
// Events already queued when ctx ends are still recorded, so a
// short-lived command can cancel right after its acquisition returns
// and then wait.
func (l *Ledger) Start(ctx context.Context, bus *events.Bus, logger *slog.Logger) (wait func()) {
	ch := bus.Subscribe(32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer bus.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case ev := <-ch:
						l.record(ev, logger)
					default:
						return
					}
				}
			case ev := <-ch:
				l.record(ev, logger)
			}
		}
	}()
	return func() { <-done }
}

func (l *Ledger) record(ev events.Event, logger *slog.Logger) {
	e, ok := EntryFromEvent(ev)
	if !ok {
		return
	}
	if err := l.Record(e); err != nil {
		logger.Error("failed to record acquisition", "job_id", e.JobID, "error", err)
	}
}
