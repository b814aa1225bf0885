package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/pzem016-mqtt/internal/collector"
	"github.com/nerrad567/pzem016-mqtt/internal/supervisor"
)

const (
	defaultLimit = 50
	maxLimit     = 1000

	// timeLayout is fixed-width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// ErrInvalidRetention is returned by Prune for a non-positive retention.
var ErrInvalidRetention = errors.New("history: retention must be positive")

// Logger is the logging surface the pruner needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Store persists readings and task events.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore returns a Store over an open, migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// ReadingEntry is a stored reading.
type ReadingEntry struct {
	ID int64 `json:"id"`
	collector.Reading
}

// RecordReading inserts r.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - r: Reading to persist; a zero At is stamped with the current time
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (s *Store) RecordReading(ctx context.Context, r collector.Reading) error {
	at := r.At
	if at.IsZero() {
		at = s.now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings
		   (unit, gateway, breaker, volts, amps, watts, watt_hours, frequency, power_factor, alarm, read_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int(r.Addr), r.Gateway, r.Breaker,
		r.Volts, r.Amps, r.Watts, r.WattHours, r.Frequency, r.PowerFactor,
		boolToInt(r.Alarm),
		formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

// Readings returns the most recent readings for a unit, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - addr: Unit address
//   - limit: Maximum rows (default 50, max 1000)
//
// Returns:
//   - []ReadingEntry: Rows ordered by read time descending
//   - error: nil on success, otherwise the underlying query error
func (s *Store) Readings(ctx context.Context, addr uint8, limit int) ([]ReadingEntry, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, unit, gateway, breaker, volts, amps, watts, watt_hours, frequency, power_factor, alarm, read_at
		 FROM readings
		 WHERE unit = ?
		 ORDER BY read_at DESC, id DESC
		 LIMIT ?`,
		int(addr), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	entries := make([]ReadingEntry, 0, limit)
	for rows.Next() {
		var (
			e      ReadingEntry
			unit   int
			alarm  int
			readAt string
		)
		if err := rows.Scan(&e.ID, &unit, &e.Gateway, &e.Breaker,
			&e.Volts, &e.Amps, &e.Watts, &e.WattHours, &e.Frequency, &e.PowerFactor,
			&alarm, &readAt); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		e.Addr = uint8(unit) //nolint:gosec // stored from a uint8
		e.Alarm = alarm != 0
		if e.At, err = parseTime(readAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return entries, nil
}

// RecordTaskEvent inserts ev. A nil ID is replaced with a new one.
func (s *Store) RecordTaskEvent(ctx context.Context, ev supervisor.TaskEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_events (id, task, incarnation, kind, detail, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.Task, ev.Incarnation.String(), ev.Kind, ev.Detail, formatTime(ev.At),
	)
	if err != nil {
		return fmt.Errorf("inserting task event: %w", err)
	}
	return nil
}

// TaskEvents returns the most recent task events, newest first.
func (s *Store) TaskEvents(ctx context.Context, limit int) ([]supervisor.TaskEvent, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, incarnation, kind, detail, occurred_at
		 FROM task_events
		 ORDER BY occurred_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying task events: %w", err)
	}
	defer rows.Close()

	events := make([]supervisor.TaskEvent, 0, limit)
	for rows.Next() {
		var (
			ev                   supervisor.TaskEvent
			id, incarnation, ats string
		)
		if err := rows.Scan(&id, &ev.Task, &incarnation, &ev.Kind, &ev.Detail, &ats); err != nil {
			return nil, fmt.Errorf("scanning task event: %w", err)
		}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing task event id: %w", err)
		}
		if ev.Incarnation, err = uuid.Parse(incarnation); err != nil {
			return nil, fmt.Errorf("parsing incarnation id: %w", err)
		}
		if ev.At, err = parseTime(ats); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task events: %w", err)
	}
	return events, nil
}

// Prune deletes readings and task events older than retention and returns
// the number of rows removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, ErrInvalidRetention
	}
	cutoff := formatTime(s.now().Add(-retention))

	var total int64
	for _, q := range []string{
		"DELETE FROM readings WHERE read_at < ?",
		"DELETE FROM task_events WHERE occurred_at < ?",
	} {
		result, err := s.db.ExecContext(ctx, q, cutoff)
		if err != nil {
			return total, fmt.Errorf("pruning history: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

// RunPruner prunes once per interval until ctx is cancelled. Failures are
// logged and retried on the next tick.
func (s *Store) RunPruner(ctx context.Context, interval, retention time.Duration, log Logger) error {
	if retention <= 0 {
		return ErrInvalidRetention
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Prune(ctx, retention)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Warn("history prune failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("history pruned", "rows", n, "retention", retention.String())
			}
		}
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err == nil {
		return t, nil
	}
	if fallback, fbErr := time.Parse(time.RFC3339Nano, value); fbErr == nil {
		return fallback, nil
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
