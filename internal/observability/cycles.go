package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/jsonwatch/idgen"
	"github.com/hazyhaar/jsonwatch/jsondiff"
	"github.com/hazyhaar/jsonwatch/watch"
)

// CycleRecord is one row of the poll_cycles table.
type CycleRecord struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	Outcome    watch.Outcome   `json:"outcome"`
	SnapshotID string          `json:"snapshot_id,omitempty"`
	Counts     jsondiff.Counts `json:"counts"`
	Fragments  int             `json:"fragments"`
	Started    time.Time       `json:"started"`
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
}

// CycleLog writes watcher results to poll_cycles.
type CycleLog struct {
	db     *sql.DB
	source string
	newID  idgen.Generator
	logger *slog.Logger
}

// CycleLogOption configures a CycleLog.
type CycleLogOption func(*CycleLog)

// WithCycleIDGenerator sets the generator used for rows without a cycle ID
// (skipped cycles).
func WithCycleIDGenerator(gen idgen.Generator) CycleLogOption {
	return func(l *CycleLog) { l.newID = gen }
}

// WithLogger sets the logger used when a write fails.
func WithLogger(logger *slog.Logger) CycleLogOption {
	return func(l *CycleLog) { l.logger = logger }
}

// NewCycleLog creates a log for cycles polling source.
func NewCycleLog(db *sql.DB, source string, opts ...CycleLogOption) *CycleLog {
	l := &CycleLog{
		db:     db,
		source: source,
		newID:  idgen.Cycle,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Record inserts one cycle result.
func (l *CycleLog) Record(ctx context.Context, r watch.Result) error {
	id := r.ID
	if id == "" {
		id = l.newID()
	}
	var snapID, errMsg sql.NullString
	if r.SnapshotID != "" {
		snapID = sql.NullString{String: r.SnapshotID, Valid: true}
	}
	if r.Error != "" {
		errMsg = sql.NullString{String: r.Error, Valid: true}
	}
	_, err := execRetry(ctx, l.db, `
		INSERT INTO poll_cycles (
			cycle_id, source, outcome, snapshot_id, added, edited, removed,
			fragments, started_at, duration_ms, error_message
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		id, l.source, string(r.Outcome), snapID, r.Counts.Added, r.Counts.Edited, r.Counts.Removed,
		r.Fragments, r.Started.UnixMilli(), r.Duration.Milliseconds(), errMsg)
	if err != nil {
		return fmt.Errorf("observability: record cycle: %w", err)
	}
	return nil
}

// Hook adapts Record for watch.Options.OnCycle. Write failures are logged,
// never propagated: a failing log store must not stall polling.
func (l *CycleLog) Hook(timeout time.Duration) func(watch.Result) {
	return func(r watch.Result) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := l.Record(ctx, r); err != nil {
			l.logger.Warn("observability: cycle log write failed", "cycle", r.ID, "error", err)
		}
	}
}

// Recent returns the latest n cycles, newest first. n <= 0 means 50.
func (l *CycleLog) Recent(ctx context.Context, n int) ([]CycleRecord, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT cycle_id, source, outcome, snapshot_id, added, edited, removed,
		       fragments, started_at, duration_ms, error_message
		FROM poll_cycles
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("observability: query cycles: %w", err)
	}
	defer rows.Close()

	var out []CycleRecord
	for rows.Next() {
		var (
			rec            CycleRecord
			outcome        string
			snapID, errMsg sql.NullString
			startedMs      int64
		)
		if err := rows.Scan(&rec.ID, &rec.Source, &outcome, &snapID,
			&rec.Counts.Added, &rec.Counts.Edited, &rec.Counts.Removed,
			&rec.Fragments, &startedMs, &rec.DurationMs, &errMsg); err != nil {
			return nil, fmt.Errorf("observability: scan cycle: %w", err)
		}
		rec.Outcome = watch.Outcome(outcome)
		rec.SnapshotID = snapID.String
		rec.Error = errMsg.String
		rec.Started = time.UnixMilli(startedMs).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes cycles started before now-retention.
func (l *CycleLog) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	res, err := execRetry(ctx, l.db, "DELETE FROM poll_cycles WHERE started_at < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("observability: prune cycles: %w", err)
	}
	return res.RowsAffected()
}
