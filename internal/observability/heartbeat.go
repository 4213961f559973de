package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/jsonwatch/watch"
)

// HeartbeatConfig configures a HeartbeatWriter.
type HeartbeatConfig struct {
	Worker   string        // default "jsonwatch"
	Source   string        // watched URL, stored on every row
	Interval time.Duration // default 15s

	// Retention, when > 0, prunes heartbeats and Cycles rows older than it
	// after every beat.
	Retention time.Duration
	Cycles    *CycleLog

	// Stats reports the poll loop counters. Nil records zero cycles.
	Stats func() watch.Stats

	Logger *slog.Logger
}

// HeartbeatWriter records where the poll loop stands, one row per interval,
// so a stuck watcher shows up as a stale last_cycle_id with a live process.
type HeartbeatWriter struct {
	db       *sql.DB
	cfg      HeartbeatConfig
	hostname string
	pid      int

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewHeartbeatWriter creates a writer. Nothing is written before Start or Beat.
func NewHeartbeatWriter(db *sql.DB, cfg HeartbeatConfig) *HeartbeatWriter {
	if cfg.Worker == "" {
		cfg.Worker = "jsonwatch"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &HeartbeatWriter{
		db:       db,
		cfg:      cfg,
		hostname: hostname,
		pid:      os.Getpid(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start beats once immediately, then every interval until Stop or ctx ends.
func (hw *HeartbeatWriter) Start(ctx context.Context) {
	if !hw.started.CompareAndSwap(false, true) {
		return
	}
	go hw.loop(ctx)
}

// Stop ends the loop and waits for it. It is safe to call more than once.
func (hw *HeartbeatWriter) Stop() {
	hw.stopOnce.Do(func() { close(hw.stop) })
	if hw.started.Load() {
		<-hw.done
	}
}

// Beat writes one heartbeat row, then prunes expired rows when Retention is set.
func (hw *HeartbeatWriter) Beat(ctx context.Context) error {
	var st watch.Stats
	if hw.cfg.Stats != nil {
		st = hw.cfg.Stats()
	}
	var lastID, lastOutcome sql.NullString
	if st.LastCycle != nil {
		lastID = sql.NullString{String: st.LastCycle.ID, Valid: st.LastCycle.ID != ""}
		lastOutcome = sql.NullString{String: string(st.LastCycle.Outcome), Valid: true}
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	_, err := execRetry(ctx, hw.db, `
		INSERT INTO heartbeats (
			worker_name, source, hostname, pid, beat_at,
			cycles, last_cycle_id, last_outcome, goroutines, heap_alloc_mb
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		hw.cfg.Worker, hw.cfg.Source, hw.hostname, hw.pid, time.Now().UnixMilli(),
		st.Cycles, lastID, lastOutcome, runtime.NumGoroutine(), float64(mem.HeapAlloc)/(1<<20))
	if err != nil {
		return fmt.Errorf("observability: insert heartbeat: %w", err)
	}
	if hw.cfg.Retention > 0 {
		return hw.prune(ctx)
	}
	return nil
}

func (hw *HeartbeatWriter) prune(ctx context.Context) error {
	threshold := time.Now().Add(-hw.cfg.Retention).UnixMilli()
	res, err := execRetry(ctx, hw.db, "DELETE FROM heartbeats WHERE worker_name = ? AND beat_at < ?",
		hw.cfg.Worker, threshold)
	if err != nil {
		return fmt.Errorf("observability: prune heartbeats: %w", err)
	}
	beats, _ := res.RowsAffected()
	var cycles int64
	if hw.cfg.Cycles != nil {
		if cycles, err = hw.cfg.Cycles.Prune(ctx, hw.cfg.Retention); err != nil {
			return err
		}
	}
	if beats+cycles > 0 {
		hw.cfg.Logger.Debug("observability: pruned", "heartbeats", beats, "cycles", cycles, "retention", hw.cfg.Retention)
	}
	return nil
}

func (hw *HeartbeatWriter) loop(ctx context.Context) {
	defer close(hw.done)
	ticker := time.NewTicker(hw.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := hw.Beat(ctx); err != nil && ctx.Err() == nil {
			hw.cfg.Logger.Warn("observability: heartbeat failed", "worker", hw.cfg.Worker, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-hw.stop:
			return
		case <-ticker.C:
		}
	}
}

// Heartbeat is the newest row of a worker.
type Heartbeat struct {
	Worker      string        `json:"worker"`
	Source      string        `json:"source"`
	Hostname    string        `json:"hostname"`
	PID         int           `json:"pid"`
	At          time.Time     `json:"at"`
	Cycles      int64         `json:"cycles"`
	LastCycleID string        `json:"last_cycle_id,omitempty"`
	LastOutcome watch.Outcome `json:"last_outcome,omitempty"`
	Goroutines  int           `json:"goroutines"`
	HeapAllocMB float64       `json:"heap_alloc_mb"`
	Alive       bool          `json:"alive"`
}

// LatestHeartbeat returns the newest heartbeat of worker, Alive when it is
// younger than staleAfter. It returns nil, nil when the worker never beat.
func LatestHeartbeat(ctx context.Context, db *sql.DB, worker string, staleAfter time.Duration) (*Heartbeat, error) {
	var (
		hb                  Heartbeat
		atMs                int64
		lastID, lastOutcome sql.NullString
	)
	err := db.QueryRowContext(ctx, `
		SELECT worker_name, source, hostname, pid, beat_at,
		       cycles, last_cycle_id, last_outcome, goroutines, heap_alloc_mb
		FROM heartbeats
		WHERE worker_name = ?
		ORDER BY beat_at DESC, rowid DESC LIMIT 1`, worker).
		Scan(&hb.Worker, &hb.Source, &hb.Hostname, &hb.PID, &atMs,
			&hb.Cycles, &lastID, &lastOutcome, &hb.Goroutines, &hb.HeapAllocMB)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("observability: latest heartbeat: %w", err)
	}
	hb.At = time.UnixMilli(atMs).UTC()
	hb.LastCycleID = lastID.String
	hb.LastOutcome = watch.Outcome(lastOutcome.String)
	hb.Alive = time.Since(hb.At) <= staleAfter
	return &hb, nil
}
