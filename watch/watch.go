// Package watch runs the jsonwatch poll loop: fetch the document, diff it
// against the held snapshot, classify and format the changes, deliver them,
// then advance the snapshot.
//
// Typical usage:
//
//	state := watch.NewState()
//	w := watch.New(fetcher, state, watch.Options{Interval: time.Minute, Sink: router})
//	go w.Run(ctx)
//
// The Watcher is the only writer of its State; everything else reads it.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/jsonwatch/idgen"
	"github.com/hazyhaar/jsonwatch/internal/fetcher"
	"github.com/hazyhaar/jsonwatch/internal/sink"
	"github.com/hazyhaar/jsonwatch/jsondiff"
	"github.com/hazyhaar/jsonwatch/kit"
	"github.com/hazyhaar/jsonwatch/render"
)

// Source yields the current document. *fetcher.Fetcher implements it.
// Returning fetcher.ErrNotModified means the document is known unchanged.
type Source interface {
	Fetch(ctx context.Context) (*jsondiff.Snapshot, error)
}

// State holds the last successfully fetched snapshot. It starts
// uninitialised (nil) and is only ever replaced, never cleared.
type State struct {
	mu   sync.RWMutex
	last *jsondiff.Snapshot
}

// NewState returns an uninitialised State.
func NewState() *State { return &State{} }

// Last returns the held snapshot, or nil before the first successful fetch.
// Snapshots are immutable; callers must not modify the returned value.
func (s *State) Last() *jsondiff.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Seeded reports whether a snapshot is held.
func (s *State) Seeded() bool { return s.Last() != nil }

func (s *State) set(snap *jsondiff.Snapshot) {
	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()
}

// Outcome classifies a finished cycle.
type Outcome string

const (
	OutcomeSeeded         Outcome = "seeded"
	OutcomeUnchanged      Outcome = "unchanged"
	OutcomeChanged        Outcome = "changed"
	OutcomeFetchFailed    Outcome = "fetch_failed"
	OutcomeDeliveryFailed Outcome = "delivery_failed"
	OutcomeSkipped        Outcome = "skipped"
)

// Result describes one poll cycle.
type Result struct {
	ID         string          `json:"id"`
	Outcome    Outcome         `json:"outcome"`
	SnapshotID string          `json:"snapshot_id,omitempty"`
	Counts     jsondiff.Counts `json:"counts"`
	Fragments  int             `json:"fragments"`
	Started    time.Time       `json:"started"`
	Duration   time.Duration   `json:"duration"`
	Err        error           `json:"-"`
	Error      string          `json:"error,omitempty"`
}

// Options tunes the watcher.
type Options struct {
	// Interval is the poll period. Default: 60s.
	Interval time.Duration
	// InitialDelay postpones the first cycle. Default: 0 (immediate).
	InitialDelay time.Duration
	// DeliveryTimeout bounds one Sink.Send. Default: 30s.
	DeliveryTimeout time.Duration
	// Diff selects the differencer and classifier behaviour.
	Diff jsondiff.Options
	// Renderer turns change sets into fragments. Default: render defaults.
	Renderer *render.Renderer
	// Sink receives change notifications. Default: a no-op callback.
	Sink sink.Sink
	// NewID generates cycle IDs. Default: idgen.Cycle.
	NewID idgen.Generator
	// NotificationID generates notification IDs. Default: idgen.Notification.
	NotificationID idgen.Generator
	// OnCycle, if set, is called after every cycle, skipped ones included.
	OnCycle func(Result)
	Logger  *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 60 * time.Second
	}
	if o.InitialDelay < 0 {
		o.InitialDelay = 0
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = 30 * time.Second
	}
	if o.Diff.Mode == "" {
		o.Diff.Mode = jsondiff.ModeRecord
	}
	if o.Renderer == nil {
		o.Renderer = render.NewRenderer(render.Options{})
	}
	if o.Sink == nil {
		o.Sink = sink.NewCallback(nil)
	}
	if o.NewID == nil {
		o.NewID = idgen.Cycle
	}
	if o.NotificationID == nil {
		o.NotificationID = idgen.Notification
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher drives poll cycles against a Source. Cycle is safe for concurrent
// use: a call that finds another cycle in flight returns OutcomeSkipped.
type Watcher struct {
	src   Source
	state *State
	opts  Options
	now   func() time.Time

	cycleMu sync.Mutex

	// completed + doneCond broadcast when a cycle finishes, enabling
	// WaitForCycles.
	completed atomic.Int64
	doneMu    sync.Mutex
	doneCond  *sync.Cond

	changed        atomic.Int64
	unchanged      atomic.Int64
	fetchErrors    atomic.Int64
	deliveryErrors atomic.Int64
	skipped        atomic.Int64
	cycleNs        atomic.Int64
	last           atomic.Pointer[Result]
}

// Stats are point-in-time counters.
type Stats struct {
	Cycles         int64         `json:"cycles"`
	Seeded         bool          `json:"seeded"`
	Changed        int64         `json:"changed"`
	Unchanged      int64         `json:"unchanged"`
	FetchErrors    int64         `json:"fetch_errors"`
	DeliveryErrors int64         `json:"delivery_errors"`
	Skipped        int64         `json:"skipped"`
	AvgCycleTime   time.Duration `json:"avg_cycle_time"`
	LastCycle      *Result       `json:"last_cycle,omitempty"`
}

// New creates a Watcher owning state. A nil state starts uninitialised.
func New(src Source, state *State, opts Options) *Watcher {
	opts.defaults()
	if state == nil {
		state = NewState()
	}
	w := &Watcher{src: src, state: state, opts: opts, now: time.Now}
	w.doneCond = sync.NewCond(&w.doneMu)
	return w
}

// State returns the watcher's state for reading.
func (w *Watcher) State() *State { return w.state }

// Options returns the effective options.
func (w *Watcher) Options() Options { return w.opts }

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Cycles:         w.completed.Load(),
		Seeded:         w.state.Seeded(),
		Changed:        w.changed.Load(),
		Unchanged:      w.unchanged.Load(),
		FetchErrors:    w.fetchErrors.Load(),
		DeliveryErrors: w.deliveryErrors.Load(),
		Skipped:        w.skipped.Load(),
		LastCycle:      w.last.Load(),
	}
	if s.Cycles > 0 {
		s.AvgCycleTime = time.Duration(w.cycleNs.Load() / s.Cycles)
	}
	return s
}

// Run blocks until ctx is cancelled. The first cycle runs after
// InitialDelay, then one every Interval. A cycle that outlasts the interval
// delays the next tick; cycles never overlap.
func (w *Watcher) Run(ctx context.Context) {
	log := w.opts.Logger
	log.Info("watch: started", "interval", w.opts.Interval, "initial_delay", w.opts.InitialDelay)

	if w.opts.InitialDelay > 0 {
		t := time.NewTimer(w.opts.InitialDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			log.Info("watch: stopped")
			return
		case <-t.C:
		}
	}
	w.Cycle(ctx)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("watch: stopped")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			w.Cycle(ctx)
		}
	}
}

// Cycle runs one fetch → diff → classify → format → deliver pass.
func (w *Watcher) Cycle(ctx context.Context) Result {
	if !w.cycleMu.TryLock() {
		r := Result{Outcome: OutcomeSkipped, Started: w.now()}
		w.skipped.Add(1)
		w.opts.Logger.Debug("watch: cycle already in flight, skipping")
		if w.opts.OnCycle != nil {
			w.opts.OnCycle(r)
		}
		return r
	}
	defer w.cycleMu.Unlock()

	r := Result{ID: w.opts.NewID(), Started: w.now()}
	ctx = kit.WithRequestID(ctx, r.ID)
	w.cycle(ctx, &r)
	r.Duration = w.now().Sub(r.Started)
	if r.Err != nil {
		r.Error = r.Err.Error()
	}
	w.finish(r)
	return r
}

func (w *Watcher) cycle(ctx context.Context, r *Result) {
	log := w.opts.Logger.With("cycle", r.ID)

	snap, err := w.src.Fetch(ctx)
	if errors.Is(err, fetcher.ErrNotModified) {
		r.Outcome = OutcomeUnchanged
		log.Debug("watch: not modified")
		return
	}
	if err != nil {
		r.Outcome = OutcomeFetchFailed
		r.Err = err
		log.Warn("watch: fetch failed", "error", err)
		return
	}
	r.SnapshotID = snap.ID

	prev := w.state.Last()
	if prev == nil {
		w.state.set(snap)
		r.Outcome = OutcomeSeeded
		log.Info("watch: snapshot seeded", "hash", snap.Hash)
		return
	}

	if prev.Hash != "" && prev.Hash == snap.Hash {
		w.state.set(snap)
		r.Outcome = OutcomeUnchanged
		log.Debug("watch: body unchanged", "hash", snap.Hash)
		return
	}

	changes, cs := jsondiff.Compare(prev.Value, snap.Value, w.opts.Diff)
	if len(changes) == 0 {
		w.state.set(snap)
		r.Outcome = OutcomeUnchanged
		log.Debug("watch: no structural changes")
		return
	}

	r.Outcome = OutcomeChanged
	r.Counts = cs.Counts()
	frags := w.opts.Renderer.Format(cs)
	r.Fragments = len(frags)
	log.Info("watch: changes detected",
		"atomic", len(changes), "added", r.Counts.Added, "edited", r.Counts.Edited, "removed", r.Counts.Removed)

	if len(frags) > 0 {
		n := sink.Notification{
			ID:        w.opts.NotificationID(),
			Kind:      sink.KindChanges,
			Source:    snap.Source,
			At:        snap.CapturedAt,
			Summary:   render.Summary(r.Counts),
			Counts:    r.Counts,
			Fragments: frags,
		}
		if err := w.deliver(ctx, n); err != nil {
			r.Outcome = OutcomeDeliveryFailed
			r.Err = err
			log.Error("watch: delivery failed", "notification", n.ID, "error", err)
		}
	}

	// The document was observed; the snapshot advances even when delivery
	// failed.
	w.state.set(snap)
}

func (w *Watcher) deliver(ctx context.Context, n sink.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, w.opts.DeliveryTimeout)
	defer cancel()
	return w.opts.Sink.Send(ctx, n)
}

func (w *Watcher) finish(r Result) {
	switch r.Outcome {
	case OutcomeUnchanged:
		w.unchanged.Add(1)
	case OutcomeChanged:
		w.changed.Add(1)
	case OutcomeFetchFailed:
		w.fetchErrors.Add(1)
	case OutcomeDeliveryFailed:
		w.changed.Add(1)
		w.deliveryErrors.Add(1)
	}
	w.cycleNs.Add(int64(r.Duration))
	w.last.Store(&r)

	w.doneMu.Lock()
	w.completed.Add(1)
	w.doneMu.Unlock()
	w.doneCond.Broadcast()

	if w.opts.OnCycle != nil {
		w.opts.OnCycle(r)
	}
}

// WaitForCycles blocks until at least n cycles have completed (skipped
// calls do not count), or ctx expires.
func (w *Watcher) WaitForCycles(ctx context.Context, n int64) error {
	if w.completed.Load() >= n {
		return nil
	}

	done := ctx.Done()
	w.doneMu.Lock()
	defer w.doneMu.Unlock()

	for w.completed.Load() < n {
		ch := make(chan struct{})
		go func() {
			select {
			case <-done:
				w.doneMu.Lock()
				w.doneCond.Broadcast()
				w.doneMu.Unlock()
			case <-ch:
			}
		}()

		w.doneCond.Wait()
		close(ch)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}
