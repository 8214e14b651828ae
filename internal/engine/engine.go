package engine

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/speakup/notification-engine/internal/domain"
	"github.com/speakup/notification-engine/internal/observability"
	"github.com/speakup/notification-engine/internal/rules"
	"github.com/speakup/notification-engine/internal/source"
	"github.com/speakup/notification-engine/internal/store"
)

// Phase is the subscription lifecycle state.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseBackfilling
	PhaseLive
	PhaseClosed
)

// Config tunes one derivation engine instance.
type Config struct {
	// HistoryCap bounds the cached notification list. Unset or non-positive
	// values fall back to the default; everything else is clamped into
	// minHistoryCap..maxHistoryCap.
	HistoryCap int
}

const (
	defaultHistoryCap = 200
	minHistoryCap     = 100
	maxHistoryCap     = 200
)

func (c Config) historyCap() int {
	switch {
	case c.HistoryCap <= 0:
		return defaultHistoryCap
	case c.HistoryCap < minHistoryCap:
		return minHistoryCap
	case c.HistoryCap > maxHistoryCap:
		return maxHistoryCap
	}
	return c.HistoryCap
}

// Engine turns one viewer's record-change feed into a durable, deduplicated
// notification timeline with read-state tracking. One engine serves one
// subscription; it owns the per-complaint previous-state memory and the
// viewer's cached state while the subscription is live.
type Engine struct {
	viewer  domain.ViewerIdentity
	ruleSet rules.RuleSet
	store   store.ViewerStateStore
	clock   rules.Clock
	cap     int
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	phase   Phase
	loading bool
	state   *domain.ViewerState
	prev    map[string]domain.PreviousState
	undone  map[string]struct{}
}

// New builds an engine for the viewer. Call Start before feeding events.
func New(viewer domain.ViewerIdentity, ruleSet rules.RuleSet, st store.ViewerStateStore, clock rules.Clock, cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		viewer:  viewer,
		ruleSet: ruleSet,
		store:   st,
		clock:   clock,
		cap:     cfg.historyCap(),
		logger:  logger,
		metrics: metrics,
		state:   domain.NewViewerState(),
		prev:    make(map[string]domain.PreviousState),
		undone:  make(map[string]struct{}),
	}
}

// Start rehydrates persisted viewer state and enters the backfilling phase.
// A store read failure is a cache miss; the engine starts fresh.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseUninitialized {
		return
	}

	if e.viewer.Known() {
		persisted, err := e.store.Load(ctx, e.viewer.Key())
		if err != nil {
			e.logger.Warn("viewer state load failed", zap.String("viewer", e.viewer.Key()), zap.Error(err))
			e.metrics.RecordPersistenceFailure()
		} else if persisted != nil {
			e.state = persisted
		}
		e.loading = true
	}
	e.phase = PhaseBackfilling
}

// Run consumes the feed until the context ends or the feed closes. All
// derivation work is synchronous per event; the loop only blocks waiting for
// the next event.
func (e *Engine) Run(ctx context.Context, feed source.Feed) {
	defer e.stopLoading()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-feed.Events():
			if !ok {
				return
			}
			e.Handle(ctx, ev)
		}
	}
}

// Handle processes a single feed event. Events after Close are dropped.
func (e *Engine) Handle(ctx context.Context, ev source.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == PhaseClosed {
		return
	}

	switch {
	case ev.Err != nil:
		// Fail-open: stop the loading indicator, keep last known good state.
		e.loading = false
		e.metrics.RecordSourceError()
		e.logger.Warn("event source error", zap.String("viewer", e.viewer.Key()), zap.Error(ev.Err))
	case ev.Snapshot != nil:
		e.handleSnapshotLocked(ctx, ev.Snapshot)
	case ev.Change != nil:
		e.handleChangeLocked(ctx, *ev.Change)
	}
}

// handleSnapshotLocked backfills history from the initial snapshot: every
// record runs through DeriveInitial, seeds previous-state memory, and the
// accumulated events merge into the cached list. This is the strict barrier
// into the live phase.
func (e *Engine) handleSnapshotLocked(ctx context.Context, records []domain.ComplaintRecord) {
	if e.phase != PhaseBackfilling {
		return
	}

	var backfilled []domain.NotificationEvent
	for _, rec := range records {
		backfilled = append(backfilled, e.ruleSet.DeriveInitial(rec)...)
		e.prev[rec.ID] = domain.ProjectPrevious(rec)
	}
	sortNotifications(backfilled)

	e.mergeLocked(backfilled)
	e.persistLocked(ctx)
	e.phase = PhaseLive
	e.loading = false
	e.metrics.RecordBackfill(len(records), len(backfilled))
}

func (e *Engine) handleChangeLocked(ctx context.Context, change source.Change) {
	if e.phase != PhaseLive {
		return
	}
	e.metrics.RecordChange(string(change.Type))

	if change.Type == source.ChangeRemoved {
		// The complaint left scope; forget it so a later re-add is new again.
		delete(e.prev, change.RecordID)
		return
	}

	var prevPtr *domain.PreviousState
	if p, ok := e.prev[change.Record.ID]; ok {
		prevPtr = &p
	}

	derived := e.ruleSet.DeriveOnChange(prevPtr, change.Record, change.Type)
	if len(derived) > 0 {
		e.mergeLocked(derived)
		e.persistLocked(ctx)
		e.metrics.RecordDerived(len(derived))
	}
	e.prev[change.Record.ID] = domain.ProjectPrevious(change.Record)
}

// mergeLocked unions incoming events into the cached list by id. Existing ids
// are no-ops, so redelivery of the same underlying change cannot grow the
// list. The result is re-sorted and re-capped.
func (e *Engine) mergeLocked(incoming []domain.NotificationEvent) {
	if len(incoming) == 0 {
		return
	}

	seen := make(map[string]struct{}, len(e.state.Notifications))
	for _, n := range e.state.Notifications {
		seen[n.ID] = struct{}{}
	}

	merged := e.state.Notifications
	for _, n := range incoming {
		if n.ID == "" {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		merged = append(merged, n)
	}

	sortNotifications(merged)
	if len(merged) > e.cap {
		merged = merged[:e.cap]
	}
	e.state.Notifications = merged
}

// persistLocked reads the persisted snapshot back, reconciles it into the
// session, and writes the merged result. Another session for the same viewer
// may have saved since we last looked; a blind overwrite would throw its
// notifications away and could move the watermark backwards. Both store
// operations are best-effort: the in-memory state stays authoritative for
// the session when either fails.
func (e *Engine) persistLocked(ctx context.Context) {
	if !e.viewer.Known() {
		return
	}
	persisted, err := e.store.Load(ctx, e.viewer.Key())
	if err != nil {
		e.metrics.RecordPersistenceFailure()
		e.logger.Warn("viewer state read-back failed", zap.String("viewer", e.viewer.Key()), zap.Error(err))
	} else if persisted != nil {
		e.reconcileLocked(persisted)
	}
	if err := e.store.Save(ctx, e.viewer.Key(), e.state.Clone()); err != nil {
		e.metrics.RecordPersistenceFailure()
		e.logger.Warn("viewer state save failed", zap.String("viewer", e.viewer.Key()), zap.Error(err))
	}
}

// reconcileLocked folds a concurrently persisted snapshot into the session:
// notifications union by id and are re-sorted and re-capped, the watermark
// only moves forward, and dismissals union except for ids this session has
// explicitly restored, so an Undo is not resurrected by its own earlier save.
func (e *Engine) reconcileLocked(persisted *domain.ViewerState) {
	e.mergeLocked(persisted.Notifications)
	if persisted.WatermarkMs > e.state.WatermarkMs {
		e.state.WatermarkMs = persisted.WatermarkMs
	}
	for id := range persisted.DismissedIDs {
		if _, restored := e.undone[id]; restored {
			continue
		}
		e.state.DismissedIDs[id] = true
	}
}

// Close ends the subscription. Persisted state is left intact; the
// previous-state memory is released and rebuilt from the next snapshot.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = PhaseClosed
	e.loading = false
	e.prev = nil
}

func (e *Engine) stopLoading() {
	e.mu.Lock()
	e.loading = false
	e.mu.Unlock()
}

// Phase returns the current lifecycle phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Loading reports whether the initial snapshot is still pending.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// sortNotifications orders events newest first; ties break by complaint id
// then type so the order is stable across merges.
func sortNotifications(events []domain.NotificationEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.TimestampMs != b.TimestampMs {
			return a.TimestampMs > b.TimestampMs
		}
		if a.ComplaintID != b.ComplaintID {
			return a.ComplaintID < b.ComplaintID
		}
		return a.Type < b.Type
	})
}
