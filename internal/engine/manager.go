package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/speakup/notification-engine/internal/domain"
	"github.com/speakup/notification-engine/internal/observability"
	"github.com/speakup/notification-engine/internal/rules"
	"github.com/speakup/notification-engine/internal/source"
	"github.com/speakup/notification-engine/internal/store"
)

// Subscription binds one engine to one live feed for the lifetime of a viewer
// session.
type Subscription struct {
	ID     string
	Viewer domain.ViewerIdentity
	Scope  source.Scope
	Engine *Engine

	cancel context.CancelFunc
	done   chan struct{}
}

// Manager creates and tears down subscriptions. Each subscription runs an
// independent single-goroutine processing loop; nothing is shared between
// viewers except the durable store.
type Manager struct {
	source  source.EventSource
	store   store.ViewerStateStore
	clock   rules.Clock
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewManager wires a manager over the given source and store.
func NewManager(src source.EventSource, st store.ViewerStateStore, clock rules.Clock, cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		source:  src,
		store:   st,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		subs:    make(map[string]*Subscription),
	}
}

// Subscribe starts a subscription for the viewer over the given scope. An
// unknown viewer yields an always-empty, non-loading subscription; a source
// failure yields a subscription holding the last persisted state. Neither
// case is an error to the caller.
func (m *Manager) Subscribe(ctx context.Context, viewer domain.ViewerIdentity, scope source.Scope) *Subscription {
	eng := New(viewer, rules.ForViewer(viewer, m.clock), m.store, m.clock, m.cfg, m.logger, m.metrics)

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		ID:     uuid.NewString(),
		Viewer: viewer,
		Scope:  scope,
		Engine: eng,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	eng.Start(ctx)

	if !viewer.Known() {
		// No identity: empty, non-loading state, no feed.
		close(sub.done)
		cancel()
	} else {
		feed, err := m.source.Subscribe(subCtx, scope)
		if err != nil {
			m.logger.Warn("event source subscribe failed",
				zap.String("viewer", viewer.Key()), zap.Error(err))
			m.metrics.RecordSourceError()
			eng.Handle(ctx, source.Event{Err: err})
			close(sub.done)
			cancel()
		} else {
			go func() {
				defer close(sub.done)
				eng.Run(subCtx, feed)
				feed.Close()
			}()
		}
	}

	m.mu.Lock()
	m.subs[sub.ID] = sub
	m.mu.Unlock()

	m.logger.Info("subscription started",
		zap.String("subscription_id", sub.ID),
		zap.String("viewer", viewer.Key()),
		zap.String("scope", string(scope.Kind)))
	return sub
}

// Get looks up a live subscription by handle id.
func (m *Manager) Get(id string) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	return sub, ok
}

// Unsubscribe tears a subscription down: the loop stops consuming, the last
// persisted state stays intact, and previous-state memory is released.
func (m *Manager) Unsubscribe(id string) bool {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	sub.cancel()
	<-sub.done
	sub.Engine.Close()
	m.logger.Info("subscription closed", zap.String("subscription_id", id))
	return true
}

// Shutdown closes every live subscription.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Unsubscribe(id)
	}
}
