package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Metrics provides basic in-memory counters for the HTTP boundary and the
// derivation pipeline.
type Metrics struct {
	mu                  sync.Mutex
	requestCount        map[string]int64
	errorCount          map[string]int64
	changeCount         map[string]int64
	backfillRecords     int64
	backfillNotifs      int64
	derivedNotifs       int64
	sourceErrors        int64
	persistenceFailures int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		changeCount:  make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordBackfill counts records and notifications of one initial snapshot.
func (m *Metrics) RecordBackfill(records, notifications int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backfillRecords += int64(records)
	m.backfillNotifs += int64(notifications)
}

// RecordChange counts one processed change event by type.
func (m *Metrics) RecordChange(changeType string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeCount[changeType]++
}

// RecordDerived counts notifications produced by live derivation.
func (m *Metrics) RecordDerived(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.derivedNotifs += int64(n)
}

// RecordSourceError counts event source read failures.
func (m *Metrics) RecordSourceError() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sourceErrors++
}

// RecordPersistenceFailure counts swallowed store read/write failures.
func (m *Metrics) RecordPersistenceFailure() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistenceFailures++
}

// Snapshot returns a copy of the engine counters for debug output.
func (m *Metrics) Snapshot() map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int64{
		"backfill_records":       m.backfillRecords,
		"backfill_notifications": m.backfillNotifs,
		"derived_notifications":  m.derivedNotifs,
		"source_errors":          m.sourceErrors,
		"persistence_failures":   m.persistenceFailures,
	}
	for k, v := range m.changeCount {
		out["changes_"+k] = v
	}
	return out
}

// RequestLogger logs each request and feeds the request counters.
func RequestLogger(logger *zap.Logger, metrics *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)
		status := c.Response().StatusCode()

		metrics.RecordRequest(c.Path(), c.Method(), status, duration)
		logger.Info("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("duration", duration))
		return err
	}
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
