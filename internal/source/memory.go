package source

import (
	"context"
	"sync"

	"github.com/speakup/notification-engine/internal/domain"
)

const feedBuffer = 256

// MemorySource is an in-process event source. It holds the current record set
// and fans changes out to every subscribed feed whose scope matches. Used by
// tests and as the source of choice when no database is configured.
type MemorySource struct {
	mu      sync.Mutex
	records map[string]domain.ComplaintRecord
	feeds   map[*memoryFeed]struct{}
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		records: make(map[string]domain.ComplaintRecord),
		feeds:   make(map[*memoryFeed]struct{}),
	}
}

// Subscribe registers a feed and delivers its initial snapshot immediately.
func (s *MemorySource) Subscribe(ctx context.Context, scope Scope) (Feed, error) {
	f := &memoryFeed{
		source: s,
		scope:  scope,
		events: make(chan Event, feedBuffer),
	}

	s.mu.Lock()
	snapshot := make([]domain.ComplaintRecord, 0, len(s.records))
	for _, rec := range s.records {
		if scope.Matches(rec) {
			snapshot = append(snapshot, rec)
		}
	}
	s.feeds[f] = struct{}{}
	f.events <- Event{Snapshot: snapshot}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.Close()
	}()
	return f, nil
}

// Upsert stores a record and notifies matching feeds. A record that enters a
// feed's scope arrives as added, one already in scope as modified, and one
// that leaves the scope as removed.
func (s *MemorySource) Upsert(rec domain.ComplaintRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, existed := s.records[rec.ID]
	s.records[rec.ID] = rec

	for f := range s.feeds {
		was := existed && f.scope.Matches(old)
		is := f.scope.Matches(rec)
		switch {
		case is && !was:
			s.deliverLocked(f, Event{Change: &Change{Type: ChangeAdded, RecordID: rec.ID, Record: rec}})
		case is && was:
			s.deliverLocked(f, Event{Change: &Change{Type: ChangeModified, RecordID: rec.ID, Record: rec}})
		case !is && was:
			s.deliverLocked(f, Event{Change: &Change{Type: ChangeRemoved, RecordID: rec.ID}})
		}
	}
}

// Remove deletes a record and notifies feeds that were observing it.
func (s *MemorySource) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, existed := s.records[id]
	if !existed {
		return
	}
	delete(s.records, id)

	for f := range s.feeds {
		if f.scope.Matches(old) {
			s.deliverLocked(f, Event{Change: &Change{Type: ChangeRemoved, RecordID: id}})
		}
	}
}

// Fail pushes a read error to every feed. Used to exercise fail-open paths.
func (s *MemorySource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for f := range s.feeds {
		s.deliverLocked(f, Event{Err: err})
	}
}

// deliverLocked pushes one event to a feed; it runs under the source lock.
// A feed that stopped draining is closed instead of losing events: the
// subscriber observes the closed channel and resubscribes, replaying a fresh
// snapshot, rather than continuing on a stream with silent gaps.
func (s *MemorySource) deliverLocked(f *memoryFeed, ev Event) {
	select {
	case f.events <- ev:
	default:
		delete(s.feeds, f)
		close(f.events)
	}
}

func (s *MemorySource) drop(f *memoryFeed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.feeds[f]; ok {
		delete(s.feeds, f)
		close(f.events)
	}
}

type memoryFeed struct {
	source *MemorySource
	scope  Scope
	events chan Event
	closed sync.Once
}

func (f *memoryFeed) Events() <-chan Event { return f.events }

func (f *memoryFeed) Close() {
	f.closed.Do(func() { f.source.drop(f) })
}
