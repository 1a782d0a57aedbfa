package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-memory event log used by tests and storage.mode
// "memory".
type MemoryStore struct {
	mu     sync.RWMutex
	events []*FailoverEvent
	byID   map[uuid.UUID]*FailoverEvent
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory event log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[uuid.UUID]*FailoverEvent),
		now:  time.Now,
	}
}

func (s *MemoryStore) Append(ctx context.Context, event *FailoverEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.TriggeredAt.IsZero() {
		event.TriggeredAt = s.now().UTC()
	}
	if err := event.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneEvent(event)
	s.events = append(s.events, stored)
	s.byID[stored.ID] = stored
	return nil
}

func (s *MemoryStore) Resolve(ctx context.Context, id uuid.UUID, resolvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return ErrEventNotFound
	}
	if e.ResolvedAt != nil {
		return ErrAlreadyResolved
	}
	ts := resolvedAt.UTC()
	e.ResolvedAt = &ts
	e.Result = ResultCompleted
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*FailoverEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return cloneEvent(e), nil
}

func (s *MemoryStore) Find(ctx context.Context, q *Query) ([]*FailoverEvent, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*FailoverEvent
	for _, e := range s.events {
		if !matches(e, q) {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].TriggeredAt.After(matched[j].TriggeredAt)
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*FailoverEvent, len(matched))
	for i, e := range matched {
		out[i] = cloneEvent(e)
	}
	return out, nil
}

func (s *MemoryStore) CountByResult(ctx context.Context) (map[Result]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Result]int)
	for _, e := range s.events {
		counts[e.Result]++
	}
	return counts, nil
}

func matches(e *FailoverEvent, q *Query) bool {
	if q.Provider != "" && e.FromProvider != q.Provider && e.ToProvider != q.Provider {
		return false
	}
	if q.Reason != nil && e.Reason != *q.Reason {
		return false
	}
	if q.Result != nil && e.Result != *q.Result {
		return false
	}
	if q.IsAutomatic != nil && e.IsAutomatic != *q.IsAutomatic {
		return false
	}
	if q.Since != nil && e.TriggeredAt.Before(*q.Since) {
		return false
	}
	if q.Until != nil && e.TriggeredAt.After(*q.Until) {
		return false
	}
	return true
}

func cloneEvent(e *FailoverEvent) *FailoverEvent {
	c := *e
	if e.ResolvedAt != nil {
		ts := *e.ResolvedAt
		c.ResolvedAt = &ts
	}
	return &c
}
