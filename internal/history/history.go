// Package history keeps the rolling health-sample trail behind the trend
// charts. The monitoring core only writes samples; reads are for external
// consumers and the archive sweeper.
package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Sample is one probe observation for one node.
type Sample struct {
	ID        int64     `json:"id"`
	Provider  string    `json:"provider"`
	TakenAt   time.Time `json:"taken_at"`
	LatencyMs *float64  `json:"latency_ms"`
	Outcome   string    `json:"outcome"`
}

// Archive is a compressed batch of expired samples.
type Archive struct {
	ID          int64     `json:"id"`
	FromTime    time.Time `json:"from_time"`
	ToTime      time.Time `json:"to_time"`
	SampleCount int       `json:"sample_count"`
	Payload     []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists samples and their archives.
type Store interface {
	Record(ctx context.Context, s *Sample) error

	// Recent returns the newest samples, newest first. Empty provider
	// means all providers.
	Recent(ctx context.Context, provider string, limit int) ([]*Sample, error)

	// OlderThan returns samples taken before the cutoff, oldest first.
	OlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Sample, error)

	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	PutArchive(ctx context.Context, a *Archive) error
}

// MemoryStore keeps samples in memory for tests and storage.mode "memory".
type MemoryStore struct {
	mu       sync.RWMutex
	samples  []*Sample
	archives []*Archive
	nextID   int64
}

// NewMemoryStore creates an empty in-memory sample store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) Record(ctx context.Context, sample *Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *sample
	if c.LatencyMs != nil {
		v := *c.LatencyMs
		c.LatencyMs = &v
	}
	c.ID = s.nextID
	s.nextID++
	s.samples = append(s.samples, &c)
	sample.ID = c.ID
	return nil
}

func (s *MemoryStore) Recent(ctx context.Context, provider string, limit int) ([]*Sample, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Sample
	for _, sm := range s.samples {
		if provider == "" || sm.Provider == provider {
			matched = append(matched, sm)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].TakenAt.After(matched[j].TakenAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*Sample, len(matched))
	for i, sm := range matched {
		c := *sm
		out[i] = &c
	}
	return out, nil
}

func (s *MemoryStore) OlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Sample, error) {
	if limit <= 0 {
		limit = 10000
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Sample
	for _, sm := range s.samples {
		if sm.TakenAt.Before(cutoff) {
			matched = append(matched, sm)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].TakenAt.Before(matched[j].TakenAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*Sample, len(matched))
	for i, sm := range matched {
		c := *sm
		out[i] = &c
	}
	return out, nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.samples[:0]
	var deleted int64
	for _, sm := range s.samples {
		if sm.TakenAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, sm)
	}
	s.samples = kept
	return deleted, nil
}

func (s *MemoryStore) PutArchive(ctx context.Context, a *Archive) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *a
	c.ID = s.nextID
	s.nextID++
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.archives = append(s.archives, &c)
	a.ID = c.ID
	return nil
}

// Archives returns stored archives, for tests.
func (s *MemoryStore) Archives() []*Archive {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Archive, len(s.archives))
	copy(out, s.archives)
	return out
}
