package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs storage.mode
// "memory" and every test that does not need a database.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]*Node),
		now:   time.Now,
	}
}

func (s *MemoryStore) CreateNode(ctx context.Context, n *Node) error {
	if err := n.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[n.Provider]; exists {
		return ErrDuplicateProvider
	}

	c := n.Clone()
	c.IsPrimary = false
	if c.Enabled && !s.hasPrimaryLocked() {
		c.IsPrimary = true
	}
	ts := s.now().UTC()
	c.CreatedAt = ts
	c.UpdatedAt = ts
	s.nodes[c.Provider] = c
	return nil
}

func (s *MemoryStore) GetNode(ctx context.Context, provider string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[provider]
	if !ok {
		return nil, ErrNodeNotFound
	}
	return n.Clone(), nil
}

func (s *MemoryStore) ListNodes(ctx context.Context) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return strings.Compare(out[i].Provider, out[j].Provider) < 0
	})
	return out, nil
}

func (s *MemoryStore) SetEnabled(ctx context.Context, provider string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[provider]
	if !ok {
		return ErrNodeNotFound
	}
	if !enabled && n.IsPrimary {
		return ErrNodeIsPrimary
	}
	n.Enabled = enabled
	n.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) SetOutboundAddress(ctx context.Context, provider, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[provider]
	if !ok {
		return ErrNodeNotFound
	}
	n.OutboundAddress = &address
	n.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) SetPrimary(ctx context.Context, provider string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.nodes[provider]
	if !ok {
		return false, ErrNodeNotFound
	}
	if !target.Enabled {
		return false, ErrNodeDisabled
	}
	if target.IsPrimary {
		return false, nil
	}

	ts := s.now().UTC()
	for _, n := range s.nodes {
		if n.IsPrimary {
			n.IsPrimary = false
			n.UpdatedAt = ts
		}
	}
	target.IsPrimary = true
	target.UpdatedAt = ts
	return true, nil
}

func (s *MemoryStore) RecordProbeOutcome(ctx context.Context, provider string, outcome ProbeOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[provider]
	if !ok {
		return ErrNodeNotFound
	}

	checked := outcome.CheckedAt
	if checked.IsZero() {
		checked = s.now()
	}
	checked = checked.UTC()
	n.LastCheckedAt = &checked

	if outcome.OK {
		lat := outcome.LatencyMs
		n.LatencyMs = &lat
		n.ConsecutiveFailures = 0
	} else {
		n.ConsecutiveFailures++
	}
	n.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) hasPrimaryLocked() bool {
	for _, n := range s.nodes {
		if n.IsPrimary && n.Enabled {
			return true
		}
	}
	return false
}
