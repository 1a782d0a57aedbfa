package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, providers ...string) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	for i, p := range providers {
		require.NoError(t, s.CreateNode(context.Background(), &Node{
			Provider: p,
			Region:   "eu-1",
			Priority: i + 1,
			Enabled:  true,
			Endpoint: fmt.Sprintf("http://%s.example.com/health", p),
		}))
	}
	return s
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t, "vultr")

	n, err := s.GetNode(context.Background(), "vultr")
	require.NoError(t, err)
	assert.Equal(t, "vultr", n.Provider)
	assert.True(t, n.Enabled)
	assert.Nil(t, n.LatencyMs)
	assert.Zero(t, n.ConsecutiveFailures)
	assert.False(t, n.CreatedAt.IsZero())

	_, err = s.GetNode(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	s := newTestStore(t, "vultr")
	err := s.CreateNode(context.Background(), &Node{Provider: "vultr", Endpoint: "http://x"})
	assert.ErrorIs(t, err, ErrDuplicateProvider)
}

func TestMemoryStore_FirstEnabledNodeBecomesPrimary(t *testing.T) {
	s := newTestStore(t, "vultr", "oracle")

	first, err := s.GetNode(context.Background(), "vultr")
	require.NoError(t, err)
	assert.True(t, first.IsPrimary, "first node bootstraps as primary")

	second, err := s.GetNode(context.Background(), "oracle")
	require.NoError(t, err)
	assert.False(t, second.IsPrimary)
}

func TestMemoryStore_DisabledNodeDoesNotBootstrapPrimary(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateNode(context.Background(), &Node{
		Provider: "aws", Endpoint: "http://x", Enabled: false,
	}))
	n, err := s.GetNode(context.Background(), "aws")
	require.NoError(t, err)
	assert.False(t, n.IsPrimary)
}

func TestMemoryStore_ListNodesOrderedByPriority(t *testing.T) {
	s := NewMemoryStore()
	for _, n := range []*Node{
		{Provider: "oracle", Priority: 2, Enabled: true, Endpoint: "http://o"},
		{Provider: "vultr", Priority: 1, Enabled: true, Endpoint: "http://v"},
		{Provider: "aws", Priority: 3, Enabled: true, Endpoint: "http://a"},
	} {
		require.NoError(t, s.CreateNode(context.Background(), n))
	}

	nodes, err := s.ListNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "vultr", nodes[0].Provider)
	assert.Equal(t, "oracle", nodes[1].Provider)
	assert.Equal(t, "aws", nodes[2].Provider)
}

func TestMemoryStore_SetPrimary(t *testing.T) {
	s := newTestStore(t, "vultr", "oracle", "aws")

	changed, err := s.SetPrimary(context.Background(), "oracle")
	require.NoError(t, err)
	assert.True(t, changed)

	nodes, err := s.ListNodes(context.Background())
	require.NoError(t, err)
	var primaries []string
	for _, n := range nodes {
		if n.IsPrimary {
			primaries = append(primaries, n.Provider)
		}
	}
	assert.Equal(t, []string{"oracle"}, primaries)
}

func TestMemoryStore_SetPrimaryIdempotent(t *testing.T) {
	s := newTestStore(t, "vultr", "oracle")

	changed, err := s.SetPrimary(context.Background(), "oracle")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.SetPrimary(context.Background(), "oracle")
	require.NoError(t, err)
	assert.False(t, changed, "repeat promotion must be a no-op")
}

func TestMemoryStore_SetPrimaryRejectsUnknownAndDisabled(t *testing.T) {
	s := newTestStore(t, "vultr", "oracle")

	_, err := s.SetPrimary(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	require.NoError(t, s.SetEnabled(context.Background(), "oracle", false))
	_, err = s.SetPrimary(context.Background(), "oracle")
	assert.ErrorIs(t, err, ErrNodeDisabled)
}

func TestMemoryStore_DisablingPrimaryRejected(t *testing.T) {
	s := newTestStore(t, "vultr", "oracle")

	err := s.SetEnabled(context.Background(), "vultr", false)
	assert.ErrorIs(t, err, ErrNodeIsPrimary)

	// It stays enabled and primary.
	n, err := s.GetNode(context.Background(), "vultr")
	require.NoError(t, err)
	assert.True(t, n.Enabled)
	assert.True(t, n.IsPrimary)
}

func TestMemoryStore_AtMostOnePrimaryUnderConcurrency(t *testing.T) {
	providers := []string{"vultr", "oracle", "aws", "gcp", "hetzner"}
	s := newTestStore(t, providers...)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.SetPrimary(context.Background(), providers[i%len(providers)])
		}(i)
	}
	wg.Wait()

	nodes, err := s.ListNodes(context.Background())
	require.NoError(t, err)
	count := 0
	for _, n := range nodes {
		if n.IsPrimary {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one primary after racing promotions")
}

func TestMemoryStore_RecordProbeOutcome(t *testing.T) {
	s := newTestStore(t, "vultr")
	ctx := context.Background()

	// Failure increments the streak and leaves latency untouched.
	require.NoError(t, s.RecordProbeOutcome(ctx, "vultr", ProbeOutcome{OK: false}))
	require.NoError(t, s.RecordProbeOutcome(ctx, "vultr", ProbeOutcome{OK: false}))

	n, err := s.GetNode(ctx, "vultr")
	require.NoError(t, err)
	assert.Equal(t, 2, n.ConsecutiveFailures)
	assert.Nil(t, n.LatencyMs)
	require.NotNil(t, n.LastCheckedAt)

	// Success stores latency and resets the streak.
	require.NoError(t, s.RecordProbeOutcome(ctx, "vultr", ProbeOutcome{
		OK: true, LatencyMs: 88.5, CheckedAt: time.Now(),
	}))

	n, err = s.GetNode(ctx, "vultr")
	require.NoError(t, err)
	assert.Zero(t, n.ConsecutiveFailures)
	require.NotNil(t, n.LatencyMs)
	assert.Equal(t, 88.5, *n.LatencyMs)

	// A later failure keeps the last good latency visible.
	require.NoError(t, s.RecordProbeOutcome(ctx, "vultr", ProbeOutcome{OK: false}))
	n, err = s.GetNode(ctx, "vultr")
	require.NoError(t, err)
	assert.Equal(t, 1, n.ConsecutiveFailures)
	require.NotNil(t, n.LatencyMs)
	assert.Equal(t, 88.5, *n.LatencyMs)

	assert.ErrorIs(t, s.RecordProbeOutcome(ctx, "ghost", ProbeOutcome{OK: true}), ErrNodeNotFound)
}

func TestMemoryStore_GetReturnsCopies(t *testing.T) {
	s := newTestStore(t, "vultr")
	ctx := context.Background()
	require.NoError(t, s.RecordProbeOutcome(ctx, "vultr", ProbeOutcome{OK: true, LatencyMs: 10}))

	n, err := s.GetNode(ctx, "vultr")
	require.NoError(t, err)
	*n.LatencyMs = 12345

	fresh, err := s.GetNode(ctx, "vultr")
	require.NoError(t, err)
	assert.Equal(t, float64(10), *fresh.LatencyMs)
}
