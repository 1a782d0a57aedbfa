package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendEvent(t *testing.T, s *MemoryStore, e *FailoverEvent) *FailoverEvent {
	t.Helper()
	require.NoError(t, s.Append(context.Background(), e))
	return e
}

func TestMemoryStore_AppendFillsDefaults(t *testing.T) {
	s := NewMemoryStore()
	e := appendEvent(t, s, &FailoverEvent{
		FromProvider: "vultr",
		ToProvider:   "oracle",
		Reason:       ReasonConsecutiveFailures,
		IsAutomatic:  true,
		Result:       ResultPending,
	})

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.False(t, e.TriggeredAt.IsZero())

	got, err := s.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, "oracle", got.ToProvider)
	assert.Nil(t, got.ResolvedAt)
}

func TestMemoryStore_AppendRejectsBadEnums(t *testing.T) {
	s := NewMemoryStore()

	err := s.Append(context.Background(), &FailoverEvent{Reason: "gremlins", Result: ResultPending})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reason")

	err = s.Append(context.Background(), &FailoverEvent{Reason: ReasonManual, Result: "shrug"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "result")
}

func TestMemoryStore_ResolveOnce(t *testing.T) {
	s := NewMemoryStore()
	e := appendEvent(t, s, &FailoverEvent{
		FromProvider: "vultr",
		ToProvider:   "oracle",
		Reason:       ReasonConsecutiveFailures,
		IsAutomatic:  true,
		Result:       ResultPending,
	})

	resolvedAt := time.Now()
	require.NoError(t, s.Resolve(context.Background(), e.ID, resolvedAt))

	got, err := s.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultCompleted, got.Result)
	require.NotNil(t, got.ResolvedAt)

	assert.ErrorIs(t, s.Resolve(context.Background(), e.ID, resolvedAt), ErrAlreadyResolved)
	assert.ErrorIs(t, s.Resolve(context.Background(), uuid.New(), resolvedAt), ErrEventNotFound)
}

func TestMemoryStore_FindNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()

	for i, reason := range []Reason{ReasonManual, ReasonConsecutiveFailures, ReasonLatencyThreshold} {
		appendEvent(t, s, &FailoverEvent{
			FromProvider: "vultr",
			ToProvider:   "oracle",
			Reason:       reason,
			Result:       ResultCompleted,
			TriggeredAt:  base.Add(time.Duration(i) * time.Minute),
		})
	}

	events, err := s.Find(context.Background(), &Query{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, ReasonLatencyThreshold, events[0].Reason)
	assert.Equal(t, ReasonManual, events[2].Reason)
}

func TestMemoryStore_FindFilters(t *testing.T) {
	s := NewMemoryStore()
	automatic := true

	appendEvent(t, s, &FailoverEvent{
		FromProvider: "vultr", ToProvider: "oracle",
		Reason: ReasonConsecutiveFailures, IsAutomatic: true, Result: ResultCompleted,
	})
	appendEvent(t, s, &FailoverEvent{
		FromProvider: "oracle", ToProvider: "aws",
		Reason: ReasonManual, IsAutomatic: false, Result: ResultRejected,
	})
	appendEvent(t, s, &FailoverEvent{
		FromProvider: "aws", ToProvider: "gcp",
		Reason: ReasonLatencyThreshold, IsAutomatic: true, Result: ResultPending,
	})

	t.Run("by provider matches either side", func(t *testing.T) {
		events, err := s.Find(context.Background(), &Query{Provider: "oracle"})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("by result", func(t *testing.T) {
		rejected := ResultRejected
		events, err := s.Find(context.Background(), &Query{Result: &rejected})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, ReasonManual, events[0].Reason)
	})

	t.Run("by automatic flag", func(t *testing.T) {
		events, err := s.Find(context.Background(), &Query{IsAutomatic: &automatic})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("limit and offset", func(t *testing.T) {
		events, err := s.Find(context.Background(), &Query{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}

func TestMemoryStore_CountByResult(t *testing.T) {
	s := NewMemoryStore()
	appendEvent(t, s, &FailoverEvent{Reason: ReasonManual, Result: ResultCompleted})
	appendEvent(t, s, &FailoverEvent{Reason: ReasonManual, Result: ResultCompleted})
	appendEvent(t, s, &FailoverEvent{Reason: ReasonManual, Result: ResultRejected})

	counts, err := s.CountByResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts[ResultCompleted])
	assert.Equal(t, 1, counts[ResultRejected])
	assert.Zero(t, counts[ResultSuperseded])
}
