package history

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func floatPtr(v float64) *float64 { return &v }

func recordSample(t *testing.T, store Store, provider string, takenAt time.Time, latency *float64, outcome string) *Sample {
	t.Helper()
	s := &Sample{Provider: provider, TakenAt: takenAt, LatencyMs: latency, Outcome: outcome}
	require.NoError(t, store.Record(context.Background(), s))
	return s
}

func TestMemoryStoreRecentOrdersNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	recordSample(t, store, "aws", base, floatPtr(40), "ok")
	recordSample(t, store, "gcp", base.Add(time.Minute), floatPtr(55), "ok")
	recordSample(t, store, "aws", base.Add(2*time.Minute), nil, "timeout")

	all, err := store.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "timeout", all[0].Outcome)
	assert.True(t, all[0].TakenAt.After(all[1].TakenAt))

	awsOnly, err := store.Recent(context.Background(), "aws", 10)
	require.NoError(t, err)
	require.Len(t, awsOnly, 2)
	for _, s := range awsOnly {
		assert.Equal(t, "aws", s.Provider)
	}
}

func TestMemoryStoreRecentClampsLimit(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		recordSample(t, store, "aws", base.Add(time.Duration(i)*time.Second), floatPtr(40), "ok")
	}

	got, err := store.Recent(context.Background(), "aws", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryStoreOlderThan(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cutoff := base.Add(90 * time.Second)

	recordSample(t, store, "aws", base, floatPtr(40), "ok")
	recordSample(t, store, "aws", base.Add(time.Minute), floatPtr(42), "ok")
	recordSample(t, store, "aws", base.Add(2*time.Minute), floatPtr(44), "ok")

	old, err := store.OlderThan(context.Background(), cutoff, 100)
	require.NoError(t, err)
	require.Len(t, old, 2)
	assert.True(t, old[0].TakenAt.Before(old[1].TakenAt), "oldest first")

	deleted, err := store.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	remaining, err := store.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, base.Add(2*time.Minute), remaining[0].TakenAt)
}

func TestCompressorRoundTrip(t *testing.T) {
	comp, err := NewCompressor(3)
	require.NoError(t, err)

	original := []byte(`{"provider":"aws","latency_ms":42.5,"outcome":"ok"}`)
	compressed, err := comp.Compress(original)
	require.NoError(t, err)
	require.NotEqual(t, original, compressed)

	restored, err := comp.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestCompressorRejectsBadLevel(t *testing.T) {
	tests := []int{0, -1, 20, 100}
	for _, level := range tests {
		_, err := NewCompressor(level)
		assert.Error(t, err, "level %d", level)
	}
}

func TestArchiverSweepOnce(t *testing.T) {
	store := NewMemoryStore()
	comp, err := NewCompressor(3)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := base.Add(48 * time.Hour)

	// Two expired samples, one inside the retention window.
	recordSample(t, store, "aws", base, floatPtr(40), "ok")
	recordSample(t, store, "gcp", base.Add(time.Hour), floatPtr(60), "ok")
	fresh := recordSample(t, store, "aws", now.Add(-time.Hour), floatPtr(45), "ok")

	arch := NewArchiver(store, comp, 24*time.Hour, time.Hour, zap.NewNop())
	arch.now = func() time.Time { return now }

	require.NoError(t, arch.SweepOnce(context.Background()))

	archives := store.Archives()
	require.Len(t, archives, 1)
	assert.Equal(t, 2, archives[0].SampleCount)
	assert.Equal(t, base, archives[0].FromTime)
	assert.Equal(t, base.Add(time.Hour), archives[0].ToTime)

	// Archived payload decompresses back to the expired samples.
	raw, err := comp.Decompress(archives[0].Payload)
	require.NoError(t, err)
	var restored []*Sample
	require.NoError(t, json.Unmarshal(raw, &restored))
	require.Len(t, restored, 2)
	assert.Equal(t, "aws", restored[0].Provider)
	assert.Equal(t, "gcp", restored[1].Provider)

	// The live table keeps only the fresh sample.
	remaining, err := store.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, fresh.ID, remaining[0].ID)
}

func TestArchiverSweepOnceNoExpiredSamples(t *testing.T) {
	store := NewMemoryStore()
	comp, err := NewCompressor(3)
	require.NoError(t, err)

	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	recordSample(t, store, "aws", now.Add(-time.Minute), floatPtr(40), "ok")

	arch := NewArchiver(store, comp, 24*time.Hour, time.Hour, zap.NewNop())
	arch.now = func() time.Time { return now }

	require.NoError(t, arch.SweepOnce(context.Background()))
	assert.Empty(t, store.Archives())
}
