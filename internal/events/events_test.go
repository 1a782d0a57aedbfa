package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleBus_PublishAndSubscribe(t *testing.T) {
	bus := NewSimpleBus()

	received := make(chan Event, 1)
	require.NoError(t, bus.Subscribe(string(FailoverTriggered), func(ctx context.Context, e Event) error {
		received <- e
		return nil
	}))

	err := bus.Publish(context.Background(), Event{
		ID:        "evt-1",
		Type:      FailoverTriggered,
		Provider:  "vultr",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	select {
	case e := <-received:
		assert.Equal(t, "evt-1", e.ID)
		assert.Equal(t, "vultr", e.Provider)
	case <-time.After(time.Second):
		t.Fatal("subscriber never saw the event")
	}
}

func TestSimpleBus_WildcardPatterns(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		eventType EventType
		matches   bool
	}{
		{"exact", "failover.triggered", FailoverTriggered, true},
		{"exact mismatch", "failover.triggered", FailoverCompleted, false},
		{"prefix wildcard", "failover.*", FailoverRejected, true},
		{"prefix wildcard mismatch", "failover.*", NodeStatusChanged, false},
		{"catch all", "*", MeshScoreUpdated, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.matches, matchesPattern(string(tt.eventType), tt.pattern))
		})
	}
}

func TestSimpleBus_SlowHandlerDoesNotBlockPublish(t *testing.T) {
	bus := NewSimpleBus()

	release := make(chan struct{})
	require.NoError(t, bus.Subscribe("*", func(ctx context.Context, e Event) error {
		<-release
		return nil
	}))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = bus.Publish(context.Background(), Event{Type: FailoverTriggered, Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow handler")
	}
	close(release)
}

func TestSimpleBus_Replay(t *testing.T) {
	bus := NewSimpleBus()
	base := time.Now()

	for i, ts := range []time.Time{
		base.Add(-2 * time.Hour),
		base.Add(-time.Hour),
		base.Add(-time.Minute),
	} {
		require.NoError(t, bus.Publish(context.Background(), Event{
			ID:        string(rune('a' + i)),
			Type:      NodeStatusChanged,
			Timestamp: ts,
		}))
	}

	got, err := bus.Replay(base.Add(-90*time.Minute), base)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestSimpleBus_MultipleSubscribersAllSee(t *testing.T) {
	bus := NewSimpleBus()

	var mu sync.Mutex
	counts := map[string]int{}
	seen := make(chan struct{}, 2)
	for _, name := range []string{"first", "second"} {
		name := name
		require.NoError(t, bus.Subscribe("failover.*", func(ctx context.Context, e Event) error {
			mu.Lock()
			counts[name]++
			mu.Unlock()
			seen <- struct{}{}
			return nil
		}))
	}

	require.NoError(t, bus.Publish(context.Background(), Event{Type: FailoverCompleted, Timestamp: time.Now()}))

	for i := 0; i < 2; i++ {
		select {
		case <-seen:
		case <-time.After(time.Second):
			t.Fatal("not every subscriber saw the event")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, counts["first"])
	assert.Equal(t, 1, counts["second"])
}
