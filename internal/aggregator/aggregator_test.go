package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/events"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/history"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/probe"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/registry"
)

func floatPtr(v float64) *float64 { return &v }

// scriptedProber returns canned results per provider, in order, repeating
// the last one. A nil script panics, exercising sweep isolation.
type scriptedProber struct {
	mu      sync.Mutex
	scripts map[string][]*probe.Result
	calls   map[string]int
	block   chan struct{}
}

func newScriptedProber() *scriptedProber {
	return &scriptedProber{
		scripts: make(map[string][]*probe.Result),
		calls:   make(map[string]int),
	}
}

func (p *scriptedProber) add(provider string, results ...*probe.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[provider] = append(p.scripts[provider], results...)
}

func ok(latencyMs float64) *probe.Result {
	return &probe.Result{Outcome: probe.OutcomeOK, LatencyMs: floatPtr(latencyMs)}
}

func timeout() *probe.Result {
	return &probe.Result{Outcome: probe.OutcomeTimeout, Err: "context deadline exceeded"}
}

func (p *scriptedProber) Probe(ctx context.Context, node *registry.Node) probe.Result {
	if p.block != nil {
		<-p.block
	}

	p.mu.Lock()
	script := p.scripts[node.Provider]
	idx := p.calls[node.Provider]
	p.calls[node.Provider]++
	p.mu.Unlock()

	if len(script) == 0 {
		panic("no script for " + node.Provider)
	}
	if idx >= len(script) {
		idx = len(script) - 1
	}
	if script[idx] == nil {
		panic("scripted probe failure for " + node.Provider)
	}

	res := *script[idx]
	res.Provider = node.Provider
	res.Timestamp = time.Now().UTC()
	return res
}

func (p *scriptedProber) callCount(provider string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[provider]
}

type captureSink struct {
	mu    sync.Mutex
	evals []Evaluation
}

func (c *captureSink) Evaluate(ctx context.Context, ev Evaluation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evals = append(c.evals, ev)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.evals)
}

func (c *captureSink) lastEval(t *testing.T) Evaluation {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.evals)
	return c.evals[len(c.evals)-1]
}

func seedNode(t *testing.T, store registry.Store, provider string, priority int, enabled bool) {
	t.Helper()
	err := store.CreateNode(context.Background(), &registry.Node{
		Provider: provider,
		Region:   "eu-west",
		Priority: priority,
		Enabled:  enabled,
		Endpoint: "http://" + provider + ".example.com/health",
	})
	require.NoError(t, err)
}

func newTestAggregator(store registry.Store, prober probe.Prober) *Aggregator {
	return New(store, prober, Config{
		Interval: time.Second,
		Policy:   registry.DefaultHealthPolicy(),
	}, zap.NewNop())
}

func TestRunOnceRecordsOutcomes(t *testing.T) {
	store := registry.NewMemoryStore()
	seedNode(t, store, "aws", 1, true)
	seedNode(t, store, "gcp", 2, true)

	prober := newScriptedProber()
	prober.add("aws", ok(42))
	prober.add("gcp", timeout())

	agg := newTestAggregator(store, prober)
	sink := &captureSink{}
	agg.RegisterSink(sink)
	samples := history.NewMemoryStore()
	agg.RegisterHistory(samples)

	require.NoError(t, agg.RunOnce(context.Background()))

	aws, err := store.GetNode(context.Background(), "aws")
	require.NoError(t, err)
	require.NotNil(t, aws.LatencyMs)
	assert.Equal(t, 42.0, *aws.LatencyMs)
	assert.Equal(t, 0, aws.ConsecutiveFailures)
	assert.NotNil(t, aws.LastCheckedAt)

	gcp, err := store.GetNode(context.Background(), "gcp")
	require.NoError(t, err)
	assert.Nil(t, gcp.LatencyMs, "failed probe must not invent a latency")
	assert.Equal(t, 1, gcp.ConsecutiveFailures)

	ev := sink.lastEval(t)
	require.Len(t, ev.Nodes, 2)
	assert.Greater(t, ev.Score, 0.0)
	require.NotNil(t, ev.Primary())
	assert.Equal(t, "aws", ev.Primary().Node.Provider)

	recorded, err := samples.Recent(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, recorded, 2)
}

func TestRunOnceSkipsDisabledNodes(t *testing.T) {
	store := registry.NewMemoryStore()
	seedNode(t, store, "aws", 1, true)
	seedNode(t, store, "vultr", 2, false)

	prober := newScriptedProber()
	prober.add("aws", ok(30))

	agg := newTestAggregator(store, prober)
	sink := &captureSink{}
	agg.RegisterSink(sink)

	require.NoError(t, agg.RunOnce(context.Background()))

	assert.Equal(t, 1, prober.callCount("aws"))
	assert.Equal(t, 0, prober.callCount("vultr"), "disabled nodes are never probed")
	assert.Len(t, sink.lastEval(t).Nodes, 1)
}

func TestRunOncePanicIsolatedToOneNode(t *testing.T) {
	store := registry.NewMemoryStore()
	seedNode(t, store, "aws", 1, true)
	seedNode(t, store, "oracle", 2, true)

	prober := newScriptedProber()
	prober.add("aws", ok(35))
	prober.add("oracle", nil) // panics

	agg := newTestAggregator(store, prober)
	sink := &captureSink{}
	agg.RegisterSink(sink)

	require.NoError(t, agg.RunOnce(context.Background()))

	aws, err := store.GetNode(context.Background(), "aws")
	require.NoError(t, err)
	assert.Equal(t, 0, aws.ConsecutiveFailures)

	oracle, err := store.GetNode(context.Background(), "oracle")
	require.NoError(t, err)
	assert.Equal(t, 1, oracle.ConsecutiveFailures, "panic counts as a failed probe")

	ev := sink.lastEval(t)
	require.Len(t, ev.Nodes, 2)
	for _, h := range ev.Nodes {
		if h.Node.Provider == "oracle" {
			assert.Equal(t, probe.OutcomeError, h.Outcome)
		}
	}
}

func TestRunOnceSkipsWhileSweepInFlight(t *testing.T) {
	store := registry.NewMemoryStore()
	seedNode(t, store, "aws", 1, true)

	prober := newScriptedProber()
	prober.add("aws", ok(30))
	prober.block = make(chan struct{})

	agg := newTestAggregator(store, prober)

	firstDone := make(chan error, 1)
	go func() { firstDone <- agg.RunOnce(context.Background()) }()

	// Wait for the first sweep to reach the prober, then overlap it.
	require.Eventually(t, func() bool { return agg.running.Load() },
		2*time.Second, 5*time.Millisecond)

	err := agg.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(prober.block)
	require.NoError(t, <-firstDone)

	// With the first sweep finished the next one proceeds.
	require.NoError(t, agg.RunOnce(context.Background()))
}

func TestRunOncePublishesStatusChanges(t *testing.T) {
	store := registry.NewMemoryStore()
	seedNode(t, store, "aws", 1, true)

	prober := newScriptedProber()
	prober.add("aws", ok(40), timeout(), timeout(), timeout())

	bus := events.NewSimpleBus()
	changes := make(chan events.Event, 16)
	require.NoError(t, bus.Subscribe(string(events.NodeStatusChanged), func(ctx context.Context, e events.Event) error {
		changes <- e
		return nil
	}))

	agg := newTestAggregator(store, prober)
	agg.RegisterBus(bus)

	for i := 0; i < 4; i++ {
		require.NoError(t, agg.RunOnce(context.Background()))
	}

	// healthy -> warning on the first failure, warning -> down on the third.
	var seen []events.Event
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case e := <-changes:
			seen = append(seen, e)
		case <-deadline:
			t.Fatalf("expected 2 status-change events, saw %d", len(seen))
		}
	}

	payload := seen[0].Payload.(map[string]interface{})
	assert.Equal(t, registry.StatusHealthy, payload["from"])
	assert.Equal(t, registry.StatusWarning, payload["to"])

	payload = seen[1].Payload.(map[string]interface{})
	assert.Equal(t, registry.StatusWarning, payload["from"])
	assert.Equal(t, registry.StatusDown, payload["to"])
}

func TestRunOnceFailureStreakResetByGoodProbe(t *testing.T) {
	store := registry.NewMemoryStore()
	seedNode(t, store, "aws", 1, true)

	prober := newScriptedProber()
	prober.add("aws", ok(40), timeout(), ok(41), ok(42))

	agg := newTestAggregator(store, prober)
	sink := &captureSink{}
	agg.RegisterSink(sink)

	wantFailures := []int{0, 1, 0, 0}
	wantStatus := []registry.NodeStatus{
		registry.StatusHealthy,
		registry.StatusWarning,
		registry.StatusHealthy,
		registry.StatusHealthy,
	}
	for i := range wantFailures {
		require.NoError(t, agg.RunOnce(context.Background()))

		node, err := store.GetNode(context.Background(), "aws")
		require.NoError(t, err)
		assert.Equal(t, wantFailures[i], node.ConsecutiveFailures, "sweep %d", i)
		assert.Equal(t, wantStatus[i], sink.lastEval(t).Nodes[0].Status, "sweep %d", i)
		assert.True(t, node.IsPrimary, "sweep %d: primary must not move", i)
	}
}

func TestLastReturnsMostRecentEvaluation(t *testing.T) {
	store := registry.NewMemoryStore()
	seedNode(t, store, "aws", 1, true)

	prober := newScriptedProber()
	prober.add("aws", ok(40))

	agg := newTestAggregator(store, prober)

	_, found := agg.Last()
	assert.False(t, found, "no evaluation before the first sweep")

	require.NoError(t, agg.RunOnce(context.Background()))

	ev, found := agg.Last()
	require.True(t, found)
	assert.Len(t, ev.Nodes, 1)
}

func TestUpdatePolicyTakesEffectNextSweep(t *testing.T) {
	store := registry.NewMemoryStore()
	seedNode(t, store, "aws", 1, true)

	prober := newScriptedProber()
	prober.add("aws", ok(120))

	agg := newTestAggregator(store, prober)
	sink := &captureSink{}
	agg.RegisterSink(sink)

	require.NoError(t, agg.RunOnce(context.Background()))
	assert.Equal(t, registry.StatusHealthy, sink.lastEval(t).Nodes[0].Status)

	// Tighten the warning threshold below the measured latency.
	agg.UpdatePolicy(registry.HealthPolicy{FailureThreshold: 3, LatencyWarningMs: 100}, 0, 0)

	require.NoError(t, agg.RunOnce(context.Background()))
	assert.Equal(t, registry.StatusWarning, sink.lastEval(t).Nodes[0].Status)
}
