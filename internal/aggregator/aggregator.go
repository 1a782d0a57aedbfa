// Package aggregator drives the health sweep: on each tick it probes every
// enabled node concurrently, folds the outcomes into the registry, scores the
// mesh, and hands the decision engine a fresh evaluation.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/events"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/history"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/metrics"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/probe"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/registry"
)

// ErrSweepInProgress is returned when a sweep is requested while the
// previous one is still running. Ticks hitting it are skipped, not queued.
var ErrSweepInProgress = errors.New("health sweep already in progress")

// NodeHealth pairs a post-sweep node snapshot with its derived status and
// the probe outcome that produced it.
type NodeHealth struct {
	Node    *registry.Node      `json:"node"`
	Status  registry.NodeStatus `json:"status"`
	Outcome probe.Outcome       `json:"outcome"`
}

// Evaluation is one sweep's view of the mesh.
type Evaluation struct {
	TakenAt time.Time    `json:"taken_at"`
	Score   float64      `json:"score"`
	Nodes   []NodeHealth `json:"nodes"`
}

// Primary returns the entry for the enabled primary, or nil when the mesh
// has none.
func (ev *Evaluation) Primary() *NodeHealth {
	for i := range ev.Nodes {
		if ev.Nodes[i].Node.IsPrimary && ev.Nodes[i].Node.Enabled {
			return &ev.Nodes[i]
		}
	}
	return nil
}

// Sink consumes evaluations. The failover engine implements it.
type Sink interface {
	Evaluate(ctx context.Context, ev Evaluation) error
}

// Config holds the sweep cadence and the tunable scoring policy.
type Config struct {
	Interval      time.Duration
	Policy        registry.HealthPolicy
	HealthyWeight float64
	LatencyWeight float64
}

// Aggregator owns the periodic sweep. Collaborators beyond the store and
// prober are optional and registered after construction.
type Aggregator struct {
	store  registry.Store
	prober probe.Prober
	log    *zap.Logger

	samples history.Store
	sink    Sink
	bus     events.Bus
	metrics *metrics.Metrics

	interval time.Duration
	running  atomic.Bool
	now      func() time.Time

	mu            sync.RWMutex
	policy        registry.HealthPolicy
	healthyWeight float64
	latencyWeight float64
	last          *Evaluation
}

// New creates an aggregator sweeping on cfg.Interval (default 30s).
func New(store registry.Store, prober probe.Prober, cfg Config, log *zap.Logger) *Aggregator {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.HealthyWeight <= 0 && cfg.LatencyWeight <= 0 {
		cfg.HealthyWeight = DefaultHealthyWeight
		cfg.LatencyWeight = DefaultLatencyWeight
	}
	return &Aggregator{
		store:         store,
		prober:        prober,
		log:           log,
		interval:      cfg.Interval,
		now:           time.Now,
		policy:        cfg.Policy,
		healthyWeight: cfg.HealthyWeight,
		latencyWeight: cfg.LatencyWeight,
	}
}

// RegisterHistory attaches the rolling sample store.
func (a *Aggregator) RegisterHistory(store history.Store) { a.samples = store }

// RegisterSink attaches the evaluation consumer.
func (a *Aggregator) RegisterSink(sink Sink) { a.sink = sink }

// RegisterBus attaches the event bus.
func (a *Aggregator) RegisterBus(bus events.Bus) { a.bus = bus }

// RegisterMetrics attaches the Prometheus collectors.
func (a *Aggregator) RegisterMetrics(m *metrics.Metrics) { a.metrics = m }

// UpdatePolicy swaps the tunable thresholds and score weights. Used by the
// config hot-reload path; takes effect on the next sweep.
func (a *Aggregator) UpdatePolicy(policy registry.HealthPolicy, healthyWeight, latencyWeight float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.policy = policy
	if healthyWeight > 0 || latencyWeight > 0 {
		a.healthyWeight = healthyWeight
		a.latencyWeight = latencyWeight
	}
}

// Policy returns the current health thresholds.
func (a *Aggregator) Policy() registry.HealthPolicy {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.policy
}

// Last returns the most recent evaluation, if any sweep has completed.
func (a *Aggregator) Last() (Evaluation, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.last == nil {
		return Evaluation{}, false
	}
	return *a.last, true
}

// Start sweeps on the configured interval until the context ends.
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.log.Info("health aggregator started", zap.Duration("interval", a.interval))

	for {
		select {
		case <-ctx.Done():
			a.log.Info("health aggregator stopped")
			return
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
				a.log.Error("health sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single sweep: fan out probes to every enabled node,
// record outcomes, publish status changes, score the mesh, and feed the
// sink. A sweep that overlaps a still-running one is skipped.
func (a *Aggregator) RunOnce(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		if a.metrics != nil {
			a.metrics.TicksSkippedTotal.Inc()
		}
		a.log.Warn("skipping health sweep: previous sweep still running")
		return ErrSweepInProgress
	}
	defer a.running.Store(false)

	if a.metrics != nil {
		a.metrics.TicksTotal.Inc()
	}

	nodes, err := a.store.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}

	enabled := make([]*registry.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Enabled {
			enabled = append(enabled, n)
		}
	}

	policy, healthyWeight, latencyWeight := a.snapshotPolicy()

	prevStatus := make(map[string]registry.NodeStatus, len(enabled))
	for _, n := range enabled {
		prevStatus[n.Provider] = policy.StatusOf(n)
	}

	// Fan out; each goroutine writes only its own slot.
	results := make([]probe.Result, len(enabled))
	var wg sync.WaitGroup
	for i, node := range enabled {
		wg.Add(1)
		go func(i int, node *registry.Node) {
			defer wg.Done()
			results[i] = a.probeNode(ctx, node)
		}(i, node)
	}
	wg.Wait()

	takenAt := a.now().UTC()
	healths := make([]NodeHealth, 0, len(enabled))
	for i, node := range enabled {
		res := results[i]
		if res.Timestamp.IsZero() {
			res.Timestamp = takenAt
		}

		updated := a.applyOutcome(ctx, node, res)
		status := policy.StatusOf(updated)
		healths = append(healths, NodeHealth{Node: updated, Status: status, Outcome: res.Outcome})

		if prev := prevStatus[node.Provider]; prev != status {
			a.log.Info("node status changed",
				zap.String("provider", node.Provider),
				zap.String("from", string(prev)),
				zap.String("to", string(status)),
				zap.Int("consecutive_failures", updated.ConsecutiveFailures))
			a.publish(ctx, events.Event{
				Type:      events.NodeStatusChanged,
				Provider:  node.Provider,
				Timestamp: takenAt,
				Payload: map[string]interface{}{
					"from":                 prev,
					"to":                   status,
					"consecutive_failures": updated.ConsecutiveFailures,
				},
			})
		}

		if a.samples != nil {
			sample := &history.Sample{
				Provider:  node.Provider,
				TakenAt:   res.Timestamp,
				LatencyMs: res.LatencyMs,
				Outcome:   string(res.Outcome),
			}
			if err := a.samples.Record(ctx, sample); err != nil {
				a.log.Warn("record health sample",
					zap.String("provider", node.Provider), zap.Error(err))
			}
		}

		if a.metrics != nil {
			a.metrics.SetNodeGauges(updated.Provider, updated.LatencyMs,
				updated.ConsecutiveFailures, updated.IsPrimary)
		}
	}

	score := Score(healths, policy, healthyWeight, latencyWeight)
	ev := Evaluation{TakenAt: takenAt, Score: score, Nodes: healths}

	a.mu.Lock()
	snapshot := ev
	a.last = &snapshot
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.MeshHealthScore.Set(score)
	}
	healthy := 0
	for _, h := range healths {
		if h.Status == registry.StatusHealthy {
			healthy++
		}
	}
	a.publish(ctx, events.Event{
		Type:      events.MeshScoreUpdated,
		Timestamp: takenAt,
		Payload: map[string]interface{}{
			"score":   score,
			"healthy": healthy,
			"total":   len(healths),
		},
	})
	a.log.Debug("health sweep complete",
		zap.Float64("score", score),
		zap.Int("nodes", len(healths)),
		zap.Int("healthy", healthy))

	if a.sink != nil {
		if err := a.sink.Evaluate(ctx, ev); err != nil {
			return fmt.Errorf("failover evaluation: %w", err)
		}
	}
	return nil
}

func (a *Aggregator) snapshotPolicy() (registry.HealthPolicy, float64, float64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.policy, a.healthyWeight, a.latencyWeight
}

// probeNode runs one probe, converting a panicking prober into a plain
// error outcome so one bad node never aborts the sweep.
func (a *Aggregator) probeNode(ctx context.Context, node *registry.Node) (result probe.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("probe panicked",
				zap.String("provider", node.Provider), zap.Any("panic", r))
			result = probe.Result{
				Provider:  node.Provider,
				Timestamp: a.now().UTC(),
				Outcome:   probe.OutcomeError,
				Err:       fmt.Sprintf("probe panic: %v", r),
			}
		}
		if a.metrics != nil {
			a.metrics.ObserveProbe(node.Provider, string(result.Outcome), time.Since(start).Seconds())
		}
	}()
	return a.prober.Probe(ctx, node)
}

// applyOutcome folds the probe result into the registry and returns the
// refreshed slot. If the write or re-read fails, the stale snapshot is
// returned and the next sweep retries.
func (a *Aggregator) applyOutcome(ctx context.Context, node *registry.Node, res probe.Result) *registry.Node {
	out := registry.ProbeOutcome{OK: res.OK(), CheckedAt: res.Timestamp}
	if res.LatencyMs != nil {
		out.LatencyMs = *res.LatencyMs
	}
	if err := a.store.RecordProbeOutcome(ctx, node.Provider, out); err != nil {
		a.log.Error("record probe outcome",
			zap.String("provider", node.Provider), zap.Error(err))
		return node
	}
	updated, err := a.store.GetNode(ctx, node.Provider)
	if err != nil {
		a.log.Error("reload node after probe",
			zap.String("provider", node.Provider), zap.Error(err))
		return node
	}
	return updated
}

func (a *Aggregator) publish(ctx context.Context, event events.Event) {
	if a.bus == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if err := a.bus.Publish(ctx, event); err != nil {
		a.log.Warn("publish event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}
