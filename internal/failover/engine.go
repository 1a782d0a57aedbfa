// Package failover decides when the primary role moves and to where. One
// engine instance owns the mesh's transition state; automatic evaluations
// and manual commands serialize on its mutex so they can never interleave
// into two primaries.
package failover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/aggregator"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/eventlog"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/events"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/metrics"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/probe"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/provision"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/registry"
)

// State is the engine's position in the transition lifecycle.
type State string

const (
	// StateStable: the primary is holding its role.
	StateStable State = "stable"
	// StateFailingOver: the role moved and the new primary is not yet
	// confirmed healthy.
	StateFailingOver State = "failing-over"
)

// Config holds the engine's tunable thresholds.
type Config struct {
	// LatencyWindow is how long the primary must stay in warning/down
	// readings before the latency trigger fires. Default 30s.
	LatencyWindow time.Duration
	// GracePeriod bounds how long the engine waits for the new primary to
	// confirm healthy before resolving the transition anyway. Default 90s.
	GracePeriod time.Duration
	// Policy classifies nodes for manual-command validation.
	Policy registry.HealthPolicy
}

// Engine is the mesh failover state machine.
type Engine struct {
	store  registry.Store
	events eventlog.Store
	log    *zap.Logger

	bus     events.Bus
	prov    provision.Provisioner
	metrics *metrics.Metrics

	now func() time.Time

	mu            sync.Mutex
	latencyWindow time.Duration
	grace         time.Duration
	policy        registry.HealthPolicy

	state         State
	pendingID     uuid.UUID
	pendingTo     string
	pendingReason eventlog.Reason
	firedAt       time.Time

	// Per-primary streak bookkeeping, reset whenever the primary changes
	// or delivers a healthy reading.
	streakProvider     string
	badSince           *time.Time
	timeoutOnly        bool
	noCandidateAlerted bool
}

var _ aggregator.Sink = (*Engine)(nil)

// New creates a stable engine over the given stores.
func New(store registry.Store, eventStore eventlog.Store, cfg Config, log *zap.Logger) *Engine {
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = 30 * time.Second
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 90 * time.Second
	}
	return &Engine{
		store:         store,
		events:        eventStore,
		log:           log,
		now:           time.Now,
		latencyWindow: cfg.LatencyWindow,
		grace:         cfg.GracePeriod,
		policy:        cfg.Policy,
		state:         StateStable,
		timeoutOnly:   true,
	}
}

// RegisterBus attaches the event bus.
func (e *Engine) RegisterBus(bus events.Bus) { e.bus = bus }

// RegisterProvisioner attaches the replacement-node capability, invoked
// when a needed failover has no candidate.
func (e *Engine) RegisterProvisioner(p provision.Provisioner) { e.prov = p }

// RegisterMetrics attaches the Prometheus collectors.
func (e *Engine) RegisterMetrics(m *metrics.Metrics) { e.metrics = m }

// State reports whether a transition is in flight.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// UpdateTuning swaps the tunable thresholds. Used by the config hot-reload
// path; takes effect on the next evaluation.
func (e *Engine) UpdateTuning(latencyWindow, grace time.Duration, policy registry.HealthPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if latencyWindow > 0 {
		e.latencyWindow = latencyWindow
	}
	if grace > 0 {
		e.grace = grace
	}
	e.policy = policy
}

// Evaluate consumes one aggregator sweep. In stable state it updates the
// primary's streaks and fires an automatic failover when a trigger trips; in
// failing-over state it watches for the new primary to settle.
func (e *Engine) Evaluate(ctx context.Context, ev aggregator.Evaluation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateFailingOver {
		return e.settleLocked(ctx, ev)
	}

	primary := ev.Primary()
	if primary == nil {
		if len(ev.Nodes) > 0 {
			e.log.Warn("mesh has no primary; promote one manually")
		}
		return nil
	}

	e.updateStreaksLocked(primary, ev.TakenAt)

	reason, triggered := e.triggerLocked(primary, ev.TakenAt)
	if !triggered {
		return nil
	}

	candidate := pickCandidate(ev.Nodes, primary.Node.Provider)
	if candidate == nil {
		e.alertNoCandidateLocked(ctx, primary, reason, ev.TakenAt)
		return nil
	}

	detail := fmt.Sprintf("primary %s %s (%s)", primary.Node.Provider, primary.Status, reason)
	_, err := e.fireLocked(ctx, primary.Node.Provider, candidate.Node.Provider, reason, true, detail, ev.TakenAt)
	return err
}

// TriggerManualFailover moves the primary to the named provider on operator
// command, bypassing the automatic thresholds. A down target is rejected, a
// warning target is allowed as an explicit override, and a command arriving
// while another transition is in flight loses the race: its superseded
// record is returned alongside ErrConcurrentTransition. Failing over to the
// current primary is a logged no-op returning (nil, nil).
func (e *Engine) TriggerManualFailover(ctx context.Context, toProvider string) (*eventlog.FailoverEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UTC()

	nodes, err := e.store.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	var target *registry.Node
	var from string
	for _, n := range nodes {
		if n.IsPrimary && n.Enabled {
			from = n.Provider
		}
		if n.Provider == toProvider {
			target = n
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, toProvider)
	}
	if !target.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrNodeDisabled, toProvider)
	}

	if status := e.policy.StatusOf(target); status == registry.StatusDown {
		event := e.recordOutcomeLocked(ctx, from, toProvider, eventlog.ResultRejected,
			"manual failover rejected: target is down", now)
		e.log.Warn("manual failover rejected",
			zap.String("to", toProvider),
			zap.String("status", string(status)))
		return event, fmt.Errorf("%w: %s", ErrTargetDown, toProvider)
	} else if status == registry.StatusWarning {
		e.log.Warn("manual failover to degraded node allowed as override",
			zap.String("to", toProvider))
	}

	if e.state == StateFailingOver {
		event := e.recordOutcomeLocked(ctx, from, toProvider, eventlog.ResultSuperseded,
			fmt.Sprintf("superseded by in-flight transition to %s", e.pendingTo), now)
		e.log.Warn("manual failover superseded by in-flight transition",
			zap.String("to", toProvider),
			zap.String("in_flight_to", e.pendingTo))
		return event, ErrConcurrentTransition
	}

	return e.fireLocked(ctx, from, toProvider, eventlog.ReasonManual, false,
		"operator-initiated failover", now)
}

// settleLocked watches a failing-over mesh: the transition resolves when
// the new primary reports healthy or the grace period lapses.
func (e *Engine) settleLocked(ctx context.Context, ev aggregator.Evaluation) error {
	for i := range ev.Nodes {
		h := &ev.Nodes[i]
		if h.Node.Provider == e.pendingTo && h.Node.IsPrimary && h.Status == registry.StatusHealthy {
			e.resolveLocked(ctx, ev.TakenAt, "new primary confirmed healthy")
			return nil
		}
	}
	if ev.TakenAt.Sub(e.firedAt) >= e.grace {
		e.resolveLocked(ctx, ev.TakenAt, "grace period lapsed")
	}
	return nil
}

func (e *Engine) resolveLocked(ctx context.Context, at time.Time, how string) {
	id := e.pendingID
	reason := e.pendingReason

	e.state = StateStable
	e.pendingID = uuid.Nil
	e.pendingTo = ""
	e.pendingReason = ""
	e.resetStreaksLocked("")

	if id == uuid.Nil {
		return
	}
	if err := e.events.Resolve(ctx, id, at); err != nil {
		// The transition itself already happened; a failed resolution
		// write must not wedge the state machine.
		e.log.Error("resolve failover event",
			zap.String("event_id", id.String()), zap.Error(err))
		return
	}

	e.log.Info("failover resolved",
		zap.String("event_id", id.String()),
		zap.String("resolution", how))
	if e.metrics != nil {
		e.metrics.RecordFailover(string(reason), string(eventlog.ResultCompleted))
	}
	e.publish(ctx, events.Event{
		Type:      events.FailoverCompleted,
		Timestamp: at,
		Payload:   map[string]interface{}{"event_id": id.String(), "resolution": how},
	})
}

// updateStreaksLocked maintains the two trigger clocks for the current
// primary: the latency streak and the unreachable flag (true while every
// failed probe since the last ok was a timeout).
func (e *Engine) updateStreaksLocked(primary *aggregator.NodeHealth, at time.Time) {
	if e.streakProvider != primary.Node.Provider {
		e.resetStreaksLocked(primary.Node.Provider)
	}

	switch primary.Outcome {
	case probe.OutcomeOK:
		e.timeoutOnly = true
	case probe.OutcomeError:
		e.timeoutOnly = false
	}

	// The latency streak follows the last measured latency, which failed
	// probes preserve: a slow node that stops answering keeps its streak,
	// while a fast node that starts failing is the failure counter's
	// problem, not a latency problem. One measurement back under the
	// threshold resets the streak.
	if e.latencyExceeded(primary.Node) {
		if e.badSince == nil {
			t := at
			e.badSince = &t
		}
	} else {
		e.badSince = nil
	}

	if primary.Status == registry.StatusHealthy {
		e.noCandidateAlerted = false
	}
}

func (e *Engine) latencyExceeded(n *registry.Node) bool {
	threshold := e.policy.LatencyWarningMs
	if threshold <= 0 {
		threshold = registry.DefaultHealthPolicy().LatencyWarningMs
	}
	return n.LatencyMs != nil && *n.LatencyMs > threshold
}

func (e *Engine) triggerLocked(primary *aggregator.NodeHealth, at time.Time) (eventlog.Reason, bool) {
	if primary.Status == registry.StatusDown {
		if e.timeoutOnly {
			return eventlog.ReasonNodeUnreachable, true
		}
		return eventlog.ReasonConsecutiveFailures, true
	}
	if e.badSince != nil && at.Sub(*e.badSince) >= e.latencyWindow {
		return eventlog.ReasonLatencyThreshold, true
	}
	return "", false
}

// fireLocked moves the primary role and records the transition. A target
// that is already primary is a no-op returning (nil, nil). A registry write
// failure aborts the decision entirely; the next evaluation retries.
func (e *Engine) fireLocked(ctx context.Context, from, to string, reason eventlog.Reason, automatic bool, detail string, at time.Time) (*eventlog.FailoverEvent, error) {
	changed, err := e.store.SetPrimary(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("set primary to %s: %w", to, err)
	}
	if !changed {
		e.log.Info("failover target already primary; nothing to do",
			zap.String("provider", to))
		return nil, nil
	}

	e.state = StateFailingOver
	e.pendingTo = to
	e.pendingReason = reason
	e.firedAt = at
	e.resetStreaksLocked("")

	event := &eventlog.FailoverEvent{
		FromProvider: from,
		ToProvider:   to,
		Reason:       reason,
		IsAutomatic:  automatic,
		Result:       eventlog.ResultPending,
		Detail:       detail,
		TriggeredAt:  at,
	}
	if err := e.events.Append(ctx, event); err != nil {
		// The role already moved; the missing audit row is reported, not
		// rolled back. Resolution will skip the nil id.
		e.pendingID = uuid.Nil
		e.log.Error("failover event append failed after primary moved",
			zap.String("from", from), zap.String("to", to), zap.Error(err))
		return nil, fmt.Errorf("append failover event: %w", err)
	}
	e.pendingID = event.ID

	e.log.Info("failover triggered",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("reason", string(reason)),
		zap.Bool("automatic", automatic),
		zap.String("event_id", event.ID.String()))
	e.publish(ctx, events.Event{
		Type:      events.FailoverTriggered,
		Provider:  to,
		Timestamp: at,
		Payload:   event,
	})
	return event, nil
}

// recordOutcomeLocked writes a terminal (rejected/superseded) event so
// losing commands stay queryable.
func (e *Engine) recordOutcomeLocked(ctx context.Context, from, to string, result eventlog.Result, detail string, at time.Time) *eventlog.FailoverEvent {
	event := &eventlog.FailoverEvent{
		FromProvider: from,
		ToProvider:   to,
		Reason:       eventlog.ReasonManual,
		IsAutomatic:  false,
		Result:       result,
		Detail:       detail,
		TriggeredAt:  at,
	}
	if err := e.events.Append(ctx, event); err != nil {
		e.log.Error("append failover outcome event",
			zap.String("result", string(result)), zap.Error(err))
		return nil
	}
	if e.metrics != nil {
		e.metrics.RecordFailover(string(eventlog.ReasonManual), string(result))
	}
	eventType := events.FailoverRejected
	if result == eventlog.ResultSuperseded {
		eventType = events.FailoverSuperseded
	}
	e.publish(ctx, events.Event{
		Type:      eventType,
		Provider:  to,
		Timestamp: at,
		Payload:   event,
	})
	return event
}

// alertNoCandidateLocked reports a failover that cannot happen. The alert
// fires once per episode; it re-arms when the primary recovers or a
// transition finally fires.
func (e *Engine) alertNoCandidateLocked(ctx context.Context, primary *aggregator.NodeHealth, reason eventlog.Reason, at time.Time) {
	if e.noCandidateAlerted {
		return
	}
	e.noCandidateAlerted = true

	e.log.Warn("failover needed but no eligible candidate",
		zap.String("primary", primary.Node.Provider),
		zap.String("reason", string(reason)),
		zap.Error(ErrNoEligibleCandidate))
	if e.metrics != nil {
		e.metrics.RecordFailover(string(reason), "no_candidate")
	}
	e.publish(ctx, events.Event{
		Type:      events.AlertNoCandidate,
		Provider:  primary.Node.Provider,
		Timestamp: at,
		Payload: map[string]interface{}{
			"primary": primary.Node.Provider,
			"reason":  string(reason),
			"status":  string(primary.Status),
		},
	})

	if e.prov != nil {
		go e.requestReplacement(primary.Node.Provider, reason)
	}
}

// requestReplacement invokes the provisioning capability off the evaluation
// path; its result is logged, never acted on here.
func (e *Engine) requestReplacement(from string, reason eventlog.Reason) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := e.prov.RequestReplacement(ctx, provision.Request{
		FromProvider: from,
		Reason:       string(reason),
		Detail:       "no eligible failover candidate",
		RequestedAt:  e.now().UTC(),
	})
	if err != nil {
		e.log.Error("replacement provisioning failed",
			zap.String("from", from), zap.Error(err))
		return
	}
	e.log.Info("replacement provisioning requested", zap.String("from", from))
}

func (e *Engine) resetStreaksLocked(provider string) {
	e.streakProvider = provider
	e.badSince = nil
	e.timeoutOnly = true
	e.noCandidateAlerted = false
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if e.bus == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if err := e.bus.Publish(ctx, event); err != nil {
		e.log.Warn("publish event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}
