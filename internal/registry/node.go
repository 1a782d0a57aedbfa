package registry

import (
	"errors"
	"time"
)

// NodeStatus is the health classification derived from probe bookkeeping.
type NodeStatus string

const (
	StatusHealthy NodeStatus = "healthy"
	StatusWarning NodeStatus = "warning"
	StatusDown    NodeStatus = "down"
)

// Rank orders statuses for candidate selection: higher is healthier.
func (s NodeStatus) Rank() int {
	switch s {
	case StatusHealthy:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

// Node is one provider slot in the mesh. Latency is the last successful
// measurement and survives failed probes so the dashboard keeps showing the
// last known good value.
type Node struct {
	Provider            string     `json:"provider"`
	Region              string     `json:"region"`
	Priority            int        `json:"priority"`
	Enabled             bool       `json:"enabled"`
	IsPrimary           bool       `json:"is_primary"`
	Endpoint            string     `json:"endpoint"`
	LatencyMs           *float64   `json:"latency_ms"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastCheckedAt       *time.Time `json:"last_checked_at"`
	OutboundAddress     *string    `json:"outbound_address,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Validate checks the fields a slot cannot be registered without.
func (n *Node) Validate() error {
	if n.Provider == "" {
		return errors.New("provider is required")
	}
	if n.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	return nil
}

// Clone returns a deep copy so callers can hold snapshots without racing
// store mutations.
func (n *Node) Clone() *Node {
	c := *n
	if n.LatencyMs != nil {
		v := *n.LatencyMs
		c.LatencyMs = &v
	}
	if n.LastCheckedAt != nil {
		v := *n.LastCheckedAt
		c.LastCheckedAt = &v
	}
	if n.OutboundAddress != nil {
		v := *n.OutboundAddress
		c.OutboundAddress = &v
	}
	return &c
}

// HealthPolicy holds the thresholds that turn probe bookkeeping into a
// status. Thresholds are tunable at runtime; zero values fall back to the
// defaults.
type HealthPolicy struct {
	// FailureThreshold is the consecutive-failure count at which a node is
	// considered down.
	FailureThreshold int
	// LatencyWarningMs marks a reachable node as degraded when its last
	// measured latency exceeds it.
	LatencyWarningMs float64
}

// DefaultHealthPolicy returns the stock 3-strike / 150ms policy.
func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{FailureThreshold: 3, LatencyWarningMs: 150}
}

func (p HealthPolicy) normalized() HealthPolicy {
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 3
	}
	if p.LatencyWarningMs <= 0 {
		p.LatencyWarningMs = 150
	}
	return p
}

// StatusOf classifies a node. Reaching the failure threshold means down;
// any failure streak below it, or high latency, means warning. A node with
// no measurements yet counts as healthy until probes say otherwise.
func (p HealthPolicy) StatusOf(n *Node) NodeStatus {
	p = p.normalized()
	switch {
	case n.ConsecutiveFailures >= p.FailureThreshold:
		return StatusDown
	case n.ConsecutiveFailures > 0:
		return StatusWarning
	case n.LatencyMs != nil && *n.LatencyMs > p.LatencyWarningMs:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// ProbeOutcome is the registry-facing result of one probe: did it succeed,
// and at what measured latency.
type ProbeOutcome struct {
	OK        bool
	LatencyMs float64
	CheckedAt time.Time
}
