package eventlog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reason says why a failover was attempted.
type Reason string

const (
	ReasonLatencyThreshold    Reason = "latency-threshold"
	ReasonConsecutiveFailures Reason = "consecutive-failures"
	ReasonManual              Reason = "manual"
	ReasonNodeUnreachable     Reason = "node-unreachable"
)

// Result tracks the lifecycle of a failover attempt. Rejected manual
// commands and race losers are recorded, not dropped: an operator can always
// answer "what tried to move the primary and why".
type Result string

const (
	// ResultPending: the primary moved, the new primary is not yet
	// confirmed healthy.
	ResultPending Result = "pending"
	// ResultCompleted: the transition resolved (confirmed healthy or the
	// grace period lapsed).
	ResultCompleted Result = "completed"
	// ResultRejected: a manual command failed validation (unknown,
	// disabled, or down target).
	ResultRejected Result = "rejected"
	// ResultSuperseded: the attempt lost a race against a transition that
	// was already in flight.
	ResultSuperseded Result = "superseded"
)

// FailoverEvent is the immutable record of one failover attempt. The only
// permitted mutation is resolving a pending event.
type FailoverEvent struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	FromProvider string     `json:"from_provider" db:"from_provider"`
	ToProvider   string     `json:"to_provider" db:"to_provider"`
	Reason       Reason     `json:"reason" db:"reason"`
	IsAutomatic  bool       `json:"is_automatic" db:"is_automatic"`
	Result       Result     `json:"result" db:"result"`
	Detail       string     `json:"detail,omitempty" db:"detail"`
	TriggeredAt  time.Time  `json:"triggered_at" db:"triggered_at"`
	ResolvedAt   *time.Time `json:"resolved_at" db:"resolved_at"`
}

// Validate checks enum fields before an append.
func (e *FailoverEvent) Validate() error {
	switch e.Reason {
	case ReasonLatencyThreshold, ReasonConsecutiveFailures, ReasonManual, ReasonNodeUnreachable:
	default:
		return fmt.Errorf("invalid failover reason %q", e.Reason)
	}
	switch e.Result {
	case ResultPending, ResultCompleted, ResultRejected, ResultSuperseded:
	default:
		return fmt.Errorf("invalid failover result %q", e.Result)
	}
	return nil
}

// Query selects failover events. Nil fields mean "any"; results come back
// newest first.
type Query struct {
	Provider    string     `json:"provider,omitempty"` // matches from or to
	Reason      *Reason    `json:"reason,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	IsAutomatic *bool      `json:"is_automatic,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
	Until       *time.Time `json:"until,omitempty"`
	Limit       int        `json:"limit"`
	Offset      int        `json:"offset"`
}
