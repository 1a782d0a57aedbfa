package registry

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNodeNotFound means the provider has no slot in the mesh.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNodeDisabled means the operation requires an enabled node.
	ErrNodeDisabled = errors.New("node is disabled")
	// ErrDuplicateProvider means a slot already exists for the provider.
	ErrDuplicateProvider = errors.New("provider already registered")
	// ErrNodeIsPrimary guards against disabling the active primary; the
	// operator must fail over first.
	ErrNodeIsPrimary = errors.New("node is the current primary")
)

// PersistenceError wraps a failed store write. A decision that could not be
// recorded must not take effect; callers abort and retry on the next tick.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("registry: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store is the system of record for mesh nodes. Implementations must make
// SetPrimary and RecordProbeOutcome atomic with respect to concurrent
// callers; everything that changes who is primary goes through SetPrimary.
type Store interface {
	// CreateNode registers a provider slot. The first enabled node in an
	// empty mesh becomes primary; all later nodes start as standbys.
	CreateNode(ctx context.Context, n *Node) error

	GetNode(ctx context.Context, provider string) (*Node, error)

	// ListNodes returns every slot, enabled or not, ordered by priority
	// then provider.
	ListNodes(ctx context.Context) ([]*Node, error)

	// SetEnabled flips a slot in or out of the eligible set. Disabling the
	// current primary is rejected with ErrNodeIsPrimary.
	SetEnabled(ctx context.Context, provider string, enabled bool) error

	SetOutboundAddress(ctx context.Context, provider, address string) error

	// SetPrimary atomically moves the primary role to provider: every other
	// slot is demoted and the target promoted in one step. It reports
	// whether anything changed; promoting the current primary is a no-op.
	// Unknown providers are rejected with ErrNodeNotFound, disabled ones
	// with ErrNodeDisabled.
	SetPrimary(ctx context.Context, provider string) (changed bool, err error)

	// RecordProbeOutcome folds one probe result into the slot: success
	// stores the measured latency and clears the failure streak, failure
	// increments the streak and leaves the last good latency in place.
	RecordProbeOutcome(ctx context.Context, provider string, outcome ProbeOutcome) error
}
