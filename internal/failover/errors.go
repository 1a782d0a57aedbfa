package failover

import "errors"

var (
	// ErrNoEligibleCandidate means a failover is needed but every
	// alternative is down or disabled. Surfaced as an alert, never fatal.
	ErrNoEligibleCandidate = errors.New("no eligible failover candidate")

	// ErrConcurrentTransition means a command lost the race against a
	// transition already in flight. The loser is recorded as superseded.
	ErrConcurrentTransition = errors.New("another failover is in flight")

	// ErrTargetDown rejects manual failover to a node that is down.
	ErrTargetDown = errors.New("target node is down")

	// ErrUnknownProvider rejects commands naming a provider with no slot.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrNodeDisabled rejects commands naming a disabled slot.
	ErrNodeDisabled = errors.New("target node is disabled")
)
