package failover

import (
	"math"

	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/aggregator"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/registry"
)

// pickCandidate selects the failover target from an evaluation: enabled,
// not the current primary, not down. Healthier status wins; ties go to the
// lower priority value, then the lower last measured latency.
func pickCandidate(nodes []aggregator.NodeHealth, currentPrimary string) *aggregator.NodeHealth {
	var best *aggregator.NodeHealth
	for i := range nodes {
		h := &nodes[i]
		if !h.Node.Enabled || h.Node.Provider == currentPrimary {
			continue
		}
		if h.Status == registry.StatusDown {
			continue
		}
		if best == nil || better(h, best) {
			best = h
		}
	}
	return best
}

func better(a, b *aggregator.NodeHealth) bool {
	if a.Status.Rank() != b.Status.Rank() {
		return a.Status.Rank() > b.Status.Rank()
	}
	if a.Node.Priority != b.Node.Priority {
		return a.Node.Priority < b.Node.Priority
	}
	return candidateLatency(a) < candidateLatency(b)
}

// candidateLatency treats a node that has never been measured as slower
// than any measured one.
func candidateLatency(h *aggregator.NodeHealth) float64 {
	if h.Node.LatencyMs == nil {
		return math.MaxFloat64
	}
	return *h.Node.LatencyMs
}
