package aggregator

import "github.com/BitFlexFinTech/profit-accelerator-sub002/internal/registry"

// Default score weights: mesh breadth dominates, primary latency refines.
const (
	DefaultHealthyWeight = 0.7
	DefaultLatencyWeight = 0.3
)

// Score folds per-node health into the 0-100 mesh score. The healthy term is
// the fraction of enabled nodes currently healthy; the latency term rewards a
// fast primary and decays as primary latency grows past the warning
// threshold. More healthy nodes never lowers the score, and neither does a
// faster primary. An empty mesh scores 0.
func Score(nodes []NodeHealth, policy registry.HealthPolicy, healthyWeight, latencyWeight float64) float64 {
	if len(nodes) == 0 {
		return 0
	}
	if healthyWeight <= 0 && latencyWeight <= 0 {
		healthyWeight = DefaultHealthyWeight
		latencyWeight = DefaultLatencyWeight
	}

	healthy := 0
	var primary *NodeHealth
	for i := range nodes {
		if nodes[i].Status == registry.StatusHealthy {
			healthy++
		}
		if nodes[i].Node.IsPrimary {
			primary = &nodes[i]
		}
	}
	healthyFraction := float64(healthy) / float64(len(nodes))

	threshold := policy.LatencyWarningMs
	if threshold <= 0 {
		threshold = registry.DefaultHealthPolicy().LatencyWarningMs
	}

	// With no primary latency on record the latency term is neutral.
	latencyFactor := 1.0
	if primary != nil && primary.Node.LatencyMs != nil {
		latencyFactor = threshold / (threshold + *primary.Node.LatencyMs)
	}

	score := 100 * (healthyWeight*healthyFraction + latencyWeight*latencyFactor) /
		(healthyWeight + latencyWeight)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
