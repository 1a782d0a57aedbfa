// Package advisor proposes cheaper placements for the primary role. It only
// ever reads: applying a suggestion is an operator-initiated failover, never
// an automatic mutation.
package advisor

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/registry"
)

// DefaultMarginMs is how much slower than the current primary an
// alternative may be and still count as latency-equivalent.
const DefaultMarginMs = 25

// Suggestion is one cheaper-equivalent placement. Derived on demand, never
// persisted.
type Suggestion struct {
	CurrentProvider     string  `json:"current_provider"`
	RecommendedProvider string  `json:"recommended_provider"`
	MonthlySavings      float64 `json:"monthly_savings"`
	LatencyDeltaMs      float64 `json:"latency_delta_ms"`
	Reason              string  `json:"reason"`
}

// Advisor compares the primary against enabled alternatives using a static
// cost table.
type Advisor struct {
	table  *CostTable
	policy registry.HealthPolicy
	log    *zap.Logger

	// marginMs is hot-reloaded by the config watcher while HTTP handlers
	// call Advise; reads and writes share the lock.
	mu       sync.RWMutex
	marginMs float64
}

// New creates an advisor. A non-positive margin falls back to the default.
func New(table *CostTable, marginMs float64, policy registry.HealthPolicy, log *zap.Logger) *Advisor {
	if marginMs <= 0 {
		marginMs = DefaultMarginMs
	}
	return &Advisor{table: table, marginMs: marginMs, policy: policy, log: log}
}

// UpdateMargin swaps the latency margin; used by config hot-reload. Takes
// effect on the next Advise call.
func (a *Advisor) UpdateMargin(marginMs float64) {
	if marginMs <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.marginMs = marginMs
}

func (a *Advisor) margin() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.marginMs
}

// Advise returns every cheaper alternative whose measured latency is within
// the margin of the current primary's, best savings first. Nodes that are
// down, disabled, unmeasured, or unpriced are never suggested — a suggestion
// the operator cannot act on is noise.
func (a *Advisor) Advise(nodes []*registry.Node) []Suggestion {
	var primary *registry.Node
	for _, n := range nodes {
		if n.IsPrimary && n.Enabled {
			primary = n
			break
		}
	}
	if primary == nil || primary.LatencyMs == nil {
		return nil
	}

	primaryCost, ok := a.table.MonthlyUSD(primary.Provider)
	if !ok {
		a.log.Debug("primary has no cost entry; nothing to compare",
			zap.String("provider", primary.Provider))
		return nil
	}

	// One margin snapshot for the whole pass so a concurrent reload cannot
	// judge half the alternatives by a different threshold.
	marginMs := a.margin()

	var suggestions []Suggestion
	for _, n := range nodes {
		if n.Provider == primary.Provider || !n.Enabled || n.LatencyMs == nil {
			continue
		}
		if a.policy.StatusOf(n) == registry.StatusDown {
			continue
		}
		cost, ok := a.table.MonthlyUSD(n.Provider)
		if !ok || cost >= primaryCost {
			continue
		}
		delta := *n.LatencyMs - *primary.LatencyMs
		if delta > marginMs {
			continue
		}
		savings := primaryCost - cost
		suggestions = append(suggestions, Suggestion{
			CurrentProvider:     primary.Provider,
			RecommendedProvider: n.Provider,
			MonthlySavings:      savings,
			LatencyDeltaMs:      delta,
			Reason: fmt.Sprintf("%s costs $%.2f/mo vs %s $%.2f/mo; latency delta %+.1fms within %.0fms margin",
				n.Provider, cost, primary.Provider, primaryCost, delta, marginMs),
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].MonthlySavings != suggestions[j].MonthlySavings {
			return suggestions[i].MonthlySavings > suggestions[j].MonthlySavings
		}
		if suggestions[i].LatencyDeltaMs != suggestions[j].LatencyDeltaMs {
			return suggestions[i].LatencyDeltaMs < suggestions[j].LatencyDeltaMs
		}
		return suggestions[i].RecommendedProvider < suggestions[j].RecommendedProvider
	})
	return suggestions
}
