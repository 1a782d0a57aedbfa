package advisor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CostEntry is one provider's pricing row.
type CostEntry struct {
	Provider   string  `yaml:"provider"`
	Region     string  `yaml:"region"`
	MonthlyUSD float64 `yaml:"monthly_usd"`
}

// CostTable is the static per-provider pricing the advisor compares against.
// Prices are operator-maintained estimates, not billing data.
type CostTable struct {
	Providers []CostEntry `yaml:"providers"`

	byProvider map[string]CostEntry
}

// LoadCostTable reads and validates a pricing file.
func LoadCostTable(path string) (*CostTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cost table: %w", err)
	}
	return ParseCostTable(data)
}

// ParseCostTable parses YAML pricing data.
func ParseCostTable(data []byte) (*CostTable, error) {
	var table CostTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse cost table: %w", err)
	}
	table.byProvider = make(map[string]CostEntry, len(table.Providers))
	for _, entry := range table.Providers {
		if entry.Provider == "" {
			return nil, fmt.Errorf("cost table: entry with empty provider")
		}
		if entry.MonthlyUSD < 0 {
			return nil, fmt.Errorf("cost table: %s has negative monthly_usd", entry.Provider)
		}
		if _, dup := table.byProvider[entry.Provider]; dup {
			return nil, fmt.Errorf("cost table: duplicate provider %s", entry.Provider)
		}
		table.byProvider[entry.Provider] = entry
	}
	return &table, nil
}

// MonthlyUSD looks up a provider's monthly price.
func (t *CostTable) MonthlyUSD(provider string) (float64, bool) {
	entry, ok := t.byProvider[provider]
	return entry.MonthlyUSD, ok
}

// Len reports how many providers are priced.
func (t *CostTable) Len() int { return len(t.byProvider) }
