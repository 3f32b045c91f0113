package market

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Registry is the read-only table of markets keyed by id.
type Registry struct {
	markets map[string]Market
	ids     []string
}

// New builds a registry from already-constructed markets.
func New(markets ...Market) (*Registry, error) {
	r := &Registry{markets: make(map[string]Market, len(markets))}
	for _, m := range markets {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.markets[m.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidMarket, m.ID)
		}
		r.markets[m.ID] = m
		r.ids = append(r.ids, m.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

func (r *Registry) Get(id string) (Market, bool) {
	m, ok := r.markets[id]
	return m, ok
}

// IDs returns market ids in sorted order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

func (r *Registry) Len() int { return len(r.ids) }

// ---- YAML loading ----

type fileFormat struct {
	Markets []struct {
		ID                      string `yaml:"id"`
		MaxLeverage             string `yaml:"max_leverage"`
		InitialMarginRatio      string `yaml:"initial_margin_ratio"`
		MaintenanceMarginRatio  string `yaml:"maintenance_margin_ratio"`
		LiquidationPenaltyRatio string `yaml:"liquidation_penalty_ratio"`
	} `yaml:"markets"`
}

// LoadFile reads a YAML market table from disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read market table: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML market table:
//
//	markets:
//	  - id: GOLD-PERP
//	    max_leverage: "10"
//	    initial_margin_ratio: "0.1"
//	    maintenance_margin_ratio: "0.05"
//	    liquidation_penalty_ratio: "0.02"
func Parse(data []byte) (*Registry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode market table: %w", err)
	}

	markets := make([]Market, 0, len(f.Markets))
	for _, raw := range f.Markets {
		m := Market{ID: raw.ID}
		fields := []struct {
			name string
			in   string
			out  *decimal.Decimal
		}{
			{"max_leverage", raw.MaxLeverage, &m.MaxLeverage},
			{"initial_margin_ratio", raw.InitialMarginRatio, &m.InitialMarginRatio},
			{"maintenance_margin_ratio", raw.MaintenanceMarginRatio, &m.MaintenanceMarginRatio},
			{"liquidation_penalty_ratio", raw.LiquidationPenaltyRatio, &m.LiquidationPenaltyRatio},
		}
		for _, fld := range fields {
			v, err := decimal.NewFromString(fld.in)
			if err != nil {
				return nil, fmt.Errorf("%w: %s %s=%q", ErrInvalidMarket, raw.ID, fld.name, fld.in)
			}
			*fld.out = v
		}
		markets = append(markets, m)
	}
	return New(markets...)
}
