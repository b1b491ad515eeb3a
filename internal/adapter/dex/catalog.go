// Package dex implements the mock swap router: seeded quote sampling over a
// venue catalog, best-output selection, and simulated execution with
// configurable latency and congestion.
package dex

import (
	_ "embed"
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/dex-order-engine/internal/domain"
)

//go:embed venues.yaml
var defaultVenuesYAML []byte

// LatencyRange is an inclusive interval in milliseconds.
type LatencyRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Band scales the reference price: a quote samples a factor uniformly from
// [Min, Max].
type Band struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Venue is one quotable DEX with its pricing parameters.
type Venue struct {
	Dex          domain.DEX
	Band         Band
	Fee          decimal.Decimal
	EstimatedGas decimal.Decimal
}

// Catalog is the full router parameter set. Venue order matters: routing ties
// break toward the first-listed venue.
type Catalog struct {
	BasePrice      decimal.Decimal
	QuoteLatency   LatencyRange
	ExecuteLatency LatencyRange
	FailureRate    float64
	Venues         []Venue
}

type catalogYAML struct {
	BasePrice      string       `yaml:"base_price"`
	QuoteLatency   LatencyRange `yaml:"quote_latency_ms"`
	ExecuteLatency LatencyRange `yaml:"execute_latency_ms"`
	FailureRate    float64      `yaml:"failure_rate"`
	Venues         []venueYAML  `yaml:"venues"`
}

type venueYAML struct {
	Dex          string `yaml:"dex"`
	Band         Band   `yaml:"price_band"`
	Fee          string `yaml:"fee"`
	EstimatedGas string `yaml:"estimated_gas"`
}

// ParseCatalog decodes a YAML catalog and validates its ranges. Decimals are
// carried as strings in the YAML so fees survive parsing exactly.
func ParseCatalog(b []byte) (Catalog, error) {
	var raw catalogYAML
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return Catalog{}, fmt.Errorf("op=dex.parse_catalog: %w", err)
	}
	base, err := decimal.NewFromString(raw.BasePrice)
	if err != nil {
		return Catalog{}, fmt.Errorf("op=dex.parse_catalog: base_price: %w", err)
	}
	if len(raw.Venues) == 0 {
		return Catalog{}, fmt.Errorf("op=dex.parse_catalog: no venues: %w", domain.ErrInvalidArgument)
	}
	if raw.FailureRate < 0 || raw.FailureRate > 1 {
		return Catalog{}, fmt.Errorf("op=dex.parse_catalog: failure_rate %v out of [0,1]: %w", raw.FailureRate, domain.ErrInvalidArgument)
	}
	for _, lr := range []LatencyRange{raw.QuoteLatency, raw.ExecuteLatency} {
		if lr.Min < 0 || lr.Max < lr.Min {
			return Catalog{}, fmt.Errorf("op=dex.parse_catalog: latency range %d..%d: %w", lr.Min, lr.Max, domain.ErrInvalidArgument)
		}
	}
	c := Catalog{
		BasePrice:      base,
		QuoteLatency:   raw.QuoteLatency,
		ExecuteLatency: raw.ExecuteLatency,
		FailureRate:    raw.FailureRate,
	}
	for _, v := range raw.Venues {
		fee, err := decimal.NewFromString(v.Fee)
		if err != nil {
			return Catalog{}, fmt.Errorf("op=dex.parse_catalog: venue %s fee: %w", v.Dex, err)
		}
		gas, err := decimal.NewFromString(v.EstimatedGas)
		if err != nil {
			return Catalog{}, fmt.Errorf("op=dex.parse_catalog: venue %s estimated_gas: %w", v.Dex, err)
		}
		if v.Band.Min <= 0 || v.Band.Max < v.Band.Min {
			return Catalog{}, fmt.Errorf("op=dex.parse_catalog: venue %s price_band %v..%v: %w", v.Dex, v.Band.Min, v.Band.Max, domain.ErrInvalidArgument)
		}
		c.Venues = append(c.Venues, Venue{
			Dex:          domain.DEX(v.Dex),
			Band:         v.Band,
			Fee:          fee,
			EstimatedGas: gas,
		})
	}
	return c, nil
}

// DefaultCatalog parses the embedded venue catalog.
func DefaultCatalog() (Catalog, error) {
	return ParseCatalog(defaultVenuesYAML)
}
