package tokens

import (
	"math"
	"strings"
)

// DefaultPricePer1K is charged for models missing from the price table.
const DefaultPricePer1K = 0.01

// DefaultPrices are USD per 1K tokens.
var DefaultPrices = map[string]float64{
	"gpt-4":           0.03,
	"gpt-3.5-turbo":   0.002,
	"claude-3-haiku":  0.00025,
	"claude-3-sonnet": 0.003,
}

// Pricing estimates call cost from token counts.
type Pricing struct {
	prices map[string]float64
}

// NewPricing merges overrides onto DefaultPrices.
func NewPricing(overrides map[string]float64) *Pricing {
	prices := make(map[string]float64, len(DefaultPrices)+len(overrides))
	for k, v := range DefaultPrices {
		prices[k] = v
	}
	for k, v := range overrides {
		prices[strings.ToLower(k)] = v
	}
	return &Pricing{prices: prices}
}

// PricePer1K returns the rate for model: an exact entry, else the longest
// entry that prefixes the model name, else DefaultPricePer1K.
func (p *Pricing) PricePer1K(model string) float64 {
	model = strings.ToLower(model)
	if price, ok := p.prices[model]; ok {
		return price
	}
	best, bestLen := DefaultPricePer1K, 0
	for name, price := range p.prices {
		if len(name) > bestLen && strings.HasPrefix(model, name) {
			best, bestLen = price, len(name)
		}
	}
	return best
}

// Cost returns the USD cost of tokens, rounded to six decimals.
func (p *Pricing) Cost(model string, tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	cost := float64(tokens) / 1000 * p.PricePer1K(model)
	return math.Round(cost*1e6) / 1e6
}
