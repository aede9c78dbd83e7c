package monitor

import "github.com/af-corp/meridian-gateway/internal/config"

// Default blended rate (USD per 1K tokens) applied to (provider, model) pairs
// missing from the pricing table. Deliberately on the expensive side so that
// unknown models over-count cost instead of slipping under the daily limit.
var defaultRate = config.PriceEntry{Input: 0.01, Output: 0.03}

// Pricing computes request cost from the static per-(provider,model) rate
// table loaded out of models.yaml.
type Pricing struct {
	table map[string]map[string]config.PriceEntry
}

func NewPricing(table map[string]map[string]config.PriceEntry) *Pricing {
	if table == nil {
		table = map[string]map[string]config.PriceEntry{}
	}
	return &Pricing{table: table}
}

// Cost returns the USD cost of a single call.
func (p *Pricing) Cost(provider, model string, promptTokens, completionTokens int) float64 {
	rate := p.rateFor(provider, model)
	return float64(promptTokens)/1000*rate.Input + float64(completionTokens)/1000*rate.Output
}

func (p *Pricing) rateFor(provider, model string) config.PriceEntry {
	if models, ok := p.table[provider]; ok {
		if rate, ok := models[model]; ok {
			return rate
		}
	}
	return defaultRate
}
