package usage

import "strings"

// Price is the USD cost per million tokens for one model.
type Price struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing covers the models the built-in backends use. Prices
// are list prices and only approximate actual billing.
var DefaultPricing = map[string]Price{
	"gpt-4o":                   {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":              {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"claude-3-sonnet-20240229": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-haiku-20240307":  {InputPerMillion: 0.25, OutputPerMillion: 1.25},
	"gemini-2.0-flash":         {InputPerMillion: 0.10, OutputPerMillion: 0.40},
}

// ComputeCost calculates the USD cost for a model's token usage based
// on the pricing table. Dated snapshot names such as
// "gpt-4o-2024-08-06" match their base entry. Models not in the table
// are treated as free (local/Ollama models).
func ComputeCost(model string, inputTokens, outputTokens int, pricing map[string]Price) float64 {
	entry, ok := lookup(model, pricing)
	if !ok {
		return 0
	}
	cost := float64(inputTokens) / 1_000_000.0 * entry.InputPerMillion
	cost += float64(outputTokens) / 1_000_000.0 * entry.OutputPerMillion
	return cost
}

func lookup(model string, pricing map[string]Price) (Price, bool) {
	if p, ok := pricing[model]; ok {
		return p, true
	}
	// Longest prefix wins so gpt-4o-mini-... is not priced as gpt-4o.
	best := ""
	for name := range pricing {
		if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return Price{}, false
	}
	return pricing[best], true
}
