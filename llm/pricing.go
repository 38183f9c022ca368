package llm

import "strings"

// Price is the cost of one million tokens in USD.
type Price struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

type priceTable struct {
	models   map[string]Price
	fallback Price
}

var pricing = map[string]priceTable{
	"claude": {
		models: map[string]Price{
			"claude-3-5-sonnet": {Input: 3.00, Output: 15.00},
			"claude-3-5-haiku":  {Input: 0.80, Output: 4.00},
			"claude-3-opus":     {Input: 15.00, Output: 75.00},
		},
		fallback: Price{Input: 3.00, Output: 15.00},
	},
	"openai": {
		models: map[string]Price{
			"gpt-4o":        {Input: 2.50, Output: 10.00},
			"gpt-4o-mini":   {Input: 0.15, Output: 0.60},
			"gpt-4-turbo":   {Input: 10.00, Output: 30.00},
			"gpt-3.5-turbo": {Input: 0.50, Output: 1.50},
		},
		fallback: Price{Input: 2.50, Output: 10.00},
	},
	"gemini": {
		models: map[string]Price{
			"gemini-1.5-pro":      {Input: 1.25, Output: 5.00},
			"gemini-1.5-flash":    {Input: 0.075, Output: 0.30},
			"gemini-1.5-flash-8b": {Input: 0.0375, Output: 0.15},
			"gemini-1.0-pro":      {Input: 0.50, Output: 1.50},
		},
		fallback: Price{Input: 1.25, Output: 5.00},
	},
	"local": {},
}

// LookupPrice returns the price for a provider's model. Dated model names
// such as "gpt-4o-2024-08-06" match the longest known prefix; unknown
// models use the provider default and unknown providers are free.
func LookupPrice(provider, model string) Price {
	table, ok := pricing[provider]
	if !ok {
		return Price{}
	}
	if p, ok := table.models[model]; ok {
		return p
	}
	best, bestLen := table.fallback, 0
	for name, p := range table.models {
		if strings.HasPrefix(model, name) && len(name) > bestLen {
			best, bestLen = p, len(name)
		}
	}
	return best
}

// EstimateCost computes the USD cost of a call.
func EstimateCost(provider, model string, inputTokens, outputTokens int) float64 {
	p := LookupPrice(provider, model)
	return float64(inputTokens)/1_000_000*p.Input + float64(outputTokens)/1_000_000*p.Output
}
