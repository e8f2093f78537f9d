package usage

import "strings"

// modelRate is USD per million tokens.
type modelRate struct {
	InputPerM  float64
	OutputPerM float64
}

// rateTable maps model-id substrings to pricing. Longest match wins so
// "claude-opus" beats "claude". Unknown models price at the default rate
// rather than zero, keeping the cost cap meaningful.
var rateTable = map[string]modelRate{
	"claude-opus":      {15.0, 75.0},
	"claude-sonnet":    {3.0, 15.0},
	"claude-3-5-haiku": {0.8, 4.0},
	"claude-3-haiku":   {0.25, 1.25},
	"gpt-4o-mini":      {0.15, 0.6},
	"gpt-4o":           {2.5, 10.0},
	"gpt-4.1":          {2.0, 8.0},
	"o3-mini":          {1.1, 4.4},
	"o3":               {2.0, 8.0},
	"grok-3-mini":      {0.3, 0.5},
	"grok-3":           {3.0, 15.0},
	"gemini-2.5-pro":   {1.25, 10.0},
	"gemini-2.5-flash": {0.3, 2.5},
	"deepseek":         {0.27, 1.1},
	"mistral":          {2.0, 6.0},
	"llama":            {0.0, 0.0}, // local / openrouter free tier
	"qwen":             {0.4, 1.2},
}

var defaultRate = modelRate{1.0, 3.0}

// rateFor resolves the price for a "provider/model" id. Ollama is free.
func rateFor(model string) modelRate {
	if strings.HasPrefix(model, "ollama/") {
		return modelRate{}
	}
	bestLen := 0
	best := defaultRate
	for sub, rate := range rateTable {
		if strings.Contains(model, sub) && len(sub) > bestLen {
			bestLen = len(sub)
			best = rate
		}
	}
	return best
}

// Cost computes the USD cost of one call against the rate table.
func Cost(model string, inputTokens, outputTokens int) float64 {
	rate := rateFor(model)
	return float64(inputTokens)*rate.InputPerM/1e6 + float64(outputTokens)*rate.OutputPerM/1e6
}
