package openrouter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateCost(t *testing.T) {
	tests := []struct {
		name             string
		model            string
		promptTokens     int
		completionTokens int
		want             float64
	}{
		// 0.15*1000/1M + 0.60*500/1M
		{"gpt-4o-mini", "openai/gpt-4o-mini", 1000, 500, 0.00045},
		// 3.00*10000/1M + 15.00*5000/1M
		{"claude sonnet", "anthropic/claude-3.5-sonnet", 10000, 5000, 0.105},
		{"llama 8b", "meta-llama/llama-3.1-8b-instruct", 2000, 2000, 0.00022},
		{"zero tokens", "openai/gpt-4o-mini", 0, 0, 0},
		{"large request", "openai/gpt-4o", 1_000_000, 1_000_000, 12.50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CalculateCost(tt.model, tt.promptTokens, tt.completionTokens), 1e-9)
		})
	}
}

func TestCalculateCostUnknownModelUsesFallback(t *testing.T) {
	for _, model := range []string{"some-random-model", "vendor/unknown-v2", ""} {
		assert.Equal(t, DefaultPricingFallback, CalculateCost(model, 1000, 500), model)
	}
}

func TestGetPricing(t *testing.T) {
	pricing, ok := GetPricing("openai/gpt-4o-mini")
	assert.True(t, ok)
	assert.Equal(t, 0.15, pricing.PromptPrice)

	_, ok = GetPricing("nope")
	assert.False(t, ok)
}
