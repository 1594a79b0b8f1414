package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Merge returns a copy of r with per-model overrides applied on top of the
// defaults, so config can reprice a single model without restating the rest.
func (r Rates) Merge(overrides map[string]ModelRate) Rates {
	merged := Rates{Anthropic: make(map[string]ModelRate, len(r.Anthropic)+len(overrides))}
	for model, rate := range r.Anthropic {
		merged.Anthropic[model] = rate
	}
	for model, rate := range overrides {
		merged.Anthropic[model] = rate
	}
	return merged
}

// Calculator computes provider costs for LLM usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

const perMillion = 1e6

// priced converts a token count to dollars at a per-million-token rate.
func priced(tokens int, perMTok float64) float64 {
	return float64(tokens) / perMillion * perMTok
}

// Claude computes the provider cost for a Claude API call. Cache writes and
// reads are billed as multiples of the input rate. Unknown models cost zero
// rather than guessing a rate.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return priced(input, rate.Input) +
		priced(output, rate.Output) +
		priced(cacheWrite, rate.Input*rate.CacheWriteMul) +
		priced(cacheRead, rate.Input*rate.CacheReadMul)
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
	}
}
