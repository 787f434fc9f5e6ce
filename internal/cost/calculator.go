package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Gemini    map[string]ModelRate `yaml:"gemini" mapstructure:"gemini"`
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`

	// GroundedQuerySurcharge is the flat per-call cost of the Google Search
	// grounding tool, billed on top of token usage.
	GroundedQuerySurcharge float64 `yaml:"grounded_query_surcharge" mapstructure:"grounded_query_surcharge"`
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Gemini computes the cost for a Gemini call. Grounded calls add the flat
// search surcharge.
func (c *Calculator) Gemini(model string, input, output int, grounded bool) float64 {
	rate, ok := c.rates.Gemini[model]
	if !ok {
		return 0
	}
	total := (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
	if grounded {
		total += c.rates.GroundedQuerySurcharge
	}
	return total
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, input, output int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Gemini: map[string]ModelRate{
			"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
			"gemini-2.5-pro":   {Input: 1.25, Output: 10.00},
		},
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
		GroundedQuerySurcharge: 0.035,
	}
}
