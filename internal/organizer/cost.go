package organizer

// Pricing converts token counts into money.
type Pricing struct {
	// InputPerMillion and OutputPerMillion are USD per 1M tokens.
	InputPerMillion  float64 `json:"inputPerMillion"`
	OutputPerMillion float64 `json:"outputPerMillion"`

	// FXRate converts USD into Currency.
	FXRate   float64 `json:"fxRate"`
	Currency string  `json:"currency"`
}

// Known reports whether any price is configured.
func (p Pricing) Known() bool {
	return p.InputPerMillion > 0 || p.OutputPerMillion > 0
}

// Cost returns (in/1e6·InputPerMillion + out/1e6·OutputPerMillion)·FXRate.
// A zero FXRate is treated as 1 (USD).
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	fx := p.FXRate
	if fx == 0 {
		fx = 1
	}
	usd := float64(inputTokens)/1e6*p.InputPerMillion + float64(outputTokens)/1e6*p.OutputPerMillion
	return usd * fx
}

// estimatedOutputRatio is the heuristic share of input tokens expected
// back as output.
const estimatedOutputRatio = 0.5

// EstimateOutputTokens applies the output heuristic to an input count.
func EstimateOutputTokens(inputTokens int) int {
	return int(float64(inputTokens) * estimatedOutputRatio)
}
