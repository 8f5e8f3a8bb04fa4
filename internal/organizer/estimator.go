package organizer

import (
	"context"
	"time"

	"github.com/hpungsan/promptorg/internal/errors"
)

// Estimate is a pre-flight token and cost projection. No content is generated.
type Estimate struct {
	PromptCount           int     `json:"promptCount"`
	InputTokens           int     `json:"inputTokens"`
	EstimatedOutputTokens int     `json:"estimatedOutputTokens"`
	ContextLimit          int     `json:"contextLimit"`
	ContextUsageRate      float64 `json:"contextUsageRate"`
	EstimatedCost         float64 `json:"estimatedCost"`
	Currency              string  `json:"currency"`
}

// Estimator projects the token count and cost of a run.
type Estimator struct {
	prompts      PromptStore
	categories   CategoryProvider
	client       LLMClient
	apiKey       string
	pricing      Pricing
	contextLimit int
	now          func() time.Time
}

// EstimatorOptions configures an Estimator.
type EstimatorOptions struct {
	Prompts      PromptStore
	Categories   CategoryProvider
	Client       LLMClient
	APIKey       string
	Pricing      Pricing
	ContextLimit int
	Now          func() time.Time
}

// NewEstimator creates an Estimator.
func NewEstimator(opts EstimatorOptions) *Estimator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Estimator{
		prompts:      opts.Prompts,
		categories:   opts.Categories,
		client:       opts.Client,
		apiKey:       opts.APIKey,
		pricing:      opts.Pricing,
		contextLimit: opts.ContextLimit,
		now:          now,
	}
}

// Estimate selects candidates under settings, builds the exact
// meta-prompt, and counts its tokens. With no candidates it returns a zero
// estimate without contacting the API.
func (e *Estimator) Estimate(ctx context.Context, settings Settings) (*Estimate, error) {
	if err := settings.Validate(); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	prompts, err := e.prompts.GetAllPrompts(ctx)
	if err != nil {
		return nil, errors.NewPersistence("load prompts", err)
	}
	candidates := SelectCandidates(prompts, settings, e.now())

	out := &Estimate{
		PromptCount:  len(candidates),
		ContextLimit: e.contextLimit,
		Currency:     e.pricing.Currency,
	}
	if len(candidates) == 0 {
		return out, nil
	}

	categories, err := e.categories.GetAll(ctx)
	if err != nil {
		return nil, errors.NewPersistence("load categories", err)
	}

	if err := ensureInitialized(e.client, e.apiKey); err != nil {
		return nil, normalizeError(err)
	}

	text := BuildPrompt(settings.OrganizationPrompt, categories, candidates)
	inputTokens, err := e.client.CountTokens(ctx, text)
	if err != nil {
		return nil, normalizeError(err)
	}

	out.InputTokens = inputTokens
	out.EstimatedOutputTokens = EstimateOutputTokens(inputTokens)
	if e.contextLimit > 0 {
		out.ContextUsageRate = float64(inputTokens) / float64(e.contextLimit)
	}
	out.EstimatedCost = e.pricing.Cost(out.InputTokens, out.EstimatedOutputTokens)
	return out, nil
}

// ensureInitialized lazily initializes the client. Safe to call repeatedly.
func ensureInitialized(client LLMClient, apiKey string) error {
	if client.IsInitialized() {
		return nil
	}
	return client.Initialize(apiKey)
}
