package organizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hpungsan/promptorg/internal/errors"
	"github.com/hpungsan/promptorg/internal/library"
	"github.com/hpungsan/promptorg/internal/llm"
	"github.com/hpungsan/promptorg/internal/logger"
)

// GenerateInput is everything the model sees for one run.
type GenerateInput struct {
	OrganizationPrompt string
	Categories         []library.Category
	Candidates         []CandidateInput
}

// GenerateOutput is the parsed model response and final usage.
type GenerateOutput struct {
	Templates []GeneratedTemplate
	Usage     TokenUsage
}

// Generator drives one streaming structured-generation call.
type Generator struct {
	client      LLMClient
	apiKey      string
	temperature *float32
	log         *logger.Logger
}

// NewGenerator creates a Generator. log may be nil.
func NewGenerator(client LLMClient, apiKey string, log *logger.Logger) *Generator {
	if log == nil {
		log = logger.Nop()
	}
	temperature := float32(0.7)
	return &Generator{client: client, apiKey: apiKey, temperature: &temperature, log: log}
}

// Generate streams the model response, reporting progress per chunk, and
// parses the result. Cancellation of ctx is checked once per chunk; once
// seen, the accumulated text is dropped and no further callbacks fire.
// Errors are *errors.OrganizerError.
func (g *Generator) Generate(ctx context.Context, in GenerateInput, onProgress ProgressFunc) (*GenerateOutput, error) {
	if onProgress == nil {
		onProgress = func(Progress) {}
	}
	if err := ensureInitialized(g.client, g.apiKey); err != nil {
		return nil, normalizeError(err)
	}

	req := llm.StreamRequest{
		Prompt:            BuildPrompt(in.OrganizationPrompt, in.Categories, in.Candidates),
		SystemInstruction: systemInstruction,
		Schema:            TemplateSchema(),
		Temperature:       g.temperature,
	}

	var (
		acc   strings.Builder
		usage TokenUsage
	)
	for chunk, err := range g.client.GenerateStream(ctx, req) {
		if cerr := contextError(ctx); cerr != nil {
			return nil, cerr
		}
		if err != nil {
			return nil, normalizeError(err)
		}

		acc.WriteString(chunk.Text)
		usage = usage.Merge(chunk.Usage)
		status := deriveStatus(usage)
		onProgress(Progress{
			Chunk:             chunk.Text,
			Accumulated:       acc.String(),
			EstimatedProgress: estimateProgress(status, usage),
			Status:            status,
			ThoughtsTokens:    usage.ThoughtsTokens,
			OutputTokens:      usage.OutputTokens,
		})
	}
	if cerr := contextError(ctx); cerr != nil {
		return nil, cerr
	}

	raw := acc.String()
	templates, err := parseTemplates(raw)
	if err != nil {
		g.log.Warn("unparseable generation response", "chars", len(raw), "error", err)
		return nil, err
	}

	onProgress(Progress{
		Accumulated:       raw,
		EstimatedProgress: 100,
		Status:            StatusComplete,
		ThoughtsTokens:    usage.ThoughtsTokens,
		OutputTokens:      usage.OutputTokens,
	})
	return &GenerateOutput{Templates: templates, Usage: usage}, nil
}

// contextError reports a done context as a cancellation or timeout.
func contextError(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	return normalizeError(err)
}

// deriveStatus maps usage onto a status: no thoughts yet means the request
// is still in flight; thoughts without output means thinking.
func deriveStatus(u TokenUsage) GenerationStatus {
	switch {
	case u.ThoughtsTokens == 0:
		return StatusSending
	case u.OutputTokens <= 0:
		return StatusThinking
	default:
		return StatusGenerating
	}
}

// estimateProgress is a rough percentage for display. Generation is
// measured against the same output heuristic the estimator uses and
// capped below 100 until the response parses.
func estimateProgress(status GenerationStatus, u TokenUsage) int {
	switch status {
	case StatusSending:
		return 5
	case StatusThinking:
		return 15
	case StatusGenerating:
		expected := EstimateOutputTokens(u.InputTokens)
		if expected <= 0 {
			expected = 1
		}
		return min(20+75*u.OutputTokens/expected, 95)
	case StatusComplete:
		return 100
	}
	return 0
}

// parseTemplates decodes the accumulated response and checks its shape.
func parseTemplates(raw string) ([]GeneratedTemplate, error) {
	text := stripCodeFence(strings.TrimSpace(raw))
	if text == "" {
		return nil, errors.NewGeneration("model returned an empty response", nil)
	}

	var payload struct {
		Prompts *[]GeneratedTemplate `json:"prompts"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, errors.NewGeneration(fmt.Sprintf("model response is not valid JSON: %v", err), err)
	}
	if payload.Prompts == nil {
		return nil, errors.NewGeneration(`model response has no "prompts" array`, nil)
	}

	templates := *payload.Prompts
	for i, t := range templates {
		if strings.TrimSpace(t.Title) == "" {
			return nil, errors.NewGeneration(fmt.Sprintf("prompts[%d]: title is empty", i), nil)
		}
		if strings.TrimSpace(t.Content) == "" {
			return nil, errors.NewGeneration(fmt.Sprintf("prompts[%d]: content is empty", i), nil)
		}
	}
	return templates, nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
