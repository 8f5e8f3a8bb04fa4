package organizer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/promptorg/internal/errors"
	"github.com/hpungsan/promptorg/internal/library"
	"github.com/hpungsan/promptorg/internal/logger"
)

// Orchestrator runs select → generate → package → persist → flag.
// One Run per instance at a time; callers block re-entrant runs.
type Orchestrator struct {
	prompts    PromptStore
	categories CategoryProvider
	generator  *Generator
	reconciler *Reconciler
	pricing    Pricing
	now        func() time.Time
	ids        *idGenerator
	log        *logger.Logger
}

// OrchestratorOptions configures an Orchestrator. Reconciler may be nil,
// in which case no pending batch is written.
type OrchestratorOptions struct {
	Prompts    PromptStore
	Categories CategoryProvider
	Generator  *Generator
	Reconciler *Reconciler
	Pricing    Pricing
	Now        func() time.Time
	Logger     *logger.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{
		prompts:    opts.Prompts,
		categories: opts.Categories,
		generator:  opts.Generator,
		reconciler: opts.Reconciler,
		pricing:    opts.Pricing,
		now:        now,
		ids:        newIDGenerator(),
		log:        log,
	}
}

// Run executes one organizer run. Every returned error is an
// *errors.OrganizerError. A cancelled run returns ErrCancelled and writes
// nothing.
func (o *Orchestrator) Run(ctx context.Context, settings Settings, onProgress ProgressFunc) (*Result, error) {
	runID := uuid.NewString()
	log := o.log.With("run_id", runID)

	if err := settings.Validate(); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	prompts, err := o.prompts.GetAllPrompts(ctx)
	if err != nil {
		return nil, errors.NewPersistence("load prompts", err)
	}
	inputs := SelectCandidates(prompts, settings, o.now())
	if len(inputs) == 0 {
		return nil, errors.NewNoQualifyingPrompts(settings.PeriodDays, settings.MinExecutionCount)
	}

	categories, err := o.categories.GetAll(ctx)
	if err != nil {
		return nil, errors.NewPersistence("load categories", err)
	}

	log.Info("organizer run started", "candidates", len(inputs), "categories", len(categories))
	gen, err := o.generator.Generate(ctx, GenerateInput{
		OrganizationPrompt: settings.OrganizationPrompt,
		Categories:         categories,
		Candidates:         inputs,
	}, onProgress)
	if err != nil {
		if errors.Is(err, errors.ErrCancelled) {
			log.Info("organizer run cancelled")
		} else {
			log.Warn("organizer run failed", "error", err)
		}
		return nil, err
	}

	executedAt := o.now()
	candidates, err := o.packageCandidates(gen.Templates, inputs, categories, settings.PeriodDays, executedAt)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	result := &Result{
		RunID:           runID,
		Templates:       candidates,
		SourceCount:     len(inputs),
		SourcePromptIDs: inputIDs(inputs),
		PeriodDays:      settings.PeriodDays,
		ExecutedAt:      executedAt,
		InputTokens:     gen.Usage.InputTokens,
		ThoughtsTokens:  gen.Usage.ThoughtsTokens,
		OutputTokens:    gen.Usage.OutputTokens,
		SuccessMessage:  successMessage(len(candidates), len(inputs)),
	}
	if o.pricing.Known() {
		cost := o.pricing.Cost(gen.Usage.InputTokens, gen.Usage.OutputTokens)
		result.EstimatedCost = &cost
	}

	// Last point at which a cancel still discards the run.
	if cerr := contextError(ctx); cerr != nil {
		log.Info("organizer run cancelled before persisting")
		return nil, cerr
	}
	persistCtx := context.WithoutCancel(ctx)

	if len(candidates) > 0 && o.reconciler != nil {
		if err := o.reconciler.Replace(persistCtx, candidates, executedAt); err != nil {
			log.Error("failed to store pending templates", "error", err)
			return nil, err
		}
	}

	result.UnflaggedPromptIDs = o.flagSources(persistCtx, log, candidates)

	log.Info("organizer run complete",
		"templates", len(candidates),
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"unflagged", len(result.UnflaggedPromptIDs))
	return result, nil
}

// packageCandidates turns raw model output into reviewable candidates.
func (o *Orchestrator) packageCandidates(generated []GeneratedTemplate, inputs []CandidateInput, categories []library.Category, periodDays int, generatedAt time.Time) ([]TemplateCandidate, error) {
	known := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		known[in.ID] = true
	}
	categoryIDs := make(map[string]bool, len(categories))
	for _, c := range categories {
		categoryIDs[c.ID] = true
	}

	out := make([]TemplateCandidate, 0, len(generated))
	for _, g := range generated {
		id, err := o.ids.next()
		if err != nil {
			return nil, fmt.Errorf("generate candidate id: %w", err)
		}

		sources := filterSources(g.SourcePromptIDs, known)
		variables := g.Variables
		if variables == nil {
			variables = []library.Variable{}
		}

		categoryID := g.CategoryID
		if !categoryIDs[categoryID] {
			categoryID = library.OtherCategoryID
		}

		out = append(out, TemplateCandidate{
			ID:              id,
			Title:           library.Truncate(g.Title, MaxTitleChars),
			Content:         g.Content,
			UseCase:         library.Truncate(g.UseCase, MaxUseCaseChars),
			CategoryID:      categoryID,
			SourcePromptIDs: sources,
			Variables:       variables,
			AIMetadata: AIMetadata{
				GeneratedAt:        generatedAt,
				SourcePromptIDs:    sources,
				SourceCount:        len(sources),
				SourcePeriodDays:   periodDays,
				ExtractedVariables: extractedVariables(variables, g.Content),
				Confirmed:          false,
				ShowInPinned:       showInPinned(len(sources), len(variables)),
			},
			UserAction: ActionPending,
		})
	}
	return out, nil
}

// flagSources marks every prompt referenced by a candidate as excluded from
// future runs. Failures are logged and returned, never rolled back.
func (o *Orchestrator) flagSources(ctx context.Context, log *logger.Logger, candidates []TemplateCandidate) []string {
	exclude := true
	seen := make(map[string]bool)
	var failed []string
	for _, c := range candidates {
		for _, id := range c.SourcePromptIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			if err := o.prompts.UpdatePrompt(ctx, id, library.PromptPatch{ExcludeFromOrganizer: &exclude}); err != nil {
				log.Warn("failed to flag source prompt", "prompt_id", id, "error", err)
				failed = append(failed, id)
			}
		}
	}
	return failed
}

// showInPinned reports whether a candidate is broad and parameterized
// enough to be suggested for pinning.
func showInPinned(sourceCount, variableCount int) bool {
	return sourceCount >= pinMinSources && variableCount >= pinMinVariables
}

// filterSources keeps ids that were part of the run's input, without duplicates.
func filterSources(ids []string, known map[string]bool) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !known[id] || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// extractedVariables lists declared variable names followed by any
// placeholder in content the model forgot to declare.
func extractedVariables(vars []library.Variable, content string) []string {
	names := make([]string, 0, len(vars))
	seen := make(map[string]bool, len(vars))
	for _, v := range vars {
		if v.Name == "" || seen[v.Name] {
			continue
		}
		seen[v.Name] = true
		names = append(names, v.Name)
	}
	for _, p := range library.Placeholders(content) {
		if !seen[p] {
			seen[p] = true
			names = append(names, p)
		}
	}
	return names
}

func inputIDs(inputs []CandidateInput) []string {
	ids := make([]string, len(inputs))
	for i, in := range inputs {
		ids[i] = in.ID
	}
	return ids
}

func successMessage(templates, prompts int) string {
	if templates == 0 {
		return fmt.Sprintf("No reusable templates found in %d prompts", prompts)
	}
	return fmt.Sprintf("Generated %d templates from %d prompts", templates, prompts)
}
