package ops

import (
	"context"

	"github.com/hpungsan/promptorg/internal/errors"
	"github.com/hpungsan/promptorg/internal/organizer"
	"github.com/hpungsan/promptorg/internal/settings"
)

// SettingsOutput contains the current organizer settings.
type SettingsOutput struct {
	Settings organizer.Settings `json:"settings"`
	Path     string             `json:"path"`
}

// GetSettings returns the stored organizer settings.
func GetSettings(d *Deps) (*SettingsOutput, error) {
	s, err := d.Settings.Load()
	if err != nil {
		return nil, err
	}
	return &SettingsOutput{Settings: s, Path: d.Settings.Path()}, nil
}

// UpdateSettings applies a partial update to the stored settings.
func UpdateSettings(d *Deps, patch settings.Patch) (*SettingsOutput, error) {
	s, err := d.Settings.Update(patch)
	if err != nil {
		return nil, err
	}
	d.Log.Info("organizer settings updated",
		"period_days", s.PeriodDays, "min_execution_count", s.MinExecutionCount, "max_prompts", s.MaxPrompts)
	return &SettingsOutput{Settings: s, Path: d.Settings.Path()}, nil
}

// EstimateInput contains parameters for the Estimate operation.
type EstimateInput struct {
	// Overrides apply on top of the stored settings for this call only.
	Overrides settings.Patch
}

// EstimateOutput contains the result of the Estimate operation.
type EstimateOutput struct {
	Estimate *organizer.Estimate `json:"estimate"`
	Settings organizer.Settings  `json:"settings"`
	Model    string              `json:"model"`
}

// Estimate projects tokens and cost of an organizer run without generating.
func Estimate(ctx context.Context, d *Deps, input EstimateInput) (*EstimateOutput, error) {
	s, err := d.effectiveSettings(input.Overrides)
	if err != nil {
		return nil, err
	}
	return EstimateWith(ctx, d, s)
}

// EstimateWith estimates under exactly the given settings.
func EstimateWith(ctx context.Context, d *Deps, s organizer.Settings) (*EstimateOutput, error) {
	est := organizer.NewEstimator(organizer.EstimatorOptions{
		Prompts:      d.Prompts,
		Categories:   d.Categories,
		Client:       d.LLM,
		APIKey:       d.Config.GeminiAPIKey,
		Pricing:      d.Pricing(),
		ContextLimit: d.Config.ContextLimit,
		Now:          d.now,
	})
	e, err := est.Estimate(ctx, s)
	if err != nil {
		return nil, err
	}
	return &EstimateOutput{Estimate: e, Settings: s, Model: d.Config.Model}, nil
}

// RunInput contains parameters for the Run operation.
type RunInput struct {
	Overrides  settings.Patch
	OnProgress organizer.ProgressFunc // optional
}

// RunOutput contains the result of the Run operation.
type RunOutput struct {
	Result *organizer.Result `json:"result"`
}

// Run executes one organizer run and stores the candidates as the pending
// batch. Only one run may be in flight per Deps.
func Run(ctx context.Context, d *Deps, input RunInput) (*RunOutput, error) {
	if !d.runMu.TryLock() {
		return nil, errors.NewInvalidRequest("an organizer run is already in progress")
	}
	defer d.runMu.Unlock()

	s, err := d.effectiveSettings(input.Overrides)
	if err != nil {
		return nil, err
	}

	orch := organizer.NewOrchestrator(organizer.OrchestratorOptions{
		Prompts:    d.Prompts,
		Categories: d.Categories,
		Generator:  organizer.NewGenerator(d.LLM, d.Config.GeminiAPIKey, d.Log),
		Reconciler: d.Reconciler(),
		Pricing:    d.Pricing(),
		Now:        d.now,
		Logger:     d.Log,
	})
	result, err := orch.Run(ctx, s, input.OnProgress)
	if err != nil {
		return nil, err
	}
	return &RunOutput{Result: result}, nil
}
