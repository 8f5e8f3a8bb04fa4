// Package organizer turns a prompt library into reusable template
// candidates and carries them through review.
//
// Pipeline: SelectCandidates → Generator (streamed, cancellable) →
// Orchestrator packages TemplateCandidates → Reconciler persists the
// pending batch → Session records review decisions → Reconciler commits.
package organizer

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/hpungsan/promptorg/internal/library"
	"github.com/hpungsan/promptorg/internal/llm"
)

// Candidate field limits, in runes.
const (
	MaxTitleChars   = 20
	MaxUseCaseChars = 40
)

// Pinned display thresholds.
const (
	pinMinSources   = 3
	pinMinVariables = 2
)

// Settings controls candidate selection and the organization instruction.
type Settings struct {
	PeriodDays         int    `json:"filterPeriodDays"`
	MinExecutionCount  int    `json:"filterMinExecutionCount"`
	MaxPrompts         int    `json:"filterMaxPrompts"`
	OrganizationPrompt string `json:"organizationPrompt"`
}

// Validate checks the selection bounds.
func (s Settings) Validate() error {
	if s.PeriodDays <= 0 {
		return fmt.Errorf("filterPeriodDays must be positive, got %d", s.PeriodDays)
	}
	if s.MinExecutionCount < 0 {
		return fmt.Errorf("filterMinExecutionCount must not be negative, got %d", s.MinExecutionCount)
	}
	if s.MaxPrompts <= 0 {
		return fmt.Errorf("filterMaxPrompts must be positive, got %d", s.MaxPrompts)
	}
	return nil
}

// CandidateInput is the projection of a Prompt sent to the model.
type CandidateInput struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Content        string `json:"content"`
	ExecutionCount int    `json:"executionCount"`
}

// TokenUsage is the running token tally of a generation.
type TokenUsage = llm.Usage

// GenerationStatus is derived from token usage; nothing sets it directly.
type GenerationStatus string

const (
	StatusSending    GenerationStatus = "sending"
	StatusThinking   GenerationStatus = "thinking"
	StatusGenerating GenerationStatus = "generating"
	StatusComplete   GenerationStatus = "complete"
)

// Progress is delivered once per streamed chunk.
type Progress struct {
	Chunk             string           `json:"chunk"`
	Accumulated       string           `json:"accumulated"`
	EstimatedProgress int              `json:"estimatedProgress"`
	Status            GenerationStatus `json:"status"`
	ThoughtsTokens    int              `json:"thoughtsTokens"`
	OutputTokens      int              `json:"outputTokens"`
}

// ProgressFunc receives progress synchronously; it must not block.
type ProgressFunc func(Progress)

// GeneratedTemplate is one raw item of the model's response.
type GeneratedTemplate struct {
	Title           string             `json:"title"`
	Content         string             `json:"content"`
	UseCase         string             `json:"useCase"`
	CategoryID      string             `json:"categoryId"`
	SourcePromptIDs []string           `json:"sourcePromptIds"`
	Variables       []library.Variable `json:"variables"`
}

// UserAction is the review decision on a candidate. The zero value is not
// valid; candidates start as ActionPending.
type UserAction string

const (
	ActionPending    UserAction = "pending"
	ActionSave       UserAction = "save"
	ActionDiscard    UserAction = "discard"
	ActionSaveAndPin UserAction = "save_and_pin"
)

// ParseUserAction validates a decision string.
func ParseUserAction(s string) (UserAction, error) {
	switch a := UserAction(s); a {
	case ActionPending, ActionSave, ActionDiscard, ActionSaveAndPin:
		return a, nil
	default:
		return "", fmt.Errorf("unknown user action %q (valid: pending, save, discard, save_and_pin)", s)
	}
}

// AIMetadata records how a candidate was produced.
type AIMetadata struct {
	GeneratedAt        time.Time `json:"generatedAt"`
	SourcePromptIDs    []string  `json:"sourcePromptIds"`
	SourceCount        int       `json:"sourceCount"`
	SourcePeriodDays   int       `json:"sourcePeriodDays"`
	ExtractedVariables []string  `json:"extractedVariables"`
	Confirmed          bool      `json:"confirmed"`
	ShowInPinned       bool      `json:"showInPinned"`
}

// TemplateCandidate is a generated template awaiting review.
type TemplateCandidate struct {
	ID              string             `json:"id"`
	Title           string             `json:"title"`
	Content         string             `json:"content"`
	UseCase         string             `json:"useCase"`
	CategoryID      string             `json:"categoryId"`
	SourcePromptIDs []string           `json:"sourcePromptIds"`
	Variables       []library.Variable `json:"variables"`
	AIMetadata      AIMetadata         `json:"aiMetadata"`
	UserAction      UserAction         `json:"userAction"`
}

// Result is the outcome of one organizer run.
type Result struct {
	RunID           string              `json:"runId"`
	Templates       []TemplateCandidate `json:"templates"`
	SourceCount     int                 `json:"sourceCount"`
	SourcePromptIDs []string            `json:"sourcePromptIds"`
	PeriodDays      int                 `json:"periodDays"`
	ExecutedAt      time.Time           `json:"executedAt"`
	InputTokens     int                 `json:"inputTokens"`
	ThoughtsTokens  int                 `json:"thoughtsTokens"`
	OutputTokens    int                 `json:"outputTokens"`
	EstimatedCost   *float64            `json:"estimatedCost,omitempty"`
	SuccessMessage  string              `json:"successMessage,omitempty"`

	// UnflaggedPromptIDs lists source prompts whose exclude flag could not
	// be written. The run still succeeds.
	UnflaggedPromptIDs []string `json:"unflaggedPromptIds,omitempty"`
}

// PendingBatch is the persisted set of candidates not yet fully reviewed.
// A nil *PendingBatch means there is nothing pending.
type PendingBatch struct {
	Templates   []TemplateCandidate `json:"templates"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

// PromptStore reads the prompt library and applies partial updates.
type PromptStore interface {
	GetAllPrompts(ctx context.Context) ([]library.Prompt, error)
	UpdatePrompt(ctx context.Context, id string, patch library.PromptPatch) error
}

// CategoryProvider lists template categories.
type CategoryProvider interface {
	GetAll(ctx context.Context) ([]library.Category, error)
}

// LLMClient is the subset of the Gemini client the organizer drives.
type LLMClient interface {
	Initialize(apiKey string) error
	IsInitialized() bool
	CountTokens(ctx context.Context, text string) (int, error)
	GenerateStream(ctx context.Context, req llm.StreamRequest) iter.Seq2[llm.Chunk, error]
}

// PendingStore persists the pending batch.
type PendingStore interface {
	LoadPending(ctx context.Context) (*PendingBatch, error)
	SavePending(ctx context.Context, batch *PendingBatch) error
	ClearPending(ctx context.Context) error
}

// TemplatePersister commits accepted candidates permanently. Candidates
// arrive with UserAction save or save_and_pin only.
type TemplatePersister interface {
	SaveTemplates(ctx context.Context, candidates []TemplateCandidate) error
}
