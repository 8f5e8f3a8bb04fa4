package ops

import (
	"cmp"
	"context"
	"crypto/rand"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/promptorg/internal/errors"
	"github.com/hpungsan/promptorg/internal/library"
)

// maxDerivedNameChars bounds a prompt name derived from its content.
const maxDerivedNameChars = 40

// AddPromptInput contains parameters for the AddPrompt operation.
type AddPromptInput struct {
	Name           string     // optional, defaults to the first line of Content
	Content        string     // required
	ExecutionCount int        // optional, for importing history
	LastExecutedAt *time.Time // optional; set together with ExecutionCount
}

// AddPromptOutput contains the result of the AddPrompt operation.
type AddPromptOutput struct {
	Prompt library.Prompt `json:"prompt"`
}

// AddPrompt stores a new prompt in the library.
func AddPrompt(ctx context.Context, d *Deps, input AddPromptInput) (*AddPromptOutput, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, errors.NewInvalidRequest("content is required")
	}
	if input.ExecutionCount < 0 {
		return nil, errors.NewInvalidRequest("execution_count must not be negative")
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = deriveName(content)
	}

	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(d.now()), entropy)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate ID: %w", err))
	}

	p := library.Prompt{
		ID:             id.String(),
		Name:           name,
		Content:        content,
		ExecutionCount: input.ExecutionCount,
		CreatedAt:      d.now(),
	}
	if input.LastExecutedAt != nil {
		p.LastExecutedAt = input.LastExecutedAt.UTC()
	} else if input.ExecutionCount > 0 {
		p.LastExecutedAt = p.CreatedAt
	}

	if err := d.Prompts.Insert(ctx, &p); err != nil {
		return nil, errors.NewPersistence("add prompt", err)
	}
	return &AddPromptOutput{Prompt: p}, nil
}

func deriveName(content string) string {
	line, _, _ := strings.Cut(content, "\n")
	return library.Truncate(strings.TrimSpace(line), maxDerivedNameChars)
}

// ListPromptsInput contains parameters for the ListPrompts operation.
type ListPromptsInput struct {
	EligibleOnly bool // only prompts not yet flagged by an organizer run
	Limit        int  // default: 20, max: 100
	Offset       int
}

// ListPromptsOutput contains the result of the ListPrompts operation.
type ListPromptsOutput struct {
	Items      []library.Prompt `json:"items"`
	Pagination Pagination       `json:"pagination"`
}

// ListPrompts lists the library, most executed first.
func ListPrompts(ctx context.Context, d *Deps, input ListPromptsInput) (*ListPromptsOutput, error) {
	limit, offset := clampPage(input.Limit, input.Offset)

	all, err := d.Prompts.GetAllPrompts(ctx)
	if err != nil {
		return nil, errors.NewPersistence("list prompts", err)
	}

	items := make([]library.Prompt, 0, len(all))
	for _, p := range all {
		if input.EligibleOnly && p.ExcludeFromOrganizer {
			continue
		}
		items = append(items, p)
	}
	sortByUsage(items)

	pageItems, pagination := page(items, limit, offset)
	return &ListPromptsOutput{Items: pageItems, Pagination: pagination}, nil
}

// RecordExecutionInput contains parameters for the RecordExecution operation.
type RecordExecutionInput struct {
	ID string // required
}

// RecordExecutionOutput contains the result of the RecordExecution operation.
type RecordExecutionOutput struct {
	Prompt library.Prompt `json:"prompt"`
}

// RecordExecution counts one more use of a prompt.
func RecordExecution(ctx context.Context, d *Deps, input RecordExecutionInput) (*RecordExecutionOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	p, err := d.Prompts.RecordExecution(ctx, id, d.now())
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		return nil, errors.NewPersistence("record execution", err)
	}
	return &RecordExecutionOutput{Prompt: *p}, nil
}

// ListCategoriesOutput contains the result of the ListCategories operation.
type ListCategoriesOutput struct {
	Items []library.Category `json:"items"`
}

// ListCategories lists template categories.
func ListCategories(ctx context.Context, d *Deps) (*ListCategoriesOutput, error) {
	items, err := d.Categories.GetAll(ctx)
	if err != nil {
		return nil, errors.NewPersistence("list categories", err)
	}
	return &ListCategoriesOutput{Items: items}, nil
}

// ListTemplatesInput contains parameters for the ListTemplates operation.
type ListTemplatesInput struct {
	PinnedOnly bool
	Limit      int // default: 20, max: 100
	Offset     int
}

// ListTemplatesOutput contains the result of the ListTemplates operation.
type ListTemplatesOutput struct {
	Items      []library.Template `json:"items"`
	Pagination Pagination         `json:"pagination"`
}

// ListTemplates lists saved templates, pinned first.
func ListTemplates(ctx context.Context, d *Deps, input ListTemplatesInput) (*ListTemplatesOutput, error) {
	limit, offset := clampPage(input.Limit, input.Offset)

	all, err := d.Templates.ListTemplates(ctx, input.PinnedOnly)
	if err != nil {
		return nil, errors.NewPersistence("list templates", err)
	}
	items, pagination := page(all, limit, offset)
	return &ListTemplatesOutput{Items: items, Pagination: pagination}, nil
}

// sortByUsage orders prompts the way the organizer ranks them.
func sortByUsage(prompts []library.Prompt) {
	slices.SortStableFunc(prompts, func(a, b library.Prompt) int {
		if c := cmp.Compare(b.ExecutionCount, a.ExecutionCount); c != 0 {
			return c
		}
		return b.LastExecutedAt.Compare(a.LastExecutedAt)
	})
}
