package ops

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hpungsan/promptorg/internal/errors"
	"github.com/hpungsan/promptorg/internal/library"
	"github.com/hpungsan/promptorg/internal/organizer"
)

// PendingCounts tallies a batch by decision.
type PendingCounts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Decided int `json:"decided"`
}

// GetPendingOutput contains the stored pending batch.
type GetPendingOutput struct {
	HasPending  bool                          `json:"has_pending"`
	GeneratedAt *time.Time                    `json:"generated_at,omitempty"`
	Templates   []organizer.TemplateCandidate `json:"templates"`
	Counts      PendingCounts                 `json:"counts"`
}

// GetPending returns the pending batch left by the last run, if any.
func GetPending(ctx context.Context, d *Deps) (*GetPendingOutput, error) {
	batch, err := d.Reconciler().Load(ctx)
	if err != nil {
		return nil, err
	}
	out := &GetPendingOutput{Templates: []organizer.TemplateCandidate{}}
	if batch == nil {
		return out, nil
	}

	generatedAt := batch.GeneratedAt
	out.HasPending = true
	out.GeneratedAt = &generatedAt
	out.Templates = batch.Templates
	out.Counts.Total = len(batch.Templates)
	for _, c := range batch.Templates {
		if c.UserAction == organizer.ActionPending {
			out.Counts.Pending++
		} else {
			out.Counts.Decided++
		}
	}
	return out, nil
}

// PreviewPendingInput contains parameters for the PreviewPending operation.
type PreviewPendingInput struct {
	CandidateID string // optional, defaults to every candidate
}

// PreviewItem is one candidate rendered for display.
type PreviewItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
}

// PreviewPendingOutput contains rendered candidates.
type PreviewPendingOutput struct {
	Items []PreviewItem `json:"items"`
}

// PreviewPending renders pending candidates as markdown and HTML.
func PreviewPending(ctx context.Context, d *Deps, input PreviewPendingInput) (*PreviewPendingOutput, error) {
	batch, err := d.Reconciler().Load(ctx)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, errors.NewNotFound("pending batch", "")
	}

	want := strings.TrimSpace(input.CandidateID)
	out := &PreviewPendingOutput{Items: []PreviewItem{}}
	for _, c := range batch.Templates {
		if want != "" && c.ID != want {
			continue
		}
		md := CandidateMarkdown(c)
		out.Items = append(out.Items, PreviewItem{
			ID:       c.ID,
			Title:    c.Title,
			Markdown: md,
			HTML:     renderMarkdown(md),
		})
	}
	if want != "" && len(out.Items) == 0 {
		return nil, errors.NewNotFound("candidate", want)
	}
	return out, nil
}

// CandidateMarkdown describes one candidate as a markdown document.
func CandidateMarkdown(c organizer.TemplateCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", c.Title)
	if c.UseCase != "" {
		fmt.Fprintf(&b, "*%s*\n\n", c.UseCase)
	}
	fmt.Fprintf(&b, "- Category: `%s`\n", c.CategoryID)
	fmt.Fprintf(&b, "- Decision: `%s`\n", c.UserAction)
	fmt.Fprintf(&b, "- Sources: %d prompt(s)\n", len(c.SourcePromptIDs))
	if c.AIMetadata.ShowInPinned {
		b.WriteString("- Suggested for pinning\n")
	}
	b.WriteString("\n```\n")
	b.WriteString(strings.TrimRight(c.Content, "\n"))
	b.WriteString("\n```\n")
	if len(c.Variables) > 0 {
		b.WriteString("\n| Variable | Description |\n|---|---|\n")
		for _, v := range c.Variables {
			fmt.Fprintf(&b, "| `%s` | %s |\n", v.Name, escapeTableCell(v.Description))
		}
	}
	return b.String()
}

func escapeTableCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// markdown renders previews; variable tables need the GFM table extension.
var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "<pre>" + html.EscapeString(md) + "</pre>"
	}
	return buf.String()
}

// CandidateEditInput is a partial edit of one candidate. Nil fields are
// left as is.
type CandidateEditInput struct {
	Title      *string             `json:"title,omitempty"`
	UseCase    *string             `json:"use_case,omitempty"`
	CategoryID *string             `json:"category_id,omitempty"`
	Content    *string             `json:"content,omitempty"`
	Variables  *[]library.Variable `json:"variables,omitempty"`
}

// ReviewInput contains parameters for the Review operation.
type ReviewInput struct {
	// Decisions maps candidate id to save, discard or save_and_pin.
	Decisions map[string]string
	// Edits maps candidate id to field changes, applied before decisions.
	Edits map[string]CandidateEditInput
}

// ReviewOutput contains the result of the Review operation.
type ReviewOutput struct {
	organizer.CommitResult
	Undecided []organizer.TemplateCandidate `json:"undecided"`
}

// Review applies edits and decisions to the pending batch and commits it.
// Candidates without a decision stay pending for a later review.
func Review(ctx context.Context, d *Deps, input ReviewInput) (*ReviewOutput, error) {
	r := d.Reconciler()
	batch, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, errors.NewNotFound("pending batch", "")
	}

	categories, err := d.Categories.GetAll(ctx)
	if err != nil {
		return nil, errors.NewPersistence("load categories", err)
	}

	session := organizer.NewSessionFromBatch(batch)
	session.RestrictCategories(categories)
	if err := applyEdits(session, input.Edits); err != nil {
		return nil, err
	}
	if err := applyDecisions(session, input.Decisions); err != nil {
		return nil, err
	}

	result, err := session.Commit(ctx, r)
	if err != nil {
		return nil, err
	}
	return &ReviewOutput{CommitResult: *result, Undecided: result.Residual}, nil
}

func applyEdits(s *organizer.Session, edits map[string]CandidateEditInput) error {
	for id, e := range edits {
		i, err := s.IndexOf(id)
		if err != nil {
			return err
		}
		if err := s.Edit(i, organizer.CandidateEdit{
			Title:      e.Title,
			UseCase:    e.UseCase,
			CategoryID: e.CategoryID,
			Content:    e.Content,
			Variables:  e.Variables,
		}); err != nil {
			return err
		}
	}
	return nil
}

func applyDecisions(s *organizer.Session, decisions map[string]string) error {
	for id, raw := range decisions {
		action, err := organizer.ParseUserAction(raw)
		if err != nil {
			return errors.NewInvalidRequest(fmt.Sprintf("candidate %s: %v", id, err))
		}
		i, err := s.IndexOf(id)
		if err != nil {
			return err
		}
		if err := s.Select(i); err != nil {
			return err
		}
		if err := s.Decide(action); err != nil {
			return err
		}
	}
	return nil
}
