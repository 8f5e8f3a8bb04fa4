package organizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/promptorg/internal/errors"
	"github.com/hpungsan/promptorg/internal/library"
)

// NoPending is returned by NextPendingIndex when every candidate is decided.
const NoPending = -1

// SessionState drives which review screen to show.
type SessionState string

const (
	// SessionEmpty means there were never any candidates.
	SessionEmpty SessionState = "empty"
	// SessionReviewing means at least one candidate is pending.
	SessionReviewing SessionState = "reviewing"
	// SessionComplete means every candidate has a decision.
	SessionComplete SessionState = "complete"
)

// CandidateEdit changes reviewable fields. Nil fields are left alone.
type CandidateEdit struct {
	Title      *string
	UseCase    *string
	CategoryID *string
	Content    *string
	Variables  *[]library.Variable
}

// Session is the review state machine over one batch of candidates.
// It is not safe for concurrent use.
type Session struct {
	candidates  []TemplateCandidate
	generatedAt time.Time
	selected    int
	categories  map[string]bool
}

// NewSession starts a review over candidates. The first pending candidate
// is selected; with none pending the selection is NoPending.
func NewSession(candidates []TemplateCandidate, generatedAt time.Time) *Session {
	s := &Session{
		candidates:  append([]TemplateCandidate(nil), candidates...),
		generatedAt: generatedAt,
	}
	s.selected = s.NextPendingIndex(-1)
	return s
}

// RestrictCategories makes Edit reject category ids outside cats.
// Without it any non-empty id is accepted.
func (s *Session) RestrictCategories(cats []library.Category) {
	s.categories = make(map[string]bool, len(cats))
	for _, c := range cats {
		s.categories[c.ID] = true
	}
}

// NewSessionFromBatch starts a review over a stored batch. A nil batch
// gives an empty session.
func NewSessionFromBatch(batch *PendingBatch) *Session {
	if batch == nil {
		return NewSession(nil, time.Time{})
	}
	return NewSession(batch.Templates, batch.GeneratedAt)
}

// Len returns the number of candidates.
func (s *Session) Len() int {
	return len(s.candidates)
}

// GeneratedAt returns when the batch was generated.
func (s *Session) GeneratedAt() time.Time {
	return s.generatedAt
}

// Candidates returns a copy of all candidates.
func (s *Session) Candidates() []TemplateCandidate {
	return append([]TemplateCandidate(nil), s.candidates...)
}

// Candidate returns the candidate at index i.
func (s *Session) Candidate(i int) (TemplateCandidate, error) {
	if err := s.checkIndex(i); err != nil {
		return TemplateCandidate{}, err
	}
	return s.candidates[i], nil
}

// Selected returns the selected index, or NoPending when the traversal
// has run out of pending candidates.
func (s *Session) Selected() int {
	return s.selected
}

// Select changes the selection only.
func (s *Session) Select(i int) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}
	s.selected = i
	return nil
}

// IndexOf returns the index of the candidate with the given id.
func (s *Session) IndexOf(id string) (int, error) {
	for i, c := range s.candidates {
		if c.ID == id {
			return i, nil
		}
	}
	return 0, errors.NewNotFound("candidate", id)
}

// Decide records action on the selected candidate and moves the selection
// to the next pending candidate. A decided candidate may take another
// decision but never returns to pending.
func (s *Session) Decide(action UserAction) error {
	switch action {
	case ActionSave, ActionDiscard, ActionSaveAndPin:
	case ActionPending:
		return errors.NewInvalidRequest("a decision cannot be reverted to pending")
	default:
		return errors.NewInvalidRequest(fmt.Sprintf("unknown user action %q", action))
	}
	if s.selected == NoPending {
		return errors.NewInvalidRequest("no candidate selected")
	}

	s.candidates[s.selected].UserAction = action
	s.selected = s.NextPendingIndex(s.selected)
	return nil
}

// NextPendingIndex returns the smallest pending index after i, else the
// smallest pending index other than i, else NoPending.
func (s *Session) NextPendingIndex(i int) int {
	for j := i + 1; j < len(s.candidates); j++ {
		if s.candidates[j].UserAction == ActionPending {
			return j
		}
	}
	for j := 0; j < len(s.candidates) && j <= i; j++ {
		if j != i && s.candidates[j].UserAction == ActionPending {
			return j
		}
	}
	return NoPending
}

// State reports the review state.
func (s *Session) State() SessionState {
	if len(s.candidates) == 0 {
		return SessionEmpty
	}
	for _, c := range s.candidates {
		if c.UserAction == ActionPending {
			return SessionReviewing
		}
	}
	return SessionComplete
}

// Edit applies edit to candidate i regardless of its review state.
// An invalid field rejects the whole edit and leaves the candidate as is.
func (s *Session) Edit(i int, edit CandidateEdit) error {
	if err := s.checkIndex(i); err != nil {
		return err
	}
	c := &s.candidates[i]
	if err := s.validateEdit(c.ID, edit); err != nil {
		return err
	}
	if edit.Title != nil {
		c.Title = *edit.Title
	}
	if edit.UseCase != nil {
		c.UseCase = *edit.UseCase
	}
	if edit.CategoryID != nil {
		c.CategoryID = *edit.CategoryID
	}
	if edit.Content != nil {
		c.Content = *edit.Content
	}
	if edit.Variables != nil {
		c.Variables = append([]library.Variable{}, (*edit.Variables)...)
	}
	return nil
}

// Commit hands every candidate, including pending ones, to r. On success
// the session keeps only the residual pending candidates. On failure the
// session is unchanged so the commit can be retried.
func (s *Session) Commit(ctx context.Context, r *Reconciler) (*CommitResult, error) {
	result, err := r.Commit(ctx, s.Candidates(), s.generatedAt)
	if err != nil {
		return nil, err
	}
	s.candidates = append([]TemplateCandidate(nil), result.Residual...)
	s.selected = s.NextPendingIndex(-1)
	return result, nil
}

func (s *Session) validateEdit(id string, edit CandidateEdit) error {
	switch {
	case edit.Title != nil && strings.TrimSpace(*edit.Title) == "":
		return errors.NewInvalidRequest(fmt.Sprintf("candidate %s: title must not be empty", id))
	case edit.Title != nil && library.CountChars(*edit.Title) > MaxTitleChars:
		return errors.NewInvalidRequest(fmt.Sprintf("candidate %s: title exceeds %d characters", id, MaxTitleChars))
	case edit.UseCase != nil && library.CountChars(*edit.UseCase) > MaxUseCaseChars:
		return errors.NewInvalidRequest(fmt.Sprintf("candidate %s: use case exceeds %d characters", id, MaxUseCaseChars))
	case edit.Content != nil && strings.TrimSpace(*edit.Content) == "":
		return errors.NewInvalidRequest(fmt.Sprintf("candidate %s: content must not be empty", id))
	}
	if edit.CategoryID != nil {
		cat := *edit.CategoryID
		if strings.TrimSpace(cat) == "" {
			return errors.NewInvalidRequest(fmt.Sprintf("candidate %s: category must not be empty", id))
		}
		if s.categories != nil && !s.categories[cat] {
			return errors.NewInvalidRequest(fmt.Sprintf("candidate %s: unknown category %q", id, cat))
		}
	}
	return nil
}

func (s *Session) checkIndex(i int) error {
	if i < 0 || i >= len(s.candidates) {
		return errors.NewInvalidRequest(fmt.Sprintf("candidate index %d out of range [0, %d)", i, len(s.candidates)))
	}
	return nil
}
