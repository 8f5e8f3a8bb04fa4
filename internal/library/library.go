package library

import "time"

// OtherCategoryID is the fallback category for anything the model
// assigns to an unknown category. It is seeded by the schema migration.
const OtherCategoryID = "other"

// Prompt is a historical prompt in the user's library.
type Prompt struct {
	// ID is a ULID that uniquely identifies this prompt
	ID string `json:"id"`

	Name    string `json:"name"`
	Content string `json:"content"`

	// ExecutionCount is how many times the prompt has been sent
	ExecutionCount int `json:"executionCount"`

	// LastExecutedAt is zero for prompts that were never executed
	LastExecutedAt time.Time `json:"lastExecutedAt"`

	// ExcludeFromOrganizer is set once a prompt has contributed to a
	// generated template. It is never cleared automatically.
	ExcludeFromOrganizer bool `json:"excludeFromOrganizer"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PromptPatch is a partial update of a Prompt. Nil fields are left as is.
type PromptPatch struct {
	ExcludeFromOrganizer *bool
}

// Category groups templates.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Variable describes one {{placeholder}} of a template.
type Variable struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Template is a permanent, user-accepted reusable template.
type Template struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Content    string     `json:"content"`
	UseCase    string     `json:"useCase"`
	CategoryID string     `json:"categoryId"`
	Variables  []Variable `json:"variables"`
	Pinned     bool       `json:"pinned"`

	// SourceCandidateID links back to the reviewed candidate. Unique, so a
	// candidate can become at most one template.
	SourceCandidateID string   `json:"sourceCandidateId,omitempty"`
	SourcePromptIDs   []string `json:"sourcePromptIds,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}
