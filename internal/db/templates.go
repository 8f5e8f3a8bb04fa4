package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/promptorg/internal/library"
	"github.com/hpungsan/promptorg/internal/organizer"
)

// TemplateStore is the permanent template library.
type TemplateStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewTemplateStore creates a TemplateStore.
func NewTemplateStore(db *sql.DB) *TemplateStore {
	return &TemplateStore{db: db, now: time.Now}
}

// SaveTemplates turns accepted candidates into templates in one
// transaction. A candidate already saved (same candidate id) is skipped, so
// a retried commit never stores it twice.
func (s *TemplateStore) SaveTemplates(ctx context.Context, candidates []organizer.TemplateCandidate) error {
	if len(candidates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO templates (
			id, title, content, use_case, category_id, variables_json,
			pinned, source_candidate_id, source_prompts_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_candidate_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	entropy := ulid.Monotonic(rand.Reader, 0)
	now := s.now()
	for _, c := range candidates {
		pinned, err := pinnedFor(c.UserAction)
		if err != nil {
			return err
		}
		vars := c.Variables
		if vars == nil {
			vars = []library.Variable{}
		}
		varsJSON, err := json.Marshal(vars)
		if err != nil {
			return fmt.Errorf("encode variables: %w", err)
		}
		sourcesJSON, err := json.Marshal(c.SourcePromptIDs)
		if err != nil {
			return fmt.Errorf("encode sources: %w", err)
		}
		id, err := ulid.New(ulid.Timestamp(now), entropy)
		if err != nil {
			return fmt.Errorf("generate template id: %w", err)
		}

		if _, err := stmt.ExecContext(ctx,
			id.String(), c.Title, c.Content, c.UseCase, c.CategoryID, string(varsJSON),
			boolToInt(pinned), c.ID, string(sourcesJSON), now.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert template for candidate %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// pinnedFor maps a decision onto the pinned flag. Only accepted decisions
// may reach the template store.
func pinnedFor(action organizer.UserAction) (bool, error) {
	switch action {
	case organizer.ActionSave:
		return false, nil
	case organizer.ActionSaveAndPin:
		return true, nil
	case organizer.ActionPending, organizer.ActionDiscard:
		return false, fmt.Errorf("candidate with action %q cannot be saved", action)
	default:
		return false, fmt.Errorf("unknown user action %q", action)
	}
}

// ListTemplates returns templates, pinned first, newest first.
func (s *TemplateStore) ListTemplates(ctx context.Context, pinnedOnly bool) ([]library.Template, error) {
	query := `
		SELECT id, title, content, use_case, category_id, variables_json,
			pinned, source_candidate_id, source_prompts_json, created_at
		FROM templates
	`
	if pinnedOnly {
		query += " WHERE pinned = 1"
	}
	query += " ORDER BY pinned DESC, created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	templates := []library.Template{}
	for rows.Next() {
		var (
			t           library.Template
			varsJSON    string
			pinned      int
			candidateID sql.NullString
			sourcesJSON sql.NullString
			createdAt   int64
		)
		if err := rows.Scan(
			&t.ID, &t.Title, &t.Content, &t.UseCase, &t.CategoryID, &varsJSON,
			&pinned, &candidateID, &sourcesJSON, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		if err := json.Unmarshal([]byte(varsJSON), &t.Variables); err != nil {
			return nil, fmt.Errorf("decode variables of %s: %w", t.ID, err)
		}
		if sourcesJSON.Valid && sourcesJSON.String != "" && sourcesJSON.String != "null" {
			if err := json.Unmarshal([]byte(sourcesJSON.String), &t.SourcePromptIDs); err != nil {
				return nil, fmt.Errorf("decode sources of %s: %w", t.ID, err)
			}
		}
		t.Pinned = pinned != 0
		t.SourceCandidateID = candidateID.String
		t.CreatedAt = time.UnixMilli(createdAt).UTC()
		templates = append(templates, t)
	}
	return templates, rows.Err()
}
