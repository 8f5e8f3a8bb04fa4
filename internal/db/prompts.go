package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/promptorg/internal/errors"
	"github.com/hpungsan/promptorg/internal/library"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.OrganizerError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// PromptStore reads and writes the prompt library.
type PromptStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPromptStore creates a PromptStore over an initialized database.
func NewPromptStore(db *sql.DB) *PromptStore {
	return &PromptStore{db: db, now: time.Now}
}

const promptColumns = `id, name, content, execution_count, last_executed_at,
	exclude_from_organizer, created_at, updated_at`

// Insert stores a new prompt. CreatedAt and UpdatedAt default to now.
func (s *PromptStore) Insert(ctx context.Context, p *library.Prompt) error {
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompts (`+promptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.Name, p.Content, p.ExecutionCount, toNullMillis(p.LastExecutedAt),
		boolToInt(p.ExcludeFromOrganizer), p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return fmt.Errorf("insert prompt %s: %w", p.ID, err)
	}
	return nil
}

// Get returns one prompt by id.
func (s *PromptStore) Get(ctx context.Context, id string) (*library.Prompt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id = ?`, id)
	p, err := scanPrompt(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("prompt", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt %s: %w", id, err)
	}
	return p, nil
}

// GetAllPrompts returns the whole library in insertion order.
func (s *PromptStore) GetAllPrompts(ctx context.Context) ([]library.Prompt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+promptColumns+` FROM prompts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	prompts := []library.Prompt{}
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, *p)
	}
	return prompts, rows.Err()
}

// UpdatePrompt applies a partial update.
func (s *PromptStore) UpdatePrompt(ctx context.Context, id string, patch library.PromptPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{s.now().UnixMilli()}
	if patch.ExcludeFromOrganizer != nil {
		sets = append(sets, "exclude_from_organizer = ?")
		args = append(args, boolToInt(*patch.ExcludeFromOrganizer))
	}
	args = append(args, id)

	result, err := s.db.ExecContext(ctx,
		`UPDATE prompts SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update prompt %s: %w", id, err)
	}
	return requireRow(result, "prompt", id)
}

// RecordExecution bumps the execution counter and stamps the time.
func (s *PromptStore) RecordExecution(ctx context.Context, id string, at time.Time) (*library.Prompt, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE prompts
		SET execution_count = execution_count + 1, last_executed_at = ?, updated_at = ?
		WHERE id = ?
	`, at.UnixMilli(), s.now().UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("record execution %s: %w", id, err)
	}
	if err := requireRow(result, "prompt", id); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrompt(row rowScanner) (*library.Prompt, error) {
	var (
		p                    library.Prompt
		lastExecuted         sql.NullInt64
		exclude              int
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Content, &p.ExecutionCount, &lastExecuted,
		&exclude, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.LastExecutedAt = fromNullMillis(lastExecuted)
	p.ExcludeFromOrganizer = exclude != 0
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &p, nil
}

// requireRow turns a zero-row update into NOT_FOUND.
func requireRow(result sql.Result, what, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return errors.NewNotFound(what, id)
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toNullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.UnixMilli(n.Int64).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
