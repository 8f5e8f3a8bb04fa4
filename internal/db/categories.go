package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hpungsan/promptorg/internal/library"
)

// CategoryStore lists the seeded template categories.
type CategoryStore struct {
	db *sql.DB
}

// NewCategoryStore creates a CategoryStore.
func NewCategoryStore(db *sql.DB) *CategoryStore {
	return &CategoryStore{db: db}
}

// GetAll returns categories in display order.
func (s *CategoryStore) GetAll(ctx context.Context) ([]library.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	categories := []library.Category{}
	for rows.Next() {
		var c library.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}
