package ops

import (
	"database/sql"
	"sync"
	"time"

	"github.com/hpungsan/promptorg/internal/config"
	"github.com/hpungsan/promptorg/internal/db"
	"github.com/hpungsan/promptorg/internal/errors"
	"github.com/hpungsan/promptorg/internal/logger"
	"github.com/hpungsan/promptorg/internal/organizer"
	"github.com/hpungsan/promptorg/internal/settings"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Deps wires the stores and the LLM client shared by every operation.
type Deps struct {
	Config     *config.Config
	Prompts    *db.PromptStore
	Categories *db.CategoryStore
	Templates  *db.TemplateStore
	Pending    *db.PendingStore
	Settings   *settings.Store
	LLM        organizer.LLMClient
	Log        *logger.Logger
	Now        func() time.Time

	// runMu blocks a second organizer run while one is in flight.
	runMu sync.Mutex
}

// NewDeps builds Deps over an initialized database. baseDir holds the
// settings file. log may be nil.
func NewDeps(database *sql.DB, cfg *config.Config, baseDir string, client organizer.LLMClient, log *logger.Logger) *Deps {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Deps{
		Config:     cfg,
		Prompts:    db.NewPromptStore(database),
		Categories: db.NewCategoryStore(database),
		Templates:  db.NewTemplateStore(database),
		Pending:    db.NewPendingStore(db.NewKVStore(database)),
		Settings:   settings.NewStore(baseDir),
		LLM:        client,
		Log:        log,
		Now:        time.Now,
	}
}

// Pricing returns the configured token prices.
func (d *Deps) Pricing() organizer.Pricing {
	return organizer.Pricing{
		InputPerMillion:  d.Config.PriceInputPerMillion,
		OutputPerMillion: d.Config.PriceOutputPerMillion,
		FXRate:           d.Config.FXRate,
		Currency:         d.Config.Currency,
	}
}

// Reconciler returns a Reconciler over the sqlite stores.
func (d *Deps) Reconciler() *organizer.Reconciler {
	return organizer.NewReconciler(d.Pending, d.Templates, d.Log)
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// effectiveSettings loads stored settings and applies per-call overrides.
func (d *Deps) effectiveSettings(overrides settings.Patch) (organizer.Settings, error) {
	s, err := d.Settings.Load()
	if err != nil {
		return organizer.Settings{}, err
	}
	s = overrides.Apply(s)
	if err := s.Validate(); err != nil {
		return organizer.Settings{}, errors.NewInvalidRequest(err.Error())
	}
	return s, nil
}

// clampPage applies list defaults and bounds.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, max(offset, 0)
}

// page slices items for one page.
func page[T any](items []T, limit, offset int) ([]T, Pagination) {
	total := len(items)
	start := min(offset, total)
	end := min(start+limit, total)
	out := append([]T{}, items[start:end]...)
	return out, Pagination{
		Limit:   limit,
		Offset:  offset,
		HasMore: end < total,
		Total:   total,
	}
}
