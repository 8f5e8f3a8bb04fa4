package organizer

import (
	"context"
	"fmt"
	"time"

	"github.com/hpungsan/promptorg/internal/errors"
	"github.com/hpungsan/promptorg/internal/logger"
)

// Reconciler keeps the pending batch and the permanent template store in
// step across runs, reviews, and restarts.
type Reconciler struct {
	store     PendingStore
	persister TemplatePersister
	log       *logger.Logger
}

// NewReconciler creates a Reconciler. log may be nil.
func NewReconciler(store PendingStore, persister TemplatePersister, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{store: store, persister: persister, log: log}
}

// CommitResult summarizes one commit.
type CommitResult struct {
	Saved     int `json:"saved"`
	Pinned    int `json:"pinned"`
	Discarded int `json:"discarded"`
	Remaining int `json:"remaining"`

	// Residual holds the candidates left pending, in their original order.
	Residual []TemplateCandidate `json:"-"`
}

// Load returns the stored batch, or nil when nothing is pending.
func (r *Reconciler) Load(ctx context.Context) (*PendingBatch, error) {
	batch, err := r.store.LoadPending(ctx)
	if err != nil {
		return nil, errors.NewPersistence("load pending templates", err)
	}
	if batch != nil && len(batch.Templates) == 0 {
		return nil, nil
	}
	return batch, nil
}

// Replace stores candidates as the new pending batch. Any earlier
// unreviewed batch is overwritten, not merged.
func (r *Reconciler) Replace(ctx context.Context, candidates []TemplateCandidate, generatedAt time.Time) error {
	if len(candidates) == 0 {
		return nil
	}
	prev, err := r.store.LoadPending(ctx)
	if err == nil && prev != nil && len(prev.Templates) > 0 {
		r.log.Warn("replacing unreviewed pending templates", "dropped", len(prev.Templates))
	}
	batch := &PendingBatch{
		Templates:   append([]TemplateCandidate(nil), candidates...),
		GeneratedAt: generatedAt,
	}
	if err := r.store.SavePending(ctx, batch); err != nil {
		return errors.NewPersistence("save pending templates", err)
	}
	return nil
}

// Commit partitions candidates by decision. Saved and pinned candidates go
// to the persister; discarded ones are dropped; the rest stay pending with
// the batch's original generatedAt, or the pending store is cleared when
// none remain. On error nothing in the caller's candidate slice changes and
// the commit may be retried.
func (r *Reconciler) Commit(ctx context.Context, candidates []TemplateCandidate, generatedAt time.Time) (*CommitResult, error) {
	decided, discarded, pending, err := partition(candidates)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	result := &CommitResult{
		Saved:     len(decided),
		Discarded: len(discarded),
		Remaining: len(pending),
		Residual:  pending,
	}
	for _, c := range decided {
		if c.UserAction == ActionSaveAndPin {
			result.Pinned++
		}
	}

	if len(decided) > 0 {
		if err := r.persister.SaveTemplates(ctx, decided); err != nil {
			return nil, errors.NewPersistence("save templates", err)
		}
	}

	if len(pending) > 0 {
		err = r.store.SavePending(ctx, &PendingBatch{Templates: pending, GeneratedAt: generatedAt})
	} else {
		err = r.store.ClearPending(ctx)
	}
	if err != nil {
		return nil, errors.NewPersistence("update pending templates", err)
	}

	r.log.Info("review committed",
		"saved", result.Saved, "pinned", result.Pinned,
		"discarded", result.Discarded, "remaining", result.Remaining)
	return result, nil
}

// partition splits candidates by UserAction. Unknown actions are rejected.
func partition(candidates []TemplateCandidate) (decided, discarded, pending []TemplateCandidate, err error) {
	for _, c := range candidates {
		switch c.UserAction {
		case ActionSave, ActionSaveAndPin:
			decided = append(decided, c)
		case ActionDiscard:
			discarded = append(discarded, c)
		case ActionPending:
			pending = append(pending, c)
		default:
			return nil, nil, nil, fmt.Errorf("candidate %s has unknown user action %q", c.ID, c.UserAction)
		}
	}
	return decided, discarded, pending, nil
}
