package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hpungsan/promptorg/internal/organizer"
)

// Location of the pending batch in the kv table.
const (
	PendingNamespace = "organizer"
	PendingKey       = "pending_templates"
)

// PendingStore keeps the single pending batch as JSON in a KVStore.
type PendingStore struct {
	kv *KVStore
}

// NewPendingStore creates a PendingStore.
func NewPendingStore(kv *KVStore) *PendingStore {
	return &PendingStore{kv: kv}
}

// LoadPending returns the stored batch or nil.
func (s *PendingStore) LoadPending(ctx context.Context) (*organizer.PendingBatch, error) {
	raw, ok, err := s.kv.Get(ctx, PendingNamespace, PendingKey)
	if err != nil || !ok {
		return nil, err
	}
	return decodeBatch(raw)
}

// SavePending overwrites the stored batch.
func (s *PendingStore) SavePending(ctx context.Context, batch *organizer.PendingBatch) error {
	if batch == nil {
		return s.ClearPending(ctx)
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode pending batch: %w", err)
	}
	return s.kv.Set(ctx, PendingNamespace, PendingKey, string(data))
}

// ClearPending removes the stored batch.
func (s *PendingStore) ClearPending(ctx context.Context) error {
	return s.kv.Delete(ctx, PendingNamespace, PendingKey)
}

// Watch delivers the batch after each change made through this process; a
// nil batch means it was cleared. Undecodable values are skipped. The
// channel closes when ctx is done.
func (s *PendingStore) Watch(ctx context.Context) <-chan *organizer.PendingBatch {
	events, stop := s.kv.Watch(PendingNamespace, PendingKey)
	out := make(chan *organizer.PendingBatch, 1)
	go func() {
		defer close(out)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				var batch *organizer.PendingBatch
				if !ev.Deleted {
					b, err := decodeBatch(ev.Value)
					if err != nil {
						continue
					}
					batch = b
				}
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func decodeBatch(raw string) (*organizer.PendingBatch, error) {
	var batch organizer.PendingBatch
	if err := json.Unmarshal([]byte(raw), &batch); err != nil {
		return nil, fmt.Errorf("decode pending batch: %w", err)
	}
	return &batch, nil
}
