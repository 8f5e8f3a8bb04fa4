package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// KVEvent reports a change to one watched key.
type KVEvent struct {
	Namespace string
	Key       string
	Value     string
	Deleted   bool
}

// KVStore is a namespaced key-value store on the kv table. Writes made
// through this store are published to in-process watchers; last write
// wins and nothing is coordinated across processes.
type KVStore struct {
	db  *sql.DB
	now func() time.Time

	mu       sync.Mutex
	watchers map[string]map[chan KVEvent]struct{}
}

// NewKVStore creates a KVStore.
func NewKVStore(db *sql.DB) *KVStore {
	return &KVStore{
		db:       db,
		now:      time.Now,
		watchers: make(map[string]map[chan KVEvent]struct{}),
	}
}

// Get returns the value for namespace/key. ok is false when the key does
// not exist.
func (s *KVStore) Get(ctx context.Context, namespace, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return value, true, nil
}

// Set upserts a value and notifies watchers.
func (s *KVStore) Set(ctx context.Context, namespace, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at
	`, namespace, key, value, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", namespace, key, err)
	}
	s.publish(KVEvent{Namespace: namespace, Key: key, Value: value})
	return nil
}

// Delete removes a key and notifies watchers. Deleting a missing key is
// not an error.
func (s *KVStore) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE namespace = ? AND key = ?`,
		namespace, key,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	s.publish(KVEvent{Namespace: namespace, Key: key, Deleted: true})
	return nil
}

// Watch subscribes to changes of namespace/key. The channel holds at most
// the latest unread event; older unread events are replaced. Call the
// returned stop function to unsubscribe; it closes the channel.
func (s *KVStore) Watch(namespace, key string) (<-chan KVEvent, func()) {
	ch := make(chan KVEvent, 1)
	id := watchID(namespace, key)

	s.mu.Lock()
	if s.watchers[id] == nil {
		s.watchers[id] = make(map[chan KVEvent]struct{})
	}
	s.watchers[id][ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers[id], ch)
			if len(s.watchers[id]) == 0 {
				delete(s.watchers, id)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, stop
}

func (s *KVStore) publish(ev KVEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.watchers[watchID(ev.Namespace, ev.Key)] {
		select {
		case <-ch:
		default:
		}
		ch <- ev
	}
}

func watchID(namespace, key string) string {
	return namespace + "\x00" + key
}
