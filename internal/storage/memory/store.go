package memory

import (
	"context"
	"sort"
	"sync"

	"nftsales/internal/storage"
)

// Store keeps records in process memory. It is used by tests and by
// single-shot replays that do not need durability.
type Store struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	records map[string]map[string][]byte
}

func NewStore() *Store {
	return &Store{records: make(map[string]map[string][]byte)}
}

func (s *Store) Load(ctx context.Context, entity, id string) ([]byte, bool, error) {
	if err := storage.ValidateKey(entity, id); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.records[entity][id]
	if !ok {
		return nil, false, nil
	}
	return clonePayload(payload), true, nil
}

func (s *Store) Save(ctx context.Context, entity, id string, payload []byte) error {
	if err := storage.ValidateKey(entity, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(entity, id, payload)
	return nil
}

func (s *Store) Delete(ctx context.Context, entity, id string) error {
	if err := storage.ValidateKey(entity, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[entity], id)
	return nil
}

func (s *Store) List(ctx context.Context, filter storage.ListFilter) ([]storage.Record, error) {
	if filter.Entity == "" {
		return nil, storage.ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records[filter.Entity]))
	for id := range s.records[filter.Entity] {
		if id > filter.After {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	limit := storage.NormalizeLimit(filter.Limit)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	records := make([]storage.Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, storage.Record{
			Entity:  filter.Entity,
			ID:      id,
			Payload: clonePayload(s.records[filter.Entity][id]),
		})
	}
	return records, nil
}

// Len returns the number of records stored for entity.
func (s *Store) Len(entity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[entity])
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// WithinTx stages writes in an overlay and applies them atomically when fn
// succeeds. Transactions are serialized.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := &txStore{parent: s, writes: make(map[recordKey]*[]byte)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range tx.order {
		payload := tx.writes[key]
		if payload == nil {
			delete(s.records[key.entity], key.id)
			continue
		}
		s.put(key.entity, key.id, *payload)
	}
	return nil
}

func (s *Store) put(entity, id string, payload []byte) {
	bucket, ok := s.records[entity]
	if !ok {
		bucket = make(map[string][]byte)
		s.records[entity] = bucket
	}
	bucket[id] = clonePayload(payload)
}

type recordKey struct {
	entity string
	id     string
}

// txStore records writes keyed by record; a nil entry marks a deletion.
type txStore struct {
	parent *Store
	writes map[recordKey]*[]byte
	order  []recordKey
}

func (t *txStore) Load(ctx context.Context, entity, id string) ([]byte, bool, error) {
	if err := storage.ValidateKey(entity, id); err != nil {
		return nil, false, err
	}
	if payload, ok := t.writes[recordKey{entity, id}]; ok {
		if payload == nil {
			return nil, false, nil
		}
		return clonePayload(*payload), true, nil
	}
	return t.parent.Load(ctx, entity, id)
}

func (t *txStore) Save(ctx context.Context, entity, id string, payload []byte) error {
	if err := storage.ValidateKey(entity, id); err != nil {
		return err
	}
	copied := clonePayload(payload)
	t.stage(recordKey{entity, id}, &copied)
	return nil
}

func (t *txStore) Delete(ctx context.Context, entity, id string) error {
	if err := storage.ValidateKey(entity, id); err != nil {
		return err
	}
	t.stage(recordKey{entity, id}, nil)
	return nil
}

func (t *txStore) stage(key recordKey, payload *[]byte) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = payload
}

func clonePayload(payload []byte) []byte {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out
}
