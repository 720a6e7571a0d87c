// Package memorystore implements internal/store.Backend over an in-memory
// map, grounded on the teacher's internal/cas.MemoryCAS. It backs
// store.kind = memory and is the backend used by package tests that don't
// need to touch disk.
package memorystore

import (
	"context"
	"sync"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/store"
)

// Store is a thread-safe in-memory object store.
type Store struct {
	mu      sync.RWMutex
	data    map[string][]byte
	cacheRefs map[string]store.CacheReference
}

// New constructs an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte), cacheRefs: make(map[string]store.CacheReference)}
}

var _ store.Backend = (*Store)(nil)

// Get implements store.Backend.Get.
func (s *Store) Get(_ context.Context, objID id.ID) (store.GetResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[objID.String()]
	if !ok {
		return store.GetResult{}, store.NotFound(objID)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return store.GetResult{Bytes: cp}, nil
}

// GetBatch implements store.Backend.GetBatch.
func (s *Store) GetBatch(ctx context.Context, ids []id.ID) ([]store.GetResult, error) {
	out := make([]store.GetResult, len(ids))
	for i, objID := range ids {
		res, err := s.Get(ctx, objID)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

// GetCacheReference implements store.Backend.GetCacheReference.
func (s *Store) GetCacheReference(_ context.Context, objID id.ID) (*store.CacheReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.cacheRefs[objID.String()]
	if !ok {
		return nil, nil
	}
	return &ref, nil
}

// PutCacheReference implements store.Backend.PutCacheReference.
func (s *Store) PutCacheReference(_ context.Context, objID id.ID, ref store.CacheReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheRefs[objID.String()] = ref
	return nil
}

// Put implements store.Backend.Put.
func (s *Store) Put(_ context.Context, objID id.ID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[objID.String()] = cp
	return nil
}

// PutBatch implements store.Backend.PutBatch.
func (s *Store) PutBatch(_ context.Context, items map[id.ID][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for objID, data := range items {
		cp := make([]byte, len(data))
		copy(cp, data)
		s.data[objID.String()] = cp
	}
	return nil
}

// Delete implements store.Backend.Delete.
func (s *Store) Delete(_ context.Context, objID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, objID.String())
	return nil
}

// DeleteBatch implements store.Backend.DeleteBatch.
func (s *Store) DeleteBatch(_ context.Context, ids []id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, objID := range ids {
		delete(s.data, objID.String())
	}
	return nil
}

// Flush implements store.Backend.Flush. Nothing to durably sync for an
// in-memory map.
func (s *Store) Flush(_ context.Context) error { return nil }

// Len reports the number of stored objects, used by tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
