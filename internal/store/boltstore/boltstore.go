// Package boltstore implements internal/store.Backend over
// go.etcd.io/bbolt, backing store.kind = lmdb (bbolt stands in for LMDB as
// the pack's available embedded mmap KV engine; see DESIGN.md).
//
// The bucket layout is adapted from the teacher's internal/store/kv.go
// (one bucket per facet of the data, looked up and written inside a
// single bbolt transaction) and its atomic-write discipline is adapted
// from internal/cas/file_cas.go's verify-then-write pattern, generalized
// from a fixed key->hash mapping table to a single object bucket keyed by
// id.ID plus a cache-reference bucket.
package boltstore

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/store"
)

var (
	bucketObjects   = []byte("objects")    // id.Raw() -> canonical bytes
	bucketCacheRefs = []byte("cache_refs") // id.Raw() -> encoded CacheReference
)

// Store is a bbolt-backed object store.
type Store struct {
	db *bbolt.DB
}

var _ store.Backend = (*Store)(nil)

// Open opens (creating if necessary) a bbolt database at path and ensures
// its buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o666, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketObjects); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketCacheRefs)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt database.
func (s *Store) Close() error { return s.db.Close() }

// Get implements store.Backend.Get.
func (s *Store) Get(_ context.Context, objID id.ID) (store.GetResult, error) {
	var result store.GetResult
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketObjects).Get(objID.Raw())
		if v == nil {
			return store.NotFound(objID)
		}
		result.Bytes = append([]byte(nil), v...)
		return nil
	})
	return result, err
}

// GetBatch implements store.Backend.GetBatch.
func (s *Store) GetBatch(_ context.Context, ids []id.ID) ([]store.GetResult, error) {
	out := make([]store.GetResult, len(ids))
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketObjects)
		for i, objID := range ids {
			v := bucket.Get(objID.Raw())
			if v == nil {
				return store.NotFound(objID)
			}
			out[i] = store.GetResult{Bytes: append([]byte(nil), v...)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetCacheReference implements store.Backend.GetCacheReference.
func (s *Store) GetCacheReference(_ context.Context, objID id.ID) (*store.CacheReference, error) {
	var ref *store.CacheReference
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketCacheRefs).Get(objID.Raw())
		if v == nil {
			return nil
		}
		decoded, err := decodeCacheReference(v)
		if err != nil {
			return err
		}
		ref = decoded
		return nil
	})
	return ref, err
}

// Put implements store.Backend.Put. Putting the same id twice is a no-op
// beyond overwriting identical bytes, matching the idempotent-put
// contract (spec §4.3).
func (s *Store) Put(_ context.Context, objID id.ID, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketObjects).Put(objID.Raw(), data)
	})
}

// PutBatch implements store.Backend.PutBatch.
func (s *Store) PutBatch(_ context.Context, items map[id.ID][]byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketObjects)
		for objID, data := range items {
			if err := bucket.Put(objID.Raw(), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete implements store.Backend.Delete.
func (s *Store) Delete(_ context.Context, objID id.ID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketObjects).Delete(objID.Raw())
	})
}

// DeleteBatch implements store.Backend.DeleteBatch.
func (s *Store) DeleteBatch(_ context.Context, ids []id.ID) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketObjects)
		for _, objID := range ids {
			if err := bucket.Delete(objID.Raw()); err != nil {
				return err
			}
		}
		return nil
	})
}

// Flush implements store.Backend.Flush. bbolt fsyncs on every committed
// write transaction, so there is no additional barrier to wait on here.
func (s *Store) Flush(_ context.Context) error { return nil }

// PutCacheReference records that objID's bytes live on disk under the
// check-out cache rather than (or in addition to) the objects bucket.
func (s *Store) PutCacheReference(_ context.Context, objID id.ID, ref store.CacheReference) error {
	encoded := encodeCacheReference(ref)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCacheRefs).Put(objID.Raw(), encoded)
	})
}
