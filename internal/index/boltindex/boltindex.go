// Package boltindex implements internal/index.Backend over bbolt, one
// bucket per metadata facet, adapted from the teacher's
// internal/store/kv.go bucket-per-facet layout generalized from a fixed
// key/blake3/sha256 mapping table to the four index facets spec §4.4
// names (object, process, tag, cache entry).
package boltindex

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
)

var (
	bucketObjects     = []byte("idx_objects")
	bucketProcesses   = []byte("idx_processes")
	bucketTags        = []byte("idx_tags")
	bucketCacheEntries = []byte("idx_cache_entries")
)

// Index is a bbolt-backed secondary index.
type Index struct {
	db *bbolt.DB
}

var _ index.Backend = (*Index)(nil)

// Open opens (creating if necessary) a bbolt database at path.
func Open(path string) (*Index, error) {
	db, err := bbolt.Open(path, 0o666, nil)
	if err != nil {
		return nil, fmt.Errorf("boltindex: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketObjects, bucketProcesses, bucketTags, bucketCacheEntries} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltindex: init buckets: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying bbolt database.
func (idx *Index) Close() error { return idx.db.Close() }

func (idx *Index) GetObject(_ context.Context, objID id.ID) (*index.ObjectMetadata, error) {
	var meta *index.ObjectMetadata
	err := idx.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketObjects).Get(objID.Raw())
		if v == nil {
			return nil
		}
		m, err := decodeObjectMetadata(v)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	return meta, err
}

func (idx *Index) PutObject(_ context.Context, meta index.ObjectMetadata) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketObjects)
		existing := bucket.Get(meta.ID.Raw())
		merged := meta
		if existing != nil {
			old, err := decodeObjectMetadata(existing)
			if err != nil {
				return err
			}
			merged.TouchedAt = index.MergeTouchedAt(old.TouchedAt, meta.TouchedAt)
			merged.Stored = index.MergeStored(old.Stored, meta.Stored)
			merged.Complete = old.Complete || meta.Complete
		}
		return bucket.Put(meta.ID.Raw(), encodeObjectMetadata(merged))
	})
}

func (idx *Index) TouchAndGetObject(_ context.Context, objID id.ID, at time.Time) (*index.ObjectMetadata, error) {
	var meta *index.ObjectMetadata
	err := idx.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketObjects)
		v := bucket.Get(objID.Raw())
		if v == nil {
			m := index.ObjectMetadata{ID: objID, TouchedAt: at}
			meta = &m
			return bucket.Put(objID.Raw(), encodeObjectMetadata(m))
		}
		m, err := decodeObjectMetadata(v)
		if err != nil {
			return err
		}
		m.TouchedAt = index.MergeTouchedAt(m.TouchedAt, at)
		meta = m
		return bucket.Put(objID.Raw(), encodeObjectMetadata(*m))
	})
	return meta, err
}

func (idx *Index) GetProcess(_ context.Context, procID id.ID) (*index.ProcessMetadata, error) {
	var meta *index.ProcessMetadata
	err := idx.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketProcesses).Get(procID.Raw())
		if v == nil {
			return nil
		}
		m, err := decodeProcessMetadata(v)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	return meta, err
}

func (idx *Index) PutProcess(_ context.Context, meta index.ProcessMetadata) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketProcesses)
		existing := bucket.Get(meta.ID.Raw())
		merged := meta
		if existing != nil {
			old, err := decodeProcessMetadata(existing)
			if err != nil {
				return err
			}
			merged.TouchedAt = index.MergeTouchedAt(old.TouchedAt, meta.TouchedAt)
			merged.ChildrenComplete = old.ChildrenComplete || meta.ChildrenComplete
			merged.CommandComplete = old.CommandComplete || meta.CommandComplete
			merged.ChildrenCommandsComplete = old.ChildrenCommandsComplete || meta.ChildrenCommandsComplete
			merged.OutputComplete = old.OutputComplete || meta.OutputComplete
			merged.ChildrenOutputsComplete = old.ChildrenOutputsComplete || meta.ChildrenOutputsComplete
		}
		return bucket.Put(meta.ID.Raw(), encodeProcessMetadata(merged))
	})
}

func (idx *Index) GetTag(_ context.Context, tag string) (*index.TagMetadata, error) {
	var meta *index.TagMetadata
	err := idx.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketTags).Get([]byte(tag))
		if v == nil {
			return nil
		}
		m, err := decodeTagMetadata(tag, v)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	return meta, err
}

func (idx *Index) PutTag(_ context.Context, meta index.TagMetadata) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTags)
		merged := meta
		if existing := bucket.Get([]byte(meta.Tag)); existing != nil {
			old, err := decodeTagMetadata(meta.Tag, existing)
			if err != nil {
				return err
			}
			merged.TouchedAt = index.MergeTouchedAt(old.TouchedAt, meta.TouchedAt)
		}
		return bucket.Put([]byte(meta.Tag), encodeTagMetadata(merged))
	})
}

func (idx *Index) ListTags(_ context.Context, prefix string) ([]index.TagMetadata, error) {
	var out []index.TagMetadata
	err := idx.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketTags).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
			m, err := decodeTagMetadata(string(k), v)
			if err != nil {
				return err
			}
			out = append(out, *m)
		}
		return nil
	})
	return out, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(prefix) == 0 {
		return true
	}
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (idx *Index) GetCacheEntry(_ context.Context, objID id.ID) (*index.CacheEntryMetadata, error) {
	var meta *index.CacheEntryMetadata
	err := idx.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketCacheEntries).Get(objID.Raw())
		if v == nil {
			return nil
		}
		m, err := decodeCacheEntryMetadata(v)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	return meta, err
}

func (idx *Index) PutCacheEntry(_ context.Context, meta index.CacheEntryMetadata) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCacheEntries)
		existing := bucket.Get(meta.ID.Raw())
		merged := meta
		if existing != nil {
			old, err := decodeCacheEntryMetadata(existing)
			if err != nil {
				return err
			}
			merged.TouchedAt = index.MergeTouchedAt(old.TouchedAt, meta.TouchedAt)
		}
		return bucket.Put(meta.ID.Raw(), encodeCacheEntryMetadata(merged))
	})
}

func (idx *Index) DeleteCacheEntry(_ context.Context, objID id.ID) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCacheEntries).Delete(objID.Raw())
	})
}
