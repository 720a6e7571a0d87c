// Package store defines the pluggable object store backend contract
// (spec §4.3) and a composite for combining a local backend with zero or
// more remotes. Concrete backends live in subpackages: memorystore,
// boltstore, sqlstore, gstore, registrystore.
//
// The Backend interface generalizes the teacher's internal/cas.CAS
// (Put/Get/Has keyed by a raw hash) to the spec's richer contract: batch
// variants, a cache-reference redirect so a stored blob can point at
// bytes already materialized on disk instead of duplicating them, and a
// conditional, batched delete with an explicit flush for durability
// barriers.
package store

import (
	"context"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/tgerror"
)

// CacheReference redirects a Get to bytes already materialized under the
// check-out cache (spec §4.3/§4.6), rather than duplicating file content
// in the object store.
type CacheReference struct {
	ArtifactID   id.ID
	RelativePath string
	ByteOffset   int64
	ByteLength   int64
}

// GetResult is what Backend.Get returns: either the object's bytes
// directly, or a CacheReference the caller must resolve against the
// cache directory (spec §4.3 "get may answer with a disk reference").
type GetResult struct {
	Bytes     []byte
	CacheRef  *CacheReference
	FromCache bool
}

// Backend is the object store contract every storage kind implements.
//
// Put is idempotent: putting the same id twice is not an error. Delete is
// conditional-only: a backend may refuse to delete an id it still
// believes is referenced, returning a tgerror.Conflict, and callers must
// treat that as "not deleted" rather than an unexpected failure. Get
// returns tgerror.NotFound only once the full local+remote chain has been
// exhausted.
type Backend interface {
	Get(ctx context.Context, id id.ID) (GetResult, error)
	GetBatch(ctx context.Context, ids []id.ID) ([]GetResult, error)
	GetCacheReference(ctx context.Context, id id.ID) (*CacheReference, error)

	Put(ctx context.Context, id id.ID, data []byte) error
	PutBatch(ctx context.Context, items map[id.ID][]byte) error

	// PutCacheReference registers a redirect (spec §4.3's "at most one of
	// bytes/cache_reference is required"): a subsequent Get for id may
	// answer from the referenced cache file instead of duplicating bytes.
	PutCacheReference(ctx context.Context, id id.ID, ref CacheReference) error

	Delete(ctx context.Context, id id.ID) error
	DeleteBatch(ctx context.Context, ids []id.ID) error

	// Flush blocks until all prior Put/Delete calls are durable.
	Flush(ctx context.Context) error
}

// NotFound builds the standard not-found error Get implementations should
// return once every tier of a composite chain has missed.
func NotFound(objID id.ID) error {
	return tgerror.New(tgerror.NotFound, "object not found", tgerror.WithValue("id", objID.String()))
}
