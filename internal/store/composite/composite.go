// Package composite wires a local store.Backend together with zero or
// more remote backends into a single store.Backend, the Go realization of
// spec §9's "Either<L,R>"-style pluggable-backend composition design
// note: reads check the local tier first and fall through to remotes in
// order, writes always land locally and are mirrored to every remote, and
// not-found is only reported once the whole chain has missed.
package composite

import (
	"context"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/store"
	"github.com/tangramdotdev/tangram/internal/tgerror"
)

// Store composes a local backend with an ordered list of remotes.
type Store struct {
	Local   store.Backend
	Remotes []store.Backend
}

var _ store.Backend = (*Store)(nil)

// New constructs a composite over local plus remotes, in fallback order.
func New(local store.Backend, remotes ...store.Backend) *Store {
	return &Store{Local: local, Remotes: remotes}
}

func isNotFound(err error) bool {
	kind, ok := tgerror.KindOf(err)
	return ok && kind == tgerror.NotFound
}

// Get implements store.Backend.Get: local first, then each remote in
// order; an object found remotely is backfilled into the local tier so
// subsequent reads are local.
func (s *Store) Get(ctx context.Context, objID id.ID) (store.GetResult, error) {
	res, err := s.Local.Get(ctx, objID)
	if err == nil {
		return res, nil
	}
	if !isNotFound(err) {
		return store.GetResult{}, err
	}
	for _, remote := range s.Remotes {
		res, rerr := remote.Get(ctx, objID)
		if rerr == nil {
			if res.Bytes != nil {
				_ = s.Local.Put(ctx, objID, res.Bytes)
			}
			return res, nil
		}
		if !isNotFound(rerr) {
			return store.GetResult{}, rerr
		}
	}
	return store.GetResult{}, store.NotFound(objID)
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

// GetCacheReference implements store.Backend.GetCacheReference, checking
// the local tier first, then each remote.
func (s *Store) GetCacheReference(ctx context.Context, objID id.ID) (*store.CacheReference, error) {
	ref, err := s.Local.GetCacheReference(ctx, objID)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		return ref, nil
	}
	for _, remote := range s.Remotes {
		ref, err := remote.GetCacheReference(ctx, objID)
		if err != nil {
			return nil, err
		}
		if ref != nil {
			return ref, nil
		}
	}
	return nil, nil
}

// PutCacheReference implements store.Backend.PutCacheReference, local
// tier only: a cache reference names a path under the local cache
// directory, which is meaningless to mirror onto a remote.
func (s *Store) PutCacheReference(ctx context.Context, objID id.ID, ref store.CacheReference) error {
	return s.Local.PutCacheReference(ctx, objID, ref)
}

// Put implements store.Backend.Put: always writes locally, then mirrors
// to every remote. A remote failure does not fail the overall Put, since
// the local write is the durability barrier Flush blocks on; remotes
// catch up via the sync engine (internal/sync) if a mirror write fails.
func (s *Store) Put(ctx context.Context, objID id.ID, data []byte) error {
	if err := s.Local.Put(ctx, objID, data); err != nil {
		return err
	}
	for _, remote := range s.Remotes {
		_ = remote.Put(ctx, objID, data)
	}
	return nil
}

// PutBatch implements store.Backend.PutBatch.
func (s *Store) PutBatch(ctx context.Context, items map[id.ID][]byte) error {
	if err := s.Local.PutBatch(ctx, items); err != nil {
		return err
	}
	for _, remote := range s.Remotes {
		_ = remote.PutBatch(ctx, items)
	}
	return nil
}

// Delete implements store.Backend.Delete, local tier only: remotes are
// reconciled independently and may refuse a delete the local tier
// accepted, which is expected under the conditional-delete contract.
func (s *Store) Delete(ctx context.Context, objID id.ID) error {
	return s.Local.Delete(ctx, objID)
}

// DeleteBatch implements store.Backend.DeleteBatch.
func (s *Store) DeleteBatch(ctx context.Context, ids []id.ID) error {
	return s.Local.DeleteBatch(ctx, ids)
}

// Flush implements store.Backend.Flush, the durability barrier: blocks
// until the local tier and every remote have flushed.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.Local.Flush(ctx); err != nil {
		return err
	}
	for _, remote := range s.Remotes {
		if err := remote.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}
