// Package memoryindex implements internal/index.Backend over in-memory
// maps, mirroring internal/index/boltindex's per-facet merge-on-put
// logic without the bbolt bucket machinery. It backs index.kind = memory,
// the daemon's own default when no backend is configured.
package memoryindex

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
)

// Index is a thread-safe in-memory secondary index.
type Index struct {
	mu           sync.Mutex
	objects      map[string]index.ObjectMetadata
	processes    map[string]index.ProcessMetadata
	tags         map[string]index.TagMetadata
	cacheEntries map[string]index.CacheEntryMetadata
}

// New constructs an empty Index.
func New() *Index {
	return &Index{
		objects:      make(map[string]index.ObjectMetadata),
		processes:    make(map[string]index.ProcessMetadata),
		tags:         make(map[string]index.TagMetadata),
		cacheEntries: make(map[string]index.CacheEntryMetadata),
	}
}

var _ index.Backend = (*Index)(nil)

func (idx *Index) GetObject(_ context.Context, objID id.ID) (*index.ObjectMetadata, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	m, ok := idx.objects[objID.String()]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (idx *Index) PutObject(_ context.Context, meta index.ObjectMetadata) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := meta.ID.String()
	if old, ok := idx.objects[k]; ok {
		meta.TouchedAt = index.MergeTouchedAt(old.TouchedAt, meta.TouchedAt)
		meta.Stored = index.MergeStored(old.Stored, meta.Stored)
		meta.Complete = old.Complete || meta.Complete
	}
	idx.objects[k] = meta
	return nil
}

func (idx *Index) TouchAndGetObject(_ context.Context, objID id.ID, at time.Time) (*index.ObjectMetadata, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := objID.String()
	m, ok := idx.objects[k]
	if !ok {
		m = index.ObjectMetadata{ID: objID, TouchedAt: at}
	} else {
		m.TouchedAt = index.MergeTouchedAt(m.TouchedAt, at)
	}
	idx.objects[k] = m
	return &m, nil
}

func (idx *Index) GetProcess(_ context.Context, procID id.ID) (*index.ProcessMetadata, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	m, ok := idx.processes[procID.String()]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (idx *Index) PutProcess(_ context.Context, meta index.ProcessMetadata) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := meta.ID.String()
	if old, ok := idx.processes[k]; ok {
		meta.TouchedAt = index.MergeTouchedAt(old.TouchedAt, meta.TouchedAt)
		meta.ChildrenComplete = old.ChildrenComplete || meta.ChildrenComplete
		meta.CommandComplete = old.CommandComplete || meta.CommandComplete
		meta.ChildrenCommandsComplete = old.ChildrenCommandsComplete || meta.ChildrenCommandsComplete
		meta.OutputComplete = old.OutputComplete || meta.OutputComplete
		meta.ChildrenOutputsComplete = old.ChildrenOutputsComplete || meta.ChildrenOutputsComplete
	}
	idx.processes[k] = meta
	return nil
}

func (idx *Index) GetTag(_ context.Context, tag string) (*index.TagMetadata, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	m, ok := idx.tags[tag]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (idx *Index) PutTag(_ context.Context, meta index.TagMetadata) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if old, ok := idx.tags[meta.Tag]; ok {
		meta.TouchedAt = index.MergeTouchedAt(old.TouchedAt, meta.TouchedAt)
	}
	idx.tags[meta.Tag] = meta
	return nil
}

func (idx *Index) ListTags(_ context.Context, prefix string) ([]index.TagMetadata, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var out []index.TagMetadata
	for k, v := range idx.tags {
		if strings.HasPrefix(k, prefix) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

func (idx *Index) GetCacheEntry(_ context.Context, objID id.ID) (*index.CacheEntryMetadata, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	m, ok := idx.cacheEntries[objID.String()]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (idx *Index) PutCacheEntry(_ context.Context, meta index.CacheEntryMetadata) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := meta.ID.String()
	if old, ok := idx.cacheEntries[k]; ok {
		meta.TouchedAt = index.MergeTouchedAt(old.TouchedAt, meta.TouchedAt)
	}
	idx.cacheEntries[k] = meta
	return nil
}

func (idx *Index) DeleteCacheEntry(_ context.Context, objID id.ID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.cacheEntries, objID.String())
	return nil
}
