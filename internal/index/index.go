// Package index defines the secondary index contract (spec §4.4): derived
// metadata about objects, processes, tags, and cache entries, updated
// with merge-on-put semantics so concurrent writers never lose
// information. touched_at merges by max, subtree/stored-flag fields merge
// by boolean-or/union.
package index

import (
	"context"
	"time"

	"github.com/tangramdotdev/tangram/internal/id"
)

// ObjectMetadata is the per-object facet of the index.
type ObjectMetadata struct {
	ID          id.ID
	TouchedAt   time.Time
	Stored      map[string]bool // backend name -> present, merged by union
	Complete    bool            // whole subtree (for directory/graph) is locally available
	SizeBytes   int64
	ChildrenIDs []id.ID
}

// ProcessMetadata is the per-process facet of the index. Completeness is
// tracked along five independent dimensions, each declared and skipped
// separately during sync: children, command, children' commands, output,
// and children's outputs.
type ProcessMetadata struct {
	ID                       id.ID
	TouchedAt                time.Time
	Status                   string
	ChildrenComplete         bool
	CommandComplete          bool
	ChildrenCommandsComplete bool
	OutputComplete           bool
	ChildrenOutputsComplete  bool
}

// TagMetadata is the per-tag facet of the index, recording the artifact a
// tag currently resolves to.
type TagMetadata struct {
	Tag       string
	ItemID    id.ID
	TouchedAt time.Time
}

// CacheEntryMetadata is the per-cache-entry facet of the index, recording
// what is materialized on disk under the check-out cache.
type CacheEntryMetadata struct {
	ID          id.ID
	TouchedAt   time.Time
	SizeBytes   int64
	DiskPath    string
}

// Backend is the secondary index contract. PutObject/PutProcess/PutTag/
// PutCacheEntry are merge-on-put: touched_at takes the max of the
// existing and incoming value, Stored is unioned, and Complete plus the
// five process completeness flags are OR'd.
type Backend interface {
	GetObject(ctx context.Context, id id.ID) (*ObjectMetadata, error)
	PutObject(ctx context.Context, meta ObjectMetadata) error

	// TouchAndGetObject is a single round trip combining a touched_at
	// bump with a read of Stored/Complete, to avoid the extra round trip
	// under contention that two separate calls would cost (spec §4.4).
	TouchAndGetObject(ctx context.Context, id id.ID, at time.Time) (*ObjectMetadata, error)

	GetProcess(ctx context.Context, id id.ID) (*ProcessMetadata, error)
	PutProcess(ctx context.Context, meta ProcessMetadata) error

	GetTag(ctx context.Context, tag string) (*TagMetadata, error)
	PutTag(ctx context.Context, meta TagMetadata) error
	ListTags(ctx context.Context, prefix string) ([]TagMetadata, error)

	GetCacheEntry(ctx context.Context, id id.ID) (*CacheEntryMetadata, error)
	PutCacheEntry(ctx context.Context, meta CacheEntryMetadata) error
	DeleteCacheEntry(ctx context.Context, id id.ID) error
}

// MergeTouchedAt returns the later of the two timestamps.
func MergeTouchedAt(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// MergeStored unions two backend-presence maps.
func MergeStored(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k, v := range a {
		out[k] = out[k] || v
	}
	for k, v := range b {
		out[k] = out[k] || v
	}
	return out
}
