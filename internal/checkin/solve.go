package checkin

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/tangramdotdev/tangram/internal/graph"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/tag"
)

// prefetchLimit bounds concurrent tag-list/candidate-object lookups
// during solve (spec §4.5 stage 3's "bounded semaphore, default 16").
const prefetchLimit = 16

// solver resolves every unresolved import discovered during the walk into
// a graph.Referent, consulting the index's tag table for tag references.
// The lockfile it holds is not consulted: every tag reference is listed
// and re-selected on each check-in.
type solver struct {
	index index.Backend
	lock  *Lockfile
	sem   *semaphore.Weighted
}

func newSolver(idx index.Backend, lock *Lockfile) *solver {
	return &solver{index: idx, lock: lock, sem: semaphore.NewWeighted(prefetchLimit)}
}

// resolve implements spec §4.5 stage 3 for one import reference declared
// by a module source file at referrerDir.
func (s *solver) resolve(ctx context.Context, referrerDir string, ref string) (graph.Referent, error) {
	switch {
	case strings.HasPrefix(ref, ".") || strings.HasPrefix(ref, "/"):
		joined := ref
		if !filepath.IsAbs(ref) {
			joined = filepath.Clean(filepath.Join(referrerDir, ref))
		}
		return graph.Referent{Path: joined}, nil

	default:
		if parsed, err := id.Parse(ref); err == nil {
			return graph.Referent{ID: &parsed}, nil
		}
		return s.resolveTag(ctx, ref)
	}
}

// resolveTag resolves a "name" or "name@pattern" reference against the
// index's tag table: it lists every tag sharing the name prefix, filters
// by the version pattern, and selects the greatest satisfying version
// (spec §4.5 stage 3's "select the greatest version satisfying the
// pattern").
func (s *solver) resolveTag(ctx context.Context, ref string) (graph.Referent, error) {
	name, pattern, hasPattern := strings.Cut(ref, "@")
	if !hasPattern {
		pattern = "*"
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return graph.Referent{}, err
	}
	defer s.sem.Release(1)

	candidates, err := s.index.ListTags(ctx, name+"/")
	if err != nil {
		return graph.Referent{}, fmt.Errorf("checkin: list tags for %q: %w", name, err)
	}
	p := tag.NewPattern(pattern)

	var best *index.TagMetadata
	var bestVersion string
	for i := range candidates {
		c := candidates[i]
		version := strings.TrimPrefix(c.Tag, name+"/")
		if !p.Matches(version) {
			continue
		}
		if best == nil || tag.Compare(version, bestVersion) == tag.Greater {
			best = &candidates[i]
			bestVersion = version
		}
	}
	if best == nil {
		return graph.Referent{}, fmt.Errorf("checkin: no tag satisfies %q", ref)
	}
	itemID := best.ItemID
	return graph.Referent{ID: &itemID, Tag: best.Tag}, nil
}
