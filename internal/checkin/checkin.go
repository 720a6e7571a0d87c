// Package checkin implements the check-in pipeline (spec §4.5): turning a
// directory on disk into a sealed, content-addressed object plus a
// lockfile recording how every discovered reference was solved.
//
// The pipeline runs in eight stages, generalizing the shape of the
// teacher's workspace scan (internal/workspace.ScanWorkspace) from a
// single flat commit snapshot to a graph of artifacts with external,
// tag-resolved dependencies: walk, lockfile-read, solve, graph-build,
// blob-create, object-create, lockfile-write, cache-placement.
package checkin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tangramdotdev/tangram/internal/blob"
	"github.com/tangramdotdev/tangram/internal/graph"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/store"
)

// Options configures a check-in run.
type Options struct {
	Root        string // absolute path to the directory being checked in
	CacheDir    string // absolute path to the local check-out cache
	Index       index.Backend
	Store       store.Backend
	BlobParams  blob.Params
	UseIgnore   bool // honor root-level .gitignore/.tangramignore; the default ignore names apply either way
	Watch       bool // keep per-root state so a later check-in can detect concurrent edits
}

// Result is the outcome of a successful check-in.
type Result struct {
	Root     graph.Referent
	Lockfile *Lockfile
}

// watchState is retained per root when Options.Watch is set, so a
// later check-in of the same root can detect whether any file changed
// underneath it mid-run (mirrors the version-counter check in
// original_source's checkin.rs watch mode).
type watchState struct {
	version int64
	modTime time.Time
}

var (
	watchMu    sync.Mutex
	watchByDir = make(map[string]*watchState)
)

// Checkin runs the full pipeline against opts.Root.
func Checkin(ctx context.Context, opts Options) (*Result, error) {
	if ref, ok, err := resolveCachePath(ctx, opts); err != nil {
		return nil, err
	} else if ok {
		return ref, nil
	}

	root, err := findPackageRoot(opts.Root)
	if err != nil {
		return nil, err
	}
	opts.Root = root

	var startVersion int64
	if opts.Watch {
		startVersion = beginWatch(root)
	}

	walk, err := walkRoot(root, opts.UseIgnore)
	if err != nil {
		return nil, fmt.Errorf("checkin: walk %s: %w", root, err)
	}

	lock, _, err := readLockfile(root)
	if err != nil {
		return nil, fmt.Errorf("checkin: read lockfile: %w", err)
	}
	if lock == nil {
		lock = &Lockfile{}
	}

	s := newSolver(opts.Index, lock)
	blobBuilder := blob.NewBuilder(opts.Store, opts.BlobParams)
	b := newBuilder(walk, s, blobBuilder, opts.Store)

	deps, err := b.resolveImports(ctx)
	if err != nil {
		return nil, err
	}

	rootReferent, err := b.build(ctx, deps)
	if err != nil {
		return nil, err
	}

	newLock := buildLockfile(walk, deps)
	if err := writeLockfile(root, newLock); err != nil {
		return nil, fmt.Errorf("checkin: write lockfile: %w", err)
	}

	if err := placeInCache(ctx, opts, walk, b); err != nil {
		return nil, err
	}

	if opts.Watch {
		if err := endWatch(root, startVersion); err != nil {
			return nil, err
		}
	}

	return &Result{Root: rootReferent, Lockfile: newLock}, nil
}

// resolveCachePath implements the re-checkin short-circuit: a check-in
// whose root already lives under the cache directory names an artifact
// that is already sealed, so the pipeline can answer from the index
// instead of re-walking and re-hashing the same bytes.
func resolveCachePath(ctx context.Context, opts Options) (*Result, bool, error) {
	if opts.CacheDir == "" {
		return nil, false, nil
	}
	rel, err := filepath.Rel(opts.CacheDir, opts.Root)
	if err != nil || rel == "." || len(rel) >= 2 && rel[:2] == ".." {
		return nil, false, nil
	}
	idPart := rel
	if idx := strings.IndexRune(rel, filepath.Separator); idx >= 0 {
		idPart = rel[:idx]
	}
	objID, err := id.Parse(idPart)
	if err != nil {
		return nil, false, nil
	}
	meta, err := opts.Index.GetObject(ctx, objID)
	if err != nil || meta == nil {
		return nil, false, nil
	}
	return &Result{Root: graph.Referent{ID: &objID}}, true, nil
}

// findPackageRoot walks upward from start looking for the nearest
// enclosing directory that already has a lockfile, stopping at the
// first ancestor it finds or at start itself if none does.
func findPackageRoot(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		abs = filepath.Dir(abs)
	}
	dir := abs
	for {
		if _, err := os.Stat(filepath.Join(dir, LockfileName)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

func beginWatch(root string) int64 {
	watchMu.Lock()
	defer watchMu.Unlock()
	st, ok := watchByDir[root]
	if !ok {
		st = &watchState{}
		watchByDir[root] = st
	}
	return st.version
}

// endWatch rejects the check-in if another check-in of the same root
// started and finished concurrently (its version moved past what this
// run observed at the start), per original_source's checkin.rs
// "files were modified during checkin" watch-mode guard.
func endWatch(root string, startVersion int64) error {
	watchMu.Lock()
	defer watchMu.Unlock()
	st := watchByDir[root]
	if st.version != startVersion {
		return fmt.Errorf("checkin: %s: files were modified during checkin", root)
	}
	st.version++
	st.modTime = time.Now()
	return nil
}

// buildLockfile renders the solved dependency graph into the on-disk
// lockfile shape: one node per walked entry, recording its kind, its
// relative path, a symlink's literal target, and a file's resolved imports.
func buildLockfile(walk *walkResult, deps map[string][]graph.Referent) *Lockfile {
	lock := &Lockfile{}
	for _, rel := range walk.Order {
		e := walk.Entries[rel]
		node := LockfileNode{Subpath: rel}
		switch e.Kind {
		case entryDirectory:
			node.Kind = "directory"
		case entryFile:
			node.Kind = "file"
			if ds := deps[rel]; len(ds) > 0 {
				node.Deps = make(map[string]string, len(ds))
				for i, d := range ds {
					node.Deps[fmt.Sprintf("import%d", i)] = referentString(d)
				}
			}
		case entrySymlink:
			node.Kind = "symlink"
			node.Target = e.Target
		}
		lock.Nodes = append(lock.Nodes, node)
	}
	return lock
}

func referentString(r graph.Referent) string {
	switch {
	case r.ID != nil:
		return r.ID.String()
	case r.Tag != "":
		return r.Tag
	default:
		return r.Path
	}
}

// placeInCache implements stage 8: every file entry built during this
// check-in is linked into the cache directory under its object id, and
// the store/index are updated to point at it instead of duplicating the
// bytes a second time.
func placeInCache(ctx context.Context, opts Options, walk *walkResult, b *builder) error {
	if opts.CacheDir == "" {
		return nil
	}
	for _, rel := range walk.Order {
		e := walk.Entries[rel]
		if e.Kind != entryFile {
			continue
		}
		res, ok := b.results[rel]
		if !ok || res.ID == nil {
			continue
		}
		objID := *res.ID
		dest := filepath.Join(opts.CacheDir, objID.String())
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
			return fmt.Errorf("checkin: create cache dir: %w", err)
		}
		if err := linkOrCopy(e.Path, dest); err != nil {
			return fmt.Errorf("checkin: place %s in cache: %w", rel, err)
		}
		info, err := os.Stat(dest)
		if err != nil {
			return err
		}
		ref := store.CacheReference{ArtifactID: objID, ByteLength: info.Size()}
		if err := opts.Store.PutCacheReference(ctx, objID, ref); err != nil {
			return fmt.Errorf("checkin: register cache reference for %s: %w", rel, err)
		}
		if err := opts.Index.PutCacheEntry(ctx, index.CacheEntryMetadata{
			ID:        objID,
			TouchedAt: time.Now(),
			SizeBytes: info.Size(),
			DiskPath:  dest,
		}); err != nil {
			return fmt.Errorf("checkin: index cache entry for %s: %w", rel, err)
		}
		if err := opts.Index.PutObject(ctx, index.ObjectMetadata{
			ID:        objID,
			TouchedAt: time.Now(),
			Stored:    map[string]bool{"local": true},
			Complete:  true,
			SizeBytes: info.Size(),
		}); err != nil {
			return fmt.Errorf("checkin: index object for %s: %w", rel, err)
		}
	}
	return nil
}

// linkOrCopy hardlinks src to dest, falling back to a full copy when the
// two paths cross a filesystem boundary (EXDEV) or hardlinks otherwise
// aren't supported.
func linkOrCopy(src, dest string) error {
	if err := os.Link(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
