// Package cache implements check-out (spec §4.6): materializing a sealed
// artifact onto disk as a canonical, content-addressed tree under a single
// cache directory, with per-ID dedup, hardlink-or-copy sharing of file
// content across checkouts, relative symlink rendering, and a
// reproducible epoch mtime.
//
// This generalizes the teacher's internal/workspace.Materializer (which
// renders one flat workspace snapshot from a wsindex) to the spec's
// recursive, cycle-tolerant artifact graph addressed by internal/graph and
// internal/objectcodec.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tangramdotdev/tangram/internal/blob"
	"github.com/tangramdotdev/tangram/internal/cache/taskmap"
	"github.com/tangramdotdev/tangram/internal/graph"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/objectcodec"
	"github.com/tangramdotdev/tangram/internal/store"
)

// recurseLimit bounds concurrent directory-entry recursion during
// check-out, matching the "parallel, bounded" wording of spec §4.6 step 2.
const recurseLimit = 16

// dependenciesXattr is the extended attribute name file check-outs carry
// their declared dependency closure under, so a later check-in can
// recover it without re-solving.
const dependenciesXattr = "user.tangram.dependencies"

// Checkout materializes sealed artifacts onto disk.
type Checkout struct {
	Store    store.Backend
	Index    index.Backend
	CacheDir string
	Blob     *blob.Loader

	tasks *taskmap.Map
	sem   *semaphore.Weighted
}

// New constructs a Checkout over the given store/index and cache
// directory.
func New(backend store.Backend, idx index.Backend, cacheDir string) *Checkout {
	return &Checkout{
		Store:    backend,
		Index:    idx,
		CacheDir: cacheDir,
		Blob:     blob.NewLoader(backend),
		tasks:    taskmap.New(),
		sem:      semaphore.NewWeighted(recurseLimit),
	}
}

// decoded is a resolved artifact payload, regardless of whether it came
// from its own stored id or from a node inside a graph object.
type decoded struct {
	kind id.Kind
	dir  *graph.Directory
	file *graph.File
	sym  *graph.Symlink

	// graphID is the id of the enclosing graph.Graph object when this
	// payload was resolved from a graph node rather than fetched by its
	// own id; zero otherwise. It lets a pointer nested inside this
	// payload whose own GraphID is left zero (a self-reference within
	// the same graph) resolve against the right object.
	graphID id.ID
}

// Checkout materializes artifactID under c.CacheDir (path
// <cache>/<artifact-id>) unless dest is set, in which case it materializes
// there directly. Concurrent checkouts of the same default destination
// join a single in-flight task (spec §4.6 step 1).
func (c *Checkout) Checkout(ctx context.Context, artifactID id.ID, dest string) (string, error) {
	usesDefaultDest := dest == ""
	if usesDefaultDest {
		dest = filepath.Join(c.CacheDir, artifactID.String())
	}

	if _, err := os.Lstat(dest); err == nil {
		return dest, nil
	}

	run := func(ctx context.Context) error { return c.checkoutInto(ctx, artifactID, dest) }
	if !usesDefaultDest {
		return dest, run(ctx)
	}
	return dest, c.tasks.Do(ctx, artifactID, run)
}

func (c *Checkout) checkoutInto(ctx context.Context, artifactID id.ID, dest string) error {
	if _, err := os.Lstat(dest); err == nil {
		return nil
	}

	if err := os.MkdirAll(c.CacheDir, 0o755); err != nil {
		return fmt.Errorf("cache: create cache dir: %w", err)
	}
	tmp, err := os.MkdirTemp(c.CacheDir, "checkout-*")
	if err != nil {
		return fmt.Errorf("cache: create temp root: %w", err)
	}
	defer os.RemoveAll(tmp)

	root, err := c.fetch(ctx, artifactID)
	if err != nil {
		return err
	}

	tmpTarget := filepath.Join(tmp, "root")
	if err := c.materialize(ctx, tmpTarget, artifactID, root, 0, tmp); err != nil {
		return err
	}

	if err := os.Rename(tmpTarget, dest); err != nil {
		if _, statErr := os.Lstat(dest); statErr == nil {
			return nil // another worker won the race (spec §4.6 step 3)
		}
		return fmt.Errorf("cache: rename %s to %s: %w", tmpTarget, dest, err)
	}

	if err := setEpochMtimeRecursive(dest); err != nil {
		return fmt.Errorf("cache: set epoch mtime under %s: %w", dest, err)
	}
	return nil
}

// fetch loads and decodes the stored object named by objID.
func (c *Checkout) fetch(ctx context.Context, objID id.ID) (decoded, error) {
	res, err := c.Store.Get(ctx, objID)
	if err != nil {
		return decoded{}, fmt.Errorf("cache: get %s: %w", objID, err)
	}
	switch objID.Kind() {
	case id.KindDirectory:
		d, err := objectcodec.DecodeDirectory(res.Bytes)
		if err != nil {
			return decoded{}, err
		}
		return decoded{kind: id.KindDirectory, dir: d}, nil
	case id.KindFile:
		f, err := objectcodec.DecodeFile(res.Bytes)
		if err != nil {
			return decoded{}, err
		}
		return decoded{kind: id.KindFile, file: f}, nil
	case id.KindSymlink:
		s, err := objectcodec.DecodeSymlink(res.Bytes)
		if err != nil {
			return decoded{}, err
		}
		return decoded{kind: id.KindSymlink, sym: s}, nil
	default:
		return decoded{}, fmt.Errorf("cache: cannot check out object kind %s", objID.Kind())
	}
}

// resolveEdge resolves a directory entry's edge to its payload, following
// either a direct id or an in-graph pointer. graphID is the id of the
// graph.Graph object that owns e (zero if the directory holding e isn't
// itself a graph member); a pointer with a zero GraphID is a
// self-reference within that same graph (mirroring the original
// implementation's pointer.graph = None) and resolves against graphID.
func (c *Checkout) resolveEdge(ctx context.Context, e graph.Edge, graphID id.ID) (decoded, error) {
	if e.Pointer != nil {
		p := *e.Pointer
		if p.GraphID.IsZero() {
			p.GraphID = graphID
		}
		return c.resolvePointer(ctx, p)
	}
	if e.Referent == nil || e.Referent.ID == nil {
		return decoded{}, fmt.Errorf("cache: directory entry has an unresolved edge")
	}
	return c.fetch(ctx, *e.Referent.ID)
}

func (c *Checkout) resolvePointer(ctx context.Context, p graph.Pointer) (decoded, error) {
	res, err := c.Store.Get(ctx, p.GraphID)
	if err != nil {
		return decoded{}, fmt.Errorf("cache: get graph %s: %w", p.GraphID, err)
	}
	g, err := objectcodec.DecodeGraph(res.Bytes)
	if err != nil {
		return decoded{}, err
	}
	if p.Index < 0 || p.Index >= len(g.Nodes) {
		return decoded{}, fmt.Errorf("cache: pointer index %d out of range for graph %s", p.Index, p.GraphID)
	}
	node := g.Nodes[p.Index]
	switch node.Kind {
	case graph.GraphNodeDirectory:
		return decoded{kind: id.KindDirectory, dir: node.Directory, graphID: p.GraphID}, nil
	case graph.GraphNodeFile:
		return decoded{kind: id.KindFile, file: node.File, graphID: p.GraphID}, nil
	case graph.GraphNodeSymlink:
		return decoded{kind: id.KindSymlink, sym: node.Symlink, graphID: p.GraphID}, nil
	default:
		return decoded{}, fmt.Errorf("cache: unknown graph node kind %d", node.Kind)
	}
}

// materialize writes one artifact's rendered form at destPath.
// tmpRoot is the temporary top-level directory this whole checkout is
// assembling under, used to render self-referential symlinks before the
// atomic rename that gives the tree its final name.
func (c *Checkout) materialize(ctx context.Context, destPath string, topLevelID id.ID, d decoded, depth int, tmpRoot string) error {
	switch d.kind {
	case id.KindDirectory:
		return c.materializeDirectory(ctx, destPath, topLevelID, d.dir, depth, tmpRoot, d.graphID)
	case id.KindFile:
		if depth == 0 {
			return c.writeFile(ctx, destPath, d.file)
		}
		return c.materializeFileAtDepth(ctx, destPath, d.file)
	case id.KindSymlink:
		return c.materializeSymlink(ctx, destPath, topLevelID, d.sym, tmpRoot)
	default:
		return fmt.Errorf("cache: unknown decoded kind %d", d.kind)
	}
}

func (c *Checkout) materializeDirectory(ctx context.Context, destPath string, topLevelID id.ID, dir *graph.Directory, depth int, tmpRoot string, graphID id.ID) error {
	if err := os.MkdirAll(destPath, 0o755); err != nil {
		return fmt.Errorf("cache: mkdir %s: %w", destPath, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(dir.Entries))
	for i, entry := range dir.Entries {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func(i int, entry graph.DirectoryEntry) {
			defer wg.Done()
			defer c.sem.Release(1)
			child, err := c.resolveEdge(ctx, entry.Edge, graphID)
			if err != nil {
				errs[i] = err
				return
			}
			childDest := filepath.Join(destPath, entry.Name)
			errs[i] = c.materialize(ctx, childDest, topLevelID, child, depth+1, tmpRoot)
		}(i, entry)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// materializeFileAtDepth implements the depth>0 case: the file is checked
// out to its own cache entry first (deduped across the whole process via
// the task map), then hardlinked into destPath.
func (c *Checkout) materializeFileAtDepth(ctx context.Context, destPath string, file *graph.File) error {
	for _, dep := range file.Dependencies {
		if dep.ID != nil {
			if _, err := c.Checkout(ctx, *dep.ID, ""); err != nil {
				return fmt.Errorf("cache: check out dependency %s: %w", dep.ID, err)
			}
		}
	}

	fileID := objectcodec.IDOfFile(file)
	cachePath := filepath.Join(c.CacheDir, fileID.String())
	err := c.tasks.Do(ctx, fileID, func(ctx context.Context) error {
		if _, err := os.Lstat(cachePath); err == nil {
			return nil
		}
		return c.writeFile(ctx, cachePath, file)
	})
	if err != nil {
		return err
	}

	if err := linkOrCopy(cachePath, destPath); err != nil {
		return fmt.Errorf("cache: link %s to %s: %w", cachePath, destPath, err)
	}
	return nil
}

// writeFile streams a file's blob contents into destPath, sets the
// executable bit, and records its dependency closure in an extended
// attribute (falling back to a sidecar file on platforms without xattr
// support).
func (c *Checkout) writeFile(ctx context.Context, destPath string, file *graph.File) error {
	content, err := c.Blob.ReadAll(ctx, blob.NodeRef{ID: file.Contents})
	if err != nil {
		return fmt.Errorf("cache: read blob %s: %w", file.Contents, err)
	}

	mode := os.FileMode(0o644)
	if file.Executable {
		mode = 0o755
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".checkout-file-*")
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("cache: write %s: %w", tmpPath, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("cache: chmod %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if len(file.Dependencies) > 0 {
		depsJSON, err := json.Marshal(file.Dependencies)
		if err != nil {
			return fmt.Errorf("cache: marshal dependencies: %w", err)
		}
		if err := setDependenciesXattr(tmpPath, depsJSON); err != nil {
			return fmt.Errorf("cache: set %s on %s: %w", dependenciesXattr, tmpPath, err)
		}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		if _, statErr := os.Lstat(destPath); statErr == nil {
			os.Remove(tmpPath)
			return nil
		}
		return fmt.Errorf("cache: rename %s to %s: %w", tmpPath, destPath, err)
	}
	return nil
}

// materializeSymlink renders a symlink's target (verbatim, or diffed
// against an artifact's check-out path, with the self-referential
// top-level case rendered against tmpRoot) and creates it.
func (c *Checkout) materializeSymlink(ctx context.Context, destPath string, topLevelID id.ID, sym *graph.Symlink, tmpRoot string) error {
	target, err := c.renderSymlinkTarget(ctx, destPath, topLevelID, sym, tmpRoot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	if err := os.Symlink(target, destPath); err != nil {
		return fmt.Errorf("cache: symlink %s -> %s: %w", destPath, target, err)
	}
	return nil
}

func (c *Checkout) renderSymlinkTarget(ctx context.Context, destPath string, topLevelID id.ID, sym *graph.Symlink, tmpRoot string) (string, error) {
	if sym.Artifact == nil {
		return sym.Target, nil
	}
	if sym.Artifact.ID == nil {
		return "", fmt.Errorf("cache: symlink artifact referent is unresolved")
	}

	linkDir := filepath.Dir(destPath)
	var artifactPath string
	if *sym.Artifact.ID == topLevelID {
		artifactPath = filepath.Join(tmpRoot, "root")
	} else {
		path, err := c.Checkout(ctx, *sym.Artifact.ID, "")
		if err != nil {
			return "", fmt.Errorf("cache: check out symlink target %s: %w", sym.Artifact.ID, err)
		}
		artifactPath = path
		// tmpRoot/root is renamed to <cache>/<topLevelID> once complete, so
		// a link to another cache entry is diffed from the directory it
		// occupies after that rename.
		inner, err := filepath.Rel(filepath.Join(tmpRoot, "root"), linkDir)
		if err != nil {
			return "", fmt.Errorf("cache: relativize symlink location: %w", err)
		}
		linkDir = filepath.Join(c.CacheDir, topLevelID.String(), inner)
	}
	if sym.Subpath != "" {
		artifactPath = filepath.Join(artifactPath, sym.Subpath)
	}

	rel, err := filepath.Rel(linkDir, artifactPath)
	if err != nil {
		return "", fmt.Errorf("cache: relativize symlink target: %w", err)
	}
	return rel, nil
}

// ReadDependencies recovers the dependency closure a previous check-out
// recorded on a checked-out file, so a check-in over that same cache tree
// can rebuild a file's declared dependencies without re-solving them.
func ReadDependencies(path string) (map[string]graph.Referent, error) {
	data, err := getDependenciesXattr(path)
	if err != nil {
		return nil, err
	}
	var deps map[string]graph.Referent
	if err := json.Unmarshal(data, &deps); err != nil {
		return nil, fmt.Errorf("cache: unmarshal dependencies recorded on %s: %w", path, err)
	}
	return deps, nil
}

// linkOrCopy hardlinks src to dest, falling back to a byte copy when
// hardlinks are forbidden (spec §4.6 step 2's ".app bundle" case).
func linkOrCopy(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.Link(src, dest); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, info.Mode()); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	return nil
}

// setEpochMtimeRecursive sets every entry under root to the Unix epoch so
// checkouts are byte-reproducible (spec §4.6 step 4).
func setEpochMtimeRecursive(root string) error {
	epoch := time.Unix(0, 0)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return setEpochMtime(path, d.Type()&os.ModeSymlink != 0, epoch)
	})
}
