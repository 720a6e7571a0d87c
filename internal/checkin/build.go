package checkin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tangramdotdev/tangram/internal/blob"
	"github.com/tangramdotdev/tangram/internal/graph"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/objectcodec"
	"github.com/tangramdotdev/tangram/internal/store"
)

// built is the outcome of object creation for one walk entry: either a
// plain sealed object (directory/file/symlink, each with its own id) or,
// for entries inside a strongly-connected component, a pointer into a
// shared graph object.
type built struct {
	ID      *id.ID
	Pointer *graph.Pointer
}

func (b built) referent() graph.Referent {
	if b.ID != nil {
		return graph.Referent{ID: b.ID}
	}
	return graph.Referent{}
}

func (b built) edge() graph.Edge {
	if b.Pointer != nil {
		return graph.Edge{Pointer: b.Pointer}
	}
	r := b.referent()
	return graph.Edge{Referent: &r}
}

// builder turns a walkResult plus solved import references into sealed
// objects (spec §4.5 stages 4-6): it groups entries into strongly
// connected components via the paths they reference within the same
// walk, collapses any non-trivial component into a single graph.Graph
// object, and otherwise builds plain directory/file/symlink objects
// bottom-up in topological order.
type builder struct {
	walk    *walkResult
	solver  *solver
	blob    *blob.Builder
	store   store.Backend
	results map[string]built
}

func newBuilder(walk *walkResult, s *solver, blobBuilder *blob.Builder, backend store.Backend) *builder {
	return &builder{
		walk:    walk,
		solver:  s,
		blob:    blobBuilder,
		store:   backend,
		results: make(map[string]built),
	}
}

// resolveImports runs the solver over every file's declared imports,
// recording the result under the declaring file's relative path. Imports
// that resolve to a path inside the walk are additionally recorded as
// graph edges for cycle detection; everything else (tag/id references)
// is solved immediately.
func (b *builder) resolveImports(ctx context.Context) (map[string][]graph.Referent, error) {
	deps := make(map[string][]graph.Referent)
	for _, rel := range b.walk.Order {
		e := b.walk.Entries[rel]
		if e.Kind != entryFile || len(e.Imports) == 0 {
			continue
		}
		referrerDir := filepath.Dir(e.Path)
		for _, ref := range e.Imports {
			referent, err := b.solver.resolve(ctx, referrerDir, ref)
			if err != nil {
				return nil, fmt.Errorf("checkin: resolve import %q in %s: %w", ref, rel, err)
			}
			deps[rel] = append(deps[rel], referent)
		}
	}
	return deps, nil
}

// inWalkPath converts a resolved path-kind referent back to the relative
// path it names inside this walk, if any; referents outside the walk
// (tag/id-resolved, or paths elsewhere on disk) return ok=false.
func (b *builder) inWalkPath(r graph.Referent) (string, bool) {
	if r.ID != nil || r.Path == "" {
		return "", false
	}
	rel, err := filepath.Rel(b.walk.Root, r.Path)
	if err != nil || rel == "." || len(rel) >= 2 && rel[:2] == ".." {
		return "", false
	}
	if _, ok := b.walk.Entries[rel]; !ok {
		return "", false
	}
	return rel, true
}

// symlinkTargetRel resolves a symlink entry's on-disk target against the
// walk root, returning the relative path it names inside the walk when the
// target lands there (ok=false for targets that escape the walk, or that
// can't be resolved at all).
func (b *builder) symlinkTargetRel(rel string) (string, bool) {
	e := b.walk.Entries[rel]
	if e.Target == "" {
		return "", false
	}
	target := e.Target
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(e.Path), target)
	}
	return b.inWalkPath(graph.Referent{Path: target})
}

// buildSymlink seals one symlink entry: a target that lands inside the
// walk becomes an artifact-pointing symlink (resolved to the target's own
// id once it has been built, so check-out's renderSymlinkTarget can follow
// it) rather than a literal path string. A target whose build result isn't
// available yet - because it is a member of the same strongly connected
// component as this symlink - is recorded as the unresolved path it named,
// the same convention buildGraph uses for an in-component file dependency.
func (b *builder) buildSymlink(rel string, e *entry) *graph.Symlink {
	target, ok := b.symlinkTargetRel(rel)
	if !ok {
		return &graph.Symlink{Target: e.Target}
	}
	if res, built := b.results[target]; built && res.ID != nil {
		return &graph.Symlink{Artifact: &graph.Referent{ID: res.ID}}
	}
	abs := e.Target
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(filepath.Dir(e.Path), abs)
	}
	return &graph.Symlink{Artifact: &graph.Referent{Path: abs}}
}

// tarjan finds strongly connected components over the within-walk
// reference graph (directory -> child entries, file -> in-walk import
// targets), the Go realization of spec §4.5 stage 4's "cycles ... are
// collapsed into a single graph object".
type tarjan struct {
	edges   map[string][]string
	index   map[string]int
	lowlink map[string]int
	onStack map[string]bool
	stack   []string
	counter int
	sccs    [][]string
}

func newTarjan(edges map[string][]string) *tarjan {
	return &tarjan{
		edges:   edges,
		index:   make(map[string]int),
		lowlink: make(map[string]int),
		onStack: make(map[string]bool),
	}
}

func (t *tarjan) run(order []string) [][]string {
	for _, v := range order {
		if _, seen := t.index[v]; !seen {
			t.strongConnect(v)
		}
	}
	return t.sccs
}

func (t *tarjan) strongConnect(v string) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.edges[v] {
		if _, seen := t.index[w]; !seen {
			t.strongConnect(w)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] {
			if t.index[w] < t.lowlink[v] {
				t.lowlink[v] = t.index[w]
			}
		}
	}

	if t.lowlink[v] == t.index[v] {
		var scc []string
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		t.sccs = append(t.sccs, scc)
	}
}

// build runs the full object-creation pipeline and returns the top-level
// entry's referent (the package root's own sealed object).
// rootKey is the sentinel relative path naming the package root directory
// itself. walkRoot never records an entry for root (only its descendants),
// since filepath.Dir of every top-level path is already "." — so "." also
// stands in for the root directory node here.
const rootKey = "."

func (b *builder) build(ctx context.Context, deps map[string][]graph.Referent) (graph.Referent, error) {
	edges := make(map[string][]string)
	edges[rootKey] = b.childrenOf(rootKey)
	for rel, e := range b.walk.Entries {
		if e.Kind == entryDirectory {
			edges[rel] = b.childrenOf(rel)
		}
	}
	for rel, ds := range deps {
		for _, d := range ds {
			if target, ok := b.inWalkPath(d); ok {
				edges[rel] = append(edges[rel], target)
			}
		}
	}
	for rel, e := range b.walk.Entries {
		if e.Kind == entrySymlink {
			if target, ok := b.symlinkTargetRel(rel); ok {
				edges[rel] = append(edges[rel], target)
			}
		}
	}

	order := append([]string{rootKey}, b.walk.Order...)
	sccs := newTarjan(edges).run(order)

	for _, scc := range sccs {
		if len(scc) == 1 && !selfLoop(edges, scc[0]) {
			if err := b.buildPlain(ctx, scc[0], deps); err != nil {
				return graph.Referent{}, err
			}
			continue
		}
		if err := b.buildGraph(ctx, scc, deps); err != nil {
			return graph.Referent{}, err
		}
	}

	root, ok := b.results[rootKey]
	if !ok {
		return graph.Referent{}, fmt.Errorf("checkin: no object built for package root")
	}
	return root.referent(), nil
}

// childrenOf returns the relative paths of every entry directly contained
// in the directory named by rel (rootKey for the package root itself).
func (b *builder) childrenOf(rel string) []string {
	var children []string
	for other := range b.walk.Entries {
		if filepath.Dir(other) == rel {
			children = append(children, other)
		}
	}
	return children
}

func selfLoop(edges map[string][]string, v string) bool {
	for _, w := range edges[v] {
		if w == v {
			return true
		}
	}
	return false
}

// buildPlain seals one non-cyclic entry into its own directory/file/
// symlink object and writes its canonical bytes to the store.
func (b *builder) buildPlain(ctx context.Context, rel string, deps map[string][]graph.Referent) error {
	if rel == rootKey {
		dir := &graph.Directory{Entries: b.directoryEntries(rel)}
		return b.putDirectory(ctx, rel, dir)
	}
	e := b.walk.Entries[rel]
	switch e.Kind {
	case entryDirectory:
		dir := &graph.Directory{Entries: b.directoryEntries(rel)}
		return b.putDirectory(ctx, rel, dir)
	case entryFile:
		contents, err := b.buildFileBlob(ctx, e.Path)
		if err != nil {
			return err
		}
		file := &graph.File{
			Contents:     contents,
			Executable:   e.Executable,
			Dependencies: dependencyMap(deps[rel]),
		}
		objID := objectcodec.IDOfFile(file)
		if err := b.store.Put(ctx, objID, objectcodec.EncodeFile(file)); err != nil {
			return fmt.Errorf("checkin: store file object for %s: %w", rel, err)
		}
		b.results[rel] = built{ID: &objID}
	case entrySymlink:
		sym := b.buildSymlink(rel, e)
		objID := objectcodec.IDOfSymlink(sym)
		if err := b.store.Put(ctx, objID, objectcodec.EncodeSymlink(sym)); err != nil {
			return fmt.Errorf("checkin: store symlink object for %s: %w", rel, err)
		}
		b.results[rel] = built{ID: &objID}
	}
	return nil
}

func (b *builder) putDirectory(ctx context.Context, rel string, dir *graph.Directory) error {
	objID := objectcodec.IDOfDirectory(dir)
	if err := b.store.Put(ctx, objID, objectcodec.EncodeDirectory(dir)); err != nil {
		return fmt.Errorf("checkin: store directory object for %s: %w", rel, err)
	}
	b.results[rel] = built{ID: &objID}
	return nil
}

// buildGraph seals a strongly connected set of entries into a single
// graph.Graph object, each member addressed by the others via
// graph.Pointer rather than a resolved id.
func (b *builder) buildGraph(ctx context.Context, scc []string, deps map[string][]graph.Referent) error {
	sort.Strings(scc)
	memberIndex := make(map[string]int, len(scc))
	for i, rel := range scc {
		memberIndex[rel] = i
	}

	g := &graph.Graph{Nodes: make([]graph.GraphNode, len(scc))}
	for i, rel := range scc {
		if rel == rootKey {
			entries := b.directoryEntriesWithGraph(rel, memberIndex)
			g.Nodes[i] = graph.GraphNode{Kind: graph.GraphNodeDirectory, Directory: &graph.Directory{Entries: entries}}
			continue
		}
		e := b.walk.Entries[rel]
		switch e.Kind {
		case entryDirectory:
			entries := b.directoryEntriesWithGraph(rel, memberIndex)
			g.Nodes[i] = graph.GraphNode{Kind: graph.GraphNodeDirectory, Directory: &graph.Directory{Entries: entries}}
		case entryFile:
			contents, err := b.buildFileBlob(ctx, e.Path)
			if err != nil {
				return err
			}
			// graph.Referent has no in-graph pointer variant (only a
			// Directory's Edge does), so a dependency that closes a
			// cycle through another file in this same component is
			// left as the unresolved path it named; it resolves once
			// this graph object and its siblings are indexed.
			g.Nodes[i] = graph.GraphNode{Kind: graph.GraphNodeFile, File: &graph.File{
				Contents:     contents,
				Executable:   e.Executable,
				Dependencies: dependencyMap(deps[rel]),
			}}
		case entrySymlink:
			g.Nodes[i] = graph.GraphNode{Kind: graph.GraphNodeSymlink, Symlink: b.buildSymlink(rel, e)}
		}
	}

	graphID := objectcodec.IDOfGraph(g)
	if err := b.store.Put(ctx, graphID, objectcodec.EncodeGraph(g)); err != nil {
		return fmt.Errorf("checkin: store graph object for component %v: %w", scc, err)
	}
	for i, rel := range scc {
		kind := id.KindDirectory
		switch g.Nodes[i].Kind {
		case graph.GraphNodeFile:
			kind = id.KindFile
		case graph.GraphNodeSymlink:
			kind = id.KindSymlink
		}
		b.results[rel] = built{Pointer: &graph.Pointer{GraphID: graphID, Index: i, Kind: kind}}
	}
	return nil
}

func (b *builder) directoryEntries(rel string) []graph.DirectoryEntry {
	var children []string
	for other := range b.walk.Entries {
		if filepath.Dir(other) == rel {
			children = append(children, other)
		}
	}
	sort.Strings(children)
	entries := make([]graph.DirectoryEntry, 0, len(children))
	for _, child := range children {
		res, ok := b.results[child]
		if !ok {
			continue
		}
		entries = append(entries, graph.DirectoryEntry{Name: filepath.Base(child), Edge: res.edge()})
	}
	return entries
}

func (b *builder) directoryEntriesWithGraph(rel string, memberIndex map[string]int) []graph.DirectoryEntry {
	var children []string
	for other := range b.walk.Entries {
		if filepath.Dir(other) == rel {
			children = append(children, other)
		}
	}
	sort.Strings(children)
	entries := make([]graph.DirectoryEntry, 0, len(children))
	for _, child := range children {
		if idx, inSCC := memberIndex[child]; inSCC {
			kind := id.KindDirectory
			if b.walk.Entries[child].Kind == entryFile {
				kind = id.KindFile
			} else if b.walk.Entries[child].Kind == entrySymlink {
				kind = id.KindSymlink
			}
			entries = append(entries, graph.DirectoryEntry{
				Name: filepath.Base(child),
				Edge: graph.Edge{Pointer: &graph.Pointer{Index: idx, Kind: kind}},
			})
			continue
		}
		res, ok := b.results[child]
		if !ok {
			continue
		}
		entries = append(entries, graph.DirectoryEntry{Name: filepath.Base(child), Edge: res.edge()})
	}
	return entries
}

func (b *builder) buildFileBlob(ctx context.Context, path string) (id.ID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return id.ID{}, err
	}
	ref, err := b.blob.Build(ctx, data)
	if err != nil {
		return id.ID{}, err
	}
	return ref.ID, nil
}

func dependencyMap(refs []graph.Referent) map[string]graph.Referent {
	if len(refs) == 0 {
		return nil
	}
	out := make(map[string]graph.Referent, len(refs))
	for i, r := range refs {
		out[fmt.Sprintf("import%d", i)] = r
	}
	return out
}
