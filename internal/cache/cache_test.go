package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tangramdotdev/tangram/internal/blob"
	"github.com/tangramdotdev/tangram/internal/graph"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index/memoryindex"
	"github.com/tangramdotdev/tangram/internal/objectcodec"
	"github.com/tangramdotdev/tangram/internal/store/memorystore"
)

// TestCheckoutResolvesSelfReferencingGraphPointer builds a graph.Graph by
// hand whose directory node addresses its sibling file node through a
// self-referencing pointer (GraphID left zero, as build.go's
// directoryEntriesWithGraph encodes it), wrapped in an ordinary top-level
// directory that reaches the graph through a normal, fully resolved
// pointer. Checking it out exercises the zero-GraphID substitution in
// resolveEdge/resolvePointer end to end.
func TestCheckoutResolvesSelfReferencingGraphPointer(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()

	blobBuilder := blob.NewBuilder(st, blob.DefaultParams())
	contentRef, err := blobBuilder.Build(ctx, []byte("inside graph\n"))
	if err != nil {
		t.Fatalf("blob Build: %v", err)
	}

	g := &graph.Graph{Nodes: []graph.GraphNode{
		{Kind: graph.GraphNodeDirectory, Directory: &graph.Directory{
			Entries: []graph.DirectoryEntry{{
				Name: "f.txt",
				// Zero GraphID: a self-reference within this same graph.
				Edge: graph.Edge{Pointer: &graph.Pointer{Index: 1, Kind: id.KindFile}},
			}},
		}},
		{Kind: graph.GraphNodeFile, File: &graph.File{Contents: contentRef.ID}},
	}}
	graphID := objectcodec.IDOfGraph(g)
	if err := st.Put(ctx, graphID, objectcodec.EncodeGraph(g)); err != nil {
		t.Fatalf("store graph: %v", err)
	}

	top := &graph.Directory{Entries: []graph.DirectoryEntry{{
		Name: "inner",
		Edge: graph.Edge{Pointer: &graph.Pointer{GraphID: graphID, Index: 0, Kind: id.KindDirectory}},
	}}}
	topID := objectcodec.IDOfDirectory(top)
	if err := st.Put(ctx, topID, objectcodec.EncodeDirectory(top)); err != nil {
		t.Fatalf("store top directory: %v", err)
	}

	co := New(st, memoryindex.New(), t.TempDir())
	dest, err := co.Checkout(ctx, topID, "")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "inner", "f.txt"))
	if err != nil {
		t.Fatalf("read checked-out file: %v", err)
	}
	if string(got) != "inside graph\n" {
		t.Fatalf("got %q, want %q", got, "inside graph\n")
	}
}

func TestCheckoutFileRoot(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	blobBuilder := blob.NewBuilder(st, blob.DefaultParams())
	contentRef, err := blobBuilder.Build(ctx, []byte("top level file\n"))
	if err != nil {
		t.Fatalf("blob Build: %v", err)
	}
	file := &graph.File{Contents: contentRef.ID, Executable: true}
	fileID := objectcodec.IDOfFile(file)
	if err := st.Put(ctx, fileID, objectcodec.EncodeFile(file)); err != nil {
		t.Fatalf("store file: %v", err)
	}

	co := New(st, memoryindex.New(), t.TempDir())
	dest, err := co.Checkout(ctx, fileID, "")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode()&0o111 == 0 {
		t.Fatalf("expected the executable bit to be set on %s", dest)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "top level file\n" {
		t.Fatalf("got %q, want %q", got, "top level file\n")
	}
}

func TestCheckoutConcurrentSameArtifactJoinsSingleTask(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	dir := &graph.Directory{}
	dirID := objectcodec.IDOfDirectory(dir)
	if err := st.Put(ctx, dirID, objectcodec.EncodeDirectory(dir)); err != nil {
		t.Fatalf("store directory: %v", err)
	}

	co := New(st, memoryindex.New(), t.TempDir())
	done := make(chan string, 2)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			dest, err := co.Checkout(ctx, dirID, "")
			done <- dest
			errs <- err
		}()
	}
	first := <-done
	if err := <-errs; err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	second := <-done
	if err := <-errs; err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if first != second {
		t.Fatalf("concurrent checkouts of the same artifact should agree on one destination: %q != %q", first, second)
	}
	if _, err := os.Stat(first); err != nil {
		t.Fatalf("stat %s: %v", first, err)
	}
}
