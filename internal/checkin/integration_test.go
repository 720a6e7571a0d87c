package checkin_test

// End-to-end coverage over the check-in/check-out round trip, one test per
// scenario named in spec.md's worked examples: a single file, a directory
// with duplicate content, a symlink dependency, a cycle closed through a
// graph object, tag-pattern resolution, and concurrent check-in of the
// same root.

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tangramdotdev/tangram/internal/blob"
	"github.com/tangramdotdev/tangram/internal/cache"
	"github.com/tangramdotdev/tangram/internal/checkin"
	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/index/memoryindex"
	"github.com/tangramdotdev/tangram/internal/store/memorystore"
)

func idOf(t *testing.T, raw []byte) id.ID {
	t.Helper()
	return id.New(id.KindDirectory, raw)
}

func checkinOpts(root string, idx index.Backend, st *memorystore.Store) checkin.Options {
	return checkin.Options{
		Root:       root,
		Index:      idx,
		Store:      st,
		BlobParams: blob.DefaultParams(),
	}
}

func TestCheckinCheckoutHelloWorldFile(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world\n"), 0o644); err != nil {
		t.Fatalf("write hello.txt: %v", err)
	}

	st := memorystore.New()
	idx := memoryindex.New()
	result, err := checkin.Checkin(ctx, checkinOpts(root, idx, st))
	if err != nil {
		t.Fatalf("Checkin: %v", err)
	}
	if result.Root.ID == nil {
		t.Fatalf("expected a resolved root id")
	}

	co := cache.New(st, idx, t.TempDir())
	dest, err := co.Checkout(ctx, *result.Root.ID, "")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "hello.txt"))
	if err != nil {
		t.Fatalf("read checked-out file: %v", err)
	}
	if string(got) != "hello world\n" {
		t.Fatalf("got %q, want %q", got, "hello world\n")
	}
}

func TestCheckinCheckoutDirectoryWithDuplicateFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	content := []byte("shared content\n")
	if err := os.WriteFile(filepath.Join(root, "a.txt"), content, 0o644); err != nil {
		t.Fatalf("write a.txt: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.txt"), content, 0o644); err != nil {
		t.Fatalf("write b.txt: %v", err)
	}

	st := memorystore.New()
	idx := memoryindex.New()
	result, err := checkin.Checkin(ctx, checkinOpts(root, idx, st))
	if err != nil {
		t.Fatalf("Checkin: %v", err)
	}

	co := cache.New(st, idx, t.TempDir())
	dest, err := co.Checkout(ctx, *result.Root.ID, "")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	for _, name := range []string{"a.txt", "b.txt"} {
		got, err := os.ReadFile(filepath.Join(dest, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(got) != string(content) {
			t.Fatalf("%s: got %q, want %q", name, got, content)
		}
	}
}

func TestCheckinCheckoutSymlinkDependency(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("A content\n"), 0o644); err != nil {
		t.Fatalf("write a.txt: %v", err)
	}
	if err := os.Symlink("a.txt", filepath.Join(root, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	st := memorystore.New()
	idx := memoryindex.New()
	result, err := checkin.Checkin(ctx, checkinOpts(root, idx, st))
	if err != nil {
		t.Fatalf("Checkin: %v", err)
	}

	co := cache.New(st, idx, t.TempDir())
	dest, err := co.Checkout(ctx, *result.Root.ID, "")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	linkPath := filepath.Join(dest, "link")
	info, err := os.Lstat(linkPath)
	if err != nil {
		t.Fatalf("lstat link: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatalf("expected %s to be a symlink", linkPath)
	}
	target, err := os.Readlink(linkPath)
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	resolved := filepath.Clean(filepath.Join(filepath.Dir(linkPath), target))
	got, err := os.ReadFile(resolved)
	if err != nil {
		t.Fatalf("read symlink target %s: %v", resolved, err)
	}
	if string(got) != "A content\n" {
		t.Fatalf("got %q via symlink, want %q", got, "A content\n")
	}
}

// TestCheckinCheckoutCycleAcrossDirectories covers the case that actually
// produces a self-referencing, zero-GraphID directory-entry pointer: two
// sibling directories whose module sources import each other's whole
// directory, so tarjan collapses both directories and both files into one
// graph.Graph object, and each directory's own entry for its file is
// addressed by an in-graph pointer rather than a resolved id.
func TestCheckinCheckoutCycleAcrossDirectories(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "a"), 0o755); err != nil {
		t.Fatalf("mkdir a: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "b"), 0o755); err != nil {
		t.Fatalf("mkdir b: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "a", "mod.tg"), []byte(`import "../b"`+"\n"), 0o644); err != nil {
		t.Fatalf("write a/mod.tg: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "b", "mod.tg"), []byte(`import "../a"`+"\n"), 0o644); err != nil {
		t.Fatalf("write b/mod.tg: %v", err)
	}

	st := memorystore.New()
	idx := memoryindex.New()
	result, err := checkin.Checkin(ctx, checkinOpts(root, idx, st))
	if err != nil {
		t.Fatalf("Checkin: %v", err)
	}
	if result.Root.ID == nil {
		t.Fatalf("expected a resolved root id")
	}

	co := cache.New(st, idx, t.TempDir())
	dest, err := co.Checkout(ctx, *result.Root.ID, "")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	for _, name := range []string{filepath.Join("a", "mod.tg"), filepath.Join("b", "mod.tg")} {
		if _, err := os.Stat(filepath.Join(dest, name)); err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
	}
}

func TestCheckinResolvesTagPattern(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "mod.tg"), []byte(`import "std@^1.0.0"`+"\n"), 0o644); err != nil {
		t.Fatalf("write mod.tg: %v", err)
	}

	st := memorystore.New()
	idx := memoryindex.New()
	itemID := func(name string) []byte { return []byte(name) }
	for _, tm := range []index.TagMetadata{
		{Tag: "std/1.0.0", ItemID: idOf(t, itemID("v1")), TouchedAt: time.Now()},
		{Tag: "std/1.5.0", ItemID: idOf(t, itemID("v1.5")), TouchedAt: time.Now()},
		{Tag: "std/2.0.0", ItemID: idOf(t, itemID("v2")), TouchedAt: time.Now()},
	} {
		if err := idx.PutTag(ctx, tm); err != nil {
			t.Fatalf("PutTag: %v", err)
		}
	}

	result, err := checkin.Checkin(ctx, checkinOpts(root, idx, st))
	if err != nil {
		t.Fatalf("Checkin: %v", err)
	}

	var found bool
	for _, node := range result.Lockfile.Nodes {
		if node.Subpath == "mod.tg" {
			found = true
			want := idOf(t, itemID("v1.5")).String()
			if node.Deps["import0"] != want {
				t.Fatalf("got dep %q, want %q, the item of the greatest ^1.0.0-satisfying version std/1.5.0", node.Deps["import0"], want)
			}
		}
	}
	if !found {
		t.Fatalf("lockfile has no node for mod.tg: %+v", result.Lockfile.Nodes)
	}
}

func TestConcurrentCheckinSameRootIsConsistent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world\n"), 0o644); err != nil {
		t.Fatalf("write hello.txt: %v", err)
	}

	st := memorystore.New()
	idx := memoryindex.New()
	opts := checkinOpts(root, idx, st)

	const workers = 8
	results := make([]*checkin.Result, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = checkin.Checkin(ctx, opts)
		}(i)
	}
	wg.Wait()

	var want *id.ID
	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: Checkin: %v", i, err)
		}
		if results[i].Root.ID == nil {
			t.Fatalf("worker %d: expected a resolved root id", i)
		}
		if want == nil {
			want = results[i].Root.ID
		} else if *results[i].Root.ID != *want {
			t.Fatalf("worker %d: got root id %v, want %v (concurrent check-in of the same content should agree)", i, results[i].Root.ID, want)
		}
	}
}
