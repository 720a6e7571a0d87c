package checkin

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadLockfileMissingReturnsNilNoError(t *testing.T) {
	dir := t.TempDir()
	lock, modTime, err := readLockfile(dir)
	if err != nil {
		t.Fatalf("readLockfile: %v", err)
	}
	if lock != nil {
		t.Fatalf("expected nil lockfile, got %+v", lock)
	}
	if !modTime.IsZero() {
		t.Fatalf("expected zero modTime, got %v", modTime)
	}
}

func TestWriteReadLockfileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := &Lockfile{Nodes: []LockfileNode{
		{Kind: "directory", Entries: map[string]string{"a.txt": "fil_abc"}},
		{Kind: "file", Edge: "blb_def", Deps: map[string]string{"./a.txt": "index:0"}},
		{Kind: "symlink", Target: "../other"},
	}}
	if err := writeLockfile(dir, want); err != nil {
		t.Fatalf("writeLockfile: %v", err)
	}

	got, modTime, err := readLockfile(dir)
	if err != nil {
		t.Fatalf("readLockfile: %v", err)
	}
	if got == nil {
		t.Fatalf("expected a parsed lockfile, got nil")
	}
	if modTime.IsZero() {
		t.Fatalf("expected a non-zero modTime for an existing file")
	}
	if len(got.Nodes) != len(want.Nodes) {
		t.Fatalf("got %d nodes, want %d", len(got.Nodes), len(want.Nodes))
	}
	if got.Nodes[0].Entries["a.txt"] != "fil_abc" {
		t.Fatalf("got %+v", got.Nodes[0])
	}
	if got.Nodes[1].Deps["./a.txt"] != "index:0" {
		t.Fatalf("got %+v", got.Nodes[1])
	}
	if got.Nodes[2].Target != "../other" {
		t.Fatalf("got %+v", got.Nodes[2])
	}
}

func TestReadLockfileRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	if err := writeLockfile(dir, &Lockfile{}); err != nil {
		t.Fatalf("writeLockfile: %v", err)
	}
	// Corrupt the file with invalid JSON.
	path := filepath.Join(dir, LockfileName)
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	if _, _, err := readLockfile(dir); err == nil {
		t.Fatalf("expected error reading corrupted lockfile")
	}
}
