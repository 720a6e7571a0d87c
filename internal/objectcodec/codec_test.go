package objectcodec

import (
	"reflect"
	"testing"

	"github.com/tangramdotdev/tangram/internal/graph"
	"github.com/tangramdotdev/tangram/internal/id"
)

func TestEncodeDecodeDirectoryRoundTrip(t *testing.T) {
	fileID := id.New(id.KindFile, []byte("file contents"))
	d := &graph.Directory{
		Entries: []graph.DirectoryEntry{
			{Name: "b.txt", Edge: graph.Edge{Referent: &graph.Referent{ID: &fileID}}},
			{Name: "a.txt", Edge: graph.Edge{Pointer: &graph.Pointer{
				GraphID: id.New(id.KindGraph, []byte("graph")),
				Index:   3,
				Kind:    id.KindFile,
			}}},
		},
	}
	encoded := EncodeDirectory(d)
	got, err := DecodeDirectory(encoded)
	if err != nil {
		t.Fatalf("DecodeDirectory: %v", err)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(got.Entries))
	}
	if got.Entries[0].Name != "a.txt" || got.Entries[1].Name != "b.txt" {
		t.Fatalf("entries not sorted by name: %+v", got.Entries)
	}
}

func TestEncodeDirectoryOrderIndependent(t *testing.T) {
	fileID := id.New(id.KindFile, []byte("x"))
	d1 := &graph.Directory{Entries: []graph.DirectoryEntry{
		{Name: "a", Edge: graph.Edge{Referent: &graph.Referent{ID: &fileID}}},
		{Name: "b", Edge: graph.Edge{Referent: &graph.Referent{ID: &fileID}}},
	}}
	d2 := &graph.Directory{Entries: []graph.DirectoryEntry{
		{Name: "b", Edge: graph.Edge{Referent: &graph.Referent{ID: &fileID}}},
		{Name: "a", Edge: graph.Edge{Referent: &graph.Referent{ID: &fileID}}},
	}}
	if !reflect.DeepEqual(EncodeDirectory(d1), EncodeDirectory(d2)) {
		t.Fatalf("directories with same entries in different order should encode identically")
	}
	if IDOfDirectory(d1) != IDOfDirectory(d2) {
		t.Fatalf("directories with same entries in different order should hash identically")
	}
}

func TestEncodeDecodeFileRoundTrip(t *testing.T) {
	contents := id.New(id.KindBlob, []byte("blob bytes"))
	dep := id.New(id.KindFile, []byte("dep"))
	f := &graph.File{
		Contents:     contents,
		Executable:   true,
		Dependencies: map[string]graph.Referent{"./dep.ts": {ID: &dep}},
	}
	encoded := EncodeFile(f)
	got, err := DecodeFile(encoded)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if got.Contents != f.Contents || got.Executable != f.Executable {
		t.Fatalf("got %+v, want %+v", got, f)
	}
	if len(got.Dependencies) != 1 || got.Dependencies["./dep.ts"].ID == nil || *got.Dependencies["./dep.ts"].ID != dep {
		t.Fatalf("dependency not round-tripped: %+v", got.Dependencies)
	}
}

func TestEncodeDecodeSymlinkRoundTripTarget(t *testing.T) {
	s := &graph.Symlink{Target: "../other/path", Subpath: "nested"}
	got, err := DecodeSymlink(EncodeSymlink(s))
	if err != nil {
		t.Fatalf("DecodeSymlink: %v", err)
	}
	if got.Target != s.Target || got.Subpath != s.Subpath || got.Artifact != nil {
		t.Fatalf("got %+v, want %+v", got, s)
	}
}

func TestEncodeDecodeSymlinkRoundTripArtifact(t *testing.T) {
	artifactID := id.New(id.KindFile, []byte("target"))
	s := &graph.Symlink{Artifact: &graph.Referent{ID: &artifactID}}
	got, err := DecodeSymlink(EncodeSymlink(s))
	if err != nil {
		t.Fatalf("DecodeSymlink: %v", err)
	}
	if got.Artifact == nil || got.Artifact.ID == nil || *got.Artifact.ID != artifactID {
		t.Fatalf("artifact not round-tripped: %+v", got)
	}
}

func TestEncodeDecodeCommandRoundTrip(t *testing.T) {
	exe := id.New(id.KindFile, []byte("exe"))
	arg := id.New(id.KindFile, []byte("arg"))
	c := &graph.Command{
		Executable: graph.Referent{ID: &exe},
		Args:       []graph.Referent{{ID: &arg}},
		Env:        map[string]graph.Referent{"PATH": {Path: "/usr/bin"}},
		Host:       "x86_64-linux",
		Cwd:        "/work",
	}
	got, err := DecodeCommand(EncodeCommand(c))
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if got.Host != c.Host || got.Cwd != c.Cwd || len(got.Args) != 1 || len(got.Env) != 1 {
		t.Fatalf("got %+v, want %+v", got, c)
	}
}

func TestEncodeDecodeGraphRoundTrip(t *testing.T) {
	fileID := id.New(id.KindFile, []byte("leaf"))
	g := &graph.Graph{Nodes: []graph.GraphNode{
		{Kind: graph.GraphNodeFile, File: &graph.File{Contents: fileID}},
		{Kind: graph.GraphNodeDirectory, Directory: &graph.Directory{
			Entries: []graph.DirectoryEntry{{Name: "leaf", Edge: graph.Edge{
				Pointer: &graph.Pointer{GraphID: id.New(id.KindGraph, []byte("self")), Index: 0, Kind: id.KindFile},
			}}},
		}},
	}}
	got, err := DecodeGraph(EncodeGraph(g))
	if err != nil {
		t.Fatalf("DecodeGraph: %v", err)
	}
	if len(got.Nodes) != 2 || got.Nodes[0].Kind != graph.GraphNodeFile || got.Nodes[1].Kind != graph.GraphNodeDirectory {
		t.Fatalf("got %+v", got.Nodes)
	}
}

func TestEncodeDecodeDirectorySelfReferencingPointerStaysZero(t *testing.T) {
	d := &graph.Directory{Entries: []graph.DirectoryEntry{
		{Name: "self", Edge: graph.Edge{Pointer: &graph.Pointer{Index: 2, Kind: id.KindFile}}},
	}}
	got, err := DecodeDirectory(EncodeDirectory(d))
	if err != nil {
		t.Fatalf("DecodeDirectory: %v", err)
	}
	p := got.Entries[0].Edge.Pointer
	if p == nil {
		t.Fatalf("expected a decoded pointer")
	}
	if !p.GraphID.IsZero() {
		t.Fatalf("expected a self-referencing pointer's GraphID to round-trip as zero, got %v", p.GraphID)
	}
	if p.Index != 2 || p.Kind != id.KindFile {
		t.Fatalf("got %+v, want Index 2, Kind KindFile", p)
	}
}

func TestEncodeDirectoryZeroEntriesIsOneByte(t *testing.T) {
	encoded := EncodeDirectory(&graph.Directory{})
	if len(encoded) != 1 {
		t.Fatalf("got %d bytes, want a 1-byte canonical payload for a zero-entry directory: %x", len(encoded), encoded)
	}
	if encoded[0] != tagDirectory {
		t.Fatalf("got tag byte 0x%02x, want 0x%02x", encoded[0], tagDirectory)
	}
	got, err := DecodeDirectory(encoded)
	if err != nil {
		t.Fatalf("DecodeDirectory: %v", err)
	}
	if len(got.Entries) != 0 {
		t.Fatalf("got %d entries, want 0", len(got.Entries))
	}
}

func TestDecodeDirectoryRejectsWrongTag(t *testing.T) {
	if _, err := DecodeDirectory(EncodeFile(&graph.File{Contents: id.New(id.KindBlob, []byte("x"))})); err == nil {
		t.Fatalf("expected tag mismatch error")
	}
}

func TestIDOfFileDeterministic(t *testing.T) {
	f := &graph.File{Contents: id.New(id.KindBlob, []byte("same"))}
	if IDOfFile(f) != IDOfFile(f) {
		t.Fatalf("IDOfFile should be deterministic")
	}
}
