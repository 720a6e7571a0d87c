package blob

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/store/memorystore"
)

func TestBuildReadAllRoundTripSmall(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	b := NewBuilder(st, DefaultParams())

	content := []byte("hello, tangram")
	root, err := b.Build(ctx, content)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if root.Kind != Leaf {
		t.Fatalf("small content should build a single leaf, got kind %v", root.Kind)
	}

	l := NewLoader(st)
	got, err := l.ReadAll(ctx, root)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("got %q, want %q", got, content)
	}
}

func TestBuildReadAllRoundTripLarge(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	params := DefaultParams()
	b := NewBuilder(st, params)

	content := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 20000)
	root, err := b.Build(ctx, content)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if root.Size != int64(len(content)) {
		t.Fatalf("root size %d, want %d", root.Size, len(content))
	}

	l := NewLoader(st)
	got, err := l.ReadAll(ctx, root)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(content))
	}
}

func TestBuildEmptyContent(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	b := NewBuilder(st, DefaultParams())

	root, err := b.Build(ctx, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if root.Size != 0 {
		t.Fatalf("got size %d, want 0", root.Size)
	}

	l := NewLoader(st)
	got, err := l.ReadAll(ctx, root)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d bytes, want 0", len(got))
	}
}

func TestBuildStreaming(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	b := NewBuilder(st, DefaultParams())

	content := "streamed content for the blob builder"
	root, err := b.BuildStreaming(ctx, strings.NewReader(content))
	if err != nil {
		t.Fatalf("BuildStreaming: %v", err)
	}
	l := NewLoader(st)
	got, err := l.ReadAll(ctx, root)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != content {
		t.Fatalf("got %q, want %q", got, content)
	}
}

func TestIdenticalContentSameID(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	b := NewBuilder(st, DefaultParams())

	content := []byte("identical content")
	root1, err := b.Build(ctx, content)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	root2, err := b.Build(ctx, content)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if root1.ID != root2.ID {
		t.Fatalf("identical content should produce the same blob id: %v != %v", root1.ID, root2.ID)
	}
}

func TestEncodeBranchLiteralByteLayout(t *testing.T) {
	a := NodeRef{ID: id.New(id.KindBlob, []byte("a")), Kind: Leaf, Size: 5}
	c := NodeRef{ID: id.New(id.KindBlob, []byte("c")), Kind: Leaf, Size: 7}
	children := []NodeRef{a, c}

	encoded, total := encodeBranch(children)
	if total != 12 {
		t.Fatalf("got total %d, want 12", total)
	}

	r := bytes.NewReader(encoded)
	tag, err := r.ReadByte()
	if err != nil || tag != 0x01 {
		t.Fatalf("got tag 0x%02x (err %v), want 0x01", tag, err)
	}
	count, err := binary.ReadUvarint(r)
	if err != nil || count != uint64(len(children)) {
		t.Fatalf("got child count %d (err %v), want %d", count, err, len(children))
	}
	for i, want := range children {
		idLen, err := binary.ReadUvarint(r)
		if err != nil {
			t.Fatalf("child %d: read id length: %v", i, err)
		}
		raw := want.ID.Raw()
		if idLen != uint64(len(raw)) {
			t.Fatalf("child %d: got id length %d, want %d", i, idLen, len(raw))
		}
		gotRaw := make([]byte, idLen)
		if _, err := r.Read(gotRaw); err != nil {
			t.Fatalf("child %d: read id bytes: %v", i, err)
		}
		if !bytes.Equal(gotRaw, raw) {
			t.Fatalf("child %d: got id bytes %x, want %x", i, gotRaw, raw)
		}
		subtreeLen, err := binary.ReadUvarint(r)
		if err != nil {
			t.Fatalf("child %d: read subtree length: %v", i, err)
		}
		if subtreeLen != uint64(want.Size) {
			t.Fatalf("child %d: got subtree length %d, want %d", i, subtreeLen, want.Size)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("got %d trailing bytes, want 0", r.Len())
	}
}

func TestBuildTreeCreatesBranchForManyChunks(t *testing.T) {
	ctx := context.Background()
	st := memorystore.New()
	params := DefaultParams()
	params.MaxBranch = 2 // force branching with few chunks
	b := NewBuilder(st, params)

	content := bytes.Repeat([]byte("abcdefghij"), 20000)
	root, err := b.Build(ctx, content)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if root.Kind != Branch {
		t.Fatalf("content longer than MaxSize should build a branch root, got kind %v", root.Kind)
	}

	l := NewLoader(st)
	got, err := l.ReadAll(ctx, root)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("branch round trip mismatch: got %d bytes, want %d bytes", len(got), len(content))
	}
}
