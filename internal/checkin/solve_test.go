package checkin

import (
	"context"
	"testing"
	"time"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/index/memoryindex"
)

func TestResolveRelativePath(t *testing.T) {
	s := newSolver(memoryindex.New(), nil)
	ref, err := s.resolve(context.Background(), "/work/pkg", "./sub/mod.tg.ts")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref.Path != "/work/pkg/sub/mod.tg.ts" {
		t.Fatalf("got %q", ref.Path)
	}
}

func TestResolveAbsolutePath(t *testing.T) {
	s := newSolver(memoryindex.New(), nil)
	ref, err := s.resolve(context.Background(), "/work/pkg", "/other/mod.tg.ts")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref.Path != "/other/mod.tg.ts" {
		t.Fatalf("got %q", ref.Path)
	}
}

func TestResolveExplicitID(t *testing.T) {
	s := newSolver(memoryindex.New(), nil)
	want := id.New(id.KindFile, []byte("explicit"))
	ref, err := s.resolve(context.Background(), "/work/pkg", want.String())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref.ID == nil || *ref.ID != want {
		t.Fatalf("got %+v, want id %v", ref, want)
	}
}

func TestResolveTagPicksGreatestSatisfyingVersion(t *testing.T) {
	idx := memoryindex.New()
	ctx := context.Background()
	itemV1 := id.New(id.KindDirectory, []byte("v1"))
	itemV15 := id.New(id.KindDirectory, []byte("v1.5"))
	itemV2 := id.New(id.KindDirectory, []byte("v2"))
	for _, tm := range []index.TagMetadata{
		{Tag: "std/1.0.0", ItemID: itemV1, TouchedAt: time.Now()},
		{Tag: "std/1.5.0", ItemID: itemV15, TouchedAt: time.Now()},
		{Tag: "std/2.0.0", ItemID: itemV2, TouchedAt: time.Now()},
	} {
		if err := idx.PutTag(ctx, tm); err != nil {
			t.Fatalf("PutTag: %v", err)
		}
	}

	s := newSolver(idx, nil)
	ref, err := s.resolveTag(ctx, "std@^1.0.0")
	if err != nil {
		t.Fatalf("resolveTag: %v", err)
	}
	if ref.ID == nil || *ref.ID != itemV15 {
		t.Fatalf("got %+v, want the greatest ^1.0.0-satisfying version (1.5.0)", ref)
	}
	if ref.Tag != "std/1.5.0" {
		t.Fatalf("got tag %q, want std/1.5.0", ref.Tag)
	}
}

func TestResolveTagNoMatchReturnsError(t *testing.T) {
	idx := memoryindex.New()
	ctx := context.Background()
	if err := idx.PutTag(ctx, index.TagMetadata{Tag: "std/1.0.0", ItemID: id.New(id.KindDirectory, []byte("v1")), TouchedAt: time.Now()}); err != nil {
		t.Fatalf("PutTag: %v", err)
	}
	s := newSolver(idx, nil)
	if _, err := s.resolveTag(ctx, "std@^2.0.0"); err == nil {
		t.Fatalf("expected error when no tag satisfies the pattern")
	}
}

func TestResolveBareNameDefaultsToWildcard(t *testing.T) {
	idx := memoryindex.New()
	ctx := context.Background()
	want := id.New(id.KindDirectory, []byte("only"))
	if err := idx.PutTag(ctx, index.TagMetadata{Tag: "std/3.0.0", ItemID: want, TouchedAt: time.Now()}); err != nil {
		t.Fatalf("PutTag: %v", err)
	}
	s := newSolver(idx, nil)
	ref, err := s.resolve(ctx, "/work/pkg", "std")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ref.ID == nil || *ref.ID != want {
		t.Fatalf("got %+v, want %v", ref, want)
	}
}
