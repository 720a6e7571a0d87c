package memoryindex

import (
	"context"
	"testing"
	"time"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
)

func testID(t *testing.T, seed byte) id.ID {
	t.Helper()
	return id.New(id.KindBlob, []byte{seed})
}

func TestPutObjectMergesTouchedAtAndStored(t *testing.T) {
	ctx := context.Background()
	idx := New()
	objID := testID(t, 1)

	t0 := time.Unix(1000, 0)
	t1 := time.Unix(2000, 0)

	put1 := index.ObjectMetadata{ID: objID, TouchedAt: t0, Stored: map[string]bool{"local": true}}
	put2 := index.ObjectMetadata{ID: objID, TouchedAt: t1, Stored: map[string]bool{"remote": true}, Complete: true}

	if err := idx.PutObject(ctx, put1); err != nil {
		t.Fatalf("PutObject 1: %v", err)
	}
	if err := idx.PutObject(ctx, put2); err != nil {
		t.Fatalf("PutObject 2: %v", err)
	}

	got, err := idx.GetObject(ctx, objID)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if got == nil {
		t.Fatal("expected object metadata, got nil")
	}
	if !got.TouchedAt.Equal(t1) {
		t.Fatalf("touched_at = %v, want max %v", got.TouchedAt, t1)
	}
	if !got.Stored["local"] || !got.Stored["remote"] {
		t.Fatalf("stored map not unioned: %+v", got.Stored)
	}
	if !got.Complete {
		t.Fatal("complete must OR true from the second put")
	}
}
