package sync

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/index/memoryindex"
	"github.com/tangramdotdev/tangram/internal/store/memorystore"
)

// chanStream implements Stream over a pair of message channels, connecting
// two in-process Sessions without any real transport.
type chanStream struct {
	send chan<- *Message
	recv <-chan *Message
}

func (c *chanStream) Send(ctx context.Context, m *Message) error {
	select {
	case c.send <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *chanStream) Recv(ctx context.Context) (*Message, error) {
	select {
	case m, ok := <-c.recv:
		if !ok {
			return nil, context.Canceled
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newStreamPair() (*chanStream, *chanStream) {
	ab := make(chan *Message, 64)
	ba := make(chan *Message, 64)
	return &chanStream{send: ab, recv: ba}, &chanStream{send: ba, recv: ab}
}

func TestPushDeliversObjectToPeer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srcStore := memorystore.New()
	srcIndex := memoryindex.New()
	dstStore := memorystore.New()
	dstIndex := memoryindex.New()

	content := []byte("pushed object contents")
	objID := id.New(id.KindFile, content)
	if err := srcStore.Put(ctx, objID, content); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := srcIndex.PutObject(ctx, index.ObjectMetadata{ID: objID, TouchedAt: time.Now(), SizeBytes: int64(len(content))}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	streamA, streamB := newStreamPair()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return Push(ctx, srcStore, srcIndex, []id.ID{objID}, streamA)
	})
	g.Go(func() error {
		s := NewSession(dstStore, dstIndex, Arg{})
		return s.Run(ctx, streamB)
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	got, err := dstStore.Get(ctx, objID)
	if err != nil {
		t.Fatalf("dst Get: %v", err)
	}
	if string(got.Bytes) != string(content) {
		t.Fatalf("got %q, want %q", got.Bytes, content)
	}
}

// TestPushDeliversRecursiveClosure exercises Push over a two-node closure
// (a root that references a child), confirming both nodes land on the
// peer. pushObject recurses into ChildrenIDs first, so the child is sent
// before the root; the test does not check that order.
func TestPushDeliversRecursiveClosure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srcStore := memorystore.New()
	srcIndex := memoryindex.New()
	dstStore := memorystore.New()
	dstIndex := memoryindex.New()

	childContent := []byte("child leaf contents")
	childID := id.New(id.KindFile, childContent)
	rootContent := []byte("root contents referencing the child")
	rootID := id.New(id.KindDirectory, rootContent)

	if err := srcStore.Put(ctx, childID, childContent); err != nil {
		t.Fatalf("Put child: %v", err)
	}
	if err := srcStore.Put(ctx, rootID, rootContent); err != nil {
		t.Fatalf("Put root: %v", err)
	}
	if err := srcIndex.PutObject(ctx, index.ObjectMetadata{ID: childID, TouchedAt: time.Now(), SizeBytes: int64(len(childContent))}); err != nil {
		t.Fatalf("PutObject child: %v", err)
	}
	if err := srcIndex.PutObject(ctx, index.ObjectMetadata{
		ID: rootID, TouchedAt: time.Now(), SizeBytes: int64(len(rootContent)), ChildrenIDs: []id.ID{childID},
	}); err != nil {
		t.Fatalf("PutObject root: %v", err)
	}

	streamA, streamB := newStreamPair()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return Push(ctx, srcStore, srcIndex, []id.ID{rootID}, streamA)
	})
	g.Go(func() error {
		s := NewSession(dstStore, dstIndex, Arg{})
		return s.Run(ctx, streamB)
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	gotChild, err := dstStore.Get(ctx, childID)
	if err != nil {
		t.Fatalf("dst Get child: %v", err)
	}
	if string(gotChild.Bytes) != string(childContent) {
		t.Fatalf("got %q, want %q", gotChild.Bytes, childContent)
	}
	gotRoot, err := dstStore.Get(ctx, rootID)
	if err != nil {
		t.Fatalf("dst Get root: %v", err)
	}
	if string(gotRoot.Bytes) != string(rootContent) {
		t.Fatalf("got %q, want %q", gotRoot.Bytes, rootContent)
	}
}
