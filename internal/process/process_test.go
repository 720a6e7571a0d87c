package process

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/store/memorystore"
)

// fakeIndex is a minimal in-memory index.Backend covering only what
// Manager exercises; object/tag/cache-entry facets are unused here.
type fakeIndex struct {
	mu        sync.Mutex
	processes map[string]index.ProcessMetadata
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{processes: make(map[string]index.ProcessMetadata)}
}

func (f *fakeIndex) GetObject(context.Context, id.ID) (*index.ObjectMetadata, error) { return nil, nil }
func (f *fakeIndex) PutObject(context.Context, index.ObjectMetadata) error           { return nil }
func (f *fakeIndex) TouchAndGetObject(context.Context, id.ID, time.Time) (*index.ObjectMetadata, error) {
	return nil, nil
}

func (f *fakeIndex) GetProcess(_ context.Context, procID id.ID) (*index.ProcessMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.processes[procID.String()]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeIndex) PutProcess(_ context.Context, meta index.ProcessMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := meta.ID.String()
	old, exists := f.processes[k]
	if exists {
		meta.TouchedAt = index.MergeTouchedAt(old.TouchedAt, meta.TouchedAt)
		meta.ChildrenComplete = old.ChildrenComplete || meta.ChildrenComplete
		meta.CommandComplete = old.CommandComplete || meta.CommandComplete
		meta.ChildrenCommandsComplete = old.ChildrenCommandsComplete || meta.ChildrenCommandsComplete
		meta.OutputComplete = old.OutputComplete || meta.OutputComplete
		meta.ChildrenOutputsComplete = old.ChildrenOutputsComplete || meta.ChildrenOutputsComplete
	}
	f.processes[k] = meta
	return nil
}

func (f *fakeIndex) GetTag(context.Context, string) (*index.TagMetadata, error)   { return nil, nil }
func (f *fakeIndex) PutTag(context.Context, index.TagMetadata) error              { return nil }
func (f *fakeIndex) ListTags(context.Context, string) ([]index.TagMetadata, error) { return nil, nil }

func (f *fakeIndex) GetCacheEntry(context.Context, id.ID) (*index.CacheEntryMetadata, error) {
	return nil, nil
}
func (f *fakeIndex) PutCacheEntry(context.Context, index.CacheEntryMetadata) error { return nil }
func (f *fakeIndex) DeleteCacheEntry(context.Context, id.ID) error                 { return nil }

var _ index.Backend = (*fakeIndex)(nil)

func newTestManager(maxDepth int) *Manager {
	return NewManager(memorystore.New(), newFakeIndex(), Config{MaxDepth: maxDepth})
}

func fakeCommand(t *testing.T, seed byte) id.ID {
	t.Helper()
	return id.New(id.KindCommand, []byte{seed})
}

func TestLifecycleTransitionsMustBeSequential(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(DefaultConfig.MaxDepth)
	proc, err := m.Create(ctx, fakeCommand(t, 1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Start(ctx, proc); err == nil {
		t.Fatal("expected error skipping enqueued/dequeued straight to started")
	}
	if err := m.Enqueue(ctx, proc); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := m.Dequeue(ctx, proc); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := m.Start(ctx, proc); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Finish(ctx, proc, OutcomeSucceeded, nil, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := m.Enqueue(ctx, proc); err == nil {
		t.Fatal("expected finished to be sticky")
	}
}

func TestRetryProducesNewID(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(DefaultConfig.MaxDepth)
	proc, err := m.Create(ctx, fakeCommand(t, 1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	retry, err := m.Retry(ctx, proc)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retry.ID.Equal(proc.ID) {
		t.Fatal("retry must mint a new process id")
	}
	if retry.RetryOf == nil || !retry.RetryOf.Equal(proc.ID) {
		t.Fatal("retry must point RetryOf back at the original")
	}
	original, err := m.Get(ctx, proc.ID)
	if err != nil {
		t.Fatalf("Get original: %v", err)
	}
	if original.Status != StatusCreated {
		t.Fatalf("original record must be untouched by retry, got status %v", original.Status)
	}
}

func TestSpawnRejectsSelfCycle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(DefaultConfig.MaxDepth)
	cmd := fakeCommand(t, 1)
	proc, err := m.Create(ctx, cmd)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Spawn(ctx, proc, cmd); err == nil {
		t.Fatal("expected self-cycle rejection")
	}
}

func TestSpawnRejectsTransitiveCycle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(DefaultConfig.MaxDepth)
	cmdA, cmdB := fakeCommand(t, 1), fakeCommand(t, 2)
	root, err := m.Create(ctx, cmdA)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	child, err := m.Spawn(ctx, root, cmdB)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, err := m.Spawn(ctx, child, cmdA); err == nil {
		t.Fatal("expected transitive cycle rejection (grandchild reintroduces root's command)")
	}
}

func TestSpawnRejectsDepthOverflow(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(2)
	root, err := m.Create(ctx, fakeCommand(t, 0))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	child, err := m.Spawn(ctx, root, fakeCommand(t, 1))
	if err != nil {
		t.Fatalf("Spawn depth 1: %v", err)
	}
	if _, err := m.Spawn(ctx, child, fakeCommand(t, 2)); err == nil {
		t.Fatal("expected max_depth overflow rejection")
	}
}

func TestLogTailDeliversChunksThenEOF(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m := newTestManager(DefaultConfig.MaxDepth)
	proc, err := m.Create(ctx, fakeCommand(t, 1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	tail := m.TailLog(ctx, proc, 0)

	m.AppendLog(proc, []byte("hello "))
	m.AppendLog(proc, []byte("world"))
	if err := m.Finish(ctx, proc, OutcomeSucceeded, nil, ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	var got []byte
	sawEOF := false
	for chunk := range tail {
		if chunk.EOF {
			sawEOF = true
			break
		}
		got = append(got, chunk.Bytes...)
	}
	if !sawEOF {
		t.Fatal("expected tail to observe an EOF chunk after Finish")
	}
	if string(got) != "hello world" {
		t.Fatalf("got log bytes %q, want %q", got, "hello world")
	}
}

func TestRecordCanonicalRoundTrip(t *testing.T) {
	parent := fakeCommand(t, 9)
	output := fakeCommand(t, 8)
	r := &Record{
		ID:        mustID(t),
		Command:   fakeCommand(t, 1),
		Parent:    &parent,
		Children:  []id.ID{fakeCommand(t, 2), fakeCommand(t, 3)},
		Status:    StatusFinished,
		Outcome:   OutcomeSucceeded,
		Output:    &output,
		CreatedAt: time.Unix(1700000000, 0),
		depth:     3,
	}
	decoded, err := decodeRecord(encodeRecord(r))
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	if !decoded.ID.Equal(r.ID) || !decoded.Command.Equal(r.Command) {
		t.Fatal("id/command mismatch after round trip")
	}
	if len(decoded.Children) != 2 || !decoded.Children[0].Equal(r.Children[0]) {
		t.Fatal("children mismatch after round trip")
	}
	if decoded.Status != r.Status || decoded.Outcome != r.Outcome {
		t.Fatal("status/outcome mismatch after round trip")
	}
	if decoded.depth != r.depth {
		t.Fatal("depth mismatch after round trip")
	}
}

func mustID(t *testing.T) id.ID {
	t.Helper()
	v, err := NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	return v
}
