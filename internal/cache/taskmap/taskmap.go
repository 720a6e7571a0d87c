// Package taskmap implements the per-ID check-out dedup table: at most one
// materialize runs for a given artifact ID at a time, and every concurrent
// caller for that ID waits on the same result (spec §4.6 step 1, "a
// task-map keyed by ID serializes duplicates").
//
// This is grounded on original_source's
// packages/server/src/artifact/checkout/internal.rs
// checkout_task_map.get_or_spawn(...).wait() pattern. It is a small
// hand-rolled singleflight rather than golang.org/x/sync/singleflight
// because one waiter canceling its own context must not cancel the work
// for every other waiter — the shared task keeps running until either it
// finishes or every waiter has dropped. x/sync/singleflight's Do offers no
// such per-waiter cancellation, so this package exists instead.
package taskmap

import (
	"context"
	"sync"

	"github.com/tangramdotdev/tangram/internal/id"
)

type task struct {
	done   chan struct{}
	err    error
	refs   int
	cancel context.CancelFunc
}

// Map is a concurrent map from id.ID to a shared, refcounted in-flight
// task. Entries are keyed by the id's wire-form string.
type Map struct {
	mu      sync.Mutex
	entries map[string]*task
}

// New constructs an empty Map.
func New() *Map {
	return &Map{entries: make(map[string]*task)}
}

// Do runs fn for key if no task is already running for it, otherwise joins
// the running task. fn receives a context derived from context.Background
// (not ctx), so it keeps running for whichever waiters remain even if the
// caller that originated it walks away; it is only canceled once every
// waiter — including the one that spawned it — has stopped waiting.
func (m *Map) Do(ctx context.Context, key id.ID, fn func(ctx context.Context) error) error {
	k := key.String()

	m.mu.Lock()
	if t, ok := m.entries[k]; ok {
		t.refs++
		m.mu.Unlock()
		return m.wait(ctx, k, t)
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	t := &task{done: make(chan struct{}), refs: 1, cancel: cancel}
	m.entries[k] = t
	m.mu.Unlock()

	go func() {
		t.err = fn(taskCtx)
		close(t.done)
	}()

	return m.wait(ctx, k, t)
}

func (m *Map) wait(ctx context.Context, key string, t *task) error {
	var err error
	select {
	case <-t.done:
		err = t.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	m.release(key, t)
	return err
}

func (m *Map) release(key string, t *task) {
	m.mu.Lock()
	t.refs--
	remove := t.refs == 0
	if remove {
		delete(m.entries, key)
	}
	m.mu.Unlock()

	if !remove {
		return
	}
	select {
	case <-t.done:
	default:
		t.cancel()
	}
}
