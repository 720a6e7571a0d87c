// Package process implements the process record (spec §4.8): the state
// lifecycle a spawned command moves through, the children DAG a process
// forms with whatever it spawns, and the command/output object graph a
// process points at once it runs.
//
// Unlike every other object kind, a process id is not derived from its
// content: spec §3 calls out process ids as random so that re-running the
// same command twice produces two distinct process records rather than
// colliding. NewID mints one as two concatenated UUIDv4s (github.com/
// google/uuid), which between them supply the same 32 bytes of entropy
// internal/id reserves for a content hash.
package process

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/store"
	"github.com/tangramdotdev/tangram/internal/tgerror"
)

// Status is the process lifecycle state (spec §4.8). Transitions only ever
// move forward; Finished is sticky.
type Status int

const (
	StatusCreated Status = iota + 1
	StatusEnqueued
	StatusDequeued
	StatusStarted
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusEnqueued:
		return "enqueued"
	case StatusDequeued:
		return "dequeued"
	case StatusStarted:
		return "started"
	case StatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// next reports whether to is a legal forward transition from s. Finished
// has no successor: once set it is sticky for the life of the record.
func (s Status) next(to Status) bool {
	if s == StatusFinished {
		return false
	}
	return to == s+1
}

// Outcome is the terminal result of a finished process.
type Outcome int

const (
	OutcomeUnset Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
	OutcomeCanceled
)

// Record is a process's full state: the canonical form Put/Get through a
// store.Backend keyed by its own id (id.KindProcess).
type Record struct {
	ID        id.ID
	Command   id.ID   // content-addressed graph.Command this process runs
	Parent    *id.ID  // nil for a root process
	Children  []id.ID // spawn order; empty until children are spawned
	RetryOf   *id.ID  // set when this record replaces a retried process
	Status    Status
	Outcome   Outcome
	Output    *id.ID // content-addressed result object, set once Outcome == Succeeded
	Error     string
	CreatedAt time.Time
	depth     int // cached ancestor depth, set by the Manager on create/spawn
}

// NewID mints a random process id. The 32-byte payload internal/id
// reserves for a content hash is filled with two independent UUIDv4s
// instead, since process ids carry no content to hash.
func NewID() (id.ID, error) {
	a, err := uuid.NewRandom()
	if err != nil {
		return id.ID{}, fmt.Errorf("process: generate id: %w", err)
	}
	b, err := uuid.NewRandom()
	if err != nil {
		return id.ID{}, fmt.Errorf("process: generate id: %w", err)
	}
	raw := make([]byte, 0, 33)
	raw = append(raw, byte(id.KindProcess))
	abytes, err := a.MarshalBinary()
	if err != nil {
		return id.ID{}, fmt.Errorf("process: marshal id: %w", err)
	}
	bbytes, err := b.MarshalBinary()
	if err != nil {
		return id.ID{}, fmt.Errorf("process: marshal id: %w", err)
	}
	raw = append(raw, abytes...)
	raw = append(raw, bbytes...)
	return id.FromRaw(id.KindProcess, raw)
}

// Config bounds the children DAG (spec §4.8 "max_depth overflow
// rejection"), set from the process.max_depth config key (§6).
type Config struct {
	MaxDepth int
}

// DefaultConfig matches the teacher's convention of a conservative,
// explicit zero-value default rather than an unbounded one.
var DefaultConfig = Config{MaxDepth: 64}

// Manager is the process subsystem's entry point: it owns the store/index
// backends a Record and its log chunks are kept in, and enforces the
// lifecycle and children-DAG invariants around every mutation.
type Manager struct {
	store  store.Backend
	index  index.Backend
	config Config
	logs   *logStore
}

// NewManager builds a Manager over st/idx, bounding child depth per cfg.
func NewManager(st store.Backend, idx index.Backend, cfg Config) *Manager {
	return &Manager{store: st, index: idx, config: cfg, logs: newLogStore()}
}

func encodeAndPut(ctx context.Context, st store.Backend, r *Record) error {
	return st.Put(ctx, r.ID, encodeRecord(r))
}

// Create inserts a new root-level process record in status created,
// bound to cmd. Parent is nil: Create is how a top-level build entry
// point starts; every other process comes from Spawn.
func (m *Manager) Create(ctx context.Context, cmd id.ID) (*Record, error) {
	procID, err := NewID()
	if err != nil {
		return nil, err
	}
	r := &Record{
		ID:        procID,
		Command:   cmd,
		Status:    StatusCreated,
		CreatedAt: time.Now(),
		depth:     0,
	}
	if err := m.store.Put(ctx, r.ID, encodeRecord(r)); err != nil {
		return nil, fmt.Errorf("process: create: %w", err)
	}
	if err := m.putMetadata(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Spawn creates a child of parent running cmd, rejecting the spawn if it
// would introduce a self-cycle (cmd identical to an ancestor's command),
// a transitive cycle (cmd identical to any ancestor by id, which a
// correctly content-addressed command closure can't produce but a
// malformed replay could), or exceed Config.MaxDepth.
func (m *Manager) Spawn(ctx context.Context, parent *Record, cmd id.ID) (*Record, error) {
	if err := m.checkChildDAG(ctx, parent, cmd); err != nil {
		return nil, err
	}
	childID, err := NewID()
	if err != nil {
		return nil, err
	}
	child := &Record{
		ID:        childID,
		Command:   cmd,
		Parent:    &parent.ID,
		Status:    StatusCreated,
		CreatedAt: time.Now(),
		depth:     parent.depth + 1,
	}
	if err := m.store.Put(ctx, child.ID, encodeRecord(child)); err != nil {
		return nil, fmt.Errorf("process: spawn: %w", err)
	}
	if err := m.putMetadata(ctx, child); err != nil {
		return nil, err
	}
	parent.Children = append(parent.Children, child.ID)
	if err := encodeAndPut(ctx, m.store, parent); err != nil {
		return nil, fmt.Errorf("process: spawn: update parent: %w", err)
	}
	return child, nil
}

// Retry re-spawns proc: spec §4.8 requires a distinct process id rather
// than resetting proc in place, so the original record (and its log) is
// left untouched as history and a new created record is returned pointing
// back at it via RetryOf.
func (m *Manager) Retry(ctx context.Context, proc *Record) (*Record, error) {
	newID, err := NewID()
	if err != nil {
		return nil, err
	}
	r := &Record{
		ID:        newID,
		Command:   proc.Command,
		Parent:    proc.Parent,
		RetryOf:   &proc.ID,
		Status:    StatusCreated,
		CreatedAt: time.Now(),
		depth:     proc.depth,
	}
	if err := m.store.Put(ctx, r.ID, encodeRecord(r)); err != nil {
		return nil, fmt.Errorf("process: retry: %w", err)
	}
	if err := m.putMetadata(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (m *Manager) transition(ctx context.Context, r *Record, to Status) error {
	if !r.Status.next(to) {
		return tgerror.New(tgerror.Conflict, "invalid process status transition",
			tgerror.WithValue("from", r.Status.String()), tgerror.WithValue("to", to.String()))
	}
	r.Status = to
	if err := encodeAndPut(ctx, m.store, r); err != nil {
		return fmt.Errorf("process: transition to %s: %w", to, err)
	}
	return m.putMetadata(ctx, r)
}

// Enqueue moves a created process to enqueued, ready to be picked up by a
// worker thread.
func (m *Manager) Enqueue(ctx context.Context, r *Record) error {
	return m.transition(ctx, r, StatusEnqueued)
}

// Dequeue moves an enqueued process to dequeued, claimed by a worker but
// not yet running.
func (m *Manager) Dequeue(ctx context.Context, r *Record) error {
	return m.transition(ctx, r, StatusDequeued)
}

// Start moves a dequeued process to started.
func (m *Manager) Start(ctx context.Context, r *Record) error {
	return m.transition(ctx, r, StatusStarted)
}

// Finish moves a started process to finished, recording its outcome and,
// on success, the output object. An EOF chunk is appended to the
// process's log so any blocked tail readers unblock (spec §4.8 "the log
// ends with an EOF chunk on finish").
func (m *Manager) Finish(ctx context.Context, r *Record, outcome Outcome, output *id.ID, procErr string) error {
	r.Outcome = outcome
	r.Output = output
	r.Error = procErr
	if err := m.transition(ctx, r, StatusFinished); err != nil {
		return err
	}
	m.logs.finish(r.ID)
	return nil
}

func (m *Manager) putMetadata(ctx context.Context, r *Record) error {
	meta := index.ProcessMetadata{
		ID:              r.ID,
		TouchedAt:       time.Now(),
		Status:          r.Status.String(),
		CommandComplete: true,
	}
	if r.Status == StatusFinished && r.Outcome == OutcomeSucceeded {
		meta.OutputComplete = r.Output != nil
	}
	return m.index.PutProcess(ctx, meta)
}

// AppendLog appends bytes to proc's log, waking any blocked tail readers.
func (m *Manager) AppendLog(proc *Record, data []byte) (position int64, root hash) {
	return m.logs.get(proc.ID).append(data)
}

// TailLog streams proc's log from fromIdx (the chunk index, not byte
// offset) onward, terminating with an EOF chunk once the process
// finishes or ctx is canceled.
func (m *Manager) TailLog(ctx context.Context, proc *Record, fromIdx int) <-chan Chunk {
	return m.logs.get(proc.ID).Tail(ctx, fromIdx)
}

// Get reads back a process record by id.
func (m *Manager) Get(ctx context.Context, procID id.ID) (*Record, error) {
	res, err := m.store.Get(ctx, procID)
	if err != nil {
		return nil, err
	}
	return decodeRecord(res.Bytes)
}

// RefreshChildrenCompleteness recomputes r's ChildrenComplete/
// ChildrenCommandsComplete/ChildrenOutputsComplete flags from its
// children's current index metadata, ORing them into whatever was
// already recorded (index.Backend's general merge-on-put rule, spec
// §4.4). Callers invoke this after a child changes state, since a
// child's own PutProcess has no way to reach back into its parent.
func (m *Manager) RefreshChildrenCompleteness(ctx context.Context, r *Record) error {
	if len(r.Children) == 0 {
		return nil
	}
	allChildren, allCommands, allOutputs := true, true, true
	for _, childID := range r.Children {
		meta, err := m.index.GetProcess(ctx, childID)
		if err != nil {
			return err
		}
		if meta == nil {
			return nil
		}
		allChildren = allChildren && meta.ChildrenComplete
		allCommands = allCommands && meta.CommandComplete
		allOutputs = allOutputs && meta.OutputComplete
	}
	return m.index.PutProcess(ctx, index.ProcessMetadata{
		ID:                       r.ID,
		TouchedAt:                time.Now(),
		Status:                   r.Status.String(),
		ChildrenComplete:         allChildren,
		ChildrenCommandsComplete: allCommands,
		ChildrenOutputsComplete:  allOutputs,
	})
}
