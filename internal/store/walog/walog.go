// Package walog implements the append-only record log that reconciles
// the object store (C3) with the secondary index (C4), per spec §5's
// "Consistency with C3" note: index updates are derived from store
// writes. The log lives in memory and keeps no records once they are
// fanned out; Replay applies records the caller holds.
//
// This generalizes the teacher's internal/store/kv.go single-bbolt-
// transaction multi-bucket write (store mapping + index facet written
// together, atomically, in one place) into a log instead of a direct
// multi-bucket write, so the store and the index no longer have to share
// one transaction or even one process.
package walog

import (
	"context"
	"sync"

	"github.com/tangramdotdev/tangram/internal/id"
)

// Op names the kind of record appended to the log.
type Op int

const (
	OpPut Op = iota + 1
	OpDelete
	OpTouch
)

// Record is one write-ahead log entry: an index-affecting operation on
// one object, plus whatever index fields that operation should merge in.
type Record struct {
	Seq      uint64
	Op       Op
	ID       id.ID
	Fields   map[string]string
	TouchSec int64
}

// Log is an in-memory append-only sequence numberer with a subscription
// fan-out. It does not retain appended Records, so it feeds live
// subscribers only and cannot itself be replayed.
type Log struct {
	mu   sync.Mutex
	seq  uint64
	subs map[int]chan Record
	next int
}

// New constructs an empty Log.
func New() *Log {
	return &Log{subs: make(map[int]chan Record)}
}

// Append adds rec to the log (assigning it the next sequence number) and
// fans it out to every active subscriber. Appends never block on slow
// subscribers: each subscriber channel is buffered and a full channel
// drops the oldest pending record rather than stalling the writer; the
// log keeps no copy, so a dropped record is lost to that subscriber.
func (l *Log) Append(rec Record) Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	rec.Seq = l.seq
	for _, ch := range l.subs {
		select {
		case ch <- rec:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- rec:
			default:
			}
		}
	}
	return rec
}

// Subscribe registers a new listener and returns a channel of records
// appended from this point on, plus a cancel function.
func (l *Log) Subscribe(ctx context.Context) (<-chan Record, func()) {
	l.mu.Lock()
	id := l.next
	l.next++
	ch := make(chan Record, 256)
	l.subs[id] = ch
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

// Replayer consumes a Log's records and applies them to an index
// backend, used on startup to reconcile any lag.
type Replayer interface {
	Apply(ctx context.Context, rec Record) error
}

// Replay applies records through r in order, stopping at the first
// error. It does not subscribe to future appends; continuous
// reconciliation combines Replay (for catch-up) with Subscribe (for
// steady state).
func Replay(ctx context.Context, records []Record, r Replayer) error {
	for _, rec := range records {
		if err := r.Apply(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
