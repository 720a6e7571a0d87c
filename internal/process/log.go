package process

import (
	"context"
	"sync"

	"github.com/tangramdotdev/tangram/internal/id"
)

// Chunk is one unit of a process's log: a byte range starting at
// Position, or the trailing EOF marker once the process has finished.
type Chunk struct {
	Position int64
	Bytes    []byte
	EOF      bool
}

// procLog is one process's byte-addressed, append-only log, tailable by
// any number of concurrent readers. New data is signaled by closing
// waitCh and installing a fresh one, the standard broadcast-via-closed-
// channel idiom: every blocked reader's select wakes on the close, and
// none of them consume a value another reader still needs, unlike a
// buffered notification channel would.
type procLog struct {
	mu       sync.Mutex
	chunks   *chunkAccumulator
	finished bool
	waitCh   chan struct{}
}

func newProcLog() *procLog {
	return &procLog{chunks: newChunkAccumulator(), waitCh: make(chan struct{})}
}

// append adds bytes to the log and wakes any blocked tail readers.
func (l *procLog) append(data []byte) (position int64, root hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	position, root = l.chunks.append(data)
	l.wake()
	return position, root
}

// finish marks the log complete: no more chunks will be appended, and
// every blocked tail reader wakes to observe the EOF chunk.
func (l *procLog) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = true
	l.wake()
}

// wake must be called with mu held; it releases every reader currently
// blocked in Tail's select and arms a fresh channel for the next wait.
func (l *procLog) wake() {
	close(l.waitCh)
	l.waitCh = make(chan struct{})
}

// Tail streams chunks starting at chunk index fromIdx (0 for the whole
// log), blocking for new ones until the log finishes or ctx is
// canceled. The returned channel is closed once the EOF chunk has been
// delivered or ctx ends.
func (l *procLog) Tail(ctx context.Context, fromIdx int) <-chan Chunk {
	out := make(chan Chunk, 1)
	go func() {
		defer close(out)
		idx := fromIdx
		for {
			l.mu.Lock()
			if idx < l.chunks.size() {
				data := l.chunks.chunkAt(idx)
				pos := l.chunks.offsetOf(uint64(idx))
				l.mu.Unlock()
				select {
				case out <- Chunk{Position: pos, Bytes: data}:
				case <-ctx.Done():
					return
				}
				idx++
				continue
			}
			if l.finished {
				pos := l.chunks.offsetOf(uint64(idx))
				l.mu.Unlock()
				select {
				case out <- Chunk{Position: pos, EOF: true}:
				case <-ctx.Done():
				}
				return
			}
			ch := l.waitCh
			l.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// logStore holds one procLog per process id, created lazily on first use.
type logStore struct {
	mu   sync.Mutex
	logs map[string]*procLog
}

func newLogStore() *logStore { return &logStore{logs: make(map[string]*procLog)} }

func (s *logStore) get(procID id.ID) *procLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := procID.String()
	l, ok := s.logs[k]
	if !ok {
		l = newProcLog()
		s.logs[k] = l
	}
	return l
}

func (s *logStore) finish(procID id.ID) {
	s.get(procID).finish()
}
