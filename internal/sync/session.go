package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/store"
)

// Stream is the transport-agnostic duplex the Session drives. Both
// grpctransport and framedtransport implement it over their own framing.
type Stream interface {
	Send(ctx context.Context, m *Message) error
	Recv(ctx context.Context) (*Message, error)
}

// completeness is what a peer has told us (via Get Complete) it already
// holds.
type completeness struct {
	whole bool // objects: subtree_stored

	childrenComplete         bool
	commandComplete          bool
	childrenCommandsComplete bool
	outputComplete           bool
	childrenOutputsComplete  bool
}

func (c completeness) coversObject() bool { return c.whole }

func (c completeness) coversProcess(want index.ProcessMetadata) bool {
	if want.ChildrenComplete && !c.childrenComplete {
		return false
	}
	if want.CommandComplete && !c.commandComplete {
		return false
	}
	if want.ChildrenCommandsComplete && !c.childrenCommandsComplete {
		return false
	}
	if want.OutputComplete && !c.outputComplete {
		return false
	}
	if want.ChildrenOutputsComplete && !c.childrenOutputsComplete {
		return false
	}
	return true
}

// Session drives one sync exchange (spec §4.7): requesting items, serving
// the peer's requests, and tracking declared completeness so subtrees
// either side already holds are never resent.
type Session struct {
	Store store.Backend
	Index index.Backend
	Arg   Arg

	mu           sync.Mutex
	peerComplete map[string]completeness
	announced    map[string]bool // items we've already sent Get Complete for
	sent         map[string]bool // items we've already sent Put Item for

	getEndSent, putEndSent         bool
	getEndRecv, putEndRecv         bool
	progress                       ProgressMessage
}

// NewSession constructs a Session ready to drive arg over a Stream.
func NewSession(st store.Backend, idx index.Backend, arg Arg) *Session {
	return &Session{
		Store:        st,
		Index:        idx,
		Arg:          arg,
		peerComplete: make(map[string]completeness),
		announced:    make(map[string]bool),
		sent:         make(map[string]bool),
	}
}

// Run drives the session to completion: it issues Arg.Get requests and
// Arg.Put pushes while concurrently serving whatever the peer requests or
// pushes, until both sides have signaled End.
func (s *Session) Run(ctx context.Context, stream Stream) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.sendLoop(ctx, stream) })
	g.Go(func() error { return s.recvLoop(ctx, stream) })
	return g.Wait()
}

func (s *Session) sendLoop(ctx context.Context, stream Stream) error {
	for _, want := range s.Arg.Get {
		if err := s.announceLocalCompleteness(ctx, stream, want); err != nil {
			return err
		}
		msg := &Message{Kind: MessageGet, Get: &GetMessage{
			Kind: GetItem,
			Item: &GetItemMessage{Kind: itemKindOf(want), ID: want, Eager: s.Arg.Eager},
		}}
		if err := stream.Send(ctx, msg); err != nil {
			return fmt.Errorf("sync: send get item %s: %w", want, err)
		}
	}
	if err := stream.Send(ctx, &Message{Kind: MessageGet, Get: &GetMessage{Kind: GetEnd}}); err != nil {
		return fmt.Errorf("sync: send get end: %w", err)
	}
	s.mu.Lock()
	s.getEndSent = true
	s.mu.Unlock()

	for _, want := range s.Arg.Put {
		if err := s.pushItemClosure(ctx, stream, itemKindOf(want), want); err != nil {
			return err
		}
	}
	if err := stream.Send(ctx, &Message{Kind: MessagePut, Put: &PutMessage{Kind: PutEnd}}); err != nil {
		return fmt.Errorf("sync: send put end: %w", err)
	}
	s.mu.Lock()
	s.putEndSent = true
	done := s.getEndSent && s.putEndSent
	s.mu.Unlock()
	if done {
		return stream.Send(ctx, &Message{Kind: MessageEnd})
	}
	return nil
}

// itemKindOf classifies an id by its embedded kind tag: process ids carry
// id.KindProcess, everything else is an object.
func itemKindOf(i id.ID) ItemKind {
	if i.Kind() == id.KindProcess {
		return ItemProcess
	}
	return ItemObject
}

// announceLocalCompleteness walks want's locally known closure and emits
// Get Complete for every object whose index entry is marked complete,
// without descending into it; a process is announced with its index
// completeness flags. The peer can skip resending anything we announce
// (spec §4.7 step 3).
func (s *Session) announceLocalCompleteness(ctx context.Context, stream Stream, want id.ID) error {
	if itemKindOf(want) == ItemProcess {
		meta, err := s.Index.GetProcess(ctx, want)
		if err != nil || meta == nil {
			return nil
		}
		return s.sendGetComplete(ctx, stream, want, ItemProcess, *meta)
	}
	return s.announceObjectCompleteness(ctx, stream, want, make(map[string]bool))
}

func (s *Session) announceObjectCompleteness(ctx context.Context, stream Stream, want id.ID, visited map[string]bool) error {
	key := want.String()
	if visited[key] {
		return nil
	}
	visited[key] = true

	meta, err := s.Index.GetObject(ctx, want)
	if err != nil || meta == nil {
		return nil
	}
	if meta.Complete {
		if err := s.sendGetCompleteObject(ctx, stream, want); err != nil {
			return err
		}
		return nil // complete subtree: no need to recurse, the peer can skip it whole
	}
	for _, child := range meta.ChildrenIDs {
		if err := s.announceObjectCompleteness(ctx, stream, child, visited); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) sendGetCompleteObject(ctx context.Context, stream Stream, objID id.ID) error {
	key := objID.String()
	s.mu.Lock()
	if s.announced[key] {
		s.mu.Unlock()
		return nil
	}
	s.announced[key] = true
	s.mu.Unlock()
	msg := &Message{Kind: MessageGet, Get: &GetMessage{
		Kind:     GetComplete,
		Complete: &GetCompleteMessage{Kind: ItemObject, ID: objID},
	}}
	return stream.Send(ctx, msg)
}

func (s *Session) sendGetComplete(ctx context.Context, stream Stream, procID id.ID, kind ItemKind, meta index.ProcessMetadata) error {
	key := procID.String()
	s.mu.Lock()
	if s.announced[key] {
		s.mu.Unlock()
		return nil
	}
	s.announced[key] = true
	s.mu.Unlock()
	msg := &Message{Kind: MessageGet, Get: &GetMessage{
		Kind: GetComplete,
		Complete: &GetCompleteMessage{
			Kind:                     kind,
			ID:                       procID,
			ChildrenComplete:         meta.ChildrenComplete,
			CommandComplete:          meta.CommandComplete,
			ChildrenCommandsComplete: meta.ChildrenCommandsComplete,
			OutputComplete:           meta.OutputComplete,
			ChildrenOutputsComplete:  meta.ChildrenOutputsComplete,
		},
	}}
	return stream.Send(ctx, msg)
}

func (s *Session) recvLoop(ctx context.Context, stream Stream) error {
	for {
		msg, err := stream.Recv(ctx)
		if err != nil {
			return fmt.Errorf("sync: recv: %w", err)
		}
		switch msg.Kind {
		case MessageGet:
			if err := s.handleGet(ctx, stream, msg.Get); err != nil {
				return err
			}
		case MessagePut:
			if err := s.handlePut(ctx, msg.Put); err != nil {
				return err
			}
		case MessageEnd:
			return nil
		}

		s.mu.Lock()
		done := s.getEndRecv && s.putEndRecv && s.getEndSent && s.putEndSent
		s.mu.Unlock()
		if done {
			return nil
		}
	}
}

func (s *Session) handleGet(ctx context.Context, stream Stream, g *GetMessage) error {
	switch g.Kind {
	case GetItem:
		return s.pushItemClosure(ctx, stream, g.Item.Kind, g.Item.ID)
	case GetComplete:
		s.recordPeerComplete(g.Complete)
		return nil
	case GetProgress:
		return nil // advisory only, per spec §4.7 step 5
	case GetEnd:
		s.mu.Lock()
		s.getEndRecv = true
		s.mu.Unlock()
		return nil
	}
	return nil
}

func (s *Session) handlePut(ctx context.Context, p *PutMessage) error {
	switch p.Kind {
	case PutItem:
		return s.storeItem(ctx, p.Item)
	case PutMissing:
		return nil // not recorded or surfaced; correctness doesn't depend on it
	case PutProgress:
		s.mu.Lock()
		s.progress.Processes += p.Progress.Processes
		s.progress.Objects += p.Progress.Objects
		s.progress.Bytes += p.Progress.Bytes
		s.mu.Unlock()
		return nil
	case PutEnd:
		s.mu.Lock()
		s.putEndRecv = true
		s.mu.Unlock()
		return nil
	}
	return nil
}

func (s *Session) recordPeerComplete(c *GetCompleteMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Kind == ItemObject {
		s.peerComplete[c.ID.String()] = completeness{whole: true}
		return
	}
	s.peerComplete[c.ID.String()] = completeness{
		childrenComplete:         c.ChildrenComplete,
		commandComplete:          c.CommandComplete,
		childrenCommandsComplete: c.ChildrenCommandsComplete,
		outputComplete:           c.OutputComplete,
		childrenOutputsComplete:  c.ChildrenOutputsComplete,
	}
}

func (s *Session) storeItem(ctx context.Context, item *PutItemMessage) error {
	if err := s.Store.Put(ctx, item.ID, item.Bytes); err != nil {
		return fmt.Errorf("sync: store put %s: %w", item.ID, err)
	}
	if item.Kind == ItemObject {
		return s.Index.PutObject(ctx, index.ObjectMetadata{
			ID:        item.ID,
			TouchedAt: time.Now(),
			Stored:    map[string]bool{"local": true},
			SizeBytes: int64(len(item.Bytes)),
		})
	}
	return s.Index.PutProcess(ctx, index.ProcessMetadata{ID: item.ID, TouchedAt: time.Now()})
}

// pushItemClosure streams want and its recursive dependency closure (if
// s.Arg.Recursive) as Put Item messages, in reverse-topological order so
// the receiver never sees a reference before its target (spec §4.7
// "Ordering"). Subtrees the peer has already declared complete, or that
// we've already sent this session, are skipped. A process is sent as its
// own record only: its children, command and output are not walked.
func (s *Session) pushItemClosure(ctx context.Context, stream Stream, kind ItemKind, want id.ID) error {
	if kind == ItemProcess {
		return s.pushProcess(ctx, stream, want)
	}
	return s.pushObject(ctx, stream, want, make(map[string]bool))
}

func (s *Session) pushObject(ctx context.Context, stream Stream, objID id.ID, visiting map[string]bool) error {
	key := objID.String()
	if visiting[key] {
		return nil
	}
	visiting[key] = true

	s.mu.Lock()
	peer, peerKnows := s.peerComplete[key]
	alreadySent := s.sent[key]
	s.mu.Unlock()
	if alreadySent {
		return nil
	}

	meta, err := s.Index.GetObject(ctx, objID)
	if err != nil {
		return err
	}
	if meta == nil {
		return stream.Send(ctx, &Message{Kind: MessagePut, Put: &PutMessage{
			Kind:    PutMissing,
			Missing: &PutMissingMessage{Kind: ItemObject, ID: objID},
		}})
	}
	if meta.Complete && peerKnows && peer.coversObject() {
		return nil // subtree-stored on both sides with matching completeness: skip (spec §4.7 step 3)
	}

	if s.Arg.Recursive {
		for _, child := range meta.ChildrenIDs {
			if err := s.pushObject(ctx, stream, child, visiting); err != nil {
				return err
			}
		}
	}

	result, err := s.Store.Get(ctx, objID)
	if err != nil {
		return fmt.Errorf("sync: store get %s: %w", objID, err)
	}
	if result.Bytes == nil {
		return stream.Send(ctx, &Message{Kind: MessagePut, Put: &PutMessage{
			Kind:    PutMissing,
			Missing: &PutMissingMessage{Kind: ItemObject, ID: objID},
		}})
	}
	if err := stream.Send(ctx, &Message{Kind: MessagePut, Put: &PutMessage{
		Kind: PutItem,
		Item: &PutItemMessage{Kind: ItemObject, ID: objID, Bytes: result.Bytes},
	}}); err != nil {
		return fmt.Errorf("sync: send put item %s: %w", objID, err)
	}

	s.mu.Lock()
	s.sent[key] = true
	s.mu.Unlock()
	return stream.Send(ctx, &Message{Kind: MessagePut, Put: &PutMessage{
		Kind: PutProgress,
		Progress: &ProgressMessage{Objects: 1, Bytes: uint64(len(result.Bytes))},
	}})
}

func (s *Session) pushProcess(ctx context.Context, stream Stream, procID id.ID) error {
	key := procID.String()
	s.mu.Lock()
	peer, peerKnows := s.peerComplete[key]
	s.mu.Unlock()

	meta, err := s.Index.GetProcess(ctx, procID)
	if err != nil {
		return err
	}
	if meta == nil {
		return stream.Send(ctx, &Message{Kind: MessagePut, Put: &PutMessage{
			Kind:    PutMissing,
			Missing: &PutMissingMessage{Kind: ItemProcess, ID: procID},
		}})
	}
	if peerKnows && peer.coversProcess(*meta) {
		return nil
	}

	result, err := s.Store.Get(ctx, procID)
	if err != nil || result.Bytes == nil {
		return stream.Send(ctx, &Message{Kind: MessagePut, Put: &PutMessage{
			Kind:    PutMissing,
			Missing: &PutMissingMessage{Kind: ItemProcess, ID: procID},
		}})
	}
	if err := stream.Send(ctx, &Message{Kind: MessagePut, Put: &PutMessage{
		Kind: PutItem,
		Item: &PutItemMessage{Kind: ItemProcess, ID: procID, Bytes: result.Bytes},
	}}); err != nil {
		return fmt.Errorf("sync: send put process %s: %w", procID, err)
	}
	return stream.Send(ctx, &Message{Kind: MessagePut, Put: &PutMessage{
		Kind:     PutProgress,
		Progress: &ProgressMessage{Processes: 1, Bytes: uint64(len(result.Bytes))},
	}})
}

