// Package sync implements the sync engine: a bidirectional protocol for
// exchanging processes and objects between two stores, with completeness-
// driven skipping of subtrees either side already holds.
//
// The message shapes mirror original_source's
// packages/client/src/sync.rs Message/GetMessage/PutMessage union exactly;
// Go has no sum types, so each union is represented the way
// internal/graph represents GraphNode: a Kind discriminator plus one
// populated pointer field per variant, matching only one of which is set.
package sync

import "github.com/tangramdotdev/tangram/internal/id"

// Arg is the query sent when opening a sync session, mirroring
// original_source's tg::sync::Arg.
type Arg struct {
	Commands  bool
	Eager     bool
	Get       []id.ID
	Outputs   bool
	Put       []id.ID
	Recursive bool
	Remote    string
}

// MessageKind discriminates the top-level Message union.
type MessageKind int

const (
	MessageGet MessageKind = iota + 1
	MessagePut
	MessageEnd
)

// Message is the top-level frame of the sync protocol: Get, Put, or End.
type Message struct {
	Kind MessageKind
	Get  *GetMessage
	Put  *PutMessage
}

// GetMessageKind discriminates the Get sub-union.
type GetMessageKind int

const (
	GetItem GetMessageKind = iota + 1
	GetComplete
	GetProgress
	GetEnd
)

// GetMessage is "please send me this" / "I already have this" / advisory
// progress / end-of-get-stream.
type GetMessage struct {
	Kind     GetMessageKind
	Item     *GetItemMessage
	Complete *GetCompleteMessage
	Progress *ProgressMessage
}

// ItemKind discriminates whether an item reference names a process or an
// object.
type ItemKind int

const (
	ItemProcess ItemKind = iota + 1
	ItemObject
)

// GetItemMessage requests one item, optionally eagerly (before its
// dependencies are known to be needed).
type GetItemMessage struct {
	Kind  ItemKind
	ID    id.ID
	Eager bool
}

// GetCompleteMessage announces that the sender already holds id with the
// given completeness flags, letting the peer skip re-sending it.
type GetCompleteMessage struct {
	Kind ItemKind
	ID   id.ID

	// Process completeness is multi-dimensional: each flag is
	// independently declared and skipped. Unused for ItemObject.
	ChildrenComplete         bool
	CommandComplete          bool
	ChildrenCommandsComplete bool
	OutputComplete           bool
	ChildrenOutputsComplete  bool
}

// PutMessageKind discriminates the Put sub-union.
type PutMessageKind int

const (
	PutItem PutMessageKind = iota + 1
	PutMissing
	PutProgress
	PutEnd
)

// PutMessage carries item bytes, a missing-item notice, advisory
// progress, or end-of-put-stream.
type PutMessage struct {
	Kind     PutMessageKind
	Item     *PutItemMessage
	Missing  *PutMissingMessage
	Progress *ProgressMessage
}

// PutItemMessage carries one item's serialized bytes: the process's
// encoded record, or the object's objectcodec-encoded bytes.
type PutItemMessage struct {
	Kind  ItemKind
	ID    id.ID
	Bytes []byte
}

// PutMissingMessage answers a Get for an item the sender does not have.
type PutMissingMessage struct {
	Kind ItemKind
	ID   id.ID
}

// ProgressMessage is an advisory running counter; it carries no
// correctness obligation (spec §4.7 step 5).
type ProgressMessage struct {
	Processes uint64
	Objects   uint64
	Bytes     uint64
}
