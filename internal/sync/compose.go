package sync

import (
	"context"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/store"
)

// Push drives a sync session that sends roots and their recursive
// closure to the peer reachable over stream. Push is implemented as
// sync(put=roots) against the same Session machinery Pull uses, so the
// completeness-skip logic suppresses redundant traffic identically in
// either direction (spec §4.7 "Push/pull composition").
func Push(ctx context.Context, st store.Backend, idx index.Backend, roots []id.ID, stream Stream) error {
	s := NewSession(st, idx, Arg{Put: roots, Recursive: true})
	return s.Run(ctx, stream)
}

// Pull drives a sync session that requests roots and their recursive
// closure from the peer reachable over stream: the mirror of Push.
func Pull(ctx context.Context, st store.Backend, idx index.Backend, roots []id.ID, stream Stream) error {
	s := NewSession(st, idx, Arg{Get: roots, Recursive: true})
	return s.Run(ctx, stream)
}
