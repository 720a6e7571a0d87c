package grpctransport

import (
	"context"

	"github.com/tangramdotdev/tangram/internal/index"
	"github.com/tangramdotdev/tangram/internal/store"
	tgsync "github.com/tangramdotdev/tangram/internal/sync"
)

// server is the Handler a daemon registers on its grpc.Server: it runs a
// fresh Session per inbound stream whose Arg names no items, so it only ever
// serves what the peer's Get/Put messages ask for rather than driving
// its own requests — the client side owns the push/pull direction.
type server struct {
	store store.Backend
	index index.Backend
}

// NewHandler builds a grpctransport.Handler backed by st/idx.
func NewHandler(st store.Backend, idx index.Backend) Handler {
	return &server{store: st, index: idx}
}

func (s *server) HandleSync(ctx context.Context, stream tgsync.Stream) error {
	session := tgsync.NewSession(s.store, s.index, tgsync.Arg{Recursive: true})
	return session.Run(ctx, stream)
}
