package process

import (
	"context"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/tgerror"
)

// checkChildDAG rejects a spawn that would turn the children DAG into
// something other than a DAG, or push it past the configured depth.
//
// The walk is grounded on internal/history/timeline.go's
// findCrossTimelineLCA: that function follows a leaf's PrevIdx chain
// into a set and tests each step of a second chain against it to find a
// common ancestor. checkChildDAG is the same "walk the parent chain,
// testing membership at every step" shape, generalized from one linear
// PrevIdx chain to an arbitrary process-child DAG: cmd is rejected if it
// already names a cycle-forming ancestor of parent (self or transitive),
// rather than two chains being compared for convergence.
func (m *Manager) checkChildDAG(ctx context.Context, parent *Record, cmd id.ID) error {
	if parent.Command.Equal(cmd) {
		return tgerror.New(tgerror.Cycle, "process spawn would self-cycle",
			tgerror.WithValue("process", parent.ID.String()), tgerror.WithValue("command", cmd.String()))
	}

	current := parent
	for {
		if current.Command.Equal(cmd) {
			return tgerror.New(tgerror.Cycle, "process spawn would introduce a cycle in the children DAG",
				tgerror.WithValue("ancestor", current.ID.String()), tgerror.WithValue("command", cmd.String()))
		}
		if current.Parent == nil {
			break
		}
		next, err := m.Get(ctx, *current.Parent)
		if err != nil {
			return err
		}
		current = next
	}

	if parent.depth+1 >= m.config.MaxDepth {
		return tgerror.New(tgerror.Overflow, "process spawn exceeds max_depth",
			tgerror.WithValue("depth", parent.depth+1), tgerror.WithValue("max_depth", m.config.MaxDepth))
	}
	return nil
}
