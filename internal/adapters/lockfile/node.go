package lockfile

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/cratesync/internal/core/ports"
)

// NodeID is the unique identifier for the lock file parser Graft node.
const NodeID graft.ID = "adapter.lockfile"

func init() {
	graft.Register(graft.Node[ports.LockfileParser]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.LockfileParser, error) {
			return NewParser(), nil
		},
	})
}
