package lock

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/cratesync/internal/core/ports"
)

// NodeID is the unique identifier for the file locker Graft node.
const NodeID graft.ID = "adapter.lock"

func init() {
	graft.Register(graft.Node[ports.FileLocker]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.FileLocker, error) {
			return NewLocker(), nil
		},
	})
}
