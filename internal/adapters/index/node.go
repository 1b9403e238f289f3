package index

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/cratesync/internal/core/ports"
)

// NodeID is the unique identifier for the index repository Graft node.
const NodeID graft.ID = "adapter.index"

func init() {
	graft.Register(graft.Node[ports.IndexRepository]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.IndexRepository, error) {
			return NewRepository(), nil
		},
	})
}
