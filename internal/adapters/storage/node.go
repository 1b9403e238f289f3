package storage

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/cratesync/internal/core/ports"
)

// NodeID is the unique identifier for the storage factory Graft node.
const NodeID graft.ID = "adapter.storage"

func init() {
	graft.Register(graft.Node[ports.StorageFactory]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.StorageFactory, error) {
			return NewFactory(), nil
		},
	})
}
