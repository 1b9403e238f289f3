package registry

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/cratesync/internal/adapters/index"
	"go.trai.ch/cratesync/internal/core/ports"
)

// NodeID is the unique identifier for the registry client Graft node.
const NodeID graft.ID = "adapter.registry"

func init() {
	graft.Register(graft.Node[*Client]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{index.NodeID},
		Run: func(ctx context.Context) (*Client, error) {
			repo, err := graft.Dep[ports.IndexRepository](ctx)
			if err != nil {
				return nil, err
			}
			return NewClient(repo), nil
		},
	})
}
