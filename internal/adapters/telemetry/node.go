package telemetry

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/cratesync/internal/adapters/logger"
	"go.trai.ch/cratesync/internal/core/ports"
)

// TracerNodeID is the unique identifier for the tracer Graft node.
const TracerNodeID graft.ID = "adapter.telemetry"

func init() {
	graft.Register(graft.Node[ports.Tracer]{
		ID:        TracerNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{logger.NodeID},
		Run: func(ctx context.Context) (ports.Tracer, error) {
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return NewOTelTracer(NewProvider(NewBridge(log)), "cratesync"), nil
		},
	})
}
