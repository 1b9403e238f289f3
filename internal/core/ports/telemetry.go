package ports

import (
	"context"
	"io"
)

//go:generate go run go.uber.org/mock/mockgen -source=telemetry.go -destination=mocks/mock_telemetry.go -package=mocks

// Tracer is the entry point for creating spans.
type Tracer interface {
	// Start creates a new span.
	Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)
	// EmitPlan signals the set of keys planned for this run.
	EmitPlan(ctx context.Context, keys []string)
}

// Span represents a unit of work.
type Span interface {
	io.Writer
	// End completes the span.
	End()
	// RecordError records an error for the span.
	RecordError(err error)
	// SetAttribute adds a key-value pair to the span.
	SetAttribute(key string, value any)
}

// SpanConfig holds configuration for a starting span.
type SpanConfig struct {
	Attributes map[string]any
}

// SpanOption is a functional option for configuring a span.
type SpanOption func(*SpanConfig)

// WithAttribute sets an attribute when the span starts.
func WithAttribute(key string, value any) SpanOption {
	return func(c *SpanConfig) {
		if c.Attributes == nil {
			c.Attributes = make(map[string]any)
		}
		c.Attributes[key] = value
	}
}

// Telemetry records per-item progress.
type Telemetry interface {
	// Record starts a progress vertex named name.
	Record(ctx context.Context, name string) Vertex
	// Close flushes the recording.
	Close() error
}

// Vertex is the progress of one work item.
type Vertex interface {
	// Stdout returns a writer for the vertex log.
	Stdout() io.Writer
	// Cached marks the item as already present.
	Cached()
	// Complete marks the item as finished, failed when err is non-nil.
	Complete(err error)
}
