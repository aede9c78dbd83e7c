// Package adapters translates the gateway's canonical request/response shape
// into each vendor's call semantics.
package adapters

import (
	"context"

	"github.com/af-corp/meridian-gateway/internal/types"
)

// ChunkKind tags the variants of a streaming chunk.
type ChunkKind int

const (
	// ChunkTextDelta carries one increment of generated text.
	ChunkTextDelta ChunkKind = iota
	// ChunkCompletion terminates a stream with final usage and stop reason.
	ChunkCompletion
	// ChunkError terminates a stream with a translated failure.
	ChunkError
)

// Chunk is the uniform streaming unit produced by every adapter, regardless
// of the vendor's wire events. A stream yields zero or more text deltas
// followed by exactly one completion or error chunk, after which the channel
// is closed.
type Chunk struct {
	Kind         ChunkKind
	Text         string
	FinishReason string
	Usage        *types.Usage
	Err          error
}

// ProviderAdapter is the contract between the gateway and one vendor. Both
// operations must return failures as *types.GatewayError; the orchestrator
// never handles vendor-specific errors.
type ProviderAdapter interface {
	Name() string

	// Complete performs a single blocking completion call.
	Complete(ctx context.Context, req *types.Request) (*types.Response, error)

	// Stream begins a chunked completion. The returned channel is closed
	// after the terminal chunk. Cancelling ctx aborts the underlying call.
	Stream(ctx context.Context, req *types.Request) (<-chan Chunk, error)

	SupportsStreaming() bool
}

// confidenceFor derives the gateway's quality estimate from a normalized
// finish reason. A truncated generation is worth less than a natural stop.
func confidenceFor(finishReason string) float64 {
	switch finishReason {
	case "stop":
		return 0.9
	case "length":
		return 0.6
	default:
		return 0.5
	}
}
