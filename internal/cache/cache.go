// Package cache stores complete responses keyed by request fingerprint.
// Streaming output is never cached.
package cache

import (
	"context"
	"time"

	"github.com/af-corp/meridian-gateway/internal/types"
)

// Store is a response cache with a deployment-fixed TTL. Implementations are
// safe for concurrent use; concurrent Puts for the same fingerprint race with
// last-write-wins semantics, which is acceptable because responses for a given
// fingerprint are equivalent.
type Store interface {
	// Get returns the cached response for a fingerprint, or false on miss.
	// Expired entries count as misses and are evicted lazily.
	Get(ctx context.Context, fingerprint string) (*types.Response, bool)

	// Put stores a response. Failures are swallowed; the cache is an
	// optimization, never a dependency of the request path.
	Put(ctx context.Context, fingerprint string, resp *types.Response)
}

// entry pairs a response with its absolute expiry instant.
type entry struct {
	resp      *types.Response
	expiresAt time.Time
}
