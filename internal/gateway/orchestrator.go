// Package gateway coordinates a request's full journey: cache lookup,
// rate-limit admission, provider dispatch with one fallback hop, usage
// tracking, and streaming session management.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/af-corp/meridian-gateway/internal/cache"
	"github.com/af-corp/meridian-gateway/internal/monitor"
	"github.com/af-corp/meridian-gateway/internal/ratelimit"
	"github.com/af-corp/meridian-gateway/internal/router"
	"github.com/af-corp/meridian-gateway/internal/telemetry"
	"github.com/af-corp/meridian-gateway/internal/types"
)

// Orchestrator owns the non-streaming request path.
type Orchestrator struct {
	resolver *router.Resolver
	limiter  *ratelimit.Limiter
	store    cache.Store
	monitor  *monitor.Monitor
	health   *router.HealthTracker
	metrics  *telemetry.Metrics
}

func NewOrchestrator(
	resolver *router.Resolver,
	limiter *ratelimit.Limiter,
	store cache.Store,
	mon *monitor.Monitor,
	health *router.HealthTracker,
	metrics *telemetry.Metrics,
) *Orchestrator {
	return &Orchestrator{
		resolver: resolver,
		limiter:  limiter,
		store:    store,
		monitor:  mon,
		health:   health,
		metrics:  metrics,
	}
}

// Generate runs one completion request to a final response. Cached responses
// bypass admission entirely. A local rate-limit denial fails the request
// immediately; only a provider-call failure that is not the caller's fault
// sends the request to the designated fallback, exactly once.
func (o *Orchestrator) Generate(ctx context.Context, req *types.Request) (*types.Response, error) {
	fingerprint := Fingerprint(req)

	if resp, ok := o.store.Get(ctx, fingerprint); ok {
		if o.metrics != nil {
			o.metrics.RecordCacheEvent("hit")
		}
		cached := *resp
		cached.RequestID = req.RequestID
		// The stored latency belongs to the original call, not this one.
		cached.ProcessingMs = 0
		if cached.Metadata == nil {
			cached.Metadata = map[string]string{}
		}
		cached.Metadata["cache"] = "hit"
		slog.Debug("cache hit", "request_id", req.RequestID, "fingerprint", fingerprint[:12])
		return &cached, nil
	}
	if o.metrics != nil {
		o.metrics.RecordCacheEvent("miss")
	}

	primary, fallback, err := o.resolver.Resolve(req.Config)
	if err != nil {
		return nil, err
	}

	if denied := admitProvider(o.limiter, o.metrics, primary.Provider); denied != nil {
		return nil, denied
	}

	resp, err := o.attempt(ctx, req, primary)
	if err != nil && fallback != nil && shouldFallback(err) {
		slog.Warn("primary provider failed, trying fallback",
			"request_id", req.RequestID,
			"primary", primary.Provider,
			"fallback", fallback.Provider,
			"error_kind", string(types.KindOf(err)),
		)
		if denied := admitProvider(o.limiter, o.metrics, fallback.Provider); denied != nil {
			return nil, denied
		}
		resp, err = o.attempt(ctx, req, *fallback)
	}
	if err != nil {
		return nil, err
	}

	o.store.Put(ctx, fingerprint, resp)
	return resp, nil
}

// admitProvider consults the local rate limiter for one provider call. A
// denial is final and surfaces to the caller as-is; only provider-call
// failures are eligible for the fallback hop.
func admitProvider(limiter *ratelimit.Limiter, metrics *telemetry.Metrics, provider string) error {
	res := limiter.Admit(provider)
	if res.Allowed {
		return nil
	}
	if metrics != nil {
		metrics.RecordRateLimitDenied(provider)
	}
	return types.NewRateLimitError(provider, res.RetryAfter)
}

// attempt dispatches and tracks one admitted provider call.
func (o *Orchestrator) attempt(ctx context.Context, req *types.Request, route router.Route) (*types.Response, error) {
	routed := *req
	routed.Config.Model = route.Model

	started := time.Now()
	resp, err := route.Adapter.Complete(ctx, &routed)
	latency := float64(time.Since(started).Milliseconds())

	if err != nil {
		o.health.RecordFailure(route.Provider)
		o.monitor.Track(ctx, monitor.Sample{
			Provider:  route.Provider,
			Model:     route.Model,
			Success:   false,
			LatencyMs: latency,
			Err:       err,
		})
		return nil, err
	}

	o.health.RecordSuccess(route.Provider)
	o.monitor.Track(ctx, monitor.Sample{
		Provider:         route.Provider,
		Model:            route.Model,
		Success:          true,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		LatencyMs:        latency,
	})
	return resp, nil
}

// shouldFallback reports whether a primary failure justifies the one fallback
// hop. Caller mistakes are returned as-is; a different vendor cannot fix a
// malformed request.
func shouldFallback(err error) bool {
	return types.KindOf(err) != types.ErrInvalidRequest
}

// fingerprintPayload is the canonical cache identity of a request. Only
// fields that change the generated output participate; caller identity and
// timing never do.
type fingerprintPayload struct {
	Messages []types.Message        `json:"messages"`
	Config   types.GenerationConfig `json:"config"`
}

// Fingerprint derives the deterministic cache key for a request.
func Fingerprint(req *types.Request) string {
	payload, err := json.Marshal(fingerprintPayload{
		Messages: req.Messages,
		Config:   req.Config,
	})
	if err != nil {
		// Marshal of plain structs cannot fail; keep the signature simple.
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
