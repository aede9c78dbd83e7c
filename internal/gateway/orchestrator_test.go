package gateway

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/af-corp/meridian-gateway/internal/cache"
	"github.com/af-corp/meridian-gateway/internal/config"
	"github.com/af-corp/meridian-gateway/internal/monitor"
	"github.com/af-corp/meridian-gateway/internal/ratelimit"
	"github.com/af-corp/meridian-gateway/internal/router"
	"github.com/af-corp/meridian-gateway/internal/router/adapters"
	"github.com/af-corp/meridian-gateway/internal/types"
)

// fakeAdapter scripts completion outcomes and counts calls.
type fakeAdapter struct {
	name      string
	calls     atomic.Int64
	completeF func(req *types.Request) (*types.Response, error)
	streamF   func(ctx context.Context, req *types.Request) (<-chan adapters.Chunk, error)
}

func (f *fakeAdapter) Name() string            { return f.name }
func (f *fakeAdapter) SupportsStreaming() bool { return f.streamF != nil }

func (f *fakeAdapter) Complete(ctx context.Context, req *types.Request) (*types.Response, error) {
	f.calls.Add(1)
	return f.completeF(req)
}

func (f *fakeAdapter) Stream(ctx context.Context, req *types.Request) (<-chan adapters.Chunk, error) {
	f.calls.Add(1)
	if f.streamF == nil {
		ch := make(chan adapters.Chunk)
		close(ch)
		return ch, nil
	}
	return f.streamF(ctx, req)
}

func okResponse(req *types.Request) (*types.Response, error) {
	return &types.Response{
		RequestID:    req.RequestID,
		Text:         "generated text",
		Usage:        types.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Model:        req.Config.Model,
		ProcessingMs: 42,
	}, nil
}

type orchestratorFixture struct {
	orchestrator *Orchestrator
	primary      *fakeAdapter
	fallback     *fakeAdapter
	store        *cache.Memory
	monitor      *monitor.Monitor
	health       *router.HealthTracker
}

func newFixture(t *testing.T, primary, fallback *fakeAdapter, limits config.LimitsConfig) *orchestratorFixture {
	t.Helper()

	registry := router.NewRegistry()
	registry.Register(primary.name, primary)
	models := map[string]config.ModelMapping{
		"chat": {
			Primary: config.ProviderRoute{Provider: primary.name, Model: "vendor-chat"},
		},
	}
	if fallback != nil {
		registry.Register(fallback.name, fallback)
		mapping := models["chat"]
		mapping.Fallback = &config.ProviderRoute{Provider: fallback.name, Model: "vendor-alt"}
		models["chat"] = mapping
	}

	health := router.NewHealthTracker(5, time.Minute)
	resolver := router.NewResolver(&config.ModelsConfig{Models: models}, registry, health)

	store := cache.NewMemory(time.Minute)
	mon := monitor.New(config.MonitorConfig{
		DailyCostLimitUSD:  100,
		ErrorRateThreshold: 0.05,
		ErrorRateCritical:  0.10,
		LatencyCeilingMs:   10000,
	}, monitor.NewPricing(nil), nil)

	return &orchestratorFixture{
		orchestrator: NewOrchestrator(resolver, ratelimit.NewLimiter(limits), store, mon, health, nil),
		primary:      primary,
		fallback:     fallback,
		store:        store,
		monitor:      mon,
		health:       health,
	}
}

func chatRequest(id string) *types.Request {
	return &types.Request{
		RequestID: id,
		Messages:  []types.Message{{Role: types.RoleUser, Content: "hello"}},
		Config:    types.GenerationConfig{Model: "chat"},
	}
}

func TestGenerate_CacheHitSkipsProvider(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", completeF: okResponse}
	fx := newFixture(t, primary, nil, config.LimitsConfig{})

	first, err := fx.orchestrator.Generate(context.Background(), chatRequest("r1"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := fx.orchestrator.Generate(context.Background(), chatRequest("r2"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if got := primary.calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1 (second request served from cache)", got)
	}
	if second.Text != first.Text {
		t.Errorf("cached text = %q, want %q", second.Text, first.Text)
	}
	if second.RequestID != "r2" {
		t.Errorf("cached RequestID = %q, want the new request's id", second.RequestID)
	}
	if second.Metadata["cache"] != "hit" {
		t.Error("cached response must be marked as a hit")
	}
	if second.ProcessingMs != 0 {
		t.Errorf("ProcessingMs = %d, want 0 (the stored latency is not this request's)", second.ProcessingMs)
	}
}

func TestGenerate_DifferentConfigMisses(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", completeF: okResponse}
	fx := newFixture(t, primary, nil, config.LimitsConfig{})

	req1 := chatRequest("r1")
	req2 := chatRequest("r2")
	temp := 0.7
	req2.Config.Temperature = &temp

	if _, err := fx.orchestrator.Generate(context.Background(), req1); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := fx.orchestrator.Generate(context.Background(), req2); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if got := primary.calls.Load(); got != 2 {
		t.Errorf("provider calls = %d, want 2 (config change must not share cache)", got)
	}
}

func TestGenerate_RateLimitBoundary(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", completeF: okResponse}
	fx := newFixture(t, primary, nil, config.LimitsConfig{
		Default: config.ProviderLimit{Requests: 2, Window: time.Minute},
	})

	// Distinct messages so the cache never short-circuits admission.
	for i, content := range []string{"one", "two"} {
		req := chatRequest("ok")
		req.Messages[0].Content = content
		if _, err := fx.orchestrator.Generate(context.Background(), req); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	req := chatRequest("denied")
	req.Messages[0].Content = "three"
	_, err := fx.orchestrator.Generate(context.Background(), req)
	if err == nil {
		t.Fatal("expected rate limit denial")
	}
	ge := types.AsGatewayError(err)
	if ge.Kind != types.ErrRateLimit {
		t.Fatalf("Kind = %s, want %s", ge.Kind, types.ErrRateLimit)
	}
	if ge.RetryAfter <= 0 || ge.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %s, want within (0, window]", ge.RetryAfter)
	}
	if got := primary.calls.Load(); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

func TestGenerate_RateLimitDenialDoesNotFallBack(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", completeF: okResponse}
	fallback := &fakeAdapter{name: "beta", completeF: okResponse}
	fx := newFixture(t, primary, fallback, config.LimitsConfig{
		Default: config.ProviderLimit{Requests: 1, Window: time.Minute},
	})

	req := chatRequest("r1")
	req.Messages[0].Content = "one"
	if _, err := fx.orchestrator.Generate(context.Background(), req); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	req = chatRequest("r2")
	req.Messages[0].Content = "two"
	_, err := fx.orchestrator.Generate(context.Background(), req)
	if err == nil {
		t.Fatal("expected the over-limit request to be denied, not rerouted")
	}
	ge := types.AsGatewayError(err)
	if ge.Kind != types.ErrRateLimit {
		t.Fatalf("Kind = %s, want %s", ge.Kind, types.ErrRateLimit)
	}
	if ge.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %s, want positive", ge.RetryAfter)
	}
	if got := primary.calls.Load(); got != 1 {
		t.Errorf("primary calls = %d, want 1", got)
	}
	if got := fallback.calls.Load(); got != 0 {
		t.Errorf("fallback calls = %d, want 0 (local denial must not reroute)", got)
	}
	if _, ok := fx.monitor.Usage("beta", "vendor-alt"); ok {
		t.Error("denied request must leave no fallback usage entry")
	}
}

func TestGenerate_FallbackOnProviderError(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", completeF: func(req *types.Request) (*types.Response, error) {
		return nil, types.NewGatewayError(types.ErrAPI, "alpha", "status 500: boom", nil)
	}}
	fallback := &fakeAdapter{name: "beta", completeF: okResponse}
	fx := newFixture(t, primary, fallback, config.LimitsConfig{})

	resp, err := fx.orchestrator.Generate(context.Background(), chatRequest("r1"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Model != "vendor-alt" {
		t.Errorf("Model = %q, want the fallback route's model", resp.Model)
	}
	if primary.calls.Load() != 1 || fallback.calls.Load() != 1 {
		t.Errorf("calls = %d/%d, want exactly one each", primary.calls.Load(), fallback.calls.Load())
	}

	// Both attempts leave independent usage entries.
	primarySnap, ok := fx.monitor.Usage("alpha", "vendor-chat")
	if !ok {
		t.Fatal("expected a usage entry for the failed primary attempt")
	}
	if primarySnap.RequestCount != 1 || primarySnap.ErrorCount != 1 {
		t.Errorf("primary counts = %d requests / %d errors, want 1/1",
			primarySnap.RequestCount, primarySnap.ErrorCount)
	}
	fallbackSnap, ok := fx.monitor.Usage("beta", "vendor-alt")
	if !ok {
		t.Fatal("expected a usage entry for the fallback attempt")
	}
	if fallbackSnap.RequestCount != 1 || fallbackSnap.SuccessCount != 1 {
		t.Errorf("fallback counts = %d requests / %d successes, want 1/1",
			fallbackSnap.RequestCount, fallbackSnap.SuccessCount)
	}
}

func TestGenerate_NoSecondHop(t *testing.T) {
	fail := func(req *types.Request) (*types.Response, error) {
		return nil, types.NewGatewayError(types.ErrNetwork, "", "connection refused", nil)
	}
	primary := &fakeAdapter{name: "alpha", completeF: fail}
	fallback := &fakeAdapter{name: "beta", completeF: fail}
	fx := newFixture(t, primary, fallback, config.LimitsConfig{})

	_, err := fx.orchestrator.Generate(context.Background(), chatRequest("r1"))
	if err == nil {
		t.Fatal("expected error when both routes fail")
	}
	if got := types.KindOf(err); got != types.ErrNetwork {
		t.Errorf("Kind = %s, want the fallback's failure surfaced", got)
	}
	if primary.calls.Load() != 1 || fallback.calls.Load() != 1 {
		t.Errorf("calls = %d/%d, want exactly one each (single hop)", primary.calls.Load(), fallback.calls.Load())
	}
}

func TestGenerate_NoFallbackOnInvalidRequest(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", completeF: func(req *types.Request) (*types.Response, error) {
		return nil, types.NewGatewayError(types.ErrInvalidRequest, "alpha", "status 400: bad prompt", nil)
	}}
	fallback := &fakeAdapter{name: "beta", completeF: okResponse}
	fx := newFixture(t, primary, fallback, config.LimitsConfig{})

	_, err := fx.orchestrator.Generate(context.Background(), chatRequest("r1"))
	if got := types.KindOf(err); got != types.ErrInvalidRequest {
		t.Fatalf("Kind = %s, want %s", got, types.ErrInvalidRequest)
	}
	if got := fallback.calls.Load(); got != 0 {
		t.Errorf("fallback calls = %d, want 0 for caller mistakes", got)
	}
}

func TestGenerate_FailedRequestNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	primary := &fakeAdapter{name: "alpha", completeF: func(req *types.Request) (*types.Response, error) {
		if fail.Load() {
			return nil, types.NewGatewayError(types.ErrAPI, "alpha", "status 503", nil)
		}
		return okResponse(req)
	}}
	fx := newFixture(t, primary, nil, config.LimitsConfig{})

	if _, err := fx.orchestrator.Generate(context.Background(), chatRequest("r1")); err == nil {
		t.Fatal("expected failure")
	}
	if fx.store.Len() != 0 {
		t.Error("failed responses must not be cached")
	}

	fail.Store(false)
	if _, err := fx.orchestrator.Generate(context.Background(), chatRequest("r2")); err != nil {
		t.Fatalf("Generate after recovery: %v", err)
	}
	if got := primary.calls.Load(); got != 2 {
		t.Errorf("provider calls = %d, want 2 (no cache for the failure)", got)
	}
}

func TestGenerate_TracksUsage(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", completeF: okResponse}
	fx := newFixture(t, primary, nil, config.LimitsConfig{})

	if _, err := fx.orchestrator.Generate(context.Background(), chatRequest("r1")); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	snap, ok := fx.monitor.Usage("alpha", "vendor-chat")
	if !ok {
		t.Fatal("expected a usage entry for the routed provider/model")
	}
	if snap.RequestCount != 1 || snap.SuccessCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", snap.RequestCount, snap.SuccessCount)
	}
	if snap.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", snap.TotalTokens)
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := chatRequest("r1")
	b := chatRequest("r2")
	b.OrganizationID = "other-org"

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("caller identity must not affect the fingerprint")
	}

	c := chatRequest("r3")
	c.Messages[0].Content = "different"
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("message changes must change the fingerprint")
	}
}
