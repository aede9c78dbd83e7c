// Package monitor accumulates per-(provider,model) usage, derives cost from
// the pricing table, and raises threshold alerts.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/af-corp/meridian-gateway/internal/config"
	"github.com/af-corp/meridian-gateway/internal/telemetry"
	"github.com/af-corp/meridian-gateway/internal/types"
)

// minErrorRateSample is the smallest request count at which the error-rate
// rule fires, so a single early failure cannot page anyone.
const minErrorRateSample = 10

// Sample describes one provider attempt, successful or not.
type Sample struct {
	Provider         string
	Model            string
	Success          bool
	PromptTokens     int
	CompletionTokens int
	LatencyMs        float64
	Err              error
}

// usageEntry holds the counters for one (provider, model) pair. Counters only
// ever grow; ResetDaily clears the daily cost accumulator alone.
type usageEntry struct {
	mu sync.Mutex

	requestCount int64
	successCount int64
	errorCount   int64
	totalTokens  int64
	totalCostUSD float64
	dailyCostUSD float64
	avgLatencyMs float64
	lastRequest  time.Time
}

// Snapshot is an immutable copy of one entry's counters.
type Snapshot struct {
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	RequestCount int64     `json:"request_count"`
	SuccessCount int64     `json:"success_count"`
	ErrorCount   int64     `json:"error_count"`
	ErrorRate    float64   `json:"error_rate"`
	TotalTokens  int64     `json:"total_tokens"`
	TotalCostUSD float64   `json:"total_cost_usd"`
	DailyCostUSD float64   `json:"daily_cost_usd"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	LastRequest  time.Time `json:"last_request"`
}

// Monitor is the cost & usage monitor. Entries are created lazily per
// (provider, model); updates are atomic per entry and independent entries
// never contend.
type Monitor struct {
	cfg     config.MonitorConfig
	pricing *Pricing
	sinks   []AlertSink
	metrics *telemetry.Metrics

	mu      sync.RWMutex
	entries map[string]*usageEntry

	now func() time.Time
}

func New(cfg config.MonitorConfig, pricing *Pricing, metrics *telemetry.Metrics, sinks ...AlertSink) *Monitor {
	return &Monitor{
		cfg:     cfg,
		pricing: pricing,
		sinks:   sinks,
		metrics: metrics,
		entries: make(map[string]*usageEntry),
		now:     time.Now,
	}
}

// Track records one provider attempt and evaluates alert rules in fixed
// order: cost, error rate, latency. High and critical alerts reach the sinks
// before Track returns.
func (m *Monitor) Track(ctx context.Context, s Sample) {
	cost := m.pricing.Cost(s.Provider, s.Model, s.PromptTokens, s.CompletionTokens)
	e := m.entryFor(s.Provider, s.Model)

	e.mu.Lock()
	e.requestCount++
	if s.Success {
		e.successCount++
	} else {
		e.errorCount++
	}
	e.totalTokens += int64(s.PromptTokens + s.CompletionTokens)
	e.totalCostUSD += cost
	e.dailyCostUSD += cost
	n := e.requestCount
	e.avgLatencyMs = (e.avgLatencyMs*float64(n-1) + s.LatencyMs) / float64(n)
	e.lastRequest = m.now()

	dailyCost := e.dailyCostUSD
	errorRate := float64(e.errorCount) / float64(e.requestCount)
	avgLatency := e.avgLatencyMs
	e.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordUsage(s.Provider, s.Model, s.Success, s.PromptTokens, s.CompletionTokens, cost, s.LatencyMs)
	}

	m.evaluateCost(ctx, s, dailyCost)
	m.evaluateErrorRate(ctx, s, n, errorRate)
	m.evaluateLatency(ctx, s, avgLatency)
	m.evaluateQuota(ctx, s)
}

func (m *Monitor) evaluateCost(ctx context.Context, s Sample, dailyCost float64) {
	limit := m.cfg.DailyCostLimitUSD
	if limit <= 0 {
		return
	}
	switch {
	case dailyCost > limit:
		m.emit(ctx, Alert{
			Type:      AlertCostThreshold,
			Severity:  SeverityCritical,
			Provider:  s.Provider,
			Model:     s.Model,
			Threshold: limit,
			Value:     dailyCost,
			Message:   fmt.Sprintf("daily cost $%.2f exceeds limit $%.2f", dailyCost, limit),
			At:        m.now(),
		})
	case dailyCost > 0.8*limit:
		m.emit(ctx, Alert{
			Type:      AlertCostThreshold,
			Severity:  SeverityHigh,
			Provider:  s.Provider,
			Model:     s.Model,
			Threshold: 0.8 * limit,
			Value:     dailyCost,
			Message:   fmt.Sprintf("daily cost $%.2f exceeds 80%% of limit $%.2f", dailyCost, limit),
			At:        m.now(),
		})
	}
}

func (m *Monitor) evaluateErrorRate(ctx context.Context, s Sample, n int64, rate float64) {
	if m.cfg.ErrorRateThreshold <= 0 || n < minErrorRateSample {
		return
	}
	severity := Severity("")
	threshold := m.cfg.ErrorRateThreshold
	switch {
	case m.cfg.ErrorRateCritical > 0 && rate > m.cfg.ErrorRateCritical:
		severity = SeverityCritical
		threshold = m.cfg.ErrorRateCritical
	case rate > m.cfg.ErrorRateThreshold:
		severity = SeverityHigh
	default:
		return
	}
	m.emit(ctx, Alert{
		Type:      AlertErrorRate,
		Severity:  severity,
		Provider:  s.Provider,
		Model:     s.Model,
		Threshold: threshold,
		Value:     rate,
		Message:   fmt.Sprintf("error rate %.1f%% over %d requests", rate*100, n),
		At:        m.now(),
	})
}

func (m *Monitor) evaluateLatency(ctx context.Context, s Sample, avg float64) {
	if m.cfg.LatencyCeilingMs <= 0 || avg <= m.cfg.LatencyCeilingMs {
		return
	}
	m.emit(ctx, Alert{
		Type:      AlertLatency,
		Severity:  SeverityMedium,
		Provider:  s.Provider,
		Model:     s.Model,
		Threshold: m.cfg.LatencyCeilingMs,
		Value:     avg,
		Message:   fmt.Sprintf("average latency %.0fms exceeds ceiling %.0fms", avg, m.cfg.LatencyCeilingMs),
		At:        m.now(),
	})
}

func (m *Monitor) evaluateQuota(ctx context.Context, s Sample) {
	if s.Err == nil || types.KindOf(s.Err) != types.ErrQuotaExceeded {
		return
	}
	m.emit(ctx, Alert{
		Type:     AlertQuota,
		Severity: SeverityCritical,
		Provider: s.Provider,
		Model:    s.Model,
		Message:  "provider reported quota exhausted; operator action required",
		At:       m.now(),
	})
}

func (m *Monitor) emit(ctx context.Context, a Alert) {
	if m.metrics != nil {
		m.metrics.RecordAlert(string(a.Type), string(a.Severity))
	}
	for _, sink := range m.sinks {
		sink.Emit(ctx, a)
	}
}

// ResetDaily clears the daily cost accumulators. Cumulative request, error,
// token, and total-cost counters are untouched. Invoked by an external
// scheduler at the daily boundary; the monitor never schedules it itself.
func (m *Monitor) ResetDaily() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		e.mu.Lock()
		e.dailyCostUSD = 0
		e.mu.Unlock()
	}
}

// Usage returns a consistent copy of the entry for one (provider, model), or
// false if nothing has been tracked for it.
func (m *Monitor) Usage(provider, model string) (Snapshot, bool) {
	m.mu.RLock()
	e, ok := m.entries[provider+"/"+model]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return m.snapshotOf(provider, model, e), true
}

// Snapshot copies all entries, sorted by provider then model.
func (m *Monitor) Snapshot() []Snapshot {
	m.mu.RLock()
	keys := make([]string, 0, len(m.entries))
	byKey := make(map[string]*usageEntry, len(m.entries))
	for k, e := range m.entries {
		keys = append(keys, k)
		byKey[k] = e
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		provider, model := splitKey(k)
		out = append(out, m.snapshotOf(provider, model, byKey[k]))
	}
	return out
}

func (m *Monitor) snapshotOf(provider, model string, e *usageEntry) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		Provider:     provider,
		Model:        model,
		RequestCount: e.requestCount,
		SuccessCount: e.successCount,
		ErrorCount:   e.errorCount,
		TotalTokens:  e.totalTokens,
		TotalCostUSD: e.totalCostUSD,
		DailyCostUSD: e.dailyCostUSD,
		AvgLatencyMs: e.avgLatencyMs,
		LastRequest:  e.lastRequest,
	}
	if e.requestCount > 0 {
		snap.ErrorRate = float64(e.errorCount) / float64(e.requestCount)
	}
	return snap
}

// entryFor returns (or lazily creates) the entry for a (provider, model).
func (m *Monitor) entryFor(provider, model string) *usageEntry {
	key := provider + "/" + model

	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return e
	}
	e = &usageEntry{}
	m.entries[key] = e
	return e
}

func splitKey(key string) (provider, model string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
