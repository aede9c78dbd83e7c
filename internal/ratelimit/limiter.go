package ratelimit

import (
	"sync"
	"time"

	"github.com/af-corp/meridian-gateway/internal/config"
)

// Result is the outcome of an admission check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter enforces fixed-size per-provider request windows. All state is in
// memory and every check completes without I/O; independent providers never
// contend on a shared lock.
type Limiter struct {
	defaultLimit config.ProviderLimit
	overrides    map[string]config.ProviderLimit

	mu      sync.RWMutex
	windows map[string]*window

	now func() time.Time
}

type window struct {
	mu    sync.Mutex
	count int
	start time.Time
}

func NewLimiter(limits config.LimitsConfig) *Limiter {
	def := limits.Default
	if def.Requests <= 0 {
		def.Requests = 50
	}
	if def.Window <= 0 {
		def.Window = time.Minute
	}
	return &Limiter{
		defaultLimit: def,
		overrides:    limits.Providers,
		windows:      make(map[string]*window),
		now:          time.Now,
	}
}

// Admit checks whether one more request for provider fits in the current
// window. An expired window is reset before the count is compared against the
// limit. Denials report the time until the window resets.
func (l *Limiter) Admit(provider string) Result {
	limit := l.limitFor(provider)
	w := l.windowFor(provider)

	now := l.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if now.Sub(w.start) >= limit.Window {
		w.count = 0
		w.start = now
	}

	resetAt := w.start.Add(limit.Window)

	if w.count >= limit.Requests {
		retryAfter := resetAt.Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: retryAfter,
			ResetAt:    resetAt,
		}
	}

	w.count++
	return Result{
		Allowed:   true,
		Remaining: limit.Requests - w.count,
		ResetAt:   resetAt,
	}
}

func (l *Limiter) limitFor(provider string) config.ProviderLimit {
	if lim, ok := l.overrides[provider]; ok && lim.Requests > 0 && lim.Window > 0 {
		return lim
	}
	return l.defaultLimit
}

// windowFor returns (or lazily creates) the window state for a provider.
func (l *Limiter) windowFor(provider string) *window {
	l.mu.RLock()
	w, ok := l.windows[provider]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Double-check after acquiring write lock
	if w, ok := l.windows[provider]; ok {
		return w
	}
	w = &window{start: l.now()}
	l.windows[provider] = w
	return w
}
