package router

import (
	"sync"
	"time"
)

// HealthTracker keeps one breaker per provider and answers availability
// questions for route resolution.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	tripAfter int
	cooldown  time.Duration
}

func NewHealthTracker(tripAfter int, cooldown time.Duration) *HealthTracker {
	return &HealthTracker{
		breakers:  make(map[string]*Breaker),
		tripAfter: tripAfter,
		cooldown:  cooldown,
	}
}

// Breaker returns the breaker for a provider, creating it on first use.
func (ht *HealthTracker) Breaker(provider string) *Breaker {
	ht.mu.RLock()
	b, ok := ht.breakers[provider]
	ht.mu.RUnlock()
	if ok {
		return b
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	if b, ok := ht.breakers[provider]; ok {
		return b
	}
	b = NewBreaker(ht.tripAfter, ht.cooldown)
	ht.breakers[provider] = b
	return b
}

// Available reports whether the provider's breaker admits requests.
func (ht *HealthTracker) Available(provider string) bool {
	return ht.Breaker(provider).Allow()
}

func (ht *HealthTracker) RecordSuccess(provider string) {
	ht.Breaker(provider).RecordSuccess()
}

func (ht *HealthTracker) RecordFailure(provider string) {
	ht.Breaker(provider).RecordFailure()
}

// States returns each known provider's breaker state for the health
// endpoint.
func (ht *HealthTracker) States() map[string]string {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	out := make(map[string]string, len(ht.breakers))
	for name, b := range ht.breakers {
		out[name] = b.State().String()
	}
	return out
}
