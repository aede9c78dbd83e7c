package router

import (
	"sync"
	"time"
)

// BreakerState is the availability state of one provider.
type BreakerState int

const (
	BreakerClosed  BreakerState = iota // healthy, requests flow
	BreakerOpen                        // tripped, requests blocked
	BreakerProbing                     // cooled down, a probe is allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// Breaker trips a provider out of rotation after consecutive failures and
// lets a probe through once the cooldown elapses.
type Breaker struct {
	mu sync.Mutex

	state       BreakerState
	consecutive int
	openedAt    time.Time

	tripAfter int
	cooldown  time.Duration

	now func() time.Time
}

func NewBreaker(tripAfter int, cooldown time.Duration) *Breaker {
	return &Breaker{
		state:     BreakerClosed,
		tripAfter: tripAfter,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// State reports the current state, promoting OPEN to PROBING when the
// cooldown has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState must be called with mu held.
func (b *Breaker) currentState() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = BreakerProbing
	}
	return b.state
}

// Allow reports whether a request may go to this provider.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState() != BreakerOpen
}

// RecordSuccess resets the failure streak; a successful probe closes the
// breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.consecutive = 0
}

// RecordFailure extends the failure streak. Crossing the threshold, or
// failing a probe, opens the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	switch b.state {
	case BreakerClosed:
		if b.consecutive >= b.tripAfter {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	case BreakerProbing:
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}
