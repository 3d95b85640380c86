// rate_limiter.go - Per-client rate limiting for the ledger daemon
package main

import (
	"sync"
	"time"
)

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	lastRefill   time.Time
	refillPeriod time.Duration
	now          func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxTokens int, refillRate int, refillPeriod time.Duration) *RateLimiter {
	return newRateLimiter(maxTokens, refillRate, refillPeriod, time.Now)
}

func newRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		lastRefill:   now(),
		refillPeriod: refillPeriod,
		now:          now,
	}
}

// Allow checks if a request is allowed and consumes a token if so
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	refillCount := int(now.Sub(rl.lastRefill) / rl.refillPeriod)
	if refillCount > 0 {
		rl.tokens += refillCount * rl.refillRate
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		// Carry the partial period forward.
		rl.lastRefill = rl.lastRefill.Add(time.Duration(refillCount) * rl.refillPeriod)
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// GetTokens returns the current number of available tokens
func (rl *RateLimiter) GetTokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.tokens
}

// Reset resets the rate limiter to its initial state
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = rl.maxTokens
	rl.lastRefill = rl.now()
}

// ClientRateLimiter keeps one bucket per client address.
type ClientRateLimiter struct {
	limiters     map[string]*RateLimiter
	mu           sync.Mutex
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
	now          func() time.Time
}

// NewClientRateLimiter creates a limiter handing each new client a full bucket.
func NewClientRateLimiter(maxTokens int, refillRate int, refillPeriod time.Duration) *ClientRateLimiter {
	return &ClientRateLimiter{
		limiters:     make(map[string]*RateLimiter),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		now:          time.Now,
	}
}

// Allow checks if a request from a client is allowed
func (crl *ClientRateLimiter) Allow(clientID string) bool {
	crl.mu.Lock()
	limiter, exists := crl.limiters[clientID]
	if !exists {
		limiter = newRateLimiter(crl.maxTokens, crl.refillRate, crl.refillPeriod, crl.now)
		crl.limiters[clientID] = limiter
	}
	crl.mu.Unlock()

	return limiter.Allow()
}

// GetTokens returns the tokens left for a client; unseen clients have a full bucket.
func (crl *ClientRateLimiter) GetTokens(clientID string) int {
	crl.mu.Lock()
	limiter, exists := crl.limiters[clientID]
	crl.mu.Unlock()

	if !exists {
		return crl.maxTokens
	}
	return limiter.GetTokens()
}

// Clients returns the number of tracked clients.
func (crl *ClientRateLimiter) Clients() int {
	crl.mu.Lock()
	defer crl.mu.Unlock()
	return len(crl.limiters)
}

// ResetAll drops every client bucket.
func (crl *ClientRateLimiter) ResetAll() {
	crl.mu.Lock()
	crl.limiters = make(map[string]*RateLimiter)
	crl.mu.Unlock()
}
