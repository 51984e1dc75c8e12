package ratelimit

import (
	"sync"
	"time"

	"github.com/triunity/node/utils"
)

// Config holds configuration for rate limiting
type Config struct {
	MaxRequests int           // Maximum number of requests allowed
	WindowSize  time.Duration // Time window for rate limiting
}

// DefaultConfig allows 20 sync requests per peer every 10 seconds.
func DefaultConfig() Config {
	return Config{
		MaxRequests: 20,
		WindowSize:  10 * time.Second,
	}
}

// Limiter implements a per-key sliding window. Expired keys are swept on
// Allow, so there is no background goroutine to stop.
type Limiter struct {
	cfg       Config
	clock     utils.Clock
	mu        sync.Mutex
	requests  map[string][]time.Time
	lastSweep time.Time
}

func NewLimiter(cfg Config, clock utils.Clock) *Limiter {
	d := DefaultConfig()
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = d.MaxRequests
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = d.WindowSize
	}
	return &Limiter{
		cfg:      cfg,
		clock:    utils.OrSystem(clock),
		requests: make(map[string][]time.Time),
	}
}

// Allow records a request from key and reports whether it fits the window.
func (l *Limiter) Allow(key string) bool {
	now := l.clock.Now()
	cutoff := now.Add(-l.cfg.WindowSize)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.cfg.WindowSize {
		l.sweepLocked(cutoff)
		l.lastSweep = now
	}

	valid := unexpired(l.requests[key], cutoff)
	if len(valid) >= l.cfg.MaxRequests {
		l.requests[key] = valid
		return false
	}
	l.requests[key] = append(valid, now)
	return true
}

// Count returns the requests from key still inside the window.
func (l *Limiter) Count(key string) int {
	cutoff := l.clock.Now().Add(-l.cfg.WindowSize)
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(unexpired(l.requests[key], cutoff))
}

// Reset removes all entries for a given key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.requests, key)
}

func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

func (l *Limiter) sweepLocked(cutoff time.Time) {
	for key, reqs := range l.requests {
		valid := unexpired(reqs, cutoff)
		if len(valid) == 0 {
			delete(l.requests, key)
		} else {
			l.requests[key] = valid
		}
	}
}

// unexpired drops the leading timestamps at or before cutoff. Entries are
// appended in time order.
func unexpired(reqs []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(reqs) && !reqs[i].After(cutoff) {
		i++
	}
	return reqs[i:]
}
