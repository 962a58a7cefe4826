package router

import (
	"sync"
	"time"
)

const (
	defaultRateLimit  = 100
	defaultRateWindow = time.Minute
)

// RateLimiter implements per-nickname rate limiting of msg_send
// ARCHITECTURAL DISCOVERY: Per-client state tracking with proper cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*ClientLimit
}

// ClientLimit tracks rate limiting for a single nickname
// FUNCTIONAL DISCOVERY: Fixed window with minute-based reset provides exact 100 messages/minute limit
type ClientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter creates a limiter allowing 100 messages per minute
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limit:   defaultRateLimit,
		window:  defaultRateWindow,
		clients: make(map[string]*ClientLimit),
	}
}

// Allow reports whether nickname may send another message at now
func (rl *RateLimiter) Allow(nickname string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, exists := rl.clients[nickname]
	if !exists {
		rl.clients[nickname] = &ClientLimit{messageCount: 1, windowStart: now}
		return true
	}

	if now.Sub(limit.windowStart) >= rl.window {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}

	limit.messageCount++
	return true
}

// Cleanup removes entries idle for more than five windows
func (rl *RateLimiter) Cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for nickname, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, nickname)
		}
	}
}

// Forget drops the state for nickname
func (rl *RateLimiter) Forget(nickname string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, nickname)
}

// Tracked returns the number of nicknames with limiter state
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
