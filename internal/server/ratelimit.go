package server

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client.
type RateLimiter struct {
	mu sync.Mutex

	rps   rate.Limit
	burst int
	now   func() time.Time

	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per
// client with the given burst. A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// CheckRateLimit checks if a request from the given client is allowed.
func (rl *RateLimiter) CheckRateLimit(clientID string) error {
	if rl.rps <= 0 {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	c, ok := rl.clients[clientID]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[clientID] = c
	}
	c.lastSeen = now

	if !c.limiter.AllowN(now, 1) {
		retry := time.Duration(float64(time.Second) / float64(rl.rps))
		return &RateLimitError{Type: "second", Limit: int(rl.rps), RetryAfter: retry}
	}
	return nil
}

// Cleanup forgets clients idle for longer than maxIdle and returns how many
// were removed.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	removed := 0
	for id, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

// janitor calls Cleanup every interval until stop is closed.
func (rl *RateLimiter) janitor(stop <-chan struct{}, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rl.Cleanup(maxIdle)
		}
	}
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // window the limit applies to
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}
