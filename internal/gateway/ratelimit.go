package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sessionRateLimiter throttles how many turns a single session may submit
// per minute. Grounded on hieuntg81-alfred-ai's per-client token-bucket
// middleware (internal/infra/middleware/security.go): a map of
// lazily-created *rate.Limiter keyed by identity, with a background
// goroutine evicting entries idle past a few minutes, adapted here from
// per-IP HTTP middleware to per-session gating shared by both the REST
// chat endpoint and the WebSocket message loop.
type sessionRateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*rateClient
}

type rateClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const rateLimiterIdleEvict = 3 * time.Minute

// newSessionRateLimiter builds a limiter from config values. perMinute <= 0
// disables rate limiting entirely (Allow always returns true).
func newSessionRateLimiter(perMinute, burst int) *sessionRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &sessionRateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		clients: make(map[string]*rateClient),
	}
}

// Allow reports whether sessionID may submit a turn now, consuming one
// token if so. Always true when rate limiting is disabled.
func (l *sessionRateLimiter) Allow(sessionID string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	c, ok := l.clients[sessionID]
	if !ok {
		c = &rateClient{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[sessionID] = c
	}
	c.lastSeen = time.Now()
	limiter := c.limiter
	l.mu.Unlock()
	return limiter.Allow()
}

// evictIdle runs until stop is closed, periodically dropping limiter state
// for sessions that have gone quiet so the map doesn't grow unbounded
// across a long-lived gateway process.
func (l *sessionRateLimiter) evictIdle(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			for id, c := range l.clients {
				if time.Since(c.lastSeen) > rateLimiterIdleEvict {
					delete(l.clients, id)
				}
			}
			l.mu.Unlock()
		case <-stop:
			return
		}
	}
}
