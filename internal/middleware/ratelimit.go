package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/savetest-backend/internal/response"
)

// RateLimiter implements a per-client token bucket. Clients are keyed by the
// token's user id when authenticated, by IP otherwise.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*bucket
	rate     int
	interval time.Duration
	clock    clock.Clock
}

type bucket struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter allows rate requests per interval for each client.
func NewRateLimiter(rate int, interval time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		clients:  make(map[string]*bucket),
		rate:     rate,
		interval: interval,
		clock:    clk,
	}
}

// Middleware returns a Gin middleware enforcing the limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(clientKey(c)) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	b, ok := rl.clients[key]
	if !ok {
		b = &bucket{tokens: rl.rate, lastSeen: now}
		rl.clients[key] = b
	}

	if refill := int(now.Sub(b.lastSeen)/rl.interval) * rl.rate; refill > 0 {
		b.tokens += refill
		if b.tokens > rl.rate {
			b.tokens = rl.rate
		}
		b.lastSeen = now
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Sweep drops buckets idle for longer than three intervals.
func (rl *RateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.clock.Now()
	for key, b := range rl.clients {
		if now.Sub(b.lastSeen) > 3*rl.interval {
			delete(rl.clients, key)
		}
	}
}

// Run sweeps idle buckets every interval until stop is closed.
func (rl *RateLimiter) Run(stop <-chan struct{}) {
	t := rl.clock.Ticker(rl.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			rl.Sweep()
		}
	}
}

func clientKey(c *gin.Context) string {
	if claims := GetClaims(c); claims != nil {
		return "user:" + claims.Subject
	}
	return "ip:" + c.ClientIP()
}
