// Package ratelimit provides rate limiting middleware for the Meterline API.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/tenant"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the max requests per key per minute
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// CleanupInterval is how often to clean old entries
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 600,
		BurstSize:         50,
		CleanupInterval:   time.Minute,
	}
}

// Limiter tracks rate limits by key
type Limiter struct {
	cfg     Config
	mu      sync.RWMutex
	clients map[string]*clientState
	stop    chan struct{}
}

type clientState struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a new rate limiter
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// cleanup removes stale entries periodically
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-2 * time.Minute)
			for key, state := range l.clients {
				if state.lastCheck.Before(cutoff) {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow checks if a request should be allowed
func (l *Limiter) Allow(key string) bool {
	return l.AllowRate(key, l.cfg.RequestsPerMinute)
}

// AllowRate checks a request against a per-key rate, for tenants whose
// settings override the default RPM. A rate <= 0 falls back to the default.
func (l *Limiter) AllowRate(key string, rpm int) bool {
	if rpm <= 0 {
		rpm = l.cfg.RequestsPerMinute
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	state, exists := l.clients[key]

	if !exists {
		l.clients[key] = &clientState{
			tokens:    float64(l.cfg.BurstSize - 1),
			lastCheck: now,
		}
		return true
	}

	// Token bucket algorithm
	elapsed := now.Sub(state.lastCheck).Seconds()
	tokensPerSecond := float64(rpm) / 60.0
	state.tokens += elapsed * tokensPerSecond

	// Cap at burst size
	if state.tokens > float64(l.cfg.BurstSize) {
		state.tokens = float64(l.cfg.BurstSize)
	}

	state.lastCheck = now

	if state.tokens >= 1 {
		state.tokens--
		return true
	}

	return false
}

// RPMFunc returns the requests-per-minute budget for a tenant. Returning
// 0 means use the limiter's configured default.
type RPMFunc func(ctx *gin.Context, tenantID string) int

// Middleware returns a Gin middleware that rate limits by tenant, falling
// back to client IP for unscoped requests. Each tenant gets its own bucket
// so one noisy tenant cannot starve the others.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return l.MiddlewareWithRPM(nil)
}

// MiddlewareWithRPM is Middleware with a per-tenant RPM lookup, so tenants
// whose settings carry a custom budget get their own rate.
func (l *Limiter) MiddlewareWithRPM(rpmFor RPMFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		rpm := 0
		if tenantID := tenant.FromContext(c.Request.Context()); tenantID != "" {
			key = "tenant:" + tenantID
			if rpmFor != nil {
				rpm = rpmFor(c, tenantID)
			}
		}

		if !l.AllowRate(key, rpm) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
