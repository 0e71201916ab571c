// Keyvex HTTP middleware
// Error envelopes, panic recovery, request IDs, rate limiting and CORS.

package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"keyvex/internal/logging"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RequestIDKey is the gin context key holding the request ID.
const RequestIDKey = "request_id"

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// AbortWithError writes an ErrorResponse and stops the handler chain.
func AbortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Success:   false,
		Error:     message,
		Code:      code,
		RequestID: c.GetString(RequestIDKey),
	})
}

// Recovery turns panics into a 500 with the request ID so the log line can be found.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		requestID := c.GetString(RequestIDKey)
		if requestID == "" {
			requestID = c.GetHeader("X-Request-ID")
		}
		if requestID == "" {
			requestID = generateRequestID()
		}

		logging.L().Error("panic recovered",
			zap.String("request_id", requestID),
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", recovered),
			zap.ByteString("stack", debug.Stack()),
		)

		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Success:   false,
			Error:     "Internal server error",
			Code:      "INTERNAL_SERVER_ERROR",
			RequestID: requestID,
		})
	})
}

// RateLimiter represents a rate limiter for a specific client
type RateLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter manages rate limiters for different IP addresses
type IPRateLimiter struct {
	limiters map[string]*RateLimiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	idle     time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewIPRateLimiter creates a new IP-based rate limiter and starts its
// cleanup goroutine. Call Stop to release it.
func NewIPRateLimiter(rateLimit rate.Limit, burst int) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	limiter := &IPRateLimiter{
		limiters: make(map[string]*RateLimiter),
		rate:     rateLimit,
		burst:    burst,
		cleanup:  10 * time.Minute,
		idle:     time.Hour,
		stop:     make(chan struct{}),
	}

	go limiter.cleanupRoutine()

	return limiter
}

// GetLimiter returns the rate limiter for a given IP
func (irl *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	irl.mu.Lock()
	defer irl.mu.Unlock()

	limiter, exists := irl.limiters[ip]
	if !exists {
		limiter = &RateLimiter{
			limiter:  rate.NewLimiter(irl.rate, irl.burst),
			lastSeen: time.Now(),
		}
		irl.limiters[ip] = limiter
	} else {
		limiter.lastSeen = time.Now()
	}

	return limiter.limiter
}

// Len reports how many clients are being tracked.
func (irl *IPRateLimiter) Len() int {
	irl.mu.Lock()
	defer irl.mu.Unlock()
	return len(irl.limiters)
}

// Stop ends the cleanup goroutine.
func (irl *IPRateLimiter) Stop() {
	irl.stopOnce.Do(func() { close(irl.stop) })
}

func (irl *IPRateLimiter) cleanupRoutine() {
	ticker := time.NewTicker(irl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-irl.stop:
			return
		case <-ticker.C:
			irl.evictIdle(time.Now().Add(-irl.idle))
		}
	}
}

func (irl *IPRateLimiter) evictIdle(cutoff time.Time) {
	irl.mu.Lock()
	defer irl.mu.Unlock()
	for ip, limiter := range irl.limiters {
		if limiter.lastSeen.Before(cutoff) {
			delete(irl.limiters, ip)
		}
	}
}

// RateLimit rejects requests from clients that exhausted their bucket.
func RateLimit(limiter *IPRateLimiter) gin.HandlerFunc {
	retryAfter := "1"
	if limiter.rate > 0 && limiter.rate < 1 {
		retryAfter = fmt.Sprintf("%d", int(1/float64(limiter.rate))+1)
	}

	return func(c *gin.Context) {
		if !limiter.GetLimiter(c.ClientIP()).Allow() {
			c.Header("Retry-After", retryAfter)
			AbortWithError(c, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
			return
		}
		c.Next()
	}
}

// RequestID middleware adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		c.Header("X-Request-ID", requestID)
		c.Set(RequestIDKey, requestID)
		c.Next()
	}
}

// CORS allows the configured origins. A "*" entry allows any origin
// without credentials.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		switch {
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		case wildcard:
			c.Header("Access-Control-Allow-Origin", "*")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security adds response headers for an API that serves JSON only.
func Security() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Next()
	}
}

// Logger writes one structured line per request. Paths in skip are not logged.
func Logger(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if skipped[path] {
			return
		}

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(RequestIDKey)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			logging.L().Error("request", fields...)
		case status >= http.StatusBadRequest:
			logging.L().Warn("request", fields...)
		default:
			logging.L().Info("request", fields...)
		}
	}
}

// generateRequestID generates a unique request ID using timestamp + random bytes
func generateRequestID() string {
	randomBytes := make([]byte, 4)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), hex.EncodeToString(randomBytes))
}
