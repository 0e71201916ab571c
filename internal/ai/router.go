package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"keyvex/internal/logging"
	"keyvex/internal/metrics"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimit is a per-provider token bucket
type RateLimit struct {
	RPS   float64
	Burst int
}

// RouterConfig configures model resolution and throttling
type RouterConfig struct {
	DefaultModel  string
	FallbackModel string
	RateLimits    map[Provider]RateLimit
}

// DefaultRateLimits keeps each provider comfortably under common tier limits
func DefaultRateLimits() map[Provider]RateLimit {
	return map[Provider]RateLimit{
		ProviderOpenAI:    {RPS: 5, Burst: 10},
		ProviderAnthropic: {RPS: 4, Burst: 8},
		ProviderGemini:    {RPS: 5, Burst: 10},
	}
}

// Router sends requests to the client that serves the requested model. A
// failed request is retried once with the fallback model; there is no other
// retry policy.
type Router struct {
	mu            sync.RWMutex
	clients       map[Provider]Client
	limiters      map[Provider]*rate.Limiter
	defaultModel  string
	fallbackModel string
	validate      *validator.Validate
}

// NewRouter creates a router over the given clients
func NewRouter(cfg RouterConfig, clients ...Client) *Router {
	limits := DefaultRateLimits()
	for p, l := range cfg.RateLimits {
		limits[p] = l
	}
	limiters := make(map[Provider]*rate.Limiter, len(limits))
	for p, l := range limits {
		burst := l.Burst
		if burst < 1 {
			burst = 1
		}
		limiters[p] = rate.NewLimiter(rate.Limit(l.RPS), burst)
	}

	r := &Router{
		clients:       make(map[Provider]Client),
		limiters:      limiters,
		defaultModel:  cfg.DefaultModel,
		fallbackModel: cfg.FallbackModel,
		validate:      newObjectValidator(),
	}
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the client for its provider
func (r *Router) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Provider()] = c
}

// Providers lists the configured providers
func (r *Router) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.clients))
	for p := range r.clients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultModel returns the model used when a request names none
func (r *Router) DefaultModel() string { return r.defaultModel }

// FallbackModel returns the model used for the single retry
func (r *Router) FallbackModel() string { return r.fallbackModel }

// Generate sends a text request
func (r *Router) Generate(ctx context.Context, req *Request) (*Response, error) {
	return r.withFallback(ctx, req, r.once)
}

// GenerateObject asks for a JSON object, decodes it into dest and validates it
// against dest's struct tags. A reply that cannot be decoded or fails
// validation is treated like a provider failure and gets the fallback attempt.
func (r *Router) GenerateObject(ctx context.Context, req *Request, dest any) (*Response, error) {
	if err := checkDest(dest); err != nil {
		return nil, err
	}
	return r.withFallback(ctx, req, func(ctx context.Context, attempt *Request) (*Response, error) {
		attempt.JSON = true
		resp, err := r.once(ctx, attempt)
		if err != nil {
			return nil, err
		}
		if err := decodeObject(r.validate, resp.Content, dest); err != nil {
			metrics.Get().RecordInvalidObject(attempt.Model, attempt.Schema)
			return nil, err
		}
		return resp, nil
	})
}

type attemptFunc func(ctx context.Context, req *Request) (*Response, error)

func (r *Router) withFallback(ctx context.Context, req *Request, attempt attemptFunc) (*Response, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	primary := *req
	if primary.Model == "" {
		primary.Model = r.defaultModel
	}

	resp, err := attempt(ctx, &primary)
	if err == nil {
		return resp, nil
	}
	fallback := r.fallbackModel
	if fallback == "" || fallback == primary.Model || ctx.Err() != nil {
		return nil, err
	}

	reason := failureReason(err)
	logging.L().Warn("model failed, retrying with fallback",
		zap.String("request_id", req.ID),
		zap.String("model", primary.Model),
		zap.String("fallback", fallback),
		zap.String("reason", reason),
		zap.Error(err),
	)
	metrics.Get().RecordAIFallback(primary.Model, fallback, reason)

	second := *req
	second.Model = fallback
	resp, ferr := attempt(ctx, &second)
	if ferr != nil {
		return nil, fmt.Errorf("model %s failed (%v), fallback %s failed: %w", primary.Model, err, fallback, ferr)
	}
	return resp, nil
}

// once performs a single throttled call with no retry
func (r *Router) once(ctx context.Context, req *Request) (*Response, error) {
	provider, err := ProviderForModel(req.Model)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	client, ok := r.clients[provider]
	limiter := r.limiters[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s (%s not configured): %w", req.Model, provider, ErrNoProvider)
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter for %s: %w", provider, err)
		}
	}

	start := time.Now()
	resp, err := client.Generate(ctx, req)
	duration := time.Since(start)
	if err != nil {
		status := "error"
		if code := ErrorCodeOf(err); code != "" {
			status = string(code)
		} else if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		metrics.Get().RecordAIRequest(string(provider), req.Model, status, duration, 0, 0, 0)
		return nil, err
	}

	var in, out int
	if resp.Usage != nil {
		in, out = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	metrics.Get().RecordAIRequest(string(provider), req.Model, "success", duration, in, out, resp.Cost())
	logging.L().Debug("model call completed",
		zap.String("request_id", req.ID),
		zap.String("provider", string(provider)),
		zap.String("model", req.Model),
		zap.String("schema", req.Schema),
		zap.Duration("duration", duration),
		zap.Int("input_tokens", in),
		zap.Int("output_tokens", out),
	)
	return resp, nil
}

// Usage returns per-provider usage snapshots
func (r *Router) Usage() map[Provider]*ProviderUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Provider]*ProviderUsage, len(r.clients))
	for p, c := range r.clients {
		out[p] = c.Usage()
	}
	return out
}

// Health checks every provider and returns "ok" or the error text
func (r *Router) Health(ctx context.Context) map[Provider]string {
	r.mu.RLock()
	clients := make(map[Provider]Client, len(r.clients))
	for p, c := range r.clients {
		clients[p] = c
	}
	r.mu.RUnlock()

	out := make(map[Provider]string, len(clients))
	for p, c := range clients {
		if err := c.Health(ctx); err != nil {
			out[p] = err.Error()
			continue
		}
		out[p] = "ok"
	}
	return out
}
