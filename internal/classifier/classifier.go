// Package classifier asks a language model whether a message satisfies a criterion.
package classifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/core"
)

// VerdictCache is the subset of the classification cache the client needs
type VerdictCache interface {
	Lookup(ctx context.Context, key string) (matched bool, ok bool)
	Record(ctx context.Context, key string, v core.Verdict) error
}

// Observer receives classification telemetry
type Observer interface {
	CacheLookup(hit bool)
	Request(outcome string, elapsed time.Duration)
}

// Request outcomes reported to the Observer
const (
	OutcomeOK       = "ok"
	OutcomeStatus   = "http_status"
	OutcomeError    = "error"
	OutcomeInvalid  = "invalid"
	OutcomeRejected = "rejected"
)

// BreakerSettings configures the endpoint circuit breaker
type BreakerSettings struct {
	// MaxFailures is the number of consecutive transport failures that opens the breaker
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before a trial request
	OpenTimeout time.Duration
}

// Client renders prompts, calls the model and records successful verdicts
type Client struct {
	completer core.Completer
	cache     VerdictCache
	logger    *zap.Logger
	observer  Observer
	breaker   *gobreaker.CircuitBreaker

	mu       sync.RWMutex
	settings Settings
	template string
}

// Option customizes a Client
type Option func(*Client)

// WithObserver reports telemetry to o
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// New creates a Client using the default settings until Configure is called
func New(completer core.Completer, cache VerdictCache, logger *zap.Logger, breaker BreakerSettings, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if breaker.MaxFailures == 0 {
		breaker.MaxFailures = 5
	}
	if breaker.OpenTimeout <= 0 {
		breaker.OpenTimeout = 30 * time.Second
	}

	c := &Client{
		completer: completer,
		cache:     cache,
		logger:    logger,
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "classifier",
		MaxRequests: 1,
		Timeout:     breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breaker.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Classification endpoint circuit state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	c.Configure(DefaultSettings())
	return c
}

// Configure applies new settings. Invalid or missing values fall back to defaults.
func (c *Client) Configure(s Settings) {
	if s.Endpoint == "" {
		s.Endpoint = DefaultEndpoint
	}
	if s.TemplateName == "" {
		s.TemplateName = DefaultTemplate
	}
	if s.SystemPrompt == "" {
		s.SystemPrompt = DefaultSystemPrompt
	}

	var template string
	if s.TemplateName == CustomTemplate {
		template = s.CustomTemplate
	} else if text, ok := BuiltinTemplate(s.TemplateName); ok {
		template = text
	} else {
		c.logger.Warn("Unknown prompt template, using default",
			zap.String("template", s.TemplateName),
			zap.String("default", DefaultTemplate))
		s.TemplateName = DefaultTemplate
		template, _ = BuiltinTemplate(DefaultTemplate)
	}

	c.mu.Lock()
	c.settings = s
	c.template = template
	c.mu.Unlock()

	c.logger.Debug("Classifier configured",
		zap.String("endpoint", s.Endpoint),
		zap.String("template", s.TemplateName))
}

// Settings returns the active settings
func (c *Client) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Classify returns whether text satisfies criterion. A cached verdict under
// cacheKey short-circuits the request; only successful classifications are
// cached. Every failure yields false.
func (c *Client) Classify(ctx context.Context, text, criterion, cacheKey string) bool {
	if cacheKey != "" {
		if matched, ok := c.cache.Lookup(ctx, cacheKey); ok {
			c.observer.CacheLookup(true)
			c.logger.Debug("Cache hit", zap.String("cache_key", cacheKey), zap.Bool("matched", matched))
			return matched
		}
		c.observer.CacheLookup(false)
	}

	verdict, err := c.request(ctx, text, criterion)
	if err != nil {
		return false
	}

	if cacheKey != "" {
		if err := c.cache.Record(ctx, cacheKey, verdict); err != nil {
			c.logger.Error("Failed to cache verdict", zap.String("cache_key", cacheKey), zap.Error(err))
		}
	}
	return verdict.Matched
}

// Test classifies text without reading or writing the cache
func (c *Client) Test(ctx context.Context, text, criterion string) (core.Verdict, error) {
	return c.request(ctx, text, criterion)
}

func (c *Client) request(ctx context.Context, text, criterion string) (core.Verdict, error) {
	c.mu.RLock()
	settings, template := c.settings, c.template
	c.mu.RUnlock()

	req := core.CompletionRequest{
		Endpoint: settings.Endpoint,
		Prompt:   RenderPrompt(template, settings.SystemPrompt, text, criterion),
		Params:   settings.Params,
	}

	c.logger.Debug("Sending classification request",
		zap.String("endpoint", req.Endpoint),
		zap.String("criterion", criterion))

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.completer.Complete(ctx, req)
	})
	elapsed := time.Since(start)

	if err != nil {
		var statusErr *core.StatusError
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			c.observer.Request(OutcomeRejected, elapsed)
			c.logger.Warn("Classification skipped, endpoint circuit open", zap.String("endpoint", req.Endpoint))
		case errors.As(err, &statusErr):
			c.observer.Request(OutcomeStatus, elapsed)
			c.logger.Warn("Classification endpoint returned error status",
				zap.Int("status", statusErr.StatusCode),
				zap.String("endpoint", req.Endpoint))
		default:
			c.observer.Request(OutcomeError, elapsed)
			c.logger.Error("Classification request failed", zap.String("endpoint", req.Endpoint), zap.Error(err))
		}
		return core.Verdict{}, err
	}

	raw, _ := out.(string)
	verdict, err := ParseResponse(raw)
	if err != nil {
		c.observer.Request(OutcomeInvalid, elapsed)
		c.logger.Error("Failed to parse classification response", zap.String("response", raw), zap.Error(err))
		return core.Verdict{}, err
	}

	c.observer.Request(OutcomeOK, elapsed)
	c.logger.Debug("Classification complete",
		zap.Bool("matched", verdict.Matched),
		zap.String("reason", verdict.Reason),
		zap.Duration("elapsed", elapsed))
	return verdict, nil
}

type nopObserver struct{}

func (nopObserver) CacheLookup(bool)              {}
func (nopObserver) Request(string, time.Duration) {}
