// Package resilience wraps failsafe-go retry and circuit breaker policies for
// outbound HTTP calls.
package resilience

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"frameworks/bosun/pkg/logging"
)

// DefaultShouldRetry retries on network errors, 5xx gateway errors and 429.
func DefaultShouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// HTTPConfig configures an HTTP executor.
type HTTPConfig struct {
	// Name identifies the breaker in logs.
	Name       string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// BreakerDelay is how long the breaker stays open. Zero disables the breaker.
	BreakerDelay time.Duration

	ShouldRetry func(resp *http.Response, err error) bool
	Logger      logging.Logger
}

// DefaultHTTPConfig returns three retries with 100ms..5s backoff and a 15s breaker.
func DefaultHTTPConfig(name string) HTTPConfig {
	return HTTPConfig{
		Name:         name,
		MaxRetries:   3,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		BreakerDelay: 15 * time.Second,
		ShouldRetry:  DefaultShouldRetry,
	}
}

func normalize(cfg HTTPConfig) HTTPConfig {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = DefaultShouldRetry
	}
	return cfg
}

// NewHTTPRetryPolicy builds a jittered backoff retry policy for HTTP calls.
//
//nolint:bodyclose // false positive: [*http.Response] is a generic type parameter, not an actual response
func NewHTTPRetryPolicy(cfg HTTPConfig) retrypolicy.RetryPolicy[*http.Response] {
	cfg = normalize(cfg)
	return retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(cfg.ShouldRetry).
		Build()
}

// NewHTTPExecutor combines the retry policy with an optional circuit breaker
// that trips on errors and 5xx responses.
//
//nolint:bodyclose // false positive: [*http.Response] is a generic type parameter, not an actual response
func NewHTTPExecutor(cfg HTTPConfig) failsafe.Executor[*http.Response] {
	cfg = normalize(cfg)
	retry := NewHTTPRetryPolicy(cfg)
	if cfg.BreakerDelay <= 0 {
		return failsafe.With(retry)
	}

	builder := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && resp.StatusCode >= 500
		})
	if cfg.Logger != nil {
		name := cfg.Name
		logger := cfg.Logger
		builder = builder.OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.WithFields(logging.Fields{
				"circuit_breaker": name,
				"from_state":      event.OldState.String(),
				"to_state":        event.NewState.String(),
			}).Warn("circuit breaker state change")
		})
	}

	return failsafe.With(retry, builder.Build())
}

// ExecuteHTTP runs an HTTP request through the executor. Responses from
// attempts that get retried, and the last one when retries are exhausted,
// are closed here; the caller owns only the returned response.
func ExecuteHTTP(ctx context.Context, executor failsafe.Executor[*http.Response], fn func() (*http.Response, error)) (*http.Response, error) {
	var last *http.Response
	resp, err := executor.WithContext(ctx).Get(func() (*http.Response, error) {
		if last != nil {
			drainAndClose(last)
			last = nil
		}
		r, doErr := fn()
		last = r
		return r, doErr
	})
	if err != nil {
		if last != nil {
			drainAndClose(last)
		}
		return nil, err
	}
	return resp, nil
}

func drainAndClose(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
