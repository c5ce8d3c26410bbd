package llm

import (
	"context"
	"net/http"
	"time"

	"frameworks/bosun/pkg/resilience"
)

const maxRetries = 3

var retryBaseDelay = 200 * time.Millisecond

// doWithRetry re-issues the request on transport errors, 429 and 5xx. The
// builder is called per attempt so the body reader is fresh each time.
func doWithRetry(ctx context.Context, client *http.Client, build func() (*http.Request, error)) (*http.Response, error) {
	cfg := resilience.DefaultHTTPConfig("llm")
	cfg.MaxRetries = maxRetries
	cfg.BaseDelay = retryBaseDelay
	cfg.MaxDelay = 4 * time.Second
	cfg.BreakerDelay = 0
	executor := resilience.NewHTTPExecutor(cfg)

	return resilience.ExecuteHTTP(ctx, executor, func() (*http.Response, error) {
		req, err := build()
		if err != nil {
			return nil, err
		}
		return client.Do(req)
	})
}
