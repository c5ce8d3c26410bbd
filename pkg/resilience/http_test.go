package resilience

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go"
)

//nolint:bodyclose // test responses have no body
func TestNewHTTPRetryPolicy_NormalizesNegativeRetries(t *testing.T) {
	policy := NewHTTPRetryPolicy(HTTPConfig{MaxRetries: -3})

	var attempts int32
	_, err := failsafe.With(policy).Get(func() (*http.Response, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errors.New("network partition")
	})
	if err == nil {
		t.Fatal("expected request to fail")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected a single attempt with negative retries, got %d", got)
	}
}

//nolint:bodyclose // test responses have no body
func TestNewHTTPRetryPolicy_RetriesUpToConfiguredLimit(t *testing.T) {
	policy := NewHTTPRetryPolicy(HTTPConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
	})

	var attempts int32
	_, err := failsafe.With(policy).Get(func() (*http.Response, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return nil, errors.New("dns lag")
		}
		return &http.Response{StatusCode: http.StatusOK}, nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestExecuteHTTPRetriesTooManyRequests(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&count, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig("test")
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond
	executor := NewHTTPExecutor(cfg)

	resp, err := ExecuteHTTP(context.Background(), executor, func() (*http.Response, error) {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		return srv.Client().Do(req)
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&count); got != 3 {
		t.Fatalf("expected 3 requests, got %d", got)
	}
}

func TestDefaultShouldRetry(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{http.StatusOK, false},
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}
	for _, tc := range cases {
		if got := DefaultShouldRetry(&http.Response{StatusCode: tc.status}, nil); got != tc.want {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, got)
		}
	}
	if !DefaultShouldRetry(nil, errors.New("boom")) {
		t.Fatal("expected errors to be retryable")
	}
}
