package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func init() {
	retryBaseDelay = time.Millisecond
}

func TestDoWithRetryRetryCount(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := doWithRetry(context.Background(), srv.Client(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	if err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}
	defer resp.Body.Close()

	if got := atomic.LoadInt32(&count); got != 4 {
		t.Fatalf("expected exactly 4 attempts (3 retries + 1 success), got %d", got)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestDoWithRetryAllFailures(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := doWithRetry(context.Background(), srv.Client(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := atomic.LoadInt32(&count); got != int32(maxRetries)+1 {
		t.Fatalf("expected %d attempts, got %d", maxRetries+1, got)
	}
}

func TestDoWithRetryDoesNotRetryClientErrors(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	resp, err := doWithRetry(context.Background(), srv.Client(), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	if err != nil {
		t.Fatalf("expected response, got %v", err)
	}
	resp.Body.Close()
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

type fakeProvider struct {
	chunks []string
	err    error
}

func (f fakeProvider) Complete(context.Context, []Message) (Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sliceStream{chunks: f.chunks}, nil
}

type sliceStream struct {
	chunks []string
	closed bool
}

func (s *sliceStream) Recv() (Chunk, error) {
	if len(s.chunks) == 0 {
		return Chunk{}, fmt.Errorf("done: %w", errEOFForTest)
	}
	next := s.chunks[0]
	s.chunks = s.chunks[1:]
	return Chunk{Content: next}, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

var errEOFForTest = errors.New("eof")

func TestCollectPropagatesStreamErrors(t *testing.T) {
	_, err := Collect(context.Background(), fakeProvider{chunks: []string{"a"}}, nil)
	if !errors.Is(err, errEOFForTest) {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestCollectNilProvider(t *testing.T) {
	if _, err := Collect(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
}

func TestCollectCompleteError(t *testing.T) {
	boom := errors.New("boom")
	if _, err := Collect(context.Background(), fakeProvider{err: boom}, nil); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
