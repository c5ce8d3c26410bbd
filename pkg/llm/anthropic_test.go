package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAnthropicProviderStream(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("expected api key header")
		}
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.System != "system note" {
			t.Errorf("unexpected system %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: content_block_start\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"text\":\"Hello \"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"text\":\"world\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"text\":\" ignored\"}}\n\n")
	}))
	defer server.Close()

	provider := NewAnthropicProvider(Config{
		APIURL: server.URL,
		APIKey: "test-key",
		Model:  "claude-test",
	})

	content, err := Collect(context.Background(), provider, []Message{
		System("system note"),
		User("hi"),
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if content != "Hello world" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestAnthropicProviderStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer server.Close()

	p := NewAnthropicProvider(Config{APIURL: server.URL, APIKey: "k", Model: "m"})
	_, err := Collect(context.Background(), p, []Message{User("hi")})
	if err == nil || !strings.Contains(err.Error(), "overloaded_error") {
		t.Fatalf("expected overloaded error, got %v", err)
	}
}

func TestAnthropicProviderClientTimeout(t *testing.T) {
	p := NewAnthropicProvider(Config{Model: "test"})
	if p.client.Timeout != 60*time.Second {
		t.Fatalf("expected 60s timeout, got %v", p.client.Timeout)
	}
}

func TestAnthropicProviderDefaultMaxTokens(t *testing.T) {
	p := NewAnthropicProvider(Config{Model: "test", MaxTokens: 0})
	if p.maxTokens != defaultAnthropicMaxTokens {
		t.Fatalf("expected default max tokens %d, got %d", defaultAnthropicMaxTokens, p.maxTokens)
	}
	p2 := NewAnthropicProvider(Config{Model: "test", MaxTokens: 1})
	if p2.maxTokens != 1 {
		t.Fatalf("expected max tokens 1, got %d", p2.maxTokens)
	}
}

func TestAnthropicProviderStatus300(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMultipleChoices)
		w.Write([]byte("redirect"))
	}))
	defer server.Close()

	p := NewAnthropicProvider(Config{APIURL: server.URL, APIKey: "k", Model: "m"})
	_, err := p.Complete(context.Background(), []Message{User("hi")})
	if err == nil {
		t.Fatal("expected error for status 300")
	}
}
