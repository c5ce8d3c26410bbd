// Package xapi is the X (Twitter) API v2 binding: publishing posts and
// replies, and reading an account's recent timeline.
package xapi

import (
	"context"
	"fmt"
	"net/http"
)

// Publisher posts text to the platform.
type Publisher interface {
	PublishPrimary(ctx context.Context, text string) (PublishResult, error)
	PublishReply(ctx context.Context, text, parentID string) (PublishResult, error)
}

// TimelineSource lists an account's most recent posts, newest first.
type TimelineSource interface {
	FetchRecent(ctx context.Context, accountID string, limit int) ([]Post, error)
}

// PublishResult carries the new post id and the response's rate headers.
type PublishResult struct {
	ID          string
	RateHeaders http.Header
}

type Post struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	// IsReplyToOther is set for any post that answers another post, own
	// thread replies included, so the responder never replies to a reply.
	IsReplyToOther bool `json:"is_reply_to_other"`
}

// PublishError is a failed publish. Headers are kept so rate information on
// error responses still reaches the tracker.
type PublishError struct {
	Op         string
	StatusCode int
	Headers    http.Header
	Body       string
	Err        error
}

func (e *PublishError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("x api %s: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("x api %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("x api %s: status %d", e.Op, e.StatusCode)
	}
}

func (e *PublishError) Unwrap() error { return e.Err }

// Unauthorized reports a credentials or permission failure. These are not
// retried: the credentials are presumed broken until restart.
func (e *PublishError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// RateLimited reports a 429 from the platform.
func (e *PublishError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// FetchError is a failed timeline read.
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("x api timeline: %v", e.Err)
	}
	return fmt.Sprintf("x api timeline: status %d", e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }
