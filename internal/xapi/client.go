package xapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"golang.org/x/oauth2"

	"frameworks/bosun/pkg/logging"
	"frameworks/bosun/pkg/resilience"
	"frameworks/bosun/pkg/version"
)

const (
	defaultBaseURL = "https://api.x.com"
	maxErrorBody   = 512
	minTimeline    = 5
	maxTimeline    = 100
)

type Config struct {
	BaseURL     string
	TokenSource oauth2.TokenSource
	// HTTPClient overrides the oauth2 transport; tests use it to skip auth.
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     logging.Logger
}

type Client struct {
	baseURL  string
	http     *http.Client
	timeline failsafe.Executor[*http.Response]
	logger   logging.Logger
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
		if cfg.TokenSource != nil {
			httpClient.Transport = &oauth2.Transport{
				Source: oauth2.ReuseTokenSource(nil, cfg.TokenSource),
				Base:   http.DefaultTransport,
			}
		}
	}

	retryCfg := resilience.DefaultHTTPConfig("x-timeline")
	retryCfg.Logger = logger
	return &Client{
		baseURL:  baseURL,
		http:     httpClient,
		timeline: resilience.NewHTTPExecutor(retryCfg),
		logger:   logger,
	}
}

type createTweetRequest struct {
	Text  string            `json:"text"`
	Reply *createTweetReply `json:"reply,omitempty"`
}

type createTweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

func (c *Client) PublishPrimary(ctx context.Context, text string) (PublishResult, error) {
	return c.createTweet(ctx, "publish", createTweetRequest{Text: text})
}

func (c *Client) PublishReply(ctx context.Context, text, parentID string) (PublishResult, error) {
	if parentID == "" {
		return PublishResult{}, &PublishError{Op: "reply", Err: fmt.Errorf("parent id required")}
	}
	return c.createTweet(ctx, "reply", createTweetRequest{
		Text:  text,
		Reply: &createTweetReply{InReplyToTweetID: parentID},
	})
}

// createTweet is never retried: a timed-out POST may have been accepted and
// a retry would double-post.
func (c *Client) createTweet(ctx context.Context, op string, body createTweetRequest) (PublishResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return PublishResult{}, &PublishError{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/tweets", bytes.NewReader(payload))
	if err != nil {
		return PublishResult{}, &PublishError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return PublishResult{}, &PublishError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return PublishResult{}, &PublishError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Headers:    resp.Header.Clone(),
			Body:       readErrorBody(resp.Body),
		}
	}

	var decoded createTweetResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return PublishResult{RateHeaders: resp.Header.Clone()}, &PublishError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Headers:    resp.Header.Clone(),
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	if decoded.Data.ID == "" {
		return PublishResult{RateHeaders: resp.Header.Clone()}, &PublishError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Headers:    resp.Header.Clone(),
			Err:        fmt.Errorf("response carried no post id"),
		}
	}
	return PublishResult{ID: decoded.Data.ID, RateHeaders: resp.Header.Clone()}, nil
}

type timelineResponse struct {
	Data []struct {
		ID              string `json:"id"`
		Text            string `json:"text"`
		InReplyToUserID string `json:"in_reply_to_user_id"`
	} `json:"data"`
}

// FetchRecent reads the account's latest posts. The platform accepts between
// 5 and 100 results; limit is clamped into that range and the result trimmed
// back to limit.
func (c *Client) FetchRecent(ctx context.Context, accountID string, limit int) ([]Post, error) {
	if accountID == "" {
		return nil, &FetchError{Err: fmt.Errorf("account id required")}
	}
	if limit <= 0 {
		limit = minTimeline
	}
	maxResults := min(max(limit, minTimeline), maxTimeline)

	query := url.Values{}
	query.Set("max_results", strconv.Itoa(maxResults))
	query.Set("tweet.fields", "in_reply_to_user_id")
	endpoint := c.baseURL + "/2/users/" + url.PathEscape(accountID) + "/tweets?" + query.Encode()

	resp, err := resilience.ExecuteHTTP(ctx, c.timeline, func() (*http.Response, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("User-Agent", version.UserAgent())
		return c.http.Do(req)
	})
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readErrorBody(resp.Body)
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}

	var decoded timelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode timeline: %w", err)}
	}

	posts := make([]Post, 0, len(decoded.Data))
	for _, item := range decoded.Data {
		posts = append(posts, Post{
			ID:             item.ID,
			Text:           item.Text,
			IsReplyToOther: item.InReplyToUserID != "",
		})
		if len(posts) == limit {
			break
		}
	}
	return posts, nil
}

func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(body))
}
