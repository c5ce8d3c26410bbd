// Package tokens picks the subject of each content unit from the
// DexScreener public API.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"golang.org/x/sync/singleflight"

	"frameworks/bosun/pkg/logging"
	"frameworks/bosun/pkg/resilience"
	"frameworks/bosun/pkg/version"
)

const (
	defaultBaseURL = "https://api.dexscreener.com"
	defaultChain   = "solana"
	unnamedToken   = "Unnamed Token"
	recentWindow   = 20
)

// ErrNoValidToken means no listed profile had a resolvable price.
var ErrNoValidToken = errors.New("no valid token data found")

type FetchError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dexscreener %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dexscreener %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Link struct {
	Type  string `json:"type,omitempty"`
	Label string `json:"label,omitempty"`
	URL   string `json:"url"`
}

// Topic is one token with everything the pipeline needs to talk about it.
type Topic struct {
	Name        string  `json:"name"`
	Symbol      string  `json:"symbol,omitempty"`
	Description string  `json:"description"`
	ChainID     string  `json:"chain_id"`
	Address     string  `json:"address"`
	PriceUSD    float64 `json:"price_usd"`
	Links       []Link  `json:"links,omitempty"`
	URL         string  `json:"url"`
}

// Brief renders the fact sheet handed to the pipeline stages.
func (t Topic) Brief() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Token Name: %s\n", t.Name)
	if t.Symbol != "" {
		fmt.Fprintf(&b, "Symbol: %s\n", t.Symbol)
	}
	fmt.Fprintf(&b, "Description: %s\n", t.Description)
	fmt.Fprintf(&b, "Chain: %s\n", t.ChainID)
	fmt.Fprintf(&b, "Address: %s\n", t.Address)
	fmt.Fprintf(&b, "Price (USD): %s\n", strconv.FormatFloat(t.PriceUSD, 'g', 6, 64))
	for _, link := range t.Links {
		label := link.Label
		if label == "" {
			label = link.Type
		}
		if label == "" {
			label = "link"
		}
		fmt.Fprintf(&b, "Link (%s): %s\n", label, link.URL)
	}
	return b.String()
}

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     logging.Logger
}

type Source struct {
	baseURL  string
	http     *http.Client
	executor failsafe.Executor[*http.Response]
	logger   logging.Logger
	group    singleflight.Group

	mu     sync.Mutex
	recent []string
}

func NewSource(cfg Config) *Source {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	retryCfg := resilience.DefaultHTTPConfig("dexscreener")
	retryCfg.Logger = logger
	return &Source{
		baseURL:  baseURL,
		http:     httpClient,
		executor: resilience.NewHTTPExecutor(retryCfg),
		logger:   logger,
	}
}

type profile struct {
	ChainID      string `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
	Description  string `json:"description"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Links        []Link `json:"links"`
}

type pairsResponse struct {
	Pairs []struct {
		ChainID   string `json:"chainId"`
		PriceUSD  string `json:"priceUsd"`
		BaseToken struct {
			Address string `json:"address"`
			Name    string `json:"name"`
			Symbol  string `json:"symbol"`
		} `json:"baseToken"`
	} `json:"pairs"`
}

// Next walks the latest token profiles in order and returns the first one
// whose USD price resolves. Tokens returned recently are passed over while
// an unseen candidate exists.
func (s *Source) Next(ctx context.Context) (Topic, error) {
	profiles, err := s.latestProfiles(ctx)
	if err != nil {
		fetchesTotal.WithLabelValues("profiles_error").Inc()
		return Topic{}, err
	}

	var fallback *Topic
	for _, p := range profiles {
		if p.TokenAddress == "" {
			continue
		}
		topic, err := s.resolve(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return Topic{}, ctx.Err()
			}
			s.logger.WithError(err).WithField("address", p.TokenAddress).Debug("Tokens: skipping token without price")
			continue
		}
		if s.seenRecently(topic.Address) {
			if fallback == nil {
				fallback = &topic
			}
			continue
		}
		s.remember(topic.Address)
		fetchesTotal.WithLabelValues("ok").Inc()
		return topic, nil
	}
	if fallback != nil {
		fetchesTotal.WithLabelValues("repeat").Inc()
		return *fallback, nil
	}
	fetchesTotal.WithLabelValues("none").Inc()
	return Topic{}, &FetchError{Op: "select", Err: ErrNoValidToken}
}

// latestProfiles is shared across concurrent callers.
func (s *Source) latestProfiles(ctx context.Context) ([]profile, error) {
	v, err, _ := s.group.Do("profiles", func() (any, error) {
		var profiles []profile
		if err := s.getJSON(ctx, "profiles", s.baseURL+"/token-profiles/latest/v1", &profiles); err != nil {
			return nil, err
		}
		return profiles, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]profile), nil
}

func (s *Source) resolve(ctx context.Context, p profile) (Topic, error) {
	var pairs pairsResponse
	if err := s.getJSON(ctx, "pairs", s.baseURL+"/latest/dex/tokens/"+url.PathEscape(p.TokenAddress), &pairs); err != nil {
		return Topic{}, err
	}

	topic := Topic{
		Description: p.Description,
		ChainID:     p.ChainID,
		Address:     p.TokenAddress,
		Links:       p.Links,
	}
	if topic.Description == "" {
		topic.Description = "No description available"
	}
	if topic.ChainID == "" {
		topic.ChainID = defaultChain
	}

	priced := false
	for _, pair := range pairs.Pairs {
		if topic.Name == "" && pair.BaseToken.Name != "" {
			topic.Name = pair.BaseToken.Name
		}
		if topic.Symbol == "" && pair.BaseToken.Symbol != "" {
			topic.Symbol = pair.BaseToken.Symbol
		}
		if priced || pair.PriceUSD == "" {
			continue
		}
		price, err := strconv.ParseFloat(pair.PriceUSD, 64)
		if err != nil || price <= 0 {
			continue
		}
		topic.PriceUSD = price
		priced = true
	}
	if !priced {
		return Topic{}, &FetchError{Op: "price", Err: fmt.Errorf("no usd price for %s", p.TokenAddress)}
	}

	switch {
	case topic.Name != "":
	case p.Name != "":
		topic.Name = p.Name
	case p.Symbol != "":
		topic.Name = p.Symbol
	case topic.Symbol != "":
		topic.Name = topic.Symbol
	default:
		topic.Name = unnamedToken
	}
	topic.URL = "https://dexscreener.com/" + topic.ChainID + "/" + topic.Address
	return topic, nil
}

func (s *Source) getJSON(ctx context.Context, op, endpoint string, out any) error {
	resp, err := resilience.ExecuteHTTP(ctx, s.executor, func() (*http.Response, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if reqErr != nil {
			return nil, reqErr
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())
		return s.http.Do(req)
	})
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &FetchError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(body)))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

func (s *Source) seenRecently(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.recent {
		if a == address {
			return true
		}
	}
	return false
}

func (s *Source) remember(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, address)
	if len(s.recent) > recentWindow {
		s.recent = s.recent[len(s.recent)-recentWindow:]
	}
}
