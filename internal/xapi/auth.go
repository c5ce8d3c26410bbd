package xapi

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/oauth2"
)

const defaultTokenURL = "https://api.x.com/2/oauth2/token"

// Credentials are OAuth 2.0 user-context credentials. With a refresh token
// and client id the access token is refreshed automatically; otherwise the
// access token is used as-is.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	TokenURL     string
}

func (c Credentials) canRefresh() bool {
	return c.RefreshToken != "" && c.ClientID != ""
}

// TokenSource builds the oauth2 token source for the credentials.
func TokenSource(ctx context.Context, creds Credentials) (oauth2.TokenSource, error) {
	if creds.AccessToken == "" && !creds.canRefresh() {
		return nil, errors.New("x api: access token or refresh credentials required")
	}
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	}
	if !creds.canRefresh() {
		return oauth2.StaticTokenSource(token), nil
	}

	tokenURL := creds.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	// An empty access token forces a refresh on first use.
	return conf.TokenSource(ctx, token), nil
}

// AuthState remembers that the platform rejected the credentials. Every
// component that publishes shares one; once broken it stays broken until
// restart. A nil AuthState is never broken.
type AuthState struct {
	broken atomic.Bool
}

func NewAuthState() *AuthState {
	return &AuthState{}
}

func (a *AuthState) MarkBroken() {
	if a != nil {
		a.broken.Store(true)
	}
}

func (a *AuthState) Broken() bool {
	return a != nil && a.broken.Load()
}
