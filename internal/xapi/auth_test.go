package xapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenSourceRequiresCredentials(t *testing.T) {
	if _, err := TokenSource(context.Background(), Credentials{}); err == nil {
		t.Fatal("expected error without credentials")
	}
}

func TestStaticTokenSource(t *testing.T) {
	ts, err := TokenSource(context.Background(), Credentials{AccessToken: "abc"})
	if err != nil {
		t.Fatalf("token source: %v", err)
	}
	tok, err := ts.Token()
	if err != nil || tok.AccessToken != "abc" {
		t.Fatalf("unexpected token %+v, %v", tok, err)
	}
}

func TestRefreshingTokenSourceSignsRequests(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "refresh-1" {
			t.Errorf("unexpected refresh form %v", r.Form)
		}
		if user, _, ok := r.BasicAuth(); !ok || user != "client" {
			t.Errorf("expected client id in basic auth")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh","token_type":"bearer","expires_in":7200,"refresh_token":"refresh-2"}`)
	}))
	defer tokenServer.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer fresh" {
			t.Errorf("expected refreshed bearer token, got %q", got)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"data":{"id":"1","text":"x"}}`)
	}))
	defer api.Close()

	ts, err := TokenSource(context.Background(), Credentials{
		RefreshToken: "refresh-1",
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     tokenServer.URL,
	})
	if err != nil {
		t.Fatalf("token source: %v", err)
	}

	c := NewClient(Config{BaseURL: api.URL, TokenSource: ts})
	if _, err := c.PublishPrimary(context.Background(), "x"); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestAuthStateStaysBroken(t *testing.T) {
	var nilState *AuthState
	if nilState.Broken() {
		t.Fatal("nil auth state should never be broken")
	}
	nilState.MarkBroken()

	a := NewAuthState()
	if a.Broken() {
		t.Fatal("new auth state should not be broken")
	}
	a.MarkBroken()
	a.MarkBroken()
	if !a.Broken() {
		t.Fatal("expected auth state to be broken")
	}
}
