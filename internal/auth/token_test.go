package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/invoker/internal/core/request"
	"github.com/vietddude/invoker/internal/infra/transport"
)

func newTokenServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.Header.Get("Content-Type") != "application/x-www-form-urlencoded" {
			http.Error(w, "bad content type", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != "password" || r.PostForm.Get("username") != "alice" {
			http.Error(w, "bad grant", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + r.PostForm.Get("client_id"),
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenDelegate_ReusesUntilExpiry(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, &hits)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewTokenDelegate(transport.NewHTTPRequester("auth", 5*time.Second))
	d.now = func() time.Time { return now }

	c := NewCoordinator[Credentials, Token](d)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Start(ctx) }()

	creds := Credentials{TokenURL: srv.URL, ClientID: "app", Username: "alice", Password: "secret"}

	tok, err := c.Login(ctx, creds)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if tok.AccessToken != "tok-app" || tok.TokenType != "Bearer" {
		t.Errorf("token = %+v", tok)
	}

	if _, err := c.Login(ctx, creds); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Errorf("token endpoint hits = %d, want 1", hits.Load())
	}

	// within the expiry skew: renew
	now = now.Add(time.Hour - DefaultExpirySkew/2)
	if _, err := c.Login(ctx, creds); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("token endpoint hits = %d, want 2", hits.Load())
	}
}

func TestTokenDelegate_RejectedLogin(t *testing.T) {
	var hits atomic.Int32
	srv := newTokenServer(t, &hits)

	d := NewTokenDelegate(transport.NewHTTPRequester("auth", 5*time.Second))
	_, err := d.RequestLogon(context.Background(), Credentials{TokenURL: srv.URL, ClientID: "app"}, Token{}, false)
	if err == nil {
		t.Fatal("expected error for client credentials grant")
	}
}

func TestAuthorizedRequester_AppendsHeaders(t *testing.T) {
	d := &countingDelegate{}
	c := NewCoordinator[string, int](d)
	startCoordinator(t, c)

	var got []request.Header
	inner := request.RequesterFunc(func(_ context.Context, call request.Call) (any, error) {
		got = call.Headers
		return "ok", nil
	})

	ar := NewAuthorizedRequester(inner, c, "alice", func(v int) []request.Header {
		return []request.Header{{Key: "Authorization", Value: "Bearer x"}}
	})

	original := []request.Header{{Key: "Accept", Value: "application/json"}}
	if _, err := ar.Do(context.Background(), request.Call{Service: "users", Headers: original}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(got) != 2 || got[0].Key != "Accept" || got[1].Key != "Authorization" {
		t.Errorf("headers = %+v", got)
	}
	if len(original) != 1 {
		t.Errorf("caller headers mutated: %+v", original)
	}
}

func TestBearerHeaders(t *testing.T) {
	h := BearerHeaders(Token{AccessToken: "abc", TokenType: "Bearer"})
	if len(h) != 1 || h[0].Value != "Bearer abc" {
		t.Errorf("BearerHeaders = %+v", h)
	}
}
