package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/vietddude/invoker/internal/core/request"
	"github.com/vietddude/invoker/internal/infra/transport"
)

// DefaultExpirySkew renews tokens slightly before they expire.
const DefaultExpirySkew = 30 * time.Second

// ErrEmptyToken is returned when the identity service answers without a token.
var ErrEmptyToken = errors.New("identity service returned no access token")

// Credentials identify a client against a token endpoint.
type Credentials struct {
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Scope        string `yaml:"scope"`
}

// Token is a login result.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"-"`
}

// Valid reports whether the token is usable at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && (t.ExpiresAt.IsZero() || now.Before(t.ExpiresAt))
}

// TokenDelegate logs in with an OAuth2 style password or client
// credentials grant and reuses cached tokens until they expire.
type TokenDelegate struct {
	requester request.Requester
	skew      time.Duration
	now       func() time.Time
}

// NewTokenDelegate creates a delegate that posts to the token endpoint
// through requester.
func NewTokenDelegate(requester request.Requester) *TokenDelegate {
	return &TokenDelegate{
		requester: requester,
		skew:      DefaultExpirySkew,
		now:       time.Now,
	}
}

// CacheKey implements Delegate.
func (d *TokenDelegate) CacheKey(c Credentials) string {
	return c.TokenURL + "|" + c.ClientID + "|" + c.Username
}

// RequestLogon implements Delegate.
func (d *TokenDelegate) RequestLogon(ctx context.Context, c Credentials, cached Token, found bool) (Token, error) {
	if found && cached.Valid(d.now().Add(d.skew)) {
		return cached, nil
	}

	form := url.Values{}
	if c.Username != "" {
		form.Set("grant_type", "password")
		form.Set("username", c.Username)
		form.Set("password", c.Password)
	} else {
		form.Set("grant_type", "client_credentials")
	}
	form.Set("client_id", c.ClientID)
	if c.ClientSecret != "" {
		form.Set("client_secret", c.ClientSecret)
	}
	if c.Scope != "" {
		form.Set("scope", c.Scope)
	}

	raw, err := d.requester.Do(ctx, request.Call{
		Service: "auth",
		Verb:    "POST",
		URL:     c.TokenURL,
		Body:    form.Encode(),
		Options: []request.TransportOption{
			{Key: transport.OptionContentType, Value: "application/x-www-form-urlencoded"},
		},
	})
	if err != nil {
		return Token{}, fmt.Errorf("token request: %w", err)
	}

	resp, ok := raw.(*transport.Response)
	if !ok {
		return Token{}, fmt.Errorf("token request: unexpected result %T", raw)
	}

	var tok Token
	if err := resp.JSON(&tok); err != nil {
		return Token{}, err
	}
	if tok.AccessToken == "" {
		return Token{}, ErrEmptyToken
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if tok.ExpiresIn > 0 {
		tok.ExpiresAt = d.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// BearerHeaders renders a token as an Authorization header.
func BearerHeaders(t Token) []request.Header {
	return []request.Header{{Key: "Authorization", Value: t.TokenType + " " + t.AccessToken}}
}
