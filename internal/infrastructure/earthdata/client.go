// Package earthdata builds HTTP clients authenticated against NASA Earthdata Login.
package earthdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/config"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

// DefaultTokenURL issues (or returns the current) user bearer token.
const DefaultTokenURL = "https://urs.earthdata.nasa.gov/api/users/find_or_create_token"

const expirationLayout = "01/02/2006"

// TokenSource exchanges Earthdata login and password for a bearer token.
type TokenSource struct {
	creds    config.EarthdataCredentials
	tokenURL string
	client   *http.Client
	ctx      context.Context
}

var _ oauth2.TokenSource = (*TokenSource)(nil)

// NewTokenSource returns a source hitting tokenURL, or DefaultTokenURL when empty.
func NewTokenSource(ctx context.Context, creds config.EarthdataCredentials, tokenURL string) *TokenSource {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &TokenSource{
		creds:    creds,
		tokenURL: tokenURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		ctx:      ctx,
	}
}

// Token requests a token with basic auth. Rejected credentials are run-fatal.
func (s *TokenSource) Token() (*oauth2.Token, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.tokenURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.SetBasicAuth(s.creds.Login(), s.creds.Password())
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: earthdata rejected login %q: %s", domain.ErrCredentials, s.creds.Login(), resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("earthdata token: unexpected status %s", resp.Status)
	}

	var payload struct {
		AccessToken    string `json:"access_token"`
		TokenType      string `json:"token_type"`
		ExpirationDate string `json:"expiration_date"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("%w: earthdata returned an empty token", domain.ErrCredentials)
	}

	tok := &oauth2.Token{AccessToken: payload.AccessToken, TokenType: payload.TokenType}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if exp, err := time.Parse(expirationLayout, payload.ExpirationDate); err == nil {
		tok.Expiry = exp
	}
	return tok, nil
}

// NewClient returns an HTTP client attaching a cached Earthdata bearer token to every request.
func NewClient(ctx context.Context, creds config.EarthdataCredentials, tokenURL string, timeout time.Duration) *http.Client {
	ts := oauth2.ReuseTokenSource(nil, NewTokenSource(ctx, creds, tokenURL))
	client := oauth2.NewClient(ctx, ts)
	client.Timeout = timeout
	return client
}
