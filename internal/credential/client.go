// Package credential is the thin gateway to the external mail-account
// credential collaborator. The collaborator owns the OAuth refresh dance,
// token minting, caching, and revocation; this client only asks it for the
// current access token of a (tenant, user) pair and hands the opaque result
// to Mail-Fetcher. Nothing is cached or stored here.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/errs"
	"github.com/bobmcallan/casevault/internal/interfaces"
)

// Client implements interfaces.CredentialProvider against the external
// collaborator's HTTP endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
}

// New creates a Client from CredentialConfig.
func New(cfg common.CredentialConfig, logger *common.Logger) *Client {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.GetTimeout()},
		logger:     logger,
	}
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

// GetAccessToken fetches the current access token for (tenant, user) from
// the external collaborator. Returns (nil, nil) when no mail account is
// connected for the pair; callers surface that as a precondition failure.
// A 401/403 from the collaborator means the underlying grant has been
// revoked, surfaced as a non-retryable Auth error so Mail-Fetcher doesn't
// spend an attempt budget on a credential that will never succeed.
func (c *Client) GetAccessToken(ctx context.Context, tenant, user string) (*interfaces.Credential, error) {
	reqURL := fmt.Sprintf("%s/access-token?%s", c.baseURL, url.Values{
		"tenant": {tenant},
		"user":   {user},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build credential request: %w", err)
	}

	c.logger.Debug().Str("tenant", tenant).Str("user", user).Msg("credential: fetching access token")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.UpstreamTransient("credential lookup failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		// No connected mail account for this (tenant, user).
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errs.Auth(fmt.Sprintf("credential collaborator rejected tenant %s user %s", tenant, user))
	case resp.StatusCode != http.StatusOK:
		return nil, errs.UpstreamTransient(fmt.Sprintf("credential collaborator returned status %d", resp.StatusCode), nil)
	}

	var wire tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode credential response: %w", err)
	}
	if wire.Token == "" {
		// The collaborator's explicit "no credential" answer.
		return nil, nil
	}

	expiresAt := wire.ExpiresAt
	if expiresAt == 0 {
		expiresAt = expiryFromJWT(wire.Token)
	}

	return &interfaces.Credential{Token: wire.Token, ExpiresAt: expiresAt}, nil
}

// expiryFromJWT reads the exp claim from a JWT-shaped token without
// verifying its signature; the collaborator, not this process, is
// authoritative over whether the token is valid. Used only when the
// collaborator's response omits an explicit expiry. Non-JWT tokens report
// no expiry.
func expiryFromJWT(token string) int64 {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Unix()
		}
	}
	return 0
}

var _ interfaces.CredentialProvider = (*Client)(nil)
