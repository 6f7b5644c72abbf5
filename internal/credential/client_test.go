package credential

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/errs"
)

func newTestClient(srvURL string) *Client {
	return New(common.CredentialConfig{BaseURL: srvURL, Timeout: "2s"}, common.NewSilentLogger())
}

func TestGetAccessToken_ReturnsCollaboratorToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "tenant-a", r.URL.Query().Get("tenant"))
		assert.Equal(t, "user-1", r.URL.Query().Get("user"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token": "tok-abc", "expiresAt": 1900000000}`))
	}))
	defer srv.Close()

	cred, err := newTestClient(srv.URL).GetAccessToken(t.Context(), "tenant-a", "user-1")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "tok-abc", cred.Token)
	assert.Equal(t, int64(1900000000), cred.ExpiresAt)
}

func TestGetAccessToken_NoConnectedAccountIsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cred, err := newTestClient(srv.URL).GetAccessToken(t.Context(), "tenant-a", "nobody")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestGetAccessToken_EmptyTokenIsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token": ""}`))
	}))
	defer srv.Close()

	cred, err := newTestClient(srv.URL).GetAccessToken(t.Context(), "tenant-a", "user-1")
	require.NoError(t, err)
	assert.Nil(t, cred)
}

func TestGetAccessToken_RevokedGrantIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetAccessToken(t.Context(), "tenant-a", "user-1")
	require.Error(t, err)
	var je *errs.JobError
	require.True(t, errors.As(err, &je))
	assert.Equal(t, errs.KindAuth, je.Kind)
	assert.False(t, je.Retryable)
}

func TestGetAccessToken_CollaboratorOutageIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetAccessToken(t.Context(), "tenant-a", "user-1")
	require.Error(t, err)
	var je *errs.JobError
	require.True(t, errors.As(err, &je))
	assert.Equal(t, errs.KindUpstreamTransient, je.Kind)
	assert.True(t, je.Retryable)
}

// unsignedJWT builds a JWT-shaped token with the given exp claim. The
// signature part is a placeholder; expiryFromJWT never verifies it.
func unsignedJWT(exp int64) string {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	header := enc(`{"alg":"none","typ":"JWT"}`)
	claims := enc(fmt.Sprintf(`{"exp":%d}`, exp))
	return header + "." + claims + ".sig"
}

func TestGetAccessToken_FillsExpiryFromJWTClaim(t *testing.T) {
	token := unsignedJWT(1893456000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"token": %q}`, token)
	}))
	defer srv.Close()

	cred, err := newTestClient(srv.URL).GetAccessToken(t.Context(), "tenant-a", "user-1")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, int64(1893456000), cred.ExpiresAt)
}

func TestExpiryFromJWT_OpaqueTokenHasNoExpiry(t *testing.T) {
	assert.Equal(t, int64(0), expiryFromJWT("not-a-jwt"))
}
