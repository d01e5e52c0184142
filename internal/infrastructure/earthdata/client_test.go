package earthdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/config"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

func TestClientAttachesCachedBearerToken(t *testing.T) {
	t.Parallel()

	var issued atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		issued.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expiration_date":"12/31/2099"}`))
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(context.Background(), config.NewEarthdataCredentials("alice", "secret"), srv.URL+"/token", 0)
	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL + "/data")
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, int32(1), issued.Load(), "token must be reused until expiry")
}

func TestTokenRejectedCredentialsAreRunFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewTokenSource(context.Background(), config.NewEarthdataCredentials("bob", "wrong"), srv.URL).Token()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCredentials))
	assert.True(t, domain.IsRunFatal(err))
}
