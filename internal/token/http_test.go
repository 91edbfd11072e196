package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/ragstream/internal/runtime/config"
	"github.com/drblury/ragstream/internal/runtime/jsoncodec"
)

func TestClientCredentialsFetcher(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "svc", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","expires_in":300,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	f := &ClientCredentialsFetcher{URL: srv.URL, ClientID: "svc", ClientSecret: "secret", Client: srv.Client()}
	tok, err := f.FetchToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
	assert.InDelta(t, float64(300*time.Second), float64(tok.ExpiresIn), float64(5*time.Second))
}

func TestLoginFetcherPrefersIDToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body loginRequest
		require.NoError(t, jsoncodec.Decode(r.Body, &body))
		assert.Equal(t, "user", body.Login)
		assert.Equal(t, "pass", body.Password)
		_, _ = w.Write([]byte(`{"access_token":"access","refresh_token":"r","id_token":"id","expires_in":60}`))
	}))
	defer srv.Close()

	f := &LoginFetcher{URL: srv.URL, Login: "user", Password: "pass", Client: srv.Client()}
	tok, err := f.FetchToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id", tok.AccessToken)
	assert.Equal(t, time.Minute, tok.ExpiresIn)
}

func TestLoginFetcherFallsBackToAccessToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"access","expires_in":60}`))
	}))
	defer srv.Close()

	f := &LoginFetcher{URL: srv.URL, Client: srv.Client()}
	tok, err := f.FetchToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access", tok.AccessToken)
}

func TestFetcherErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{name: "non 200", status: http.StatusUnauthorized, body: `{"error":"denied"}`, wantStatus: http.StatusUnauthorized},
		{name: "server error", status: http.StatusBadGateway, body: `oops`, wantStatus: http.StatusBadGateway},
		{name: "bad json", status: http.StatusOK, body: `not json`, wantStatus: http.StatusOK},
		{name: "empty token", status: http.StatusOK, body: `{"expires_in":60}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			f := &LoginFetcher{URL: srv.URL, Client: srv.Client()}
			_, err := f.FetchToken(context.Background())
			var fetchErr *TokenFetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, tt.wantStatus, fetchErr.StatusCode)
		})
	}
}

func TestClientCredentialsFetcherErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"invalid_client"}`, wantStatus: http.StatusUnauthorized},
		{name: "server error", status: http.StatusBadGateway, body: `oops`, wantStatus: http.StatusBadGateway},
		{name: "bad json", status: http.StatusOK, body: `not json`},
		{name: "empty token", status: http.StatusOK, body: `{"expires_in":60}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			f := &ClientCredentialsFetcher{URL: srv.URL, ClientID: "svc", ClientSecret: "secret", Client: srv.Client()}
			_, err := f.FetchToken(context.Background())
			var fetchErr *TokenFetchError
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, tt.wantStatus, fetchErr.StatusCode)
		})
	}
}

func TestClientCredentialsFetcherUsesGivenClient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tls","token_type":"Bearer"}`))
	}))
	defer srv.Close()

	f := &ClientCredentialsFetcher{URL: srv.URL, Client: NewHTTPClient(false)}
	tok, err := f.FetchToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tls", tok.AccessToken)
	assert.Zero(t, tok.ExpiresIn, "no expires_in means no caching window")

	_, err = (&ClientCredentialsFetcher{URL: srv.URL, Client: NewHTTPClient(true)}).FetchToken(context.Background())
	var fetchErr *TokenFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Zero(t, fetchErr.StatusCode)
}

func TestFetcherTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := &LoginFetcher{URL: url, Client: &http.Client{Timeout: time.Second}}
	_, err := f.FetchToken(context.Background())
	var fetchErr *TokenFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Zero(t, fetchErr.StatusCode)
}

func TestNewHTTPClientVerify(t *testing.T) {
	t.Parallel()

	insecure := NewHTTPClient(false)
	tr := insecure.Transport.(*http.Transport)
	require.NotNil(t, tr.TLSClientConfig)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
	assert.Equal(t, DefaultTimeout, insecure.Timeout)

	secure := NewHTTPClient(true)
	tr = secure.Transport.(*http.Transport)
	if tr.TLSClientConfig != nil {
		assert.False(t, tr.TLSClientConfig.InsecureSkipVerify)
	}
}

func TestEPAManagerAgainstServer(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"epa-token","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	m := NewEPAManager(config.TokenEndpoint{URL: srv.URL, Login: "l", Password: "p", Verify: true})
	assert.Equal(t, "epa", m.Name())
	for range 3 {
		tok, err := m.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "epa-token", tok)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestRNDManagerAgainstServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"a","id_token":"rnd-id","expires_in":3600}`))
	}))
	defer srv.Close()

	m := NewRNDManager(config.TokenEndpoint{URL: srv.URL, Verify: true})
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rnd-id", tok)
}
