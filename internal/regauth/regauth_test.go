package regauth

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/opendevcontainers/feature-engine/internal/credentials"
	"github.com/opendevcontainers/feature-engine/internal/transport"
)

func TestAuthenticatedRequestBearerFlow(t *testing.T) {
	var tokenCalls int
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		require.Equal(t, "repository:foo/bar:pull", r.URL.Query().Get("scope"))
		_, _ = w.Write([]byte(`{"token":"abc123"}`))
	}))
	defer tokenSrv.Close()

	var sawAuth string
	registrySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="`+tokenSrv.URL+`",service="registry.example.com",scope="repository:foo/bar:pull"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		sawAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer registrySrv.Close()

	n := New(transport.New(5*time.Second), &credentials.Source{Getenv: func(string) string { return "" }}, zerolog.Nop())
	resp, err := n.AuthenticatedRequest(t.Context(), "registry.example.com", http.MethodGet, registrySrv.URL, nil, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, "Bearer abc123", sawAuth)
	require.Equal(t, 1, tokenCalls)

	// Second call should use the cached header without re-challenging.
	resp, err = n.AuthenticatedRequest(t.Context(), "registry.example.com", http.MethodGet, registrySrv.URL, nil, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, 1, tokenCalls)
}

func TestAuthenticatedRequestBasicFlow(t *testing.T) {
	var sawAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.Header().Set("WWW-Authenticate", `Basic realm="registry"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		sawAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	creds := &credentials.Source{Getenv: func(k string) string {
		if k == "DEVCONTAINERS_OCI_AUTH" {
			return "registry.example.com|alice|secret"
		}
		return ""
	}}
	n := New(transport.New(5*time.Second), creds, zerolog.Nop())
	resp, err := n.AuthenticatedRequest(t.Context(), "registry.example.com", http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("alice:secret")), sawAuth)
}

func TestAuthenticatedRequestMissingChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	n := New(transport.New(5*time.Second), &credentials.Source{Getenv: func(string) string { return "" }}, zerolog.Nop())
	_, err := n.AuthenticatedRequest(t.Context(), "registry.example.com", http.MethodGet, srv.URL, nil, nil)
	require.ErrorIs(t, err, ErrMissingChallenge)
}

func TestAuthenticatedRequestUnsupportedScheme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Digest realm="registry"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	n := New(transport.New(5*time.Second), &credentials.Source{Getenv: func(string) string { return "" }}, zerolog.Nop())
	_, err := n.AuthenticatedRequest(t.Context(), "registry.example.com", http.MethodGet, srv.URL, nil, nil)
	require.ErrorIs(t, err, ErrUnsupportedScheme)
}
