package credentials

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveGHCRFromGitHubToken(t *testing.T) {
	s := &Source{Getenv: func(k string) string {
		if k == "GITHUB_TOKEN" {
			return "tok123"
		}
		return ""
	}}
	cred := s.Resolve("ghcr.io")
	require.True(t, cred.Found)
	require.Equal(t, "USERNAME", cred.Username)
	require.Equal(t, "tok123", cred.Token)
}

func TestResolveFromOCIAuthEnv(t *testing.T) {
	s := &Source{Getenv: func(k string) string {
		if k == "DEVCONTAINERS_OCI_AUTH" {
			return "example.com|alice|secret,other.com|bob|other-secret"
		}
		return ""
	}}
	cred := s.Resolve("other.com")
	require.True(t, cred.Found)
	require.Equal(t, "bob", cred.Username)
	require.Equal(t, "other-secret", cred.Token)
}

func TestResolveFromDockerConfig(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".docker"), 0o755))
	auth := base64.StdEncoding.EncodeToString([]byte("carol:pw123"))
	cfg := `{"auths":{"registry.example.com":{"auth":"` + auth + `"}}}`
	require.NoError(t, os.WriteFile(filepath.Join(home, ".docker", "config.json"), []byte(cfg), 0o644))

	s := &Source{
		Getenv:  func(string) string { return "" },
		HomeDir: func() (string, error) { return home, nil },
	}
	cred := s.Resolve("registry.example.com")
	require.True(t, cred.Found)
	require.Equal(t, "carol", cred.Username)
	require.Equal(t, "pw123", cred.Token)
}

func TestResolveAnonymousWhenNoSourceMatches(t *testing.T) {
	s := &Source{
		Getenv:  func(string) string { return "" },
		HomeDir: func() (string, error) { return t.TempDir(), nil },
	}
	cred := s.Resolve("unknown.example.com")
	require.False(t, cred.Found)
}
