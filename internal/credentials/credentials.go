// Package credentials resolves registry credentials from the environment
// and the user's Docker credentials file (spec §4.2).
package credentials

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Credential is a resolved user:token pair for a registry. Found is false
// when no source yielded anything, meaning anonymous access.
type Credential struct {
	Username string
	Token    string
	Found    bool
}

// Source resolves credentials for a registry host. The zero value reads
// from the process environment and $HOME/.docker/config.json.
type Source struct {
	// Getenv overrides os.Getenv, for tests.
	Getenv func(string) string

	// HomeDir overrides os.UserHomeDir, for tests.
	HomeDir func() (string, error)
}

// NewSource returns a Source backed by the real environment and home
// directory.
func NewSource() *Source {
	return &Source{Getenv: os.Getenv, HomeDir: os.UserHomeDir}
}

func (s *Source) getenv(key string) string {
	if s.Getenv != nil {
		return s.Getenv(key)
	}
	return os.Getenv(key)
}

func (s *Source) homeDir() (string, error) {
	if s.HomeDir != nil {
		return s.HomeDir()
	}
	return os.UserHomeDir()
}

// Resolve returns credentials for registry, first match wins across the
// three sources named in spec §4.2: the ghcr.io GITHUB_TOKEN special case,
// DEVCONTAINERS_OCI_AUTH, and $HOME/.docker/config.json.
func (s *Source) Resolve(registry string) Credential {
	if registry == "ghcr.io" {
		if token := s.getenv("GITHUB_TOKEN"); token != "" {
			return Credential{Username: "USERNAME", Token: token, Found: true}
		}
	}

	if cred, ok := s.fromOCIAuthEnv(registry); ok {
		return cred
	}

	if cred, ok := s.fromDockerConfig(registry); ok {
		return cred
	}

	return Credential{}
}

// fromOCIAuthEnv parses DEVCONTAINERS_OCI_AUTH, a comma-separated list of
// "host|user|token" entries.
func (s *Source) fromOCIAuthEnv(registry string) (Credential, bool) {
	raw := s.getenv("DEVCONTAINERS_OCI_AUTH")
	if raw == "" {
		return Credential{}, false
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(entry, "|", 3)
		if len(parts) != 3 {
			continue
		}
		if parts[0] == registry {
			return Credential{Username: parts[1], Token: parts[2], Found: true}, true
		}
	}
	return Credential{}, false
}

type dockerConfig struct {
	Auths map[string]struct {
		Auth string `json:"auth"`
	} `json:"auths"`
}

// fromDockerConfig reads auths[registry].auth, a base64(user:token) string,
// from $HOME/.docker/config.json and decodes it.
func (s *Source) fromDockerConfig(registry string) (Credential, bool) {
	home, err := s.homeDir()
	if err != nil || home == "" {
		return Credential{}, false
	}
	data, err := os.ReadFile(filepath.Join(home, ".docker", "config.json"))
	if err != nil {
		return Credential{}, false
	}
	var cfg dockerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Credential{}, false
	}
	entry, ok := cfg.Auths[registry]
	if !ok || entry.Auth == "" {
		return Credential{}, false
	}
	decoded, err := base64.StdEncoding.DecodeString(entry.Auth)
	if err != nil {
		return Credential{}, false
	}
	user, token, found := strings.Cut(string(decoded), ":")
	if !found {
		return Credential{}, false
	}
	return Credential{Username: user, Token: token, Found: true}, true
}
