// Package featureengine provides devcontainer Feature distribution
// functionality. This file contains functional options for configuring the
// Client and its Install/Publish operations.
package featureengine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/opendevcontainers/feature-engine/internal/codec"
	"github.com/opendevcontainers/feature-engine/internal/credentials"
)

// clientConfig holds Client construction options, mirroring the teacher's
// ClientOptions struct but scoped to this engine's concerns (no ORAS, no
// cache — a registry transport, credential source, and resolver instead).
type clientConfig struct {
	logger zerolog.Logger

	transportTimeout time.Duration
	allowHTTP        bool

	getenv  func(string) string
	homeDir func() (string, error)

	localFeaturesDir string
	githubToken      string
	githubAPIBase    string
	workDir          string

	overrideInstallOrder []string
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{
		logger:           zerolog.Nop(),
		transportTimeout: 30 * time.Second,
	}
}

// ClientOption configures a Client at construction time.
type ClientOption func(*clientConfig)

// WithLogger attaches a zerolog.Logger passed to the transport, auth
// negotiator, and registry client. Defaults to a disabled logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = logger }
}

// WithTransportTimeout bounds every individual HTTP request (spec §5
// "each HTTP call has an outer deadline").
func WithTransportTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) { c.transportTimeout = timeout }
}

// WithAllowHTTP permits plain-HTTP registry connections instead of HTTPS.
// Intended for local registries in development and tests.
func WithAllowHTTP() ClientOption {
	return func(c *clientConfig) { c.allowHTTP = true }
}

// WithGitHubToken supplies a GitHub token used both as the ghcr.io
// credential (spec §4.2) and for authenticated GitHub Releases asset
// downloads (spec §4.6).
func WithGitHubToken(token string) ClientOption {
	return func(c *clientConfig) { c.githubToken = token }
}

// WithGitHubAPIBase overrides the GitHub REST API base URL, for tests.
func WithGitHubAPIBase(base string) ClientOption {
	return func(c *clientConfig) { c.githubAPIBase = base }
}

// WithLocalFeaturesDir sets the bundled-Features directory consulted for
// Local source identifiers (spec §4.6 "read from the bundled Features
// directory").
func WithLocalFeaturesDir(dir string) ClientOption {
	return func(c *clientConfig) { c.localFeaturesDir = dir }
}

// WithWorkDir sets the scratch directory used for OCI blob extraction
// staging and for the features/ directory Install extracts into. Defaults
// to the OS temp directory.
func WithWorkDir(dir string) ClientOption {
	return func(c *clientConfig) { c.workDir = dir }
}

// WithCredentialEnv overrides environment-variable lookups used by the
// credential source (spec §4.2), for tests.
func WithCredentialEnv(getenv func(string) string) ClientOption {
	return func(c *clientConfig) { c.getenv = getenv }
}

// WithCredentialHomeDir overrides the home-directory lookup used to locate
// $HOME/.docker/config.json, for tests.
func WithCredentialHomeDir(homeDir func() (string, error)) ClientOption {
	return func(c *clientConfig) { c.homeDir = homeDir }
}

// WithOverrideInstallOrder sets the install-order override (spec §4.7 step
// 3, §4.8.1) applied to both the dependency-capable scheduler and the
// legacy topological pass.
func WithOverrideInstallOrder(identifiers ...string) ClientOption {
	return func(c *clientConfig) { c.overrideInstallOrder = identifiers }
}

func newCredentialsSource(cfg *clientConfig) *credentials.Source {
	src := credentials.NewSource()
	if cfg.getenv != nil {
		src.Getenv = cfg.getenv
	}
	if cfg.homeDir != nil {
		src.HomeDir = cfg.homeDir
	}
	if cfg.githubToken != "" {
		getenv := src.Getenv
		src.Getenv = func(key string) string {
			if key == "GITHUB_TOKEN" {
				return cfg.githubToken
			}
			return getenv(key)
		}
	}
	return src
}

// installConfig holds per-call Install options.
type installConfig struct {
	lockfilePath string
	frozen       bool
	extract      codec.ExtractOptions
}

func defaultInstallConfig() *installConfig {
	return &installConfig{extract: codec.DefaultExtractOptions}
}

// InstallOption configures a single Install call.
type InstallOption func(*installConfig)

// WithLockfilePath sets the path to read/write the lockfile at (spec §6
// "[.]devcontainer-lock.json"). If unset, no lockfile is read or written.
func WithLockfilePath(path string) InstallOption {
	return func(c *installConfig) { c.lockfilePath = path }
}

// WithFrozenLockfile enables frozen-mode verification: any mismatch
// between the computed and on-disk lockfile fails the Install call (spec
// §4.9, §7 LockfileMismatch/LockfileMissing).
func WithFrozenLockfile() InstallOption {
	return func(c *installConfig) { c.frozen = true }
}

// WithExtractLimits overrides the security limits applied when extracting
// downloaded Feature archives (spec §4.5/§4.11).
func WithExtractLimits(maxFiles int, maxSize, maxFileSize int64) InstallOption {
	return func(c *installConfig) {
		c.extract.MaxFiles = maxFiles
		c.extract.MaxSize = maxSize
		c.extract.MaxFileSize = maxFileSize
	}
}

// publishConfig holds per-call Publish options.
type publishConfig struct {
	publishedTags []string
}

func defaultPublishConfig() *publishConfig {
	return &publishConfig{}
}

// PublishOption configures a single Publish call.
type PublishOption func(*publishConfig)

// WithPublishedTags supplies the registry's current published tag set,
// used to compute the semver fan-out (spec §4.9). Callers that already
// queried listTags pass it here to avoid a redundant round trip; if
// omitted, Publish queries the registry itself.
func WithPublishedTags(tags []string) PublishOption {
	return func(c *publishConfig) { c.publishedTags = tags }
}
