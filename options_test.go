package featureengine

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/opendevcontainers/feature-engine/internal/codec"
)

func TestDefaultClientConfig(t *testing.T) {
	cfg := defaultClientConfig()
	assert.Equal(t, 30*time.Second, cfg.transportTimeout)
	assert.False(t, cfg.allowHTTP)
	assert.Empty(t, cfg.overrideInstallOrder)
}

func TestWithLogger(t *testing.T) {
	cfg := defaultClientConfig()
	logger := zerolog.New(io.Discard)
	WithLogger(logger)(cfg)
	assert.Equal(t, logger, cfg.logger)
}

func TestWithTransportTimeout(t *testing.T) {
	cfg := defaultClientConfig()
	WithTransportTimeout(5 * time.Second)(cfg)
	assert.Equal(t, 5*time.Second, cfg.transportTimeout)
}

func TestWithAllowHTTP(t *testing.T) {
	cfg := defaultClientConfig()
	assert.False(t, cfg.allowHTTP)
	WithAllowHTTP()(cfg)
	assert.True(t, cfg.allowHTTP)
}

func TestWithGitHubToken(t *testing.T) {
	cfg := defaultClientConfig()
	WithGitHubToken("ghp_test")(cfg)
	assert.Equal(t, "ghp_test", cfg.githubToken)
}

func TestWithGitHubAPIBase(t *testing.T) {
	cfg := defaultClientConfig()
	WithGitHubAPIBase("https://api.example.com")(cfg)
	assert.Equal(t, "https://api.example.com", cfg.githubAPIBase)
}

func TestWithLocalFeaturesDir(t *testing.T) {
	cfg := defaultClientConfig()
	WithLocalFeaturesDir("/opt/features")(cfg)
	assert.Equal(t, "/opt/features", cfg.localFeaturesDir)
}

func TestWithWorkDir(t *testing.T) {
	cfg := defaultClientConfig()
	WithWorkDir("/tmp/work")(cfg)
	assert.Equal(t, "/tmp/work", cfg.workDir)
}

func TestWithCredentialEnv(t *testing.T) {
	cfg := defaultClientConfig()
	getenv := func(string) string { return "value" }
	WithCredentialEnv(getenv)(cfg)
	assert.Equal(t, "value", cfg.getenv("anything"))
}

func TestWithCredentialHomeDir(t *testing.T) {
	cfg := defaultClientConfig()
	homeDir := func() (string, error) { return "/home/test", nil }
	WithCredentialHomeDir(homeDir)(cfg)
	got, err := cfg.homeDir()
	assert.NoError(t, err)
	assert.Equal(t, "/home/test", got)
}

func TestWithOverrideInstallOrder(t *testing.T) {
	cfg := defaultClientConfig()
	WithOverrideInstallOrder("a", "b", "c")(cfg)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.overrideInstallOrder)
}

func TestNewCredentialsSourceDefaults(t *testing.T) {
	cfg := defaultClientConfig()
	src := newCredentialsSource(cfg)
	assert.NotNil(t, src)
}

func TestNewCredentialsSourceAppliesOverrides(t *testing.T) {
	cfg := defaultClientConfig()
	called := false
	WithCredentialEnv(func(string) string { called = true; return "" })(cfg)
	src := newCredentialsSource(cfg)
	src.Getenv("X")
	assert.True(t, called)
}

func TestDefaultInstallConfig(t *testing.T) {
	cfg := defaultInstallConfig()
	assert.Empty(t, cfg.lockfilePath)
	assert.False(t, cfg.frozen)
	assert.Equal(t, codec.DefaultExtractOptions, cfg.extract)
}

func TestWithLockfilePath(t *testing.T) {
	cfg := defaultInstallConfig()
	WithLockfilePath("devcontainer-lock.json")(cfg)
	assert.Equal(t, "devcontainer-lock.json", cfg.lockfilePath)
}

func TestWithFrozenLockfile(t *testing.T) {
	cfg := defaultInstallConfig()
	assert.False(t, cfg.frozen)
	WithFrozenLockfile()(cfg)
	assert.True(t, cfg.frozen)
}

func TestWithExtractLimits(t *testing.T) {
	cfg := defaultInstallConfig()
	WithExtractLimits(10, 1024, 512)(cfg)
	assert.Equal(t, 10, cfg.extract.MaxFiles)
	assert.Equal(t, int64(1024), cfg.extract.MaxSize)
	assert.Equal(t, int64(512), cfg.extract.MaxFileSize)
}

func TestDefaultPublishConfig(t *testing.T) {
	cfg := defaultPublishConfig()
	assert.Nil(t, cfg.publishedTags)
}

func TestWithPublishedTags(t *testing.T) {
	cfg := defaultPublishConfig()
	WithPublishedTags([]string{"1.0.0", "1", "latest"})(cfg)
	assert.Equal(t, []string{"1.0.0", "1", "latest"}, cfg.publishedTags)
}
