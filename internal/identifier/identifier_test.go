package identifier

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opendevcontainers/feature-engine/internal/model"
)

func TestParseLocal(t *testing.T) {
	d, err := Parse("go")
	require.NoError(t, err)
	require.Equal(t, model.SourceLocal, d.Kind)
	require.Equal(t, "go", d.Name)
	require.Equal(t, "go", Render(d))
}

func TestParseOCIWithTag(t *testing.T) {
	d, err := Parse("ghcr.io/devcontainers/features/go:1.2.3")
	require.NoError(t, err)
	require.Equal(t, model.SourceOCI, d.Kind)
	require.Equal(t, "ghcr.io", d.Registry)
	require.Equal(t, "devcontainers/features", d.Namespace)
	require.Equal(t, "go", d.Name)
	require.Equal(t, "1.2.3", d.Reference)
	require.Equal(t, "ghcr.io/devcontainers/features/go", d.Resource)
	require.Equal(t, "ghcr.io/devcontainers/features/go:1.2.3", Render(d))
}

func TestParseOCINoTagDefaultsLatest(t *testing.T) {
	d, err := Parse("octocat/features/helloworld")
	require.NoError(t, err)
	require.Equal(t, model.SourceOCI, d.Kind)
	require.Equal(t, "latest", d.Reference)
	require.Equal(t, "octocat/features/helloworld", Render(d))
}

func TestParsePortIsNotTreatedAsTag(t *testing.T) {
	// Colon appears before the first slash -> it's a port, not a tag
	// delimiter; reference stays "latest".
	d, err := Parse("localhost:5000/foo/bar")
	require.NoError(t, err)
	require.Equal(t, model.SourceOCI, d.Kind)
	require.Equal(t, "localhost:5000", d.Registry)
	require.Equal(t, "latest", d.Reference)
}

func TestParseOCIDigestPinned(t *testing.T) {
	digest := "sha256:abc123abc123abc123abc123abc123abc123abc123abc123abc123abc123ab"
	d, err := Parse("ghcr.io/devcontainers/features/go@" + digest)
	require.NoError(t, err)
	require.Equal(t, model.SourceOCI, d.Kind)
	require.True(t, d.ResourceIsDigest)
	require.Equal(t, digest, d.Reference)
	require.Equal(t, "ghcr.io/devcontainers/features/go@"+digest, Render(d))
}

func TestParseFilePathRelative(t *testing.T) {
	d, err := Parse("./local-features/go")
	require.NoError(t, err)
	require.Equal(t, model.SourceFilePath, d.Kind)
	require.True(t, d.IsRelative)
	require.Equal(t, "go", d.Name)
	require.Equal(t, "./local-features/go", Render(d))
}

func TestParseFilePathAbsolute(t *testing.T) {
	d, err := Parse("/opt/features/go")
	require.NoError(t, err)
	require.Equal(t, model.SourceFilePath, d.Kind)
	require.False(t, d.IsRelative)
}

func TestParseTarballWithInnerName(t *testing.T) {
	d, err := Parse("https://example.com/release.tgz#go")
	require.NoError(t, err)
	require.Equal(t, model.SourceTarball, d.Kind)
	require.Equal(t, "https://example.com/release.tgz", d.URL)
	require.Equal(t, "go", d.InnerName)
	require.Equal(t, "https://example.com/release.tgz#go", Render(d))
}

func TestParseTarballStripsTrailingSlash(t *testing.T) {
	d, err := Parse("https://example.com/release.tgz/")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/release.tgz", d.URL)
}

func TestParseGitHubReleaseExplicitLatest(t *testing.T) {
	d, err := Parse("owner/repo/featurename@latest")
	require.NoError(t, err)
	require.Equal(t, model.SourceGitHubRelease, d.Kind)
	require.Equal(t, "latest", d.Tag)
}

func TestS1OctocatHelloworldIsGitHubRelease(t *testing.T) {
	d, err := Parse("octocat/features/helloworld@v1.0.0")
	require.NoError(t, err)
	require.Equal(t, model.SourceGitHubRelease, d.Kind)
	require.Equal(t, "octocat", d.Owner)
	require.Equal(t, "features", d.Repo)
	require.Equal(t, "helloworld", d.Name)
	require.Equal(t, "v1.0.0", d.Tag)
}

func TestParseGitHubReleaseWithTag(t *testing.T) {
	d, err := Parse("owner/repo/featurename@v2.0.0")
	require.NoError(t, err)
	require.Equal(t, model.SourceGitHubRelease, d.Kind)
	require.Equal(t, "v2.0.0", d.Tag)
	require.Equal(t, "owner/repo/featurename@v2.0.0", Render(d))
}

func TestParseRejectsInvalidPathSegment(t *testing.T) {
	_, err := Parse("ghcr.io/Bad_Segment!/go")
	require.Error(t, err)
}

func TestParseEmptyIdentifier(t *testing.T) {
	_, err := Parse("")
	require.ErrorIs(t, err, ErrEmptyIdentifier)
}

func TestDependencyCapable(t *testing.T) {
	require.True(t, model.SourceOCI.DependencyCapable())
	require.True(t, model.SourceFilePath.DependencyCapable())
	require.True(t, model.SourceTarball.DependencyCapable())
	require.False(t, model.SourceLocal.DependencyCapable())
	require.False(t, model.SourceGitHubRelease.DependencyCapable())
}
