package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFanOutFirstRelease(t *testing.T) {
	tags, err := FanOut("1.0.0", nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"1.0.0", "1", "1.0", "latest"}, tags)
}

func TestFanOutPatchAboveExistingRelease(t *testing.T) {
	tags, err := FanOut("1.2.1", []string{"1.2.0"})
	require.NoError(t, err)
	// 1.2.1 is the newest 1.x.x and newest 1.2.x release published, so it
	// claims "1", "1.2", and "latest" in addition to its own exact tag.
	require.ElementsMatch(t, []string{"1.2.1", "1", "1.2", "latest"}, tags)
}

func TestFanOutOlderPatchDoesNotClaimFloatingTags(t *testing.T) {
	tags, err := FanOut("1.2.0", []string{"1.2.5"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"1.2.0"}, tags)
}

func TestFanOutRefusesRepublish(t *testing.T) {
	_, err := FanOut("1.2.0", []string{"1.2.0"})
	require.ErrorIs(t, err, ErrVersionAlreadyPublished)
}

func TestSortedDescendingDropsLatest(t *testing.T) {
	sorted := SortedDescending([]string{"1.0.0", "latest", "2.0.0", "1.5.0"})
	require.Equal(t, []string{"2.0.0", "1.5.0", "1.0.0"}, sorted)
}

func TestResolveInstallLatest(t *testing.T) {
	tag, err := ResolveInstall("latest", []string{"1.0.0", "2.0.0", "latest"})
	require.NoError(t, err)
	require.Equal(t, "2.0.0", tag)
}

func TestResolveInstallConcreteRange(t *testing.T) {
	tag, err := ResolveInstall("1.x", []string{"1.0.0", "1.5.0", "2.0.0"})
	require.NoError(t, err)
	require.Equal(t, "1.5.0", tag)
}

func TestResolveInstallDigestPinned(t *testing.T) {
	digest := "sha256:abcabc"
	tag, err := ResolveInstall(digest, []string{"1.0.0"})
	require.NoError(t, err)
	require.Equal(t, digest, tag)
}

func TestResolveInstallNoMatch(t *testing.T) {
	_, err := ResolveInstall("9.x", []string{"1.0.0"})
	require.ErrorIs(t, err, ErrNoMatchingVersion)
}
