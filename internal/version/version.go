// Package version implements the publish-time tag fan-out law and
// install-time tag resolution over a registry's published tag set (spec
// §4.9).
package version

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrNoMatchingVersion is returned when install resolution finds no
// published tag satisfying the requested constraint.
var ErrNoMatchingVersion = errors.New("no published version satisfies constraint")

// ErrVersionAlreadyPublished is returned when the fan-out computation is
// asked to publish a version that is already present in the published set.
var ErrVersionAlreadyPublished = errors.New("version already published")

// FanOut computes the set of tags a newly published version V should
// receive, given the currently published tag set (spec §4.9 "Publish tag
// fan-out"). Non-semver tags in published (e.g. "latest") are ignored for
// range comparisons.
func FanOut(v string, published []string) ([]string, error) {
	version, err := semver.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("invalid release version %q: %w", v, err)
	}

	parsed := parseAll(published)
	for _, p := range parsed {
		if p.Equal(version) {
			return nil, fmt.Errorf("%w: %s", ErrVersionAlreadyPublished, v)
		}
	}

	tags := []string{version.String()}

	majorRange := fmt.Sprintf(">=%d.0.0, <%d.0.0", version.Major(), version.Major()+1)
	if shouldTag(version, parsed, majorRange) {
		tags = append(tags, fmt.Sprintf("%d", version.Major()))
	}

	minorRange := fmt.Sprintf(">=%d.%d.0, <%d.%d.0", version.Major(), version.Minor(), version.Major(), version.Minor()+1)
	if shouldTag(version, parsed, minorRange) {
		tags = append(tags, fmt.Sprintf("%d.%d", version.Major(), version.Minor()))
	}

	if shouldTag(version, parsed, "*") {
		tags = append(tags, "latest")
	}

	return tags, nil
}

// shouldTag reports whether v should receive the range's floating tag:
// true when no published version satisfies the range, or when v is
// greater than every published version that does.
func shouldTag(v *semver.Version, published []*semver.Version, rangeExpr string) bool {
	max := maxSatisfying(published, rangeExpr)
	return max == nil || v.GreaterThan(max)
}

func maxSatisfying(versions []*semver.Version, rangeExpr string) *semver.Version {
	constraint, err := semver.NewConstraint(rangeExpr)
	if err != nil {
		return nil
	}
	var highest *semver.Version
	for _, v := range versions {
		if !constraint.Check(v) {
			continue
		}
		if highest == nil || v.GreaterThan(highest) {
			highest = v
		}
	}
	return highest
}

func parseAll(tags []string) []*semver.Version {
	out := make([]*semver.Version, 0, len(tags))
	for _, t := range tags {
		v, err := semver.NewVersion(t)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// SortedDescending returns the semver-parseable tags from published,
// strictly sorted descending, with "latest" dropped (spec §4.9 "Install
// resolution": "Strict-sorted tag list descending by semver; drop latest").
func SortedDescending(published []string) []string {
	parsed := make([]*semver.Version, 0, len(published))
	for _, t := range published {
		if t == "latest" {
			continue
		}
		v, err := semver.NewVersion(t)
		if err != nil {
			continue
		}
		parsed = append(parsed, v)
	}
	sort.Sort(sort.Reverse(semver.Collection(parsed)))
	out := make([]string, len(parsed))
	for i, v := range parsed {
		out[i] = v.Original()
	}
	return out
}

// ResolveInstall implements spec §4.9 "Install resolution" for a
// user-supplied tag against a registry's published tag list:
//   - "latest" -> the top of the strict-sorted descending list.
//   - a concrete tag/range -> the first (highest) version satisfying it.
//   - a digest reference ("sha256:...") -> returned unchanged.
func ResolveInstall(requested string, published []string) (string, error) {
	if strings.HasPrefix(requested, "sha256:") {
		return requested, nil
	}

	sorted := SortedDescending(published)
	if len(sorted) == 0 {
		return "", fmt.Errorf("%w: no published versions", ErrNoMatchingVersion)
	}

	if requested == "latest" {
		return sorted[0], nil
	}

	constraint, err := semver.NewConstraint(requested)
	if err != nil {
		return "", fmt.Errorf("invalid version constraint %q: %w", requested, err)
	}
	for _, tag := range sorted {
		v, err := semver.NewVersion(tag)
		if err != nil {
			continue
		}
		if constraint.Check(v) {
			return tag, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoMatchingVersion, requested)
}
