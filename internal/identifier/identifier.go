// Package identifier parses raw devcontainer Feature identifiers into
// tagged model.SourceDescriptors (spec §3, §4.6).
package identifier

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/opendevcontainers/feature-engine/internal/model"
)

// Sentinel errors, mapped to featureengine.KindIdentifierInvalid by callers.
var (
	ErrInvalidPath      = errors.New("invalid feature path segment")
	ErrInvalidReference = errors.New("invalid tag or digest reference")
	ErrInvalidInnerName = errors.New("invalid inner feature name")
	ErrInvalidGitHubRef = errors.New("invalid github release reference")
	ErrEmptyIdentifier  = errors.New("empty feature identifier")
)

var (
	pathSegmentRe = regexp.MustCompile(`^[a-z0-9]+([._-][a-z0-9]+)*(/[a-z0-9]+([._-][a-z0-9]+)*)*$`)
	referenceRe   = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]{0,127}$`)
	innerNameRe   = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)
)

// Parse implements parseIdentifier (spec §4.6): lowercase, then dispatch on
// shape.
func Parse(raw string) (model.SourceDescriptor, error) {
	if raw == "" {
		return model.SourceDescriptor{}, ErrEmptyIdentifier
	}
	lower := strings.ToLower(raw)

	if !strings.ContainsAny(lower, `/\`) {
		return model.SourceDescriptor{Kind: model.SourceLocal, Name: lower}, nil
	}

	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return parseTarball(lower)
	}

	if strings.HasPrefix(lower, "./") || strings.HasPrefix(lower, "../") || strings.HasPrefix(lower, "/") {
		return parseFilePath(lower)
	}

	if d, ok, err := tryParseOCI(lower); ok {
		return d, err
	}

	return parseGitHubRelease(lower)
}

func parseTarball(lower string) (model.SourceDescriptor, error) {
	url := strings.TrimSuffix(lower, "/")
	innerName := ""
	if idx := strings.LastIndex(url, "#"); idx >= 0 {
		innerName = url[idx+1:]
		url = url[:idx]
	}
	if innerName != "" && !innerNameRe.MatchString(innerName) {
		return model.SourceDescriptor{}, fmt.Errorf("%w: %q", ErrInvalidInnerName, innerName)
	}
	return model.SourceDescriptor{Kind: model.SourceTarball, URL: url, InnerName: innerName}, nil
}

func parseFilePath(lower string) (model.SourceDescriptor, error) {
	isRelative := strings.HasPrefix(lower, "./") || strings.HasPrefix(lower, "../")
	name := lower
	if idx := strings.LastIndex(strings.TrimSuffix(lower, "/"), "/"); idx >= 0 {
		name = strings.TrimSuffix(lower, "/")[idx+1:]
	}
	return model.SourceDescriptor{Kind: model.SourceFilePath, Path: lower, IsRelative: isRelative, Name: name}, nil
}

// tryParseOCI attempts the registry-reference shape. ok is false when the
// string lacks the required slash structure for an OCI reference, signaling
// the caller should fall through to GitHubRelease.
func tryParseOCI(lower string) (model.SourceDescriptor, bool, error) {
	firstSlash := strings.Index(lower, "/")
	if firstSlash < 0 {
		return model.SourceDescriptor{}, false, nil
	}
	// "@" marks a GitHubRelease version suffix, except for our "@sha256:"
	// digest-pin extension; anything else carrying "@" is not OCI shape.
	if strings.Contains(lower, "@") && !strings.Contains(lower, "@sha256:") {
		return model.SourceDescriptor{}, false, nil
	}

	reference := "latest"
	body := lower
	isDigestForm := false
	if at := strings.LastIndex(lower, "@sha256:"); at > firstSlash {
		reference = lower[at+1:]
		body = lower[:at]
		isDigestForm = true
	} else if colon := strings.LastIndex(lower, ":"); colon > firstSlash {
		reference = lower[colon+1:]
		body = lower[:colon]
	}

	segments := strings.Split(body, "/")
	if len(segments) < 2 {
		return model.SourceDescriptor{}, false, nil
	}
	registry := segments[0]
	name := segments[len(segments)-1]
	namespace := strings.Join(segments[1:len(segments)-1], "/")

	path := name
	if namespace != "" {
		path = namespace + "/" + name
	}
	if !pathSegmentRe.MatchString(path) {
		return model.SourceDescriptor{}, true, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	isDigest := isDigestForm || strings.HasPrefix(reference, "sha256:")
	refToValidate := reference
	if isDigest {
		refToValidate = strings.TrimPrefix(reference, "sha256:")
	}
	if !referenceRe.MatchString(refToValidate) && !isDigest {
		return model.SourceDescriptor{}, true, fmt.Errorf("%w: %q", ErrInvalidReference, reference)
	}

	resource := registry + "/" + path
	return model.SourceDescriptor{
		Kind:             model.SourceOCI,
		Registry:         registry,
		Namespace:        namespace,
		Reference:        reference,
		ResourceIsDigest: isDigest,
		Resource:         resource,
		Name:             name,
	}, true, nil
}

func parseGitHubRelease(lower string) (model.SourceDescriptor, error) {
	body := lower
	tag := "latest"
	if idx := strings.LastIndex(lower, "@"); idx >= 0 {
		body = lower[:idx]
		tag = lower[idx+1:]
	}
	segments := strings.Split(body, "/")
	if len(segments) != 3 {
		return model.SourceDescriptor{}, fmt.Errorf("%w: %q", ErrInvalidGitHubRef, lower)
	}
	return model.SourceDescriptor{
		Kind:  model.SourceGitHubRelease,
		Owner: segments[0],
		Repo:  segments[1],
		Name:  segments[2],
		Tag:   tag,
	}, nil
}

// Render reconstructs the lowercase canonical string form of a Descriptor,
// used by the round-trip testable property render(parse(I)) ==
// lowercase(I) (spec §8 property 1).
func Render(d model.SourceDescriptor) string {
	switch d.Kind {
	case model.SourceLocal:
		return d.Name
	case model.SourceTarball:
		if d.InnerName != "" {
			return d.URL + "#" + d.InnerName
		}
		return d.URL
	case model.SourceFilePath:
		return d.Path
	case model.SourceOCI:
		switch {
		case d.ResourceIsDigest:
			return d.Resource + "@" + d.Reference
		case d.Reference == "latest":
			return d.Resource
		default:
			return d.Resource + ":" + d.Reference
		}
	case model.SourceGitHubRelease:
		base := d.Owner + "/" + d.Repo + "/" + d.Name
		if d.Tag == "latest" {
			return base
		}
		return base + "@" + d.Tag
	default:
		return ""
	}
}
