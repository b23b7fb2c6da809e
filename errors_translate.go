package featureengine

import (
	"errors"
	"strings"

	"github.com/opendevcontainers/feature-engine/internal/identifier"
	"github.com/opendevcontainers/feature-engine/internal/lockfile"
	"github.com/opendevcontainers/feature-engine/internal/regauth"
	"github.com/opendevcontainers/feature-engine/internal/registry"
	"github.com/opendevcontainers/feature-engine/internal/resolve"
	"github.com/opendevcontainers/feature-engine/internal/schedule"
)

// translateIdentifierError maps internal/identifier's parse sentinels into
// a FeatureError with KindIdentifierInvalid (spec §7).
func translateIdentifierError(op, ident string, err error) error {
	return NewFeatureError(op, ident, KindIdentifierInvalid, err)
}

// translateResolveError maps every sentinel reachable from resolution,
// auth negotiation, and registry access into the spec §7 taxonomy. It also
// handles the "dependsOn %q: %w" / "installsAfter %q: %w" wrapping
// internal/graph.Build adds, which carries an unresolved dependency's
// identifier as the message prefix rather than as structured data.
func translateResolveError(op, ident string, err error) error {
	switch {
	case errors.Is(err, identifier.ErrEmptyIdentifier),
		errors.Is(err, identifier.ErrInvalidPath),
		errors.Is(err, identifier.ErrInvalidReference),
		errors.Is(err, identifier.ErrInvalidInnerName),
		errors.Is(err, identifier.ErrInvalidGitHubRef):
		return NewFeatureError(op, ident, KindIdentifierInvalid, err)

	case errors.Is(err, regauth.ErrMissingChallenge):
		return NewFeatureError(op, ident, KindAuthMissingChallenge, err)
	case errors.Is(err, regauth.ErrUnsupportedScheme):
		return NewFeatureError(op, ident, KindAuthUnsupported, err)
	case errors.Is(err, regauth.ErrTokenFetchFailed):
		return NewFeatureError(op, ident, KindAuthFetchFailed, err)

	case errors.Is(err, registry.ErrManifestNotFound):
		return NewFeatureError(op, ident, KindManifestNotFound, err)
	case errors.Is(err, registry.ErrManifestMediaMismatch):
		return NewFeatureError(op, ident, KindManifestMediaMismatch, err)
	case errors.Is(err, registry.ErrBlobFetchFailed):
		return NewFeatureError(op, ident, KindBlobFetchFailed, err)
	case errors.Is(err, registry.ErrBlobPutFailed):
		return NewFeatureError(op, ident, KindBlobPutFailed, err)
	case errors.Is(err, registry.ErrRegistryUnreachable):
		return NewFeatureError(op, ident, KindRegistryUnreachable, err)
	case errors.Is(err, registry.ErrRegistryError):
		return NewFeatureError(op, ident, KindRegistryError, err)

	case errors.Is(err, resolve.ErrMetadataParse):
		return NewFeatureError(op, ident, KindMetadataParseError, err)

	case errors.Is(err, resolve.ErrGitHubAssetMissing),
		errors.Is(err, resolve.ErrUnresolvableSource):
		if isDependencyWrapped(err) {
			return NewFeatureError(op, ident, KindDependencyUnresolved, err)
		}
		return NewFeatureError(op, ident, KindMetadataParseError, err)

	default:
		if isDependencyWrapped(err) {
			return NewFeatureError(op, ident, KindDependencyUnresolved, err)
		}
		return NewFeatureError(op, ident, KindRegistryError, err)
	}
}

// isDependencyWrapped reports whether err's message carries
// internal/graph.Build's "dependsOn %q: ..." / "installsAfter %q: ..."
// prefix, the only signal available that a resolve failure happened while
// expanding a dependency edge rather than resolving a user-supplied root.
func isDependencyWrapped(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "dependsOn ") || strings.HasPrefix(msg, "installsAfter ")
}

// translateScheduleError maps internal/schedule's cycle/unresolved-worklist
// failure into CyclicDependencyError (spec §7 CyclicDependency(nodes)).
func translateScheduleError(err error) error {
	var cycleErr *schedule.CycleError
	if errors.As(err, &cycleErr) {
		return &CyclicDependencyError{Remaining: cycleErr.Remaining}
	}
	return NewFeatureError("schedule", "", KindDependencyUnresolved, err)
}

// translateLockfileError maps internal/lockfile's frozen-mode sentinels
// into the spec §7 LockfileMissing/LockfileMismatch kinds.
func translateLockfileError(path string, err error) error {
	switch {
	case errors.Is(err, lockfile.ErrLockfileMissing):
		return NewFeatureError("writeLockfile", path, KindLockfileMissing, err)
	case errors.Is(err, lockfile.ErrLockfileMismatch):
		return NewFeatureError("writeLockfile", path, KindLockfileMismatch, err)
	default:
		return NewFeatureError("writeLockfile", path, KindLockfileMismatch, err)
	}
}
