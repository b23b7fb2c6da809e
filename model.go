// Package featureengine packages, publishes, fetches, resolves, and installs
// composable, versioned extensions ("Features") for development-container
// configurations. This file re-exports the shared data model from
// internal/model so callers of this package see a single flat API surface,
// while internal/identifier, internal/graph, internal/schedule, and
// internal/version depend on internal/model directly (avoiding an import
// cycle back through this root package).
package featureengine

import "github.com/opendevcontainers/feature-engine/internal/model"

type (
	OptionValue         = model.OptionValue
	SourceKind          = model.SourceKind
	SourceDescriptor    = model.SourceDescriptor
	OptionSpec          = model.OptionSpec
	FeatureMetadata     = model.FeatureMetadata
	OCILayer            = model.OCILayer
	OCIConfigDescriptor = model.OCIConfigDescriptor
	OCIManifest         = model.OCIManifest
	FeatureSet          = model.FeatureSet
)

const (
	SourceLocal         = model.SourceLocal
	SourceTarball       = model.SourceTarball
	SourceFilePath      = model.SourceFilePath
	SourceOCI           = model.SourceOCI
	SourceGitHubRelease = model.SourceGitHubRelease
)

var (
	BoolValue   = model.BoolValue
	StringValue = model.StringValue
	MapValue    = model.MapValue
)
