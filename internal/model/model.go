// Package model holds the shared data model used across the identifier,
// graph, scheduling, and version-resolution subsystems, independent of the
// root package so internal packages can depend on it without an import
// cycle back through featureengine.
package model

// OptionValue is a dynamic option bag value: a boolean, a string, or a
// nested map of further option values. Features declare options of kind
// "boolean" or "string"; user-supplied option bags may nest maps, so the
// comparator below treats all three as one sum type.
type OptionValue struct {
	Bool   *bool
	String *string
	Map    map[string]OptionValue
}

// BoolValue constructs a boolean OptionValue.
func BoolValue(b bool) OptionValue { return OptionValue{Bool: &b} }

// StringValue constructs a string OptionValue.
func StringValue(s string) OptionValue { return OptionValue{String: &s} }

// MapValue constructs a nested-map OptionValue.
func MapValue(m map[string]OptionValue) OptionValue { return OptionValue{Map: m} }

// Compare orders two OptionValues. It compares length first (nil < bool/string
// < map by key count), then keys, then values, matching the reference
// comparator in spec design notes: "compares lengths first, then keys, then
// values".
func (v OptionValue) Compare(other OptionValue) int {
	vr, or := v.rank(), other.rank()
	if vr != or {
		return cmpInt(vr, or)
	}
	switch {
	case v.Bool != nil:
		return cmpBool(*v.Bool, *other.Bool)
	case v.String != nil:
		if *v.String < *other.String {
			return -1
		} else if *v.String > *other.String {
			return 1
		}
		return 0
	case v.Map != nil:
		return compareMaps(v.Map, other.Map)
	default:
		return 0
	}
}

func (v OptionValue) rank() int {
	switch {
	case v.Bool != nil:
		return 1
	case v.String != nil:
		return 2
	case v.Map != nil:
		return 3
	default:
		return 0
	}
}

func compareMaps(a, b map[string]OptionValue) int {
	if len(a) != len(b) {
		return cmpInt(len(a), len(b))
	}
	keys := sortedKeys(a)
	bKeys := sortedKeys(b)
	for i := range keys {
		if keys[i] != bKeys[i] {
			if keys[i] < bKeys[i] {
				return -1
			}
			return 1
		}
	}
	for _, k := range keys {
		if c := a[k].Compare(b[k]); c != 0 {
			return c
		}
	}
	return 0
}

func sortedKeys(m map[string]OptionValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion sort: option bags are small, and we avoid importing "sort"
	// into this otherwise dependency-free file.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a && b {
		return -1
	}
	return 1
}

// Equal reports whether two OptionValues are deep-equal (Compare == 0).
func (v OptionValue) Equal(other OptionValue) bool { return v.Compare(other) == 0 }

// SourceKind tags the variant held by a SourceDescriptor.
type SourceKind int

const (
	// SourceLocal is a bare name referring to a bundled Feature.
	SourceLocal SourceKind = iota
	// SourceTarball is an http(s) URL with an optional "#name" suffix.
	SourceTarball
	// SourceFilePath is an on-disk Feature directory.
	SourceFilePath
	// SourceOCI is a registry reference host/ns.../name:tagOrDigest.
	SourceOCI
	// SourceGitHubRelease is a legacy GitHub-Releases source.
	SourceGitHubRelease
)

func (k SourceKind) String() string {
	switch k {
	case SourceLocal:
		return "local"
	case SourceTarball:
		return "tarball"
	case SourceFilePath:
		return "file-path"
	case SourceOCI:
		return "oci"
	case SourceGitHubRelease:
		return "github-release"
	default:
		return "unknown"
	}
}

// DependencyCapable reports whether a source kind participates in the
// dependency graph builder (spec §4.7: "OCI, FilePath, Tarball").
func (k SourceKind) DependencyCapable() bool {
	return k == SourceOCI || k == SourceFilePath || k == SourceTarball
}

// SourceDescriptor is the parsed, tagged-variant form of a user-supplied
// FeatureIdentifier string (spec §3).
type SourceDescriptor struct {
	Kind SourceKind

	// Local
	Name string

	// Tarball
	URL       string
	InnerName string

	// FilePath
	Path       string
	IsRelative bool

	// OCI
	Registry  string
	Namespace string
	// Reference holds the tag or digest (without the leading "@" for
	// digests); ResourceIsDigest distinguishes the two.
	Reference        string
	ResourceIsDigest bool
	Resource         string // registry/namespace/name, no tag/digest

	// GitHubRelease
	Owner string
	Repo  string
	Tag   string // "latest" by default
}

// OptionSpec describes a single declared Feature option.
type OptionSpec struct {
	Kind        string // "boolean" | "string"
	Default     OptionValue
	Enum        []string
	Description string
}

// FeatureMetadata is the parsed devcontainer-feature.json content (spec §3).
type FeatureMetadata struct {
	ID             string
	Version        string
	ContainerEnv   map[string]string
	Mounts         []string
	Init           bool
	Privileged     bool
	CapAdd         []string
	SecurityOpt    []string
	Entrypoint     string
	InstallsAfter  []string
	DependsOn      map[string]map[string]OptionValue
	LegacyIDs      []string
	CurrentID      string
	Options        map[string]OptionSpec
	LifecycleHooks map[string]any
}

// OCILayer is a single OCI manifest layer descriptor.
type OCILayer struct {
	MediaType   string
	Digest      string
	Size        int64
	Annotations map[string]string
}

// OCIConfigDescriptor is the manifest's config descriptor.
type OCIConfigDescriptor struct {
	MediaType string
	Digest    string
	Size      int64
}

// OCIManifest is the parsed form of an OCI image manifest (spec §3).
type OCIManifest struct {
	SchemaVersion int
	MediaType     string
	Config        OCIConfigDescriptor
	Layers        []OCILayer
	Annotations   map[string]string
}

// FeatureSet is a fully resolved Feature: its source, manifest (if OCI),
// metadata, and the options the user supplied for it.
type FeatureSet struct {
	Source          SourceDescriptor
	Manifest        *OCIManifest
	ManifestDigest  string
	Metadata        FeatureMetadata
	SuppliedOptions map[string]OptionValue
}
