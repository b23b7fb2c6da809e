// Package resolve fetches FeatureSets for parsed source descriptors: OCI
// manifest+blob, on-disk FilePath, remote Tarball, GitHub Release asset, or
// a bundled Local Feature (spec §4.6 resolve()).
package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/opendevcontainers/feature-engine/internal/codec"
	"github.com/opendevcontainers/feature-engine/internal/model"
	"github.com/opendevcontainers/feature-engine/internal/regauth"
	"github.com/opendevcontainers/feature-engine/internal/registry"
	"github.com/opendevcontainers/feature-engine/internal/transport"
)

// MetadataAnnotationKey is the manifest annotation resolve() checks before
// falling back to fetching the data blob (spec §4.6).
const MetadataAnnotationKey = "dev.containers.metadata"

// FeatureMetadataFilename is the file read out of Tarball/FilePath/OCI
// Feature payloads.
const FeatureMetadataFilename = "devcontainer-feature.json"

// Sentinel errors, mapped to the spec §7 taxonomy by callers.
var (
	ErrUnresolvableSource = errors.New("source cannot be resolved")
	ErrGitHubAssetMissing = errors.New("no matching release asset found")
)

// Resolver resolves SourceDescriptors into FeatureSets.
type Resolver struct {
	registry      *registry.Client
	transport     *transport.Transport
	negotiator    *regauth.Negotiator
	localFeatures string // directory containing bundled Local Features
	githubToken   string
	githubAPIBase string // overridable for tests; defaults to https://api.github.com
	workDir       string // scratch directory for downloads/extraction
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLocalFeaturesDir sets the directory consulted for Local sources.
func WithLocalFeaturesDir(dir string) Option {
	return func(r *Resolver) { r.localFeatures = dir }
}

// WithGitHubToken sets the token used for authenticated GitHub Releases
// API/asset requests.
func WithGitHubToken(token string) Option {
	return func(r *Resolver) { r.githubToken = token }
}

// WithWorkDir sets the scratch directory used for OCI blob extraction.
// Defaults to os.TempDir() subdirectories when unset.
func WithWorkDir(dir string) Option {
	return func(r *Resolver) { r.workDir = dir }
}

// WithGitHubAPIBase overrides the GitHub Releases API base URL, primarily
// for tests.
func WithGitHubAPIBase(base string) Option {
	return func(r *Resolver) { r.githubAPIBase = base }
}

const defaultGitHubAPIBase = "https://api.github.com"

// New creates a Resolver.
func New(reg *registry.Client, tr *transport.Transport, neg *regauth.Negotiator, opts ...Option) *Resolver {
	r := &Resolver{registry: reg, transport: tr, negotiator: neg, githubAPIBase: defaultGitHubAPIBase}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve implements resolve(descriptor) -> FeatureSet (spec §4.6).
func (r *Resolver) Resolve(ctx context.Context, source model.SourceDescriptor, supplied map[string]model.OptionValue) (model.FeatureSet, error) {
	var (
		meta model.FeatureMetadata
		man  *model.OCIManifest
		dig  string
		err  error
	)

	switch source.Kind {
	case model.SourceOCI:
		meta, man, dig, err = r.resolveOCI(ctx, source)
	case model.SourceFilePath:
		meta, err = r.resolveFilePath(source)
	case model.SourceTarball:
		meta, err = r.resolveTarball(ctx, source)
	case model.SourceGitHubRelease:
		meta, err = r.resolveGitHubRelease(ctx, source)
	case model.SourceLocal:
		meta, err = r.resolveLocal(source)
	default:
		return model.FeatureSet{}, fmt.Errorf("%w: unknown source kind", ErrUnresolvableSource)
	}
	if err != nil {
		return model.FeatureSet{}, err
	}

	return model.FeatureSet{
		Source:          source,
		Manifest:        man,
		ManifestDigest:  dig,
		Metadata:        meta,
		SuppliedOptions: supplied,
	}, nil
}

func (r *Resolver) ref(source model.SourceDescriptor) registry.Reference {
	path := source.Name
	if source.Namespace != "" {
		path = source.Namespace + "/" + source.Name
	}
	return registry.Reference{Registry: source.Registry, Path: path}
}

func (r *Resolver) resolveOCI(ctx context.Context, source model.SourceDescriptor) (model.FeatureMetadata, *model.OCIManifest, string, error) {
	ref := r.ref(source)
	manifest, err := r.registry.FetchManifest(ctx, ref, source.Reference)
	if err != nil {
		return model.FeatureMetadata{}, nil, "", err
	}

	modelManifest := &model.OCIManifest{
		SchemaVersion: manifest.SchemaVersion,
		MediaType:     manifest.MediaType,
		Config: model.OCIConfigDescriptor{
			MediaType: manifest.Config.MediaType,
			Digest:    manifest.Config.Digest,
			Size:      manifest.Config.Size,
		},
		Annotations: manifest.Annotations,
	}
	for _, l := range manifest.Layers {
		modelManifest.Layers = append(modelManifest.Layers, model.OCILayer{
			MediaType: l.MediaType,
			Digest:    l.Digest,
			Size:      l.Size,
		})
	}

	if raw, ok := manifest.Annotations[MetadataAnnotationKey]; ok && raw != "" {
		meta, err := ParseMetadata([]byte(raw))
		if err != nil {
			return model.FeatureMetadata{}, nil, "", err
		}
		return meta, modelManifest, manifest.Digest, nil
	}

	if len(manifest.Layers) == 0 {
		return model.FeatureMetadata{}, nil, "", fmt.Errorf("%w: manifest has no data layer", ErrUnresolvableSource)
	}
	dest, err := r.scratchDir("oci-blob")
	if err != nil {
		return model.FeatureMetadata{}, nil, "", err
	}
	defer os.RemoveAll(dest)

	_, metaJSON, err := r.registry.FetchBlobToPath(ctx, ref, manifest.Layers[0].Digest, dest, nil, FeatureMetadataFilename)
	if err != nil {
		return model.FeatureMetadata{}, nil, "", err
	}
	if metaJSON == nil {
		metaJSON, err = os.ReadFile(filepath.Join(dest, FeatureMetadataFilename))
		if err != nil {
			return model.FeatureMetadata{}, nil, "", fmt.Errorf("%w: %v", ErrMetadataParse, err)
		}
	}
	meta, err := ParseMetadata(metaJSON)
	if err != nil {
		return model.FeatureMetadata{}, nil, "", err
	}
	return meta, modelManifest, manifest.Digest, nil
}

func (r *Resolver) resolveFilePath(source model.SourceDescriptor) (model.FeatureMetadata, error) {
	raw, err := os.ReadFile(filepath.Join(source.Path, FeatureMetadataFilename))
	if err != nil {
		return model.FeatureMetadata{}, fmt.Errorf("%w: %v", ErrMetadataParse, err)
	}
	return ParseMetadata(raw)
}

func (r *Resolver) resolveLocal(source model.SourceDescriptor) (model.FeatureMetadata, error) {
	if r.localFeatures == "" {
		return model.FeatureMetadata{}, fmt.Errorf("%w: no local features directory configured", ErrUnresolvableSource)
	}
	raw, err := os.ReadFile(filepath.Join(r.localFeatures, source.Name, FeatureMetadataFilename))
	if err != nil {
		return model.FeatureMetadata{}, fmt.Errorf("%w: %v", ErrMetadataParse, err)
	}
	return ParseMetadata(raw)
}

func (r *Resolver) resolveTarball(ctx context.Context, source model.SourceDescriptor) (model.FeatureMetadata, error) {
	resp, err := r.transport.Request(ctx, http.MethodGet, source.URL, nil, nil)
	if err != nil {
		return model.FeatureMetadata{}, fmt.Errorf("%w: %v", ErrUnresolvableSource, err)
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return model.FeatureMetadata{}, fmt.Errorf("%w: tarball GET returned %d", ErrUnresolvableSource, resp.Status)
	}

	data, found, err := codec.ExtractFile(bytes.NewReader(resp.Body), FeatureMetadataFilename)
	if err != nil {
		return model.FeatureMetadata{}, fmt.Errorf("%w: %v", ErrMetadataParse, err)
	}
	if !found {
		return model.FeatureMetadata{}, fmt.Errorf("%w: %s not found in tarball", ErrMetadataParse, FeatureMetadataFilename)
	}
	return ParseMetadata(data)
}

func (r *Resolver) resolveGitHubRelease(ctx context.Context, source model.SourceDescriptor) (model.FeatureMetadata, error) {
	releasePath := "latest"
	if source.Tag != "latest" {
		releasePath = "tags/" + source.Tag
	}
	apiURL := fmt.Sprintf("%s/repos/%s/%s/releases/%s", r.githubAPIBase, source.Owner, source.Repo, releasePath)

	headers := make(map[string][]string)
	if r.githubToken != "" {
		headers["Authorization"] = []string{"Bearer " + r.githubToken}
	}
	resp, err := r.transport.Request(ctx, http.MethodGet, apiURL, headers, nil)
	if err != nil {
		return model.FeatureMetadata{}, fmt.Errorf("%w: %v", ErrUnresolvableSource, err)
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return model.FeatureMetadata{}, fmt.Errorf("%w: github releases API returned %d", ErrUnresolvableSource, resp.Status)
	}

	var release struct {
		Assets []struct {
			Name               string `json:"name"`
			URL                string `json:"url"`
			BrowserDownloadURL string `json:"browser_download_url"`
		} `json:"assets"`
	}
	if err := json.Unmarshal(resp.Body, &release); err != nil {
		return model.FeatureMetadata{}, fmt.Errorf("%w: %v", ErrUnresolvableSource, err)
	}

	preferred := source.Name + ".tgz"
	fallback := "devcontainer-features.tgz"
	var assetURL string
	var found string
	for _, a := range release.Assets {
		if a.Name == preferred {
			found = preferred
		}
	}
	for _, a := range release.Assets {
		if a.Name == found || (found == "" && a.Name == fallback) {
			if r.githubToken != "" {
				assetURL = a.URL
			} else {
				assetURL = a.BrowserDownloadURL
			}
		}
	}
	if assetURL == "" {
		return model.FeatureMetadata{}, fmt.Errorf("%w: %s", ErrGitHubAssetMissing, source.Name)
	}

	assetHeaders := make(map[string][]string)
	if r.githubToken != "" {
		assetHeaders["Authorization"] = []string{"Bearer " + r.githubToken}
		assetHeaders["Accept"] = []string{"application/octet-stream"}
	}
	assetResp, err := r.transport.Request(ctx, http.MethodGet, assetURL, assetHeaders, nil)
	if err != nil {
		return model.FeatureMetadata{}, fmt.Errorf("%w: %v", ErrUnresolvableSource, err)
	}
	if assetResp.Status < 200 || assetResp.Status >= 300 {
		return model.FeatureMetadata{}, fmt.Errorf("%w: asset GET returned %d", ErrUnresolvableSource, assetResp.Status)
	}

	metadataFile := source.Name + "/" + FeatureMetadataFilename
	data, ok, err := codec.ExtractFile(bytes.NewReader(assetResp.Body), metadataFile)
	if err != nil || !ok {
		data, ok, err = codec.ExtractFile(bytes.NewReader(assetResp.Body), FeatureMetadataFilename)
	}
	if err != nil {
		return model.FeatureMetadata{}, fmt.Errorf("%w: %v", ErrMetadataParse, err)
	}
	if !ok {
		return model.FeatureMetadata{}, fmt.Errorf("%w: %s not found in release asset", ErrMetadataParse, FeatureMetadataFilename)
	}
	return ParseMetadata(data)
}

func (r *Resolver) scratchDir(prefix string) (string, error) {
	base := r.workDir
	if base == "" {
		base = os.TempDir()
	}
	return os.MkdirTemp(base, prefix+"-*")
}
