// Package pack implements the collection packer and publisher (spec
// §4.10): packaging a Feature/template directory into a tgz artifact and
// publishing it to an OCI registry with tag fan-out.
package pack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opendevcontainers/feature-engine/internal/codec"
	"github.com/opendevcontainers/feature-engine/internal/registry"
	"github.com/opendevcontainers/feature-engine/internal/version"
)

// Kind distinguishes a Feature from a template artifact.
type Kind string

const (
	KindFeature  Kind = "feature"
	KindTemplate Kind = "template"
)

// DataLayerMediaType is the fixed media type of a Feature/template data
// layer (spec §6).
const DataLayerMediaType = "application/vnd.devcontainers.layer.v1+tar"

// GitHubPackageTypeAnnotation is the ghcr.io-specific annotation key set
// on published manifests (spec §4.10).
const GitHubPackageTypeAnnotation = "com.github.package.type"

var (
	// ErrMissingManifestFile is returned when pack's required
	// devcontainer-{kind}.json file is absent.
	ErrMissingManifestFile = errors.New("missing devcontainer manifest file")
	// ErrMissingInstallScript is returned when a Feature directory lacks
	// install.sh.
	ErrMissingInstallScript = errors.New("missing install.sh")
	// ErrMissingTemplateConfig is returned when a template directory lacks
	// a devcontainer.json at either accepted location.
	ErrMissingTemplateConfig = errors.New("missing devcontainer.json")
)

// Pack validates sourceDir's required files for kind and tars its
// contents into outputPath, named devcontainer-{kind}-{id}.tgz by
// convention (spec §4.10 "Pack").
func Pack(ctx context.Context, kind Kind, id, sourceDir, outputDir string) (string, error) {
	if err := validatePresence(kind, sourceDir); err != nil {
		return "", err
	}

	outputPath := filepath.Join(outputDir, fmt.Sprintf("devcontainer-%s-%s.tgz", kind, id))
	out, err := os.Create(outputPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if err := codec.Archive(ctx, sourceDir, out); err != nil {
		os.Remove(outputPath)
		return "", err
	}
	return outputPath, nil
}

func validatePresence(kind Kind, sourceDir string) error {
	manifestFile := fmt.Sprintf("devcontainer-%s.json", kind)
	if !fileExists(filepath.Join(sourceDir, manifestFile)) {
		return fmt.Errorf("%w: %s", ErrMissingManifestFile, manifestFile)
	}
	switch kind {
	case KindFeature:
		if !fileExists(filepath.Join(sourceDir, "install.sh")) {
			return ErrMissingInstallScript
		}
	case KindTemplate:
		if !fileExists(filepath.Join(sourceDir, ".devcontainer.json")) &&
			!fileExists(filepath.Join(sourceDir, ".devcontainer", "devcontainer.json")) {
			return ErrMissingTemplateConfig
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Publisher publishes packed artifacts to an OCI registry.
type Publisher struct {
	registry *registry.Client
}

// NewPublisher creates a Publisher.
func NewPublisher(reg *registry.Client) *Publisher {
	return &Publisher{registry: reg}
}

// PublishArtifact publishes a single data blob as kind/id at every tag in
// releaseVersion's fan-out, skipping blob re-upload when the registry
// already has the content (spec §4.10 "Publish").
func (p *Publisher) PublishArtifact(ctx context.Context, ref registry.Reference, kind Kind, id, releaseVersion string, data []byte, publishedTags []string) error {
	tags, err := version.FanOut(releaseVersion, publishedTags)
	if err != nil {
		return err
	}

	configLayer := codec.ConfigLayer()
	dataLayer := codec.DigestLayer(data, DataLayerMediaType, fmt.Sprintf("devcontainer-%s-%s", kind, id))

	if err := p.ensureBlob(ctx, ref, configLayer.Digest, nil); err != nil {
		return err
	}
	if err := p.ensureBlob(ctx, ref, dataLayer.Digest, data); err != nil {
		return err
	}

	annotations := map[string]string{}
	if isGitHubContainerRegistry(ref.Registry) {
		annotations[GitHubPackageTypeAnnotation] = fmt.Sprintf("devcontainer_%s", kind)
	}

	manifestBytes, _, err := codec.BuildManifest(configLayer, dataLayer, annotations)
	if err != nil {
		return err
	}

	for _, tag := range tags {
		if _, err := p.registry.PutManifest(ctx, ref, manifestBytes, tag); err != nil {
			return fmt.Errorf("putting manifest for tag %s: %w", tag, err)
		}
	}
	return nil
}

// PublishCollection publishes a collection manifest, always tagged
// "latest" (spec §4.10).
func (p *Publisher) PublishCollection(ctx context.Context, ref registry.Reference, collectionJSON []byte) error {
	configLayer := codec.ConfigLayer()
	dataLayer := codec.DigestLayer(collectionJSON, DataLayerMediaType, "devcontainer-collection")

	if err := p.ensureBlob(ctx, ref, configLayer.Digest, nil); err != nil {
		return err
	}
	if err := p.ensureBlob(ctx, ref, dataLayer.Digest, collectionJSON); err != nil {
		return err
	}

	annotations := map[string]string{}
	if isGitHubContainerRegistry(ref.Registry) {
		annotations[GitHubPackageTypeAnnotation] = "devcontainer_collection"
	}

	manifestBytes, _, err := codec.BuildManifest(configLayer, dataLayer, annotations)
	if err != nil {
		return err
	}
	if _, err := p.registry.PutManifest(ctx, ref, manifestBytes, "latest"); err != nil {
		return fmt.Errorf("putting collection manifest: %w", err)
	}
	return nil
}

func (p *Publisher) ensureBlob(ctx context.Context, ref registry.Reference, digest string, data []byte) error {
	exists, err := p.registry.BlobExists(ctx, ref, digest)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	location, err := p.registry.BeginUpload(ctx, ref)
	if err != nil {
		return err
	}
	return p.registry.PutBlob(ctx, ref, location, digest, data)
}

func isGitHubContainerRegistry(host string) bool {
	return host == "ghcr.io"
}
