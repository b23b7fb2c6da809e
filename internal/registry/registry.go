// Package registry implements the OCI Distribution Spec client verbs this
// engine needs: manifest GET/PUT, tag listing, blob HEAD/GET/POST-then-PUT
// (spec §4.4).
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	specs "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/opendevcontainers/feature-engine/internal/codec"
	"github.com/opendevcontainers/feature-engine/internal/regauth"
)

// ManifestAccept is the Accept/Content-Type header value for image
// manifests (spec §6).
const ManifestAccept = specs.MediaTypeImageManifest

// DevcontainerConfigMediaType is the required config.mediaType for a valid
// Feature/collection manifest (spec §4.4).
const DevcontainerConfigMediaType = "application/vnd.devcontainers"

// Sentinel errors, mapped to the spec §7 taxonomy by callers.
var (
	ErrRegistryUnreachable   = errors.New("registry unreachable")
	ErrManifestNotFound      = errors.New("manifest not found")
	ErrManifestMediaMismatch = errors.New("manifest config media type mismatch")
	ErrBlobFetchFailed       = errors.New("blob fetch failed")
	ErrBlobPutFailed         = errors.New("blob upload failed")
	ErrRegistryError         = errors.New("registry returned an error response")
)

// Reference identifies a repository on a registry: host plus the
// "namespace/name" path (spec's "resource" without tag/digest).
type Reference struct {
	Registry string
	Path     string
}

// Descriptor mirrors an OCI content descriptor as read off the wire.
type Descriptor struct {
	MediaType string
	Digest    string
	Size      int64
}

// Manifest is the parsed form of a fetched OCI image manifest, plus the
// raw bytes and the digest the registry (or we) computed for it.
type Manifest struct {
	SchemaVersion int
	MediaType     string
	Config        Descriptor
	Layers        []Descriptor
	Annotations   map[string]string
	Raw           []byte
	Digest        string
}

// Client talks to an OCI Distribution registry, routing every request
// through a regauth.Negotiator for authentication.
type Client struct {
	negotiator *regauth.Negotiator
	logger     zerolog.Logger
	scheme     string
}

// Option configures a Client.
type Option func(*Client)

// WithInsecureHTTP makes the Client speak plain HTTP instead of HTTPS,
// for localhost registries and test fixtures.
func WithInsecureHTTP() Option {
	return func(c *Client) { c.scheme = "http" }
}

// New creates a registry Client.
func New(negotiator *regauth.Negotiator, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{negotiator: negotiator, logger: logger, scheme: "https"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// registryHost applies the docker.io → registry.docker.io substitution
// (spec §4.4).
func registryHost(host string) string {
	if host == "docker.io" {
		return "registry.docker.io"
	}
	return host
}

// reachable rejects hosts with no dot that aren't localhost (spec §4.4).
func reachable(host string) bool {
	bare := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		bare = h
	}
	if strings.HasPrefix(bare, "localhost") {
		return true
	}
	return strings.Contains(bare, ".")
}

// parseManifest decodes an OCI image manifest's wire JSON.
func parseManifest(raw []byte) (*Manifest, error) {
	var wire struct {
		SchemaVersion int    `json:"schemaVersion"`
		MediaType     string `json:"mediaType"`
		Config        struct {
			MediaType string `json:"mediaType"`
			Digest    string `json:"digest"`
			Size      int64  `json:"size"`
		} `json:"config"`
		Layers []struct {
			MediaType string `json:"mediaType"`
			Digest    string `json:"digest"`
			Size      int64  `json:"size"`
		} `json:"layers"`
		Annotations map[string]string `json:"annotations"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}

	m := &Manifest{
		SchemaVersion: wire.SchemaVersion,
		MediaType:     wire.MediaType,
		Config: Descriptor{
			MediaType: wire.Config.MediaType,
			Digest:    wire.Config.Digest,
			Size:      wire.Config.Size,
		},
		Annotations: wire.Annotations,
		Raw:         raw,
	}
	for _, l := range wire.Layers {
		m.Layers = append(m.Layers, Descriptor{MediaType: l.MediaType, Digest: l.Digest, Size: l.Size})
	}
	return m, nil
}

// FetchManifest GETs the manifest for reference (a tag or digest) and
// validates config.mediaType equals the devcontainer config media type.
func (c *Client) FetchManifest(ctx context.Context, ref Reference, reference string) (*Manifest, error) {
	if !reachable(ref.Registry) {
		return nil, ErrRegistryUnreachable
	}

	endpoint := fmt.Sprintf("%s://%s/v2/%s/manifests/%s", c.scheme, registryHost(ref.Registry), ref.Path, reference)
	headers := http.Header{"Accept": []string{ManifestAccept}}

	resp, err := c.negotiator.AuthenticatedRequest(ctx, ref.Registry, http.MethodGet, endpoint, headers, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnreachable, err)
	}
	if resp.Status == http.StatusNotFound {
		return nil, ErrManifestNotFound
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, fmt.Errorf("%w: manifest GET returned %d", ErrRegistryError, resp.Status)
	}

	m, err := parseManifest(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryError, err)
	}
	if m.Config.MediaType != DevcontainerConfigMediaType {
		return nil, ErrManifestMediaMismatch
	}

	if digest := resp.Header.Get("Docker-Content-Digest"); digest != "" {
		m.Digest = digest
	} else {
		m.Digest = codec.Sum(resp.Body)
	}
	return m, nil
}

// ListTags GETs the tag list for ref. A 404 (no repository yet) is
// converted to an empty list rather than an error (spec §4.4/§7).
func (c *Client) ListTags(ctx context.Context, ref Reference) ([]string, error) {
	endpoint := fmt.Sprintf("%s://%s/v2/%s/tags/list", c.scheme, registryHost(ref.Registry), ref.Path)
	resp, err := c.negotiator.AuthenticatedRequest(ctx, ref.Registry, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnreachable, err)
	}
	if resp.Status == http.StatusNotFound {
		return nil, nil
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, fmt.Errorf("%w: tag list returned %d", ErrRegistryError, resp.Status)
	}

	var payload struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryError, err)
	}
	return payload.Tags, nil
}

// BlobExists HEADs the blob digest, returning true iff the registry
// responds 200.
func (c *Client) BlobExists(ctx context.Context, ref Reference, digest string) (bool, error) {
	endpoint := fmt.Sprintf("%s://%s/v2/%s/blobs/%s", c.scheme, registryHost(ref.Registry), ref.Path, digest)
	resp, err := c.negotiator.AuthenticatedRequest(ctx, ref.Registry, http.MethodHead, endpoint, nil, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRegistryUnreachable, err)
	}
	return resp.Status == http.StatusOK, nil
}

// FetchBlobToPath GETs the blob digest, writes it to a temporary file, and
// extracts it as a tar.gz into destDir, skipping any entry whose name
// contains one of ignorePatterns. If metadataFilename is non-empty, a
// second pass recovers that single file's bytes. extractOpts optionally
// overrides the default extraction security limits (file count/size caps).
func (c *Client) FetchBlobToPath(
	ctx context.Context,
	ref Reference,
	digest, destDir string,
	ignorePatterns []string,
	metadataFilename string,
	extractOpts ...codec.ExtractOptions,
) (extractedFiles []string, metadataJSON []byte, err error) {
	endpoint := fmt.Sprintf("%s://%s/v2/%s/blobs/%s", c.scheme, registryHost(ref.Registry), ref.Path, digest)
	resp, err := c.negotiator.AuthenticatedRequest(ctx, ref.Registry, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBlobFetchFailed, err)
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, nil, fmt.Errorf("%w: blob GET returned %d", ErrBlobFetchFailed, resp.Status)
	}

	tmp, err := os.CreateTemp("", "feature-blob-*.tar.gz")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBlobFetchFailed, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(resp.Body); err != nil {
		tmp.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrBlobFetchFailed, err)
	}
	tmp.Close()

	opts := codec.DefaultExtractOptions
	if len(extractOpts) > 0 {
		opts = extractOpts[0]
	}
	opts.IgnorePatterns = ignorePatterns

	extractReader, err := os.Open(tmpPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBlobFetchFailed, err)
	}
	defer extractReader.Close()
	extractedFiles, err = codec.Extract(ctx, extractReader, destDir, opts)
	if err != nil {
		return nil, nil, err
	}

	if metadataFilename != "" {
		metaReader, err := os.Open(tmpPath)
		if err != nil {
			return extractedFiles, nil, fmt.Errorf("%w: %v", ErrBlobFetchFailed, err)
		}
		defer metaReader.Close()
		data, found, err := codec.ExtractFile(metaReader, "./"+metadataFilename)
		if err != nil {
			return extractedFiles, nil, err
		}
		if found {
			metadataJSON = data
		}
	}
	return extractedFiles, metadataJSON, nil
}

// BeginUpload POSTs a new blob-upload session and returns its Location.
func (c *Client) BeginUpload(ctx context.Context, ref Reference) (string, error) {
	endpoint := fmt.Sprintf("%s://%s/v2/%s/blobs/uploads/", c.scheme, registryHost(ref.Registry), ref.Path)
	resp, err := c.negotiator.AuthenticatedRequest(ctx, ref.Registry, http.MethodPost, endpoint, nil, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBlobPutFailed, err)
	}
	if resp.Status != http.StatusAccepted {
		return "", fmt.Errorf("%w: begin upload returned %d", ErrBlobPutFailed, resp.Status)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("%w: begin upload response missing Location", ErrBlobPutFailed)
	}
	return location, nil
}

// PutBlob PUTs bytes to locationURI?digest=<digest>, merging query strings
// when locationURI already has one.
func (c *Client) PutBlob(ctx context.Context, ref Reference, locationURI, digest string, data []byte) error {
	target, err := mergeDigestQuery(locationURI, digest)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlobPutFailed, err)
	}
	headers := http.Header{
		"Content-Type":   []string{"application/octet-stream"},
		"Content-Length": []string{strconv.Itoa(len(data))},
	}
	resp, err := c.negotiator.AuthenticatedRequest(ctx, ref.Registry, http.MethodPut, target, headers, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlobPutFailed, err)
	}
	if resp.Status != http.StatusCreated {
		return fmt.Errorf("%w: blob PUT returned %d", ErrBlobPutFailed, resp.Status)
	}
	return nil
}

// PutManifest PUTs manifestBytes to /v2/{path}/manifests/{tag}, retrying
// once after a 2-second sleep on HTTP 429 (spec §4.4, §4.11).
func (c *Client) PutManifest(ctx context.Context, ref Reference, manifestBytes []byte, tag string) (string, error) {
	endpoint := fmt.Sprintf("%s://%s/v2/%s/manifests/%s", c.scheme, registryHost(ref.Registry), ref.Path, tag)
	headers := http.Header{"Content-Type": []string{ManifestAccept}}

	resp, err := c.negotiator.AuthenticatedRequest(ctx, ref.Registry, http.MethodPut, endpoint, headers, manifestBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRegistryError, err)
	}
	if resp.Status == http.StatusTooManyRequests {
		time.Sleep(2 * time.Second)
		resp, err = c.negotiator.AuthenticatedRequest(ctx, ref.Registry, http.MethodPut, endpoint, headers, manifestBytes)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrRegistryError, err)
		}
	}
	if resp.Status != http.StatusCreated {
		return "", fmt.Errorf("%w: manifest PUT returned %d", ErrRegistryError, resp.Status)
	}

	if digest := resp.Header.Get("Docker-Content-Digest"); digest != "" {
		return digest, nil
	}
	return codec.Sum(manifestBytes), nil
}

func mergeDigestQuery(locationURI, digest string) (string, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("digest", digest)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// JoinRepoPath joins namespace segments and name into a "/"-separated
// repository path as used in registry URLs.
func JoinRepoPath(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return filepath.ToSlash(filepath.Join(namespace, name))
}
