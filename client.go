// Package featureengine packages, publishes, fetches, resolves, and
// installs composable, versioned extensions ("Features") for
// development-container configurations. This file contains the public
// Client facade: Install drives identifier parsing through scheduling and
// lockfile persistence (C6-C9); Publish drives packing through tag
// fan-out publication (C10, C5, C4, C9).
package featureengine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opendevcontainers/feature-engine/internal/graph"
	"github.com/opendevcontainers/feature-engine/internal/identifier"
	"github.com/opendevcontainers/feature-engine/internal/lockfile"
	"github.com/opendevcontainers/feature-engine/internal/model"
	"github.com/opendevcontainers/feature-engine/internal/pack"
	"github.com/opendevcontainers/feature-engine/internal/regauth"
	"github.com/opendevcontainers/feature-engine/internal/registry"
	"github.com/opendevcontainers/feature-engine/internal/resolve"
	"github.com/opendevcontainers/feature-engine/internal/schedule"
	"github.com/opendevcontainers/feature-engine/internal/transport"
	"github.com/opendevcontainers/feature-engine/internal/version"
)

// Client orchestrates the transport, auth, registry, resolution, graph,
// scheduling, version, lockfile, and pack subsystems behind a single
// facade. Safe for concurrent use: Install/Publish calls are serialized by
// mu, matching the teacher's mutex-guarded Client.
type Client struct {
	mu sync.Mutex

	cfg        *clientConfig
	registry   *registry.Client
	resolver   *resolve.Resolver
	publisher  *pack.Publisher
	negotiator *regauth.Negotiator
}

// New creates a Client. Without options it uses the default Docker
// credential chain, a 30s per-request timeout, and HTTPS-only registries.
func New(opts ...ClientOption) *Client {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	tr := transport.New(cfg.transportTimeout, transport.WithLogger(cfg.logger))
	creds := newCredentialsSource(cfg)
	negotiator := regauth.New(tr, creds, cfg.logger)

	var regOpts []registry.Option
	if cfg.allowHTTP {
		regOpts = append(regOpts, registry.WithInsecureHTTP())
	}
	reg := registry.New(negotiator, cfg.logger, regOpts...)

	resolverOpts := []resolve.Option{}
	if cfg.localFeaturesDir != "" {
		resolverOpts = append(resolverOpts, resolve.WithLocalFeaturesDir(cfg.localFeaturesDir))
	}
	if cfg.githubToken != "" {
		resolverOpts = append(resolverOpts, resolve.WithGitHubToken(cfg.githubToken))
	}
	if cfg.githubAPIBase != "" {
		resolverOpts = append(resolverOpts, resolve.WithGitHubAPIBase(cfg.githubAPIBase))
	}
	if cfg.workDir != "" {
		resolverOpts = append(resolverOpts, resolve.WithWorkDir(cfg.workDir))
	}
	resolver := resolve.New(reg, tr, negotiator, resolverOpts...)

	return &Client{
		cfg:        cfg,
		registry:   reg,
		resolver:   resolver,
		publisher:  pack.NewPublisher(reg),
		negotiator: negotiator,
	}
}

// retryOperation retries operation with exponential backoff, used for
// operations this module chooses to retry beyond C4's own single
// 429-on-PUT-manifest retry (spec §4.11).
func retryOperation(ctx context.Context, maxRetries int, delay time.Duration, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry operation: %w", ctx.Err())
		default:
		}

		if attempt > 0 {
			time.Sleep(delay * time.Duration(1<<(attempt-1)))
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}
	return lastErr
}

// isRetryableError reports whether err looks like a transient network
// failure worth retrying.
func isRetryableError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "internal server error")
}

// FeatureRequest is one user-supplied (identifier, options) pair fed to
// Install.
type FeatureRequest struct {
	Identifier string
	Options    map[string]OptionValue
}

// Install resolves requests into a dependency graph, schedules a
// deterministic install order, and optionally persists a lockfile (spec
// §4.6-§4.9). The root set is resolved concurrently (spec §5) before the
// graph builder walks the worklist sequentially.
func (c *Client) Install(ctx context.Context, requests []FeatureRequest, opts ...InstallOption) ([]FeatureSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := defaultInstallConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	warm := newResolveWarmCache()
	g, gctx := errgroup.WithContext(ctx)
	for _, req := range requests {
		req := req
		g.Go(func() error {
			source, err := identifier.Parse(req.Identifier)
			if err != nil {
				return translateIdentifierError("parseIdentifier", req.Identifier, err)
			}
			fs, err := c.resolver.Resolve(gctx, source, req.Options)
			if err != nil {
				return translateResolveError("resolve", req.Identifier, err)
			}
			warm.store(identifier.Render(source), req.Options, fs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	inputs := make([]graph.Input, len(requests))
	for i, req := range requests {
		inputs[i] = graph.Input{Identifier: req.Identifier, Options: req.Options}
	}

	builder := graph.New(c.warmResolver(warm), identifier.Parse)
	result, err := builder.Build(ctx, inputs, c.cfg.overrideInstallOrder)
	if err != nil {
		return nil, translateResolveError("buildGraph", "", err)
	}

	plan, err := schedule.Schedule(result, c.cfg.overrideInstallOrder)
	if err != nil {
		return nil, translateScheduleError(err)
	}

	if cfg.lockfilePath != "" {
		computed := buildLockfile(plan)
		if err := lockfile.Write(cfg.lockfilePath, computed, cfg.frozen); err != nil {
			return nil, translateLockfileError(cfg.lockfilePath, err)
		}
	}

	for _, fs := range plan {
		if fs.Source.Kind != model.SourceOCI || fs.Manifest == nil || len(fs.Manifest.Layers) == 0 {
			continue
		}
		ref := resolveReference(fs.Source)
		destDir := filepath.Join(c.workDirOr(os.TempDir()), "features", fs.Source.Name)
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return nil, NewFeatureError("extract", fs.Source.Resource, KindTarExtractError, err)
		}
		dataDigest := fs.Manifest.Layers[0].Digest
		if _, _, err := c.registry.FetchBlobToPath(ctx, ref, dataDigest, destDir, nil, "", cfg.extract); err != nil {
			return nil, translateResolveError("extract", fs.Source.Resource, err)
		}
	}

	return plan, nil
}

// workDirOr returns the configured work directory, or fallback if unset.
func (c *Client) workDirOr(fallback string) string {
	if c.cfg.workDir != "" {
		return c.cfg.workDir
	}
	return fallback
}

func resolveReference(source model.SourceDescriptor) registry.Reference {
	path := source.Name
	if source.Namespace != "" {
		path = source.Namespace + "/" + source.Name
	}
	return registry.Reference{Registry: source.Registry, Path: path}
}

// resolveWarmCache holds FeatureSets resolved concurrently for the root
// input set, keyed by the canonical rendered source string plus options,
// so the sequential graph builder's Resolver callback can return them
// without a second network round trip.
type resolveWarmCache struct {
	mu      sync.Mutex
	entries map[string]model.FeatureSet
}

func newResolveWarmCache() *resolveWarmCache {
	return &resolveWarmCache{entries: make(map[string]model.FeatureSet)}
}

func (w *resolveWarmCache) key(rendered string, options map[string]model.OptionValue) string {
	var b strings.Builder
	b.WriteString(rendered)
	b.WriteByte(0)
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		encodeOptionValue(&b, options[k])
		b.WriteByte(';')
	}
	return b.String()
}

// encodeOptionValue renders v's full value (Bool/String/Map) into b so two
// options that differ only in a bool or nested-map value produce distinct
// cache keys, rather than colliding on their shared String field.
func encodeOptionValue(b *strings.Builder, v model.OptionValue) {
	switch {
	case v.Bool != nil:
		b.WriteByte('b')
		b.WriteString(strconv.FormatBool(*v.Bool))
	case v.String != nil:
		b.WriteByte('s')
		b.WriteString(*v.String)
	case v.Map != nil:
		b.WriteByte('m')
		b.WriteByte('{')
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		for i := 1; i < len(keys); i++ {
			for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
				keys[j-1], keys[j] = keys[j], keys[j-1]
			}
		}
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte('=')
			encodeOptionValue(b, v.Map[k])
			b.WriteByte(',')
		}
		b.WriteByte('}')
	default:
		b.WriteByte('n')
	}
}

func (w *resolveWarmCache) store(rendered string, options map[string]model.OptionValue, fs model.FeatureSet) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[w.key(rendered, options)] = fs
}

func (w *resolveWarmCache) lookup(rendered string, options map[string]model.OptionValue) (model.FeatureSet, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fs, ok := w.entries[w.key(rendered, options)]
	return fs, ok
}

// warmResolver wraps the Resolver's Resolve method with a lookup into a
// pre-warmed cache, falling back to a live resolve for every node the
// concurrent root pass didn't cover (i.e. every dependsOn/installsAfter
// child the graph builder discovers while walking sequentially).
func (c *Client) warmResolver(warm *resolveWarmCache) graph.Resolver {
	return func(ctx context.Context, source model.SourceDescriptor, options map[string]model.OptionValue) (model.FeatureSet, error) {
		if fs, ok := warm.lookup(identifier.Render(source), options); ok {
			return fs, nil
		}
		fs, err := c.resolver.Resolve(ctx, source, options)
		if err != nil {
			return model.FeatureSet{}, translateResolveError("resolve", identifier.Render(source), err)
		}
		return fs, nil
	}
}

func buildLockfile(plan []FeatureSet) lockfile.Lockfile {
	entries := make(map[string]lockfile.Entry)
	for _, fs := range plan {
		if fs.Source.Kind != model.SourceOCI {
			continue
		}
		entries[identifier.Render(fs.Source)] = lockfile.Entry{
			Version:   fs.Metadata.Version,
			Resolved:  fs.Source.Resource + "@" + fs.ManifestDigest,
			Integrity: fs.ManifestDigest,
		}
	}
	return lockfile.Lockfile{Features: entries}
}

// PublishResult reports the outcome of a successful Publish call.
type PublishResult struct {
	// Tags is the full tag fan-out this artifact was published under
	// (spec §4.9 "tag fan-out law").
	Tags []string
}

// Publish packs sourceDir as a devcontainer Feature/Template artifact and
// publishes it to targetRef with semver tag fan-out (spec §4.9, §4.10).
// targetRef must parse to an OCI source (e.g. "ghcr.io/org/features/go").
func (c *Client) Publish(ctx context.Context, sourceDir, targetRef string, kind pack.Kind, id, releaseVersion string, opts ...PublishOption) (PublishResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := defaultPublishConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	source, err := identifier.Parse(targetRef)
	if err != nil || source.Kind != model.SourceOCI {
		return PublishResult{}, NewFeatureError("publish", targetRef, KindIdentifierInvalid, fmt.Errorf("%w: not an OCI reference", ErrIdentifierInvalid))
	}
	ref := resolveReference(source)

	outDir, err := os.MkdirTemp("", "feature-engine-pack-")
	if err != nil {
		return PublishResult{}, NewFeatureError("publish", targetRef, KindMetadataParseError, err)
	}
	defer os.RemoveAll(outDir)

	artifactPath, err := pack.Pack(ctx, kind, id, sourceDir, outDir)
	if err != nil {
		return PublishResult{}, NewFeatureError("pack", targetRef, KindMetadataParseError, err)
	}
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return PublishResult{}, NewFeatureError("pack", targetRef, KindMetadataParseError, err)
	}

	publishedTags := cfg.publishedTags
	if publishedTags == nil {
		publishedTags, err = c.registry.ListTags(ctx, ref)
		if err != nil {
			return PublishResult{}, translateResolveError("listTags", targetRef, err)
		}
	}

	tags, err := version.FanOut(releaseVersion, publishedTags)
	if err != nil {
		if errors.Is(err, version.ErrVersionAlreadyPublished) {
			return PublishResult{}, nil
		}
		return PublishResult{}, NewFeatureError("publish", targetRef, KindMetadataParseError, err)
	}

	if err := retryOperation(ctx, 1, 2*time.Second, func() error {
		return c.publisher.PublishArtifact(ctx, ref, kind, id, releaseVersion, data, publishedTags)
	}); err != nil {
		return PublishResult{}, translateResolveError("publishArtifact", targetRef, err)
	}

	return PublishResult{Tags: tags}, nil
}

// PublishCollection builds and publishes a devcontainer-collection.json
// summarizing features, always tagged "latest" (spec §4.10, SPEC_FULL.md
// C10 supplement).
func (c *Client) PublishCollection(ctx context.Context, targetRef string, source pack.SourceInformation, features []FeatureMetadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, err := identifier.Parse(targetRef)
	if err != nil || target.Kind != model.SourceOCI {
		return NewFeatureError("publishCollection", targetRef, KindIdentifierInvalid, fmt.Errorf("%w: not an OCI reference", ErrIdentifierInvalid))
	}
	ref := resolveReference(target)

	collectionJSON, err := pack.BuildCollectionJSON(source, features)
	if err != nil {
		return NewFeatureError("publishCollection", targetRef, KindMetadataParseError, err)
	}

	if err := c.publisher.PublishCollection(ctx, ref, collectionJSON); err != nil {
		return translateResolveError("publishCollection", targetRef, err)
	}
	return nil
}

