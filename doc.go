// Package featureengine provides devcontainer Feature distribution
// functionality: resolving Feature identifiers, building and scheduling
// dependency graphs, maintaining a lockfile, and publishing packed
// Features/Templates to OCI registries.
//
// # Overview
//
// A "Feature" is a composable, versioned unit of dev-container
// configuration, distributed as an OCI artifact or one of several legacy
// source forms (a local bundled directory, a tarball URL, a relative file
// path, or a GitHub Release asset). This package implements the full
// resolve-graph-schedule-install pipeline described by the devcontainer
// Features distribution model, plus the publish side that turns a
// Feature/Template source directory into tagged OCI artifacts.
//
// # Basic Usage
//
//	client := featureengine.New(
//	    featureengine.WithGitHubToken(os.Getenv("GITHUB_TOKEN")),
//	)
//
//	plan, err := client.Install(ctx, []featureengine.FeatureRequest{
//	    {Identifier: "ghcr.io/devcontainers/features/go:1"},
//	}, featureengine.WithLockfilePath(".devcontainer/devcontainer-lock.json"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, fs := range plan {
//	    fmt.Println(fs.Metadata.ID, fs.Metadata.Version)
//	}
//
// # Dependency Resolution
//
// Install resolves every user-supplied identifier, follows dependsOn/
// installsAfter edges into a dependency graph, and produces a
// deterministic round-based install order. Identifiers may also name a
// cyclic dependency set, in which case Install returns a
// *CyclicDependencyError carrying the still-pending identifiers (a
// dependency that fails to resolve is reported as a *FeatureError instead):
//
//	_, err := client.Install(ctx, requests)
//	var cycleErr *featureengine.CyclicDependencyError
//	if errors.As(err, &cycleErr) {
//	    log.Printf("cycle among: %v", cycleErr.Remaining)
//	}
//
// The root identifiers passed to Install are resolved concurrently; the
// graph itself is still built and scheduled deterministically.
//
// # Lockfile
//
// WithLockfilePath computes and writes a devcontainer-lock.json alongside
// every Install call. WithFrozenLockfile additionally verifies the
// computed lockfile against what's already on disk, failing the call on
// any mismatch or if no lockfile exists yet — useful for CI reproducible
// builds:
//
//	_, err := client.Install(ctx, requests,
//	    featureengine.WithLockfilePath(".devcontainer/devcontainer-lock.json"),
//	    featureengine.WithFrozenLockfile(),
//	)
//
// # Publishing
//
// Publish packs a Feature or Template source directory and publishes it
// to a target OCI reference, computing the semver tag fan-out (exact
// version, floating major, floating minor, and "latest" where
// applicable) from the registry's already-published tags:
//
//	result, err := client.Publish(ctx, "./src/go", "ghcr.io/my-org/features/go",
//	    pack.KindFeature, "go", "1.2.0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("published tags:", result.Tags)
//
// PublishCollection publishes a devcontainer-collection.json summarizing a
// set of packed Features, always tagged "latest".
//
// # Authentication
//
// Credentials are resolved the same way the Docker CLI does: environment
// variables first, then $HOME/.docker/config.json. WithGitHubToken also
// supplies the same token as both the ghcr.io registry credential and the
// bearer token for authenticated GitHub Releases asset downloads.
// WithCredentialEnv and WithCredentialHomeDir override the lookup
// functions, primarily for tests.
//
// # HTTP Configuration
//
// WithAllowHTTP permits plain-HTTP registry connections for local
// registries in development and tests. WithTransportTimeout bounds every
// individual HTTP request issued by the client.
//
// # Error Handling
//
// Failures are reported as *FeatureError, carrying the failing operation,
// the identifier being processed, and a Kind classifying the failure
// (identifier parsing, registry access, authentication, dependency
// resolution, lockfile verification, and so on). Callers that need to
// branch on failure category should switch on Kind rather than matching
// error strings:
//
//	var ferr *featureengine.FeatureError
//	if errors.As(err, &ferr) {
//	    switch ferr.Kind {
//	    case featureengine.KindManifestNotFound:
//	        // the tag/digest doesn't exist on the registry
//	    case featureengine.KindLockfileMismatch:
//	        // frozen-mode verification failed
//	    }
//	}
package featureengine
