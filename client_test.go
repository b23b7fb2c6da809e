package featureengine

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendevcontainers/feature-engine/internal/pack"
)

func TestNewClientDefaults(t *testing.T) {
	client := New()
	require.NotNil(t, client)
	assert.NotNil(t, client.resolver)
	assert.NotNil(t, client.registry)
	assert.NotNil(t, client.publisher)
}

func sum(b []byte) string {
	h := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(h[:])
}

// tarGzFeature builds a one-file tar.gz containing devcontainer-feature.json.
func tarGzFeature(t *testing.T, featureJSON string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := []byte(featureJSON)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "devcontainer-feature.json", Size: int64(len(body)), Mode: 0o644}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// featureManifest builds an OCI manifest embedding featureJSON directly in
// the dev.containers.metadata annotation, referencing dataDigest/dataLen as
// its sole content layer.
func featureManifest(t *testing.T, featureJSON, dataDigest string, dataLen int) []byte {
	t.Helper()
	doc := map[string]any{
		"schemaVersion": 2,
		"mediaType":     "application/vnd.oci.image.manifest.v1+json",
		"config": map[string]any{
			"mediaType": "application/vnd.devcontainers",
			"digest":    "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			"size":      0,
		},
		"layers": []map[string]any{
			{
				"mediaType": "application/vnd.devcontainers.layer.v1+tar",
				"digest":    dataDigest,
				"size":      dataLen,
			},
		},
		"annotations": map[string]string{
			"dev.containers.metadata": featureJSON,
		},
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return b
}

// newFakeFeatureRegistry serves a single OCI Feature manifest + its data
// blob under repoPath on an httptest.Server speaking plain HTTP.
func newFakeFeatureRegistry(t *testing.T, repoPath, featureJSON string) *httptest.Server {
	t.Helper()
	dataBytes := tarGzFeature(t, featureJSON)
	dataDigest := sum(dataBytes)
	manifestBytes := featureManifest(t, featureJSON, dataDigest, len(dataBytes))

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/"+repoPath+"/manifests/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Docker-Content-Digest", sum(manifestBytes))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(manifestBytes)
	})
	mux.HandleFunc("/v2/"+repoPath+"/blobs/"+dataDigest, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(dataBytes)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestInstallSingleOCIFeatureNoDeps(t *testing.T) {
	srv := newFakeFeatureRegistry(t, "features/go", `{"id":"go","version":"1.0.0"}`)
	host := strings.TrimPrefix(srv.URL, "http://")

	client := New(WithAllowHTTP())
	plan, err := client.Install(t.Context(), []FeatureRequest{
		{Identifier: host + "/features/go:1.0.0"},
	})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "go", plan[0].Metadata.ID)
	assert.Equal(t, "1.0.0", plan[0].Metadata.Version)
}

func TestInstallWithLockfileWritesOCIEntryOnly(t *testing.T) {
	srv := newFakeFeatureRegistry(t, "features/go", `{"id":"go","version":"1.0.0"}`)
	host := strings.TrimPrefix(srv.URL, "http://")
	lockPath := filepath.Join(t.TempDir(), "devcontainer-lock.json")

	client := New(WithAllowHTTP())
	_, err := client.Install(t.Context(), []FeatureRequest{
		{Identifier: host + "/features/go:1.0.0"},
	}, WithLockfilePath(lockPath))
	require.NoError(t, err)

	raw, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	var doc struct {
		Features map[string]struct {
			Version string `json:"version"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.Features, 1)
	for _, entry := range doc.Features {
		assert.Equal(t, "1.0.0", entry.Version)
	}
}

func TestInstallInvalidIdentifierIsFeatureError(t *testing.T) {
	client := New()
	_, err := client.Install(t.Context(), []FeatureRequest{{Identifier: ""}})
	require.Error(t, err)
	var ferr *FeatureError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, KindIdentifierInvalid, ferr.Kind)
}

func TestInstallCyclicDependencyFails(t *testing.T) {
	var srv *httptest.Server
	manifestWithDep := func(id, depHost string) []byte {
		featureJSON, err := json.Marshal(map[string]any{
			"id": id, "version": "1.0.0",
			"dependsOn": map[string]any{depHost: map[string]any{}},
		})
		require.NoError(t, err)
		return featureManifest(t, string(featureJSON), "", 0)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/features/a/manifests/", func(w http.ResponseWriter, r *http.Request) {
		host := strings.TrimPrefix(srv.URL, "http://")
		b := manifestWithDep("a", host+"/features/b:1.0.0")
		w.Header().Set("Docker-Content-Digest", sum(b))
		_, _ = w.Write(b)
	})
	mux.HandleFunc("/v2/features/b/manifests/", func(w http.ResponseWriter, r *http.Request) {
		host := strings.TrimPrefix(srv.URL, "http://")
		b := manifestWithDep("b", host+"/features/a:1.0.0")
		w.Header().Set("Docker-Content-Digest", sum(b))
		_, _ = w.Write(b)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "http://")

	client := New(WithAllowHTTP())
	_, err := client.Install(t.Context(), []FeatureRequest{
		{Identifier: host + "/features/a:1.0.0"},
	})
	require.Error(t, err)
	var cycleErr *CyclicDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.Remaining)
}

func TestPublishFansOutTagsOnFirstRelease(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "devcontainer-feature.json"), []byte(`{"id":"go","version":"2.0.0"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "install.sh"), []byte("#!/bin/sh\n"), 0o755))

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/features/go/blobs/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPost:
			w.Header().Set("Location", srv.URL+"/v2/features/go/blobs/uploads/1")
			w.WriteHeader(http.StatusAccepted)
		case http.MethodPut:
			w.WriteHeader(http.StatusCreated)
		}
	})
	var putManifestCalls int
	mux.HandleFunc("/v2/features/go/manifests/", func(w http.ResponseWriter, r *http.Request) {
		putManifestCalls++
		w.Header().Set("Docker-Content-Digest", "sha256:deadbeef")
		w.WriteHeader(http.StatusCreated)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := New(WithAllowHTTP())
	target := strings.TrimPrefix(srv.URL, "http://") + "/features/go"
	result, err := client.Publish(t.Context(), dir, target, pack.KindFeature, "go", "2.0.0")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2.0.0", "2", "2.0", "latest"}, result.Tags)
	assert.Equal(t, 4, putManifestCalls)
}

func TestPublishInvalidTargetIsFeatureError(t *testing.T) {
	client := New()
	_, err := client.Publish(t.Context(), t.TempDir(), "not a valid ref", pack.KindFeature, "go", "1.0.0")
	require.Error(t, err)
	var ferr *FeatureError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, KindIdentifierInvalid, ferr.Kind)
}
