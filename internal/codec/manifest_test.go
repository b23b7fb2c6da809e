package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBuildManifest_CanonicalFixture pins the manifest digest given in the
// spec's canonical-manifest fixture (property 6 / scenario S6): a data layer
// with a known digest/size/title and no top-level annotations must
// serialize to the exact bytes whose sha256 is the stated hex value.
func TestBuildManifest_CanonicalFixture(t *testing.T) {
	dataLayer := Layer{
		MediaType:   "application/vnd.devcontainers.layer.v1+tar",
		Digest:      "sha256:b2006e7647191f7b47222ae48df049c6e21a4c5a04acfad0c4ef614d819de4c5",
		Size:        15872,
		Annotations: map[string]string{"org.opencontainers.image.title": "go.tgz"},
	}

	bytes, contentDigest, err := BuildManifest(ConfigLayer(), dataLayer, nil)
	require.NoError(t, err)
	require.Equal(t, "sha256:9726054859c13377c4c3c3c73d15065de59d0c25d61d5652576c0125f2ea8ed3", contentDigest)
	require.JSONEq(t, `{
		"schemaVersion": 2,
		"mediaType": "application/vnd.oci.image.manifest.v1+json",
		"config": {
			"mediaType": "application/vnd.devcontainers",
			"digest": "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			"size": 0
		},
		"layers": [{
			"mediaType": "application/vnd.devcontainers.layer.v1+tar",
			"digest": "sha256:b2006e7647191f7b47222ae48df049c6e21a4c5a04acfad0c4ef614d819de4c5",
			"size": 15872,
			"annotations": {"org.opencontainers.image.title": "go.tgz"}
		}]
	}`, string(bytes))
}

func TestDigestLayer(t *testing.T) {
	l := DigestLayer([]byte("hello"), "application/vnd.devcontainers.layer.v1+tar", "go.tgz")
	require.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", l.Digest)
	require.Equal(t, int64(5), l.Size)
	require.Equal(t, "go.tgz", l.Annotations["org.opencontainers.image.title"])
}
