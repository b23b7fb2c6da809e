package codec

import (
	"crypto/sha256"
	"encoding/hex"

	digest "github.com/opencontainers/go-digest"
)

// Layer is a single OCI manifest layer descriptor, as produced by
// DigestLayer and consumed by BuildManifest.
type Layer struct {
	MediaType   string
	Digest      string
	Size        int64
	Annotations map[string]string
}

// ZeroByteDigest is the fixed digest of an empty config blob, used as the
// manifest config descriptor for every Feature and collection artifact
// (spec §4.5).
const ZeroByteDigest = "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// DevcontainerConfigMediaType is the fixed media type of the zero-byte
// config blob every manifest references.
const DevcontainerConfigMediaType = "application/vnd.devcontainers"

// DigestLayer computes the layer descriptor for bytes: its sha256 digest,
// size, media type, and (if title is non-empty) an
// org.opencontainers.image.title annotation.
func DigestLayer(bytes []byte, mediaType, title string) Layer {
	l := Layer{
		MediaType: mediaType,
		Digest:    Sum(bytes),
		Size:      int64(len(bytes)),
	}
	if title != "" {
		l.Annotations = map[string]string{"org.opencontainers.image.title": title}
	}
	return l
}

// Sum returns the "sha256:<hex>" digest of bytes.
func Sum(bytes []byte) string {
	sum := sha256.Sum256(bytes)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// ValidateDigest parses and validates a digest string using go-digest's
// canonical algorithm/encoding rules.
func ValidateDigest(d string) error {
	return digest.Digest(d).Validate()
}
