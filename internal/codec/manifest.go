package codec

import (
	"encoding/json"

	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

// ManifestMediaType is the media type of the OCI image manifest this
// package produces and consumes.
const ManifestMediaType = specs.MediaTypeImageManifest

// descriptor mirrors an OCI content descriptor. Field order matches the
// wire format required by spec §4.5/§8 property 6 exactly; encoding/json
// serializes struct fields in declaration order, so this order is the
// contract, not a convenience.
type descriptor struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// layerDescriptor is a descriptor plus the optional per-layer annotations
// (title, etc). Go's encoding/json marshals map[string]string keys in
// sorted order, so this is deterministic even with multiple annotations.
type layerDescriptor struct {
	MediaType   string            `json:"mediaType"`
	Digest      string            `json:"digest"`
	Size        int64             `json:"size"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// manifest is the exact wire struct for an OCI image manifest as this
// engine produces it: schemaVersion, mediaType, config, layers[,
// annotations]. The field order below is load-bearing.
type manifest struct {
	SchemaVersion int               `json:"schemaVersion"`
	MediaType     string            `json:"mediaType"`
	Config        descriptor        `json:"config"`
	Layers        []layerDescriptor `json:"layers"`
	Annotations   map[string]string `json:"annotations,omitempty"`
}

// BuildManifest serializes an OCI image manifest referencing configLayer as
// the (always zero-byte) config blob and dataLayer as the sole content
// layer, returning the exact bytes written to the registry and their
// canonical sha256 digest. Byte-exact serialization is a hard requirement:
// tests pin a known fixture digest (spec §6, §8 property 6).
func BuildManifest(configLayer, dataLayer Layer, annotations map[string]string) ([]byte, string, error) {
	m := manifest{
		SchemaVersion: 2,
		MediaType:     ManifestMediaType,
		Config: descriptor{
			MediaType: configLayer.MediaType,
			Digest:    configLayer.Digest,
			Size:      configLayer.Size,
		},
		Layers: []layerDescriptor{
			{
				MediaType:   dataLayer.MediaType,
				Digest:      dataLayer.Digest,
				Size:        dataLayer.Size,
				Annotations: dataLayer.Annotations,
			},
		},
		Annotations: annotations,
	}

	bytes, err := json.Marshal(m)
	if err != nil {
		return nil, "", err
	}
	return bytes, Sum(bytes), nil
}

// ConfigLayer returns the fixed zero-byte devcontainer config layer every
// manifest references (spec §4.5).
func ConfigLayer() Layer {
	return Layer{
		MediaType: DevcontainerConfigMediaType,
		Digest:    ZeroByteDigest,
		Size:      0,
	}
}
