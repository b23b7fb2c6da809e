package pack

import (
	"encoding/json"

	"github.com/opendevcontainers/feature-engine/internal/model"
)

// SourceInformation identifies where a published collection's artifacts
// came from, embedded in devcontainer-collection.json.
type SourceInformation struct {
	Source string `json:"source"`
	Owner  string `json:"owner,omitempty"`
	Repo   string `json:"repository,omitempty"`
	Ref    string `json:"ref,omitempty"`
}

// collectionWire is the devcontainer-collection.json document this engine
// produces: summarized metadata for every packed Feature/template,
// referenced by spec §6 "Files consumed" but left without an explicit
// producer there (a gap this module's C10 fills).
type collectionWire struct {
	SourceInformation SourceInformation        `json:"sourceInformation"`
	Features          []featureSummary         `json:"features,omitempty"`
	Templates         []map[string]interface{} `json:"templates,omitempty"`
}

type featureSummary struct {
	ID            string            `json:"id"`
	Version       string            `json:"version"`
	Name          string            `json:"name,omitempty"`
	Documentation string            `json:"documentationURL,omitempty"`
	Options       map[string]string `json:"options,omitempty"`
}

// BuildCollectionJSON renders devcontainer-collection.json summarizing the
// packed Features' metadata (spec §6 supplement).
func BuildCollectionJSON(src SourceInformation, features []model.FeatureMetadata) ([]byte, error) {
	summaries := make([]featureSummary, 0, len(features))
	for _, f := range features {
		opts := make(map[string]string, len(f.Options))
		for name, spec := range f.Options {
			opts[name] = spec.Kind
		}
		summaries = append(summaries, featureSummary{
			ID:      f.ID,
			Version: f.Version,
			Options: opts,
		})
	}
	doc := collectionWire{SourceInformation: src, Features: summaries}

	return json.MarshalIndent(doc, "", "  ")
}
