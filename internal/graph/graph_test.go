package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opendevcontainers/feature-engine/internal/model"
)

func fakeParse(raw string) (model.SourceDescriptor, error) {
	return model.SourceDescriptor{
		Kind:      model.SourceOCI,
		Registry:  "ghcr.io",
		Namespace: "features",
		Name:      raw,
		Resource:  "ghcr.io/features/" + raw,
	}, nil
}

func fakeResolver(metas map[string]model.FeatureMetadata) Resolver {
	return func(_ context.Context, source model.SourceDescriptor, options map[string]model.OptionValue) (model.FeatureSet, error) {
		meta := metas[source.Name]
		if meta.ID == "" {
			meta.ID = source.Name
		}
		return model.FeatureSet{
			Source:          source,
			ManifestDigest:  "sha256:" + source.Name,
			Metadata:        meta,
			SuppliedOptions: options,
		}, nil
	}
}

func TestBuildSimpleNoDependencies(t *testing.T) {
	resolver := fakeResolver(map[string]model.FeatureMetadata{})
	builder := New(resolver, fakeParse)
	result, err := builder.Build(t.Context(), []Input{{Identifier: "go"}, {Identifier: "node"}}, nil)
	require.NoError(t, err)
	require.Len(t, result.Worklist, 2)
	require.Empty(t, result.Legacy)
}

func TestBuildExpandsDependsOn(t *testing.T) {
	metas := map[string]model.FeatureMetadata{
		"go": {
			DependsOn: map[string]map[string]model.OptionValue{
				"common-utils": {},
			},
		},
	}
	resolver := fakeResolver(metas)
	builder := New(resolver, fakeParse)
	result, err := builder.Build(t.Context(), []Input{{Identifier: "go"}}, nil)
	require.NoError(t, err)
	require.Len(t, result.Worklist, 2)
	var goNode *Node
	for _, n := range result.Worklist {
		if n.UserID == "go" {
			goNode = n
		}
	}
	require.NotNil(t, goNode)
	require.Len(t, goNode.DependsOn, 1)
	require.Equal(t, "common-utils", goNode.DependsOn[0].UserID)
}

func TestBuildDropsDuplicateOCINode(t *testing.T) {
	metas := map[string]model.FeatureMetadata{
		"go": {
			DependsOn: map[string]map[string]model.OptionValue{"common-utils": {}},
		},
		"node": {
			DependsOn: map[string]map[string]model.OptionValue{"common-utils": {}},
		},
	}
	resolver := fakeResolver(metas)
	builder := New(resolver, fakeParse)
	result, err := builder.Build(t.Context(), []Input{{Identifier: "go"}, {Identifier: "node"}}, nil)
	require.NoError(t, err)
	// go, node, and a single common-utils (deduplicated by node equality).
	require.Len(t, result.Worklist, 3)
}

func TestBuildInstallsAfterAttachesLegacyAliases(t *testing.T) {
	metas := map[string]model.FeatureMetadata{
		"go": {
			InstallsAfter: []string{"common-utils"},
		},
		"common-utils": {
			ID:        "common-utils",
			LegacyIDs: []string{"common"},
		},
	}
	resolver := fakeResolver(metas)
	builder := New(resolver, fakeParse)
	result, err := builder.Build(t.Context(), []Input{{Identifier: "go"}}, nil)
	require.NoError(t, err)
	require.Len(t, result.Worklist, 1)
	goNode := result.Worklist[0]
	require.Len(t, goNode.InstallsAfter, 1)
	require.ElementsMatch(t, []string{"common", "common-utils"}, goNode.InstallsAfter[0].LegacyIDAliases)
}

func TestBuildNonDependencyCapableGoesToLegacy(t *testing.T) {
	parse := func(raw string) (model.SourceDescriptor, error) {
		return model.SourceDescriptor{Kind: model.SourceGitHubRelease, Name: raw}, nil
	}
	resolver := fakeResolver(map[string]model.FeatureMetadata{})
	builder := New(resolver, parse)
	result, err := builder.Build(t.Context(), []Input{{Identifier: "legacyfeature"}}, nil)
	require.NoError(t, err)
	require.Empty(t, result.Worklist)
	require.Len(t, result.Legacy, 1)
}

func TestBuildOverrideInstallOrderAssignsPriority(t *testing.T) {
	resolver := fakeResolver(map[string]model.FeatureMetadata{})
	builder := New(resolver, fakeParse)
	result, err := builder.Build(t.Context(), []Input{{Identifier: "go"}, {Identifier: "node"}, {Identifier: "python"}}, []string{"go", "node", "python"})
	require.NoError(t, err)
	require.Len(t, result.Worklist, 3)

	byName := map[string]*Node{}
	for _, n := range result.Worklist {
		byName[n.UserID] = n
	}
	// last entry ("python") gets priority 1, first entry ("go") gets priority 3.
	require.Equal(t, 3, byName["go"].RoundPriority)
	require.Equal(t, 2, byName["node"].RoundPriority)
	require.Equal(t, 1, byName["python"].RoundPriority)
}
