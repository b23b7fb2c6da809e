// Package graph builds the dependency graph of GraphNodes from a set of
// user-supplied Feature identifiers and a resolve callback (spec §4.7).
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/opendevcontainers/feature-engine/internal/model"
)

// Kind tags how a GraphNode entered the graph.
type Kind int

const (
	KindUser Kind = iota
	KindOverride
	KindResolved
)

// Node is a GraphNode (spec §3): a resolved Feature plus its hard
// (dependsOn) and soft (installsAfter) edges.
type Node struct {
	Kind            Kind
	UserID          string
	Options         map[string]model.OptionValue
	FeatureSet      model.FeatureSet
	DependsOn       []*Node
	InstallsAfter   []*Node
	LegacyIDAliases []string
	RoundPriority   int
}

// Resolver resolves a parsed identifier into a FeatureSet, matching
// internal/resolve.Resolver.Resolve's shape without importing it directly
// (keeps internal/graph free of internal/registry's dependency surface).
type Resolver func(ctx context.Context, source model.SourceDescriptor, options map[string]model.OptionValue) (model.FeatureSet, error)

// IdentifierParser parses a raw user-supplied Feature identifier string,
// matching internal/identifier.Parse's shape.
type IdentifierParser func(raw string) (model.SourceDescriptor, error)

// Input is one user-supplied (identifier, options) pair.
type Input struct {
	Identifier string
	Options    map[string]model.OptionValue
}

// ErrCyclicReference is returned when the builder detects a node that
// equals one already on the path being expanded; per spec §4.7 this is
// silenced at build time and left for the scheduler to surface as a true
// cycle failure, so this sentinel is informational only and never
// returned by Build.
var ErrCyclicReference = errors.New("cyclic graph reference")

// Builder constructs the dependency graph (spec §4.7 C7).
type Builder struct {
	resolve Resolver
	parse   IdentifierParser
}

// New creates a Builder.
func New(resolve Resolver, parse IdentifierParser) *Builder {
	return &Builder{resolve: resolve, parse: parse}
}

// Result is the builder's output: the dependency-capable accumulator
// (worklist order, as appended) and the legacy list (spec §4.7 step 2).
type Result struct {
	Worklist []*Node
	Legacy   []*Node
}

// Build implements the full C7 algorithm: seed, expand, then apply
// overrideInstallOrder priority assignment.
func (b *Builder) Build(ctx context.Context, inputs []Input, overrideInstallOrder []string) (*Result, error) {
	type pending struct {
		node   *Node
		source model.SourceDescriptor
	}
	queue := make([]pending, 0, len(inputs))
	for _, in := range inputs {
		source, err := b.parse(in.Identifier)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", in.Identifier, err)
		}
		node := &Node{Kind: KindUser, UserID: in.Identifier, Options: in.Options}
		queue = append(queue, pending{node: node, source: source})
	}

	worklist := make([]*Node, 0, len(inputs))

	var accumulator []*Node
	var legacy []*Node

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fs, err := b.resolve(ctx, cur.source, cur.node.Options)
		if err != nil {
			if cur.node.Kind == KindResolved {
				return nil, fmt.Errorf("dependsOn %q: %w", cur.node.UserID, err)
			}
			return nil, err
		}
		cur.node.FeatureSet = fs

		if !cur.source.Kind.DependencyCapable() {
			legacy = append(legacy, cur.node)
			continue
		}

		if equalToAny(cur.node, cur.source, accumulator) {
			continue
		}

		for featureID, opts := range fs.Metadata.DependsOn {
			childSource, err := b.parse(featureID)
			if err != nil {
				return nil, fmt.Errorf("dependsOn %q: %w", featureID, err)
			}
			child := &Node{Kind: KindResolved, UserID: featureID, Options: opts}
			cur.node.DependsOn = append(cur.node.DependsOn, child)
			queue = append(queue, pending{node: child, source: childSource})
		}

		for _, featureID := range fs.Metadata.InstallsAfter {
			childSource, err := b.parse(featureID)
			if err != nil {
				return nil, fmt.Errorf("installsAfter %q: %w", featureID, err)
			}
			childFS, err := b.resolve(ctx, childSource, nil)
			if err != nil {
				return nil, fmt.Errorf("installsAfter %q: %w", featureID, err)
			}
			child := &Node{Kind: KindResolved, UserID: featureID, FeatureSet: childFS}
			if childSource.Kind == model.SourceOCI {
				child.LegacyIDAliases = aliasSet(childFS.Metadata)
			}
			cur.node.InstallsAfter = append(cur.node.InstallsAfter, child)
		}

		accumulator = append(accumulator, cur.node)
		worklist = append(worklist, cur.node)
	}

	applyOverrideOrder(ctx, b, accumulator, &legacy, overrideInstallOrder)

	return &Result{Worklist: worklist, Legacy: legacy}, nil
}

func aliasSet(meta model.FeatureMetadata) []string {
	seen := make(map[string]bool, len(meta.LegacyIDs)+1)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range meta.LegacyIDs {
		add(id)
	}
	add(meta.ID)
	return out
}

// applyOverrideOrder implements spec §4.7 step 3: iterate
// overrideInstallOrder last-to-first so the last entry gets priority 1 and
// the first gets priority N, resolving each override identifier and, for
// dependency-capable overrides, raising the roundPriority of every
// accumulated node that soft-dependency-matches it.
func applyOverrideOrder(ctx context.Context, b *Builder, accumulator []*Node, legacy *[]*Node, overrideInstallOrder []string) {
	n := len(overrideInstallOrder)
	for i := n - 1; i >= 0; i-- {
		assignedPriority := n - i
		identifier := overrideInstallOrder[i]

		source, err := b.parse(identifier)
		if err != nil {
			continue
		}
		fs, err := b.resolve(ctx, source, nil)
		if err != nil {
			continue
		}
		overrideNode := &Node{Kind: KindOverride, UserID: identifier, FeatureSet: fs}

		if !source.Kind.DependencyCapable() {
			*legacy = append(*legacy, overrideNode)
			continue
		}

		for _, node := range accumulator {
			if softDependencyMatch(node, source, fs) {
				if assignedPriority > node.RoundPriority {
					node.RoundPriority = assignedPriority
				}
			}
		}
	}
}

// equalToAny implements node equality (spec §4.7 "Node equality").
func equalToAny(candidate *Node, source model.SourceDescriptor, accumulated []*Node) bool {
	for _, existing := range accumulated {
		if nodesEqual(candidate, source, existing) {
			return true
		}
	}
	return false
}

func nodesEqual(a *Node, aSource model.SourceDescriptor, b *Node) bool {
	bSource := b.FeatureSet.Source
	if aSource.Kind != bSource.Kind {
		return false
	}
	switch aSource.Kind {
	case model.SourceOCI:
		return aSource.Resource == bSource.Resource &&
			a.FeatureSet.ManifestDigest == b.FeatureSet.ManifestDigest &&
			optionsEqual(a.Options, b.Options)
	case model.SourceFilePath:
		return aSource.Path == bSource.Path && optionsEqual(a.Options, b.Options)
	default:
		return false
	}
}

func optionsEqual(a, b map[string]model.OptionValue) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		other, ok := b[k]
		if !ok || !v.Equal(other) {
			return false
		}
	}
	return true
}

// softDependencyMatch implements spec §4.7 "Soft-dependency match": node
// satisfies softDep (here softDep is the override's source/featureSet).
func softDependencyMatch(node *Node, softDepSource model.SourceDescriptor, softDepFS model.FeatureSet) bool {
	nodeSource := node.FeatureSet.Source
	if !nodeSource.Kind.DependencyCapable() || !softDepSource.Kind.DependencyCapable() {
		return false
	}
	if nodeSource.Kind != softDepSource.Kind {
		return false
	}
	switch nodeSource.Kind {
	case model.SourceOCI:
		if nodeSource.Resource == softDepSource.Resource {
			return true
		}
		for _, alias := range softDepFS.Metadata.LegacyIDs {
			aliasResource := softDepSource.Registry + "/" + softDepSource.Namespace + "/" + alias
			if aliasResource == nodeSource.Resource {
				return true
			}
		}
		return false
	case model.SourceFilePath:
		return nodeSource.Path == softDepSource.Path
	default:
		return false
	}
}
