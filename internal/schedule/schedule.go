// Package schedule orders a dependency graph's worklist into installation
// rounds and runs the legacy topological pass (spec §4.8, §4.8.1).
package schedule

import (
	"errors"
	"fmt"
	"sort"

	"github.com/opendevcontainers/feature-engine/internal/graph"
	"github.com/opendevcontainers/feature-engine/internal/model"
)

// ErrCyclicDependency is returned when no node in the remaining worklist
// is eligible for its round (spec §4.8 step 2b) or the legacy adjacency
// contains a cycle (spec §4.8.1).
var ErrCyclicDependency = errors.New("cyclic dependency")

// CycleError carries the identifiers still unscheduled when a cycle is
// detected, for diagnostics.
type CycleError struct {
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %v", ErrCyclicDependency, e.Remaining)
}

func (e *CycleError) Unwrap() error { return ErrCyclicDependency }

// Schedule implements C8: prunes dangling soft edges, runs the round loop
// over the dependency-capable worklist, then prepends the legacy pass's
// result (spec §4.8 step 3).
func Schedule(result *graph.Result, overrideInstallOrder []string) ([]model.FeatureSet, error) {
	worklist := append([]*graph.Node(nil), result.Worklist...)
	pruneSoftEdges(worklist)

	installed := make(map[*graph.Node]bool, len(worklist))
	var rounds [][]*graph.Node

	for len(worklist) > 0 {
		var eligible []*graph.Node
		var remaining []*graph.Node
		for _, node := range worklist {
			if isEligible(node, installed) {
				eligible = append(eligible, node)
			} else {
				remaining = append(remaining, node)
			}
		}
		if len(eligible) == 0 {
			names := make([]string, 0, len(worklist))
			for _, n := range worklist {
				names = append(names, n.UserID)
			}
			return nil, &CycleError{Remaining: names}
		}

		maxPriority := eligible[0].RoundPriority
		for _, n := range eligible[1:] {
			if n.RoundPriority > maxPriority {
				maxPriority = n.RoundPriority
			}
		}
		var kept []*graph.Node
		var deferred []*graph.Node
		for _, n := range eligible {
			if n.RoundPriority == maxPriority {
				kept = append(kept, n)
			} else {
				deferred = append(deferred, n)
			}
		}

		sort.Slice(kept, func(i, j int) bool { return comparesTo(kept[i], kept[j]) < 0 })

		rounds = append(rounds, kept)
		for _, n := range kept {
			installed[n] = true
		}

		worklist = append(deferred, remaining...)
	}

	output := make([]model.FeatureSet, 0, len(result.Worklist)+len(result.Legacy))

	legacyOrdered, err := legacyOrder(result.Legacy, overrideInstallOrder)
	if err != nil {
		return nil, err
	}
	for _, n := range legacyOrdered {
		output = append(output, n.FeatureSet)
	}

	for _, round := range rounds {
		for _, n := range round {
			output = append(output, n.FeatureSet)
		}
	}

	return output, nil
}

// pruneSoftEdges removes installsAfter entries that no other worklist
// node satisfies via soft-dependency match (spec §4.8 step 1).
func pruneSoftEdges(worklist []*graph.Node) {
	for _, node := range worklist {
		var kept []*graph.Node
		for _, dep := range node.InstallsAfter {
			if anySatisfies(dep, worklist) {
				kept = append(kept, dep)
			}
		}
		node.InstallsAfter = kept
	}
}

func anySatisfies(dep *graph.Node, worklist []*graph.Node) bool {
	for _, n := range worklist {
		if sourceEquivalent(n.FeatureSet.Source, dep.FeatureSet.Source) {
			return true
		}
	}
	return false
}

func sourceEquivalent(a, b model.SourceDescriptor) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case model.SourceOCI:
		return a.Resource == b.Resource
	case model.SourceFilePath:
		return a.Path == b.Path
	default:
		return false
	}
}

// isEligible implements spec §4.8 step 2a: no outstanding dependsOn, and
// every installsAfter entry has an installed soft-dependency match, or the
// node carries no edges at all.
func isEligible(node *graph.Node, installed map[*graph.Node]bool) bool {
	if len(node.DependsOn) == 0 && len(node.InstallsAfter) == 0 {
		return true
	}
	for _, dep := range node.DependsOn {
		if !installedEquivalent(dep, installed) {
			return false
		}
	}
	for _, dep := range node.InstallsAfter {
		if !installedEquivalent(dep, installed) {
			return false
		}
	}
	return true
}

func installedEquivalent(dep *graph.Node, installed map[*graph.Node]bool) bool {
	for n := range installed {
		if sourceEquivalent(n.FeatureSet.Source, dep.FeatureSet.Source) {
			return true
		}
	}
	return false
}

// comparesTo implements the total order from spec §4.8 step 2d.
func comparesTo(a, b *graph.Node) int {
	aSource, bSource := a.FeatureSet.Source, b.FeatureSet.Source
	if aSource.Kind != bSource.Kind {
		return cmpString(a.UserID, b.UserID)
	}
	switch aSource.Kind {
	case model.SourceOCI:
		if c := cmpString(aSource.Resource, bSource.Resource); c != 0 {
			return c
		}
		if c := cmpString(aSource.Reference, bSource.Reference); c != 0 {
			return c
		}
		if c := cmpOptions(a.Options, b.Options); c != 0 {
			return c
		}
		return cmpString(a.FeatureSet.ManifestDigest, b.FeatureSet.ManifestDigest)
	case model.SourceFilePath:
		if c := cmpString(aSource.Path, bSource.Path); c != 0 {
			return c
		}
		return cmpOptions(a.Options, b.Options)
	default:
		return cmpString(a.UserID, b.UserID)
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpOptions(a, b map[string]model.OptionValue) int {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		av, aok := a[k]
		bv, bok := b[k]
		if aok != bok {
			if !aok {
				return -1
			}
			return 1
		}
		if c := av.Compare(bv); c != 0 {
			return c
		}
	}
	return 0
}
