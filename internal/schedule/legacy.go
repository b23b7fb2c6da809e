package schedule

import (
	"sort"

	"github.com/opendevcontainers/feature-engine/internal/graph"
)

// legacyOrder implements spec §4.8.1: build adjacency from installsAfter
// targets that match another legacy Feature's name, legacy alias, or
// current id; topologically sort roots first, breadth-first by
// unblocking successors, lexicographic tie-breaking within a wave. If
// overrideInstallOrder names legacy Features, they are extracted in the
// given order and prepended; the remaining topological result follows.
func legacyOrder(legacy []*graph.Node, overrideInstallOrder []string) ([]*graph.Node, error) {
	if len(legacy) == 0 {
		return nil, nil
	}

	byUserID := make(map[string]*graph.Node, len(legacy))
	for _, n := range legacy {
		byUserID[n.UserID] = n
	}

	var prefix []*graph.Node
	extracted := make(map[*graph.Node]bool)
	for _, id := range overrideInstallOrder {
		if n, ok := byUserID[id]; ok && !extracted[n] {
			prefix = append(prefix, n)
			extracted[n] = true
		}
	}

	remaining := make([]*graph.Node, 0, len(legacy))
	for _, n := range legacy {
		if !extracted[n] {
			remaining = append(remaining, n)
		}
	}
	if len(remaining) == 0 {
		return prefix, nil
	}

	identities := func(n *graph.Node) []string {
		ids := []string{n.UserID, n.FeatureSet.Metadata.ID, n.FeatureSet.Metadata.CurrentID}
		ids = append(ids, n.FeatureSet.Metadata.LegacyIDs...)
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if id != "" {
				out = append(out, id)
			}
		}
		return out
	}

	byIdentity := make(map[string]*graph.Node)
	for _, n := range remaining {
		for _, id := range identities(n) {
			byIdentity[id] = n
		}
	}

	// predecessors[n] = nodes that must be installed before n (n's
	// installsAfter targets); successors[n] = nodes unblocked by n.
	predecessorCount := make(map[*graph.Node]int, len(remaining))
	successors := make(map[*graph.Node][]*graph.Node, len(remaining))
	for _, n := range remaining {
		for _, target := range n.FeatureSet.Metadata.InstallsAfter {
			pred, ok := byIdentity[target]
			if !ok || pred == n {
				continue
			}
			predecessorCount[n]++
			successors[pred] = append(successors[pred], n)
		}
	}

	var wave []*graph.Node
	for _, n := range remaining {
		if predecessorCount[n] == 0 {
			wave = append(wave, n)
		}
	}

	var ordered []*graph.Node
	visited := make(map[*graph.Node]bool, len(remaining))
	for len(wave) > 0 {
		sort.Slice(wave, func(i, j int) bool { return wave[i].UserID < wave[j].UserID })
		var next []*graph.Node
		for _, n := range wave {
			if visited[n] {
				continue
			}
			visited[n] = true
			ordered = append(ordered, n)
			for _, succ := range successors[n] {
				predecessorCount[succ]--
				if predecessorCount[succ] == 0 && !visited[succ] {
					next = append(next, succ)
				}
			}
		}
		wave = next
	}

	if len(ordered) != len(remaining) {
		names := make([]string, 0, len(remaining))
		for _, n := range remaining {
			if !visited[n] {
				names = append(names, n.UserID)
			}
		}
		return nil, &CycleError{Remaining: names}
	}

	return append(prefix, ordered...), nil
}
