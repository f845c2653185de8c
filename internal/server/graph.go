package server

import (
	"sort"
	"sync"

	"github.com/kiln-build/kiln/internal/compiler"
)

// InvalidationGraph maps module ids to the module ids that depend on them.
// It is rebuilt from each update pass and queried to compute the affected
// set for incremental hot updates.
type InvalidationGraph struct {
	mu         sync.RWMutex
	dependents map[string][]string
}

// NewInvalidationGraph creates an empty graph.
func NewInvalidationGraph() *InvalidationGraph {
	return &InvalidationGraph{dependents: make(map[string][]string)}
}

// Apply replaces the graph with the boundaries of the latest update pass.
func (g *InvalidationGraph) Apply(res *compiler.UpdateResult) {
	if res == nil || res.Boundaries == nil {
		return
	}
	next := make(map[string][]string, len(res.Boundaries))
	for id, deps := range res.Boundaries {
		next[id] = append([]string(nil), deps...)
	}

	g.mu.Lock()
	g.dependents = next
	g.mu.Unlock()
}

// SetDependents records the dependents of one module id directly.
func (g *InvalidationGraph) SetDependents(id string, dependents []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dependents[id] = append([]string(nil), dependents...)
}

// Affected returns the changed module ids plus every transitive dependent,
// deduplicated and sorted.
func (g *InvalidationGraph) Affected(changed []string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	queue := append([]string(nil), changed...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		queue = append(queue, g.dependents[id]...)
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
