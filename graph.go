package colony

import (
	"fmt"
	"strings"
	"sync"
)

// SpawnGraph records parent→child delegations process-wide. Edges are
// append-only behind a short-held mutex; duplicates and self-loops are not
// recorded. No cycle can form by construction because every child is a
// fresh spawn.
type SpawnGraph struct {
	mu    sync.Mutex
	edges []SpawnEdge
	seen  map[SpawnEdge]struct{}
}

// NewSpawnGraph returns an empty graph.
func NewSpawnGraph() *SpawnGraph {
	return &SpawnGraph{seen: map[SpawnEdge]struct{}{}}
}

// Record appends the (parent, child) edge and reports whether it was new.
// Self-loops and already-recorded pairs are ignored.
func (g *SpawnGraph) Record(parent, child AgentRef) bool {
	if parent == child || parent.Role == "" || child.Role == "" {
		return false
	}
	edge := SpawnEdge{Parent: parent, Child: child}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, dup := g.seen[edge]; dup {
		return false
	}
	g.seen[edge] = struct{}{}
	g.edges = append(g.edges, edge)
	return true
}

// Snapshot returns the edges in insertion order.
func (g *SpawnGraph) Snapshot() []SpawnEdge {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]SpawnEdge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Len returns the number of recorded edges.
func (g *SpawnGraph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.edges)
}

// Mermaid renders the snapshot as a mermaid flowchart. Agents are aliased
// by "{role}_{id[:8]}".
func (g *SpawnGraph) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	for _, e := range g.Snapshot() {
		fmt.Fprintf(&b, "    %s --> %s\n", graphAlias(e.Parent), graphAlias(e.Child))
	}
	return b.String()
}

// DOT renders the snapshot in graphviz dot syntax, same aliasing as Mermaid.
func (g *SpawnGraph) DOT() string {
	var b strings.Builder
	b.WriteString("digraph spawns {\n")
	for _, e := range g.Snapshot() {
		fmt.Fprintf(&b, "  %q -> %q;\n", graphAlias(e.Parent), graphAlias(e.Child))
	}
	b.WriteString("}\n")
	return b.String()
}

func graphAlias(r AgentRef) string {
	id := r.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return r.Role + "_" + id
}
