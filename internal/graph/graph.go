// Package graph provides a dependency graph for stage scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrCycleDetected indicates a circular dependency was found in the stage graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// Node is one vertex of the graph: an ID and the IDs it depends on.
type Node struct {
	ID        string
	DependsOn []string
}

// DependencyGraph represents a directed acyclic graph of stage dependencies.
// Nodes are stages, and edges represent "blocked by" relationships.
// It tracks per-run progress: which nodes have started and which are complete.
type DependencyGraph struct {
	mu sync.RWMutex
	// order keeps node IDs in insertion order for deterministic iteration.
	order []string
	// nodes is the set of known node IDs.
	nodes map[string]bool
	// edges maps node ID to IDs of nodes it depends on (is blocked by).
	edges map[string][]string
	// started tracks nodes handed out by TakeReady or marked started.
	started map[string]bool
	// completed tracks which nodes have been marked complete.
	completed map[string]bool
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[string]bool),
		edges:     make(map[string][]string),
		started:   make(map[string]bool),
		completed: make(map[string]bool),
		debugLog:  func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the dependency graph from a slice of nodes.
// Returns an error on duplicate IDs, unknown dependencies, or a cycle.
func (g *DependencyGraph) Build(nodes []Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d nodes", len(nodes))

	// First pass: register all nodes.
	for _, n := range nodes {
		if n.ID == "" {
			return errors.New("node with empty id")
		}
		if g.nodes[n.ID] {
			return fmt.Errorf("duplicate node %s", n.ID)
		}
		g.nodes[n.ID] = true
		g.order = append(g.order, n.ID)
		g.edges[n.ID] = nil
	}

	// Second pass: build edges from DependsOn.
	for _, n := range nodes {
		seen := make(map[string]bool, len(n.DependsOn))
		for _, depID := range n.DependsOn {
			if !g.nodes[depID] {
				return fmt.Errorf("node %s depends on unknown node %s", n.ID, depID)
			}
			if seen[depID] {
				continue
			}
			seen[depID] = true
			g.edges[n.ID] = append(g.edges[n.ID], depID)
		}
	}

	g.debugLog("[graph.Build] edges: %v", g.edges)

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}
	return nil
}

// Clone returns a copy of the graph structure with fresh progress tracking.
func (g *DependencyGraph) Clone() *DependencyGraph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c := New()
	c.debugLog = g.debugLog
	c.order = append([]string(nil), g.order...)
	for id := range g.nodes {
		c.nodes[id] = true
		c.edges[id] = append([]string(nil), g.edges[id]...)
	}
	return c
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked is the internal implementation that assumes the lock is held.
func (g *DependencyGraph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Back edge.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalSort returns node IDs in an order where all dependencies
// come before the nodes that depend on them.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.nodes))
	result := make([]string, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	for _, id := range g.order {
		visit(id)
	}
	return result, nil
}

// Sinks returns the IDs of nodes nothing depends on, in insertion order.
func (g *DependencyGraph) Sinks() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	hasDependents := make(map[string]bool, len(g.nodes))
	for _, deps := range g.edges {
		for _, d := range deps {
			hasDependents[d] = true
		}
	}
	var sinks []string
	for _, id := range g.order {
		if !hasDependents[id] {
			sinks = append(sinks, id)
		}
	}
	return sinks
}

// GetReady returns IDs of nodes whose dependencies are all complete and that
// have neither started nor completed, in insertion order.
func (g *DependencyGraph) GetReady() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.readyLocked()
}

func (g *DependencyGraph) readyLocked() []string {
	var ready []string
	for _, id := range g.order {
		if g.completed[id] || g.started[id] {
			continue
		}
		allDepsComplete := true
		for _, depID := range g.edges[id] {
			if !g.completed[depID] {
				allDepsComplete = false
				break
			}
		}
		if allDepsComplete {
			ready = append(ready, id)
		}
	}
	return ready
}

// TakeReady returns the ready nodes and marks them started in one step, so a
// node is never handed out twice.
func (g *DependencyGraph) TakeReady() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ready := g.readyLocked()
	for _, id := range ready {
		g.started[id] = true
	}
	if len(ready) > 0 {
		g.debugLog("[graph.TakeReady] promoting %v", ready)
	}
	return ready
}

// MarkComplete marks a node as completed. This affects subsequent calls to GetReady.
func (g *DependencyGraph) MarkComplete(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.MarkComplete] %s", id)
	g.completed[id] = true
}

// IsComplete reports whether the node has been marked complete.
func (g *DependencyGraph) IsComplete(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.completed[id]
}

// IsStarted reports whether the node has been handed out for execution.
func (g *DependencyGraph) IsStarted(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.started[id]
}

// Has reports whether the graph contains the node.
func (g *DependencyGraph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// Size returns the number of nodes in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependencies returns the IDs of nodes that the given node depends on.
func (g *DependencyGraph) GetDependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[id]...)
}

// GetDependents returns the IDs of nodes that depend on the given node, sorted.
func (g *DependencyGraph) GetDependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for nodeID, deps := range g.edges {
		for _, depID := range deps {
			if depID == id {
				dependents = append(dependents, nodeID)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// GetCompletedIDs returns the IDs of all nodes marked as completed, sorted.
func (g *DependencyGraph) GetCompletedIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []string
	for id, done := range g.completed {
		if done {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
