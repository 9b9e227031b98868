// Package memory provides in-process implementations of the graph and vector
// stores. They are used for local development without postgres and as test
// doubles.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/store"
)

// GraphStore is a thread-safe property graph held in memory. Iteration order
// follows insertion order so traversals are deterministic.
type GraphStore struct {
	mu sync.RWMutex

	nodes     map[string]common.Node
	nodeOrder []string
	edges     map[string]common.Edge
	edgeOrder []string

	out map[string][]string
	in  map[string][]string
}

func NewGraphStore() *GraphStore {
	return &GraphStore{
		nodes: make(map[string]common.Node),
		edges: make(map[string]common.Edge),
		out:   make(map[string][]string),
		in:    make(map[string][]string),
	}
}

func cloneNode(n common.Node) common.Node {
	n.Properties = maps.Clone(n.Properties)
	return n
}

func cloneEdge(e common.Edge) common.Edge {
	e.Properties = maps.Clone(e.Properties)
	return e
}

func (g *GraphStore) UpsertNode(ctx context.Context, node common.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.nodes[node.ID]; ok {
		if existing.Type != node.Type {
			return fmt.Errorf("%w: %s is %s, not %s", store.ErrTypeMismatch, node.ID, existing.Type, node.Type)
		}
	} else {
		g.nodeOrder = append(g.nodeOrder, node.ID)
	}
	g.nodes[node.ID] = cloneNode(node)
	return nil
}

func (g *GraphStore) UpsertEdge(ctx context.Context, edge common.Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[edge.SourceID]; !ok {
		return fmt.Errorf("%w: source %s", store.ErrMissingEndpoint, edge.SourceID)
	}
	if _, ok := g.nodes[edge.TargetID]; !ok {
		return fmt.Errorf("%w: target %s", store.ErrMissingEndpoint, edge.TargetID)
	}

	if existing, ok := g.edges[edge.ID]; ok {
		if existing.SourceID != edge.SourceID || existing.TargetID != edge.TargetID {
			g.unlinkEdge(existing)
			g.linkEdge(edge)
		}
	} else {
		g.edgeOrder = append(g.edgeOrder, edge.ID)
		g.linkEdge(edge)
	}
	g.edges[edge.ID] = cloneEdge(edge)
	return nil
}

func (g *GraphStore) linkEdge(e common.Edge) {
	g.out[e.SourceID] = append(g.out[e.SourceID], e.ID)
	g.in[e.TargetID] = append(g.in[e.TargetID], e.ID)
}

func (g *GraphStore) unlinkEdge(e common.Edge) {
	g.out[e.SourceID] = slices.DeleteFunc(g.out[e.SourceID], func(id string) bool { return id == e.ID })
	g.in[e.TargetID] = slices.DeleteFunc(g.in[e.TargetID], func(id string) bool { return id == e.ID })
}

func (g *GraphStore) GetNode(ctx context.Context, id string) (common.Node, error) {
	if err := ctx.Err(); err != nil {
		return common.Node{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return common.Node{}, fmt.Errorf("node %s: %w", id, store.ErrNotFound)
	}
	return cloneNode(n), nil
}

func (g *GraphStore) GetEdge(ctx context.Context, id string) (common.Edge, error) {
	if err := ctx.Err(); err != nil {
		return common.Edge{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.edges[id]
	if !ok {
		return common.Edge{}, fmt.Errorf("edge %s: %w", id, store.ErrNotFound)
	}
	return cloneEdge(e), nil
}

func (g *GraphStore) QueryNodes(ctx context.Context, filter store.NodeFilter) ([]common.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []common.Node
	for _, id := range g.nodeOrder {
		n := g.nodes[id]
		if filter.Type != "" && n.Type != filter.Type {
			continue
		}
		if filter.Label != "" && n.Label != filter.Label {
			continue
		}
		if !store.MatchesProperties(n.Properties, filter.Properties) {
			continue
		}
		if !store.Visible(n, filter.VisibleTo) {
			continue
		}
		out = append(out, cloneNode(n))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (g *GraphStore) QueryEdges(ctx context.Context, filter store.EdgeFilter) ([]common.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []common.Edge
	for _, id := range g.edgeOrder {
		e := g.edges[id]
		if filter.Label != "" && e.Label != filter.Label {
			continue
		}
		if filter.SourceID != "" && e.SourceID != filter.SourceID {
			continue
		}
		if filter.TargetID != "" && e.TargetID != filter.TargetID {
			continue
		}
		if !store.MatchesProperties(e.Properties, filter.Properties) {
			continue
		}
		out = append(out, cloneEdge(e))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Traverse walks the graph breadth first. Every node is visited once at its
// shortest distance from the start, so a node reachable by several paths is
// returned once and nodes beyond MaxDepth are never reached.
func (g *GraphStore) Traverse(ctx context.Context, startID string, opts store.TraverseOptions) (store.TraversalResult, error) {
	if err := ctx.Err(); err != nil {
		return store.TraversalResult{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	start, ok := g.nodes[startID]
	if !ok {
		return store.TraversalResult{}, fmt.Errorf("node %s: %w", startID, store.ErrNotFound)
	}
	if !store.Visible(start, opts.VisibleTo) {
		return store.TraversalResult{}, nil
	}
	if opts.Direction == "" {
		opts.Direction = store.DirectionAny
	}

	var res store.TraversalResult
	depth := map[string]int{startID: 0}
	seenEdges := make(map[string]struct{})
	frontier := []string{startID}

	for d := 0; d < opts.MaxDepth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, step := range g.steps(id, opts) {
				neighbour := g.nodes[step.to]
				if !store.EdgeVisible(step.edge, opts.VisibleTo) || !store.Visible(neighbour, opts.VisibleTo) {
					continue
				}
				if d+1 >= opts.MinDepth {
					if _, dup := seenEdges[step.edge.ID]; !dup {
						seenEdges[step.edge.ID] = struct{}{}
						res.Edges = append(res.Edges, cloneEdge(step.edge))
					}
				}
				if _, visited := depth[step.to]; visited {
					continue
				}
				depth[step.to] = d + 1
				next = append(next, step.to)
				if d+1 >= opts.MinDepth {
					res.Nodes = append(res.Nodes, cloneNode(neighbour))
				}
			}
		}
		frontier = next
	}

	return res, nil
}

type step struct {
	edge common.Edge
	to   string
}

func (g *GraphStore) steps(id string, opts store.TraverseOptions) []step {
	var out []step
	accept := func(e common.Edge) bool {
		return len(opts.EdgeLabels) == 0 || slices.Contains(opts.EdgeLabels, e.Label)
	}
	if opts.Direction == store.DirectionOutbound || opts.Direction == store.DirectionAny {
		for _, eid := range g.out[id] {
			e := g.edges[eid]
			if accept(e) {
				out = append(out, step{edge: e, to: e.TargetID})
			}
		}
	}
	if opts.Direction == store.DirectionInbound || opts.Direction == store.DirectionAny {
		for _, eid := range g.in[id] {
			e := g.edges[eid]
			if accept(e) {
				out = append(out, step{edge: e, to: e.SourceID})
			}
		}
	}
	return out
}

func (g *GraphStore) DeleteNode(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("node %s: %w", id, store.ErrNotFound)
	}
	incident := slices.Concat(g.out[id], g.in[id])
	for _, eid := range incident {
		g.deleteEdgeLocked(eid)
	}
	delete(g.nodes, id)
	delete(g.out, id)
	delete(g.in, id)
	g.nodeOrder = slices.DeleteFunc(g.nodeOrder, func(v string) bool { return v == id })
	return nil
}

func (g *GraphStore) DeleteEdge(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.edges[id]; !ok {
		return fmt.Errorf("edge %s: %w", id, store.ErrNotFound)
	}
	g.deleteEdgeLocked(id)
	return nil
}

func (g *GraphStore) deleteEdgeLocked(id string) {
	e, ok := g.edges[id]
	if !ok {
		return
	}
	g.unlinkEdge(e)
	delete(g.edges, id)
	g.edgeOrder = slices.DeleteFunc(g.edgeOrder, func(v string) bool { return v == id })
}

// Stats returns the number of stored nodes and edges.
func (g *GraphStore) Stats() (nodes, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.edges)
}
