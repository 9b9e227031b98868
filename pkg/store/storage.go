package store

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/scholargraph/pkg/common"
)

var (
	// ErrNotFound is returned by point lookups when the id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps connection level failures of a backing store.
	ErrUnavailable = errors.New("store unavailable")
	// ErrMissingEndpoint is returned when an edge references an unknown node.
	ErrMissingEndpoint = errors.New("edge endpoint does not exist")
	// ErrTypeMismatch is returned when an upsert would change a node's type.
	ErrTypeMismatch = errors.New("node type cannot change")
)

// Direction controls which edge orientation a traversal may follow.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
	DirectionAny      Direction = "any"
)

// NodeFilter selects nodes by type and exact property values.
//
// VisibleTo restricts results to public nodes and nodes owned by that user.
// An empty VisibleTo applies no visibility restriction.
type NodeFilter struct {
	Type       common.NodeType
	Label      string
	Properties map[string]any
	VisibleTo  string
	Limit      int
}

// EdgeFilter selects edges by label, endpoint and exact property values.
type EdgeFilter struct {
	Label      string
	SourceID   string
	TargetID   string
	Properties map[string]any
	Limit      int
}

// TraverseOptions bounds a breadth-first walk from a start node.
//
// Nodes at a distance in [MinDepth, MaxDepth] are returned together with the
// edges used to reach them. EdgeLabels, when set, restricts the walk to those
// labels. VisibleTo has the same meaning as in NodeFilter and also prevents the
// walk from passing through nodes the user cannot see.
type TraverseOptions struct {
	MinDepth   int
	MaxDepth   int
	Direction  Direction
	EdgeLabels []string
	VisibleTo  string
}

// DefaultTraverseOptions are the bounds used by the retrieval engine.
func DefaultTraverseOptions() TraverseOptions {
	return TraverseOptions{
		MinDepth:  1,
		MaxDepth:  2,
		Direction: DirectionAny,
	}
}

// TraversalResult holds the nodes and edges touched by one traversal. Each
// node and edge appears at most once.
type TraversalResult struct {
	Nodes []common.Node
	Edges []common.Edge
}

// GraphStorage is the property-graph store used by ingestion and retrieval.
type GraphStorage interface {
	UpsertNode(ctx context.Context, node common.Node) error
	UpsertEdge(ctx context.Context, edge common.Edge) error

	GetNode(ctx context.Context, id string) (common.Node, error)
	GetEdge(ctx context.Context, id string) (common.Edge, error)

	QueryNodes(ctx context.Context, filter NodeFilter) ([]common.Node, error)
	QueryEdges(ctx context.Context, filter EdgeFilter) ([]common.Edge, error)

	Traverse(ctx context.Context, startID string, opts TraverseOptions) (TraversalResult, error)

	// DeleteNode removes a node and every edge incident to it.
	DeleteNode(ctx context.Context, id string) error
	DeleteEdge(ctx context.Context, id string) error
}

// VectorRecord is a single embedding stored in a namespace.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Metadata  map[string]any
}

// VectorMatch is a search hit. Score is a similarity where higher is better.
type VectorMatch struct {
	ID        string         `json:"id"`
	Namespace string         `json:"namespace"`
	Score     float64        `json:"score"`
	Metadata  map[string]any `json:"metadata"`
}

// DocID returns the document id a match belongs to, falling back to the
// vector id for records written without one.
func (m VectorMatch) DocID() string {
	if id := common.StringProp(m.Metadata, common.PropDocID); id != "" {
		return id
	}
	return m.ID
}

// VectorStorage is a namespaced vector index.
type VectorStorage interface {
	Upsert(ctx context.Context, namespace string, records []VectorRecord) error
	// Search returns at most topK matches ordered by descending score. Filter
	// keeps only records whose metadata equals every given value.
	Search(ctx context.Context, namespace string, embedding []float32, topK int, filter map[string]any) ([]VectorMatch, error)
	Delete(ctx context.Context, namespace string, ids ...string) error
}

// PublicNamespace is the vector namespace shared by every user.
const PublicNamespace = "public"

// Visible reports whether a node may be shown to userID. An empty userID
// means no restriction.
func Visible(n common.Node, userID string) bool {
	if userID == "" {
		return true
	}
	return n.IsPublic() || n.OwnerID() == userID
}

// EdgeVisible is Visible for edges. A private edge may join two public
// nodes, so the edge is checked on its own.
func EdgeVisible(e common.Edge, userID string) bool {
	if userID == "" {
		return true
	}
	return e.IsPublic() || e.OwnerID() == userID
}

// MatchesProperties reports whether props holds every key in want with an
// equal scalar value.
func MatchesProperties(props map[string]any, want map[string]any) bool {
	for k, v := range want {
		got, ok := props[k]
		if !ok || !scalarEqual(got, v) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b any) bool {
	switch av := a.(type) {
	case float64:
		switch bv := b.(type) {
		case float64:
			return av == bv
		case int:
			return av == float64(bv)
		}
	case int:
		switch bv := b.(type) {
		case int:
			return av == bv
		case float64:
			return float64(av) == bv
		}
	case string, bool:
		return a == b
	}
	return false
}
