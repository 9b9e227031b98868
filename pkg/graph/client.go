package graph

import (
	"errors"
	"math"

	"github.com/OFFIS-RIT/scholargraph/pkg/store"
)

// DefaultConfidence is stored on nodes and edges when the extractor did not
// report a usable confidence.
const DefaultConfidence = 0.8

// GraphClient writes extracted knowledge into a graph store. It is the only
// component that creates nodes and edges.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	store      store.GraphStorage
	confidence float64
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// Store receives every upsert. DefaultConfidence replaces extractor
// confidences outside [0, 1], common.ConfidenceUnset included, and defaults
// to 0.8.
type NewGraphClientParams struct {
	Store             store.GraphStorage
	DefaultConfidence float64
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		Store: pgx.NewGraphDBStorageWithConnection(pool),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	if params.Store == nil {
		return nil, errors.New("graph client requires a store")
	}
	conf := params.DefaultConfidence
	if conf <= 0 || conf > 1 {
		conf = DefaultConfidence
	}
	return &GraphClient{store: params.Store, confidence: conf}, nil
}

func (g *GraphClient) confidenceOr(c float64) float64 {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return g.confidence
	}
	return c
}
