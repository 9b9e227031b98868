package query

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"
	"github.com/OFFIS-RIT/scholargraph/pkg/store"

	"golang.org/x/sync/errgroup"
)

// DefaultTopK is the number of vector matches requested per query.
const DefaultTopK = 10

// VectorSearcher searches the user's vector namespace and, depending on the
// scope, the shared public namespace.
type VectorSearcher struct {
	vectors store.VectorStorage
	tracer  Tracer
}

func NewVectorSearcher(vectors store.VectorStorage, tracer Tracer) *VectorSearcher {
	return &VectorSearcher{vectors: vectors, tracer: tracer}
}

// Search returns at most topK matches ordered by descending score with every
// document represented once. A failing public search only drops the public
// contribution. A failing user search is returned as an error.
func (v *VectorSearcher) Search(
	ctx context.Context,
	embedding []float32,
	scope common.QueryScope,
	userID string,
	topK int,
) ([]store.VectorMatch, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if userID == "" {
		return nil, errors.New("vector search: missing user id")
	}

	var own, shared []store.VectorMatch
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := v.vectors.Search(gctx, userID, embedding, topK, nil)
		if err != nil {
			return fmt.Errorf("search namespace %s: %w", userID, err)
		}
		own = res
		return nil
	})
	if scope.IncludesPublic() && userID != store.PublicNamespace {
		g.Go(func() error {
			res, err := v.vectors.Search(gctx, store.PublicNamespace, embedding, topK, nil)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Warn("[Query] Public vector search failed", "err", err)
				}
				recordFailure(v.tracer, "public_vector_search", err)
				return nil
			}
			shared = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		recordFailure(v.tracer, "user_vector_search", err)
		return nil, err
	}

	merged := mergeMatches(topK, own, shared)
	docIDs := make([]string, 0, len(merged))
	for _, m := range merged {
		docIDs = append(docIDs, m.DocID())
	}
	recordIDs(v.tracer, TraceEventConsideredDocIDs, docIDs...)
	return merged, nil
}

// mergeMatches sorts all matches by score, keeps the best match per document
// and cuts the result to topK.
func mergeMatches(topK int, lists ...[]store.VectorMatch) []store.VectorMatch {
	var all []store.VectorMatch
	for _, l := range lists {
		all = append(all, l...)
	}
	slices.SortStableFunc(all, func(a, b store.VectorMatch) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	seen := make(map[string]struct{}, len(all))
	out := make([]store.VectorMatch, 0, min(topK, len(all)))
	for _, m := range all {
		id := m.DocID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, m)
		if len(out) == topK {
			break
		}
	}
	return out
}
