package memory

import (
	"context"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/OFFIS-RIT/scholargraph/pkg/store"
)

// VectorStore keeps embeddings per namespace and scores them with cosine
// similarity.
type VectorStore struct {
	mu         sync.RWMutex
	namespaces map[string][]store.VectorRecord
}

func NewVectorStore() *VectorStore {
	return &VectorStore{namespaces: make(map[string][]store.VectorRecord)}
}

func (v *VectorStore) Upsert(ctx context.Context, namespace string, records []store.VectorRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	ns := v.namespaces[namespace]
	for _, r := range records {
		r.Embedding = slices.Clone(r.Embedding)
		r.Metadata = maps.Clone(r.Metadata)
		idx := slices.IndexFunc(ns, func(existing store.VectorRecord) bool { return existing.ID == r.ID })
		if idx >= 0 {
			ns[idx] = r
			continue
		}
		ns = append(ns, r)
	}
	v.namespaces[namespace] = ns
	return nil
}

func (v *VectorStore) Search(
	ctx context.Context,
	namespace string,
	embedding []float32,
	topK int,
	filter map[string]any,
) ([]store.VectorMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []store.VectorMatch
	for _, r := range v.namespaces[namespace] {
		if !store.MatchesProperties(r.Metadata, filter) {
			continue
		}
		out = append(out, store.VectorMatch{
			ID:        r.ID,
			Namespace: namespace,
			Score:     cosine(embedding, r.Embedding),
			Metadata:  maps.Clone(r.Metadata),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (v *VectorStore) Delete(ctx context.Context, namespace string, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	v.namespaces[namespace] = slices.DeleteFunc(v.namespaces[namespace], func(r store.VectorRecord) bool {
		return slices.Contains(ids, r.ID)
	})
	return nil
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := range n {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
