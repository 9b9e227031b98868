package memory

import (
	"context"
	"testing"

	"github.com/OFFIS-RIT/scholargraph/pkg/store"
)

func TestVectorStore_SearchOrdersAndFilters(t *testing.T) {
	ctx := context.Background()
	v := NewVectorStore()

	err := v.Upsert(ctx, "user-1", []store.VectorRecord{
		{ID: "a", Embedding: []float32{1, 0}, Metadata: map[string]any{"doc_id": "a", "is_public": true}},
		{ID: "b", Embedding: []float32{0, 1}, Metadata: map[string]any{"doc_id": "b", "is_public": false}},
		{ID: "c", Embedding: []float32{1, 1}, Metadata: map[string]any{"doc_id": "c", "is_public": true}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := v.Search(ctx, "user-1", []float32{1, 0}, 2, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[0].Namespace != "user-1" {
		t.Fatalf("expected namespace to be set, got %q", got[0].Namespace)
	}

	got, err = v.Search(ctx, "user-1", []float32{0, 1}, 10, map[string]any{"is_public": true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, m := range got {
		if m.ID == "b" {
			t.Fatalf("filter did not exclude private record")
		}
	}

	if err := v.Delete(ctx, "user-1", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = v.Search(ctx, "user-1", []float32{1, 0}, 10, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 records after delete, got %d", len(got))
	}

	got, _ = v.Search(ctx, "nobody", []float32{1, 0}, 10, nil)
	if len(got) != 0 {
		t.Fatalf("expected empty namespace, got %d", len(got))
	}
}
