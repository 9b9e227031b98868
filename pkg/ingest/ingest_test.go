package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/scholargraph/internal/util"
	"github.com/OFFIS-RIT/scholargraph/pkg/ai"
	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/graph"
	"github.com/OFFIS-RIT/scholargraph/pkg/loader"
	"github.com/OFFIS-RIT/scholargraph/pkg/store"
	"github.com/OFFIS-RIT/scholargraph/pkg/store/memory"
)

func init() {
	util.RetryBaseDelay = 0
}

type stubExtractor struct {
	entities  []common.Entity
	relations []common.Relation
	err       error
}

func (s stubExtractor) Extract(context.Context, string) ([]common.Entity, []common.Relation, error) {
	return s.entities, s.relations, s.err
}

type stubEmbedder struct {
	dim int
	err error
}

func (s stubEmbedder) GenerateEmbedding(context.Context, []byte) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	v := make([]float32, s.dim)
	for i := range v {
		v[i] = 0.1
	}
	return v, nil
}

func (s stubEmbedder) GenerateEmbeddings(ctx context.Context, in [][]byte) ([][]float32, error) {
	out := make([][]float32, len(in))
	for i := range in {
		v, err := s.GenerateEmbedding(ctx, in[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type stubMetadata struct {
	reply string
}

func (s stubMetadata) GenerateCompletion(context.Context, string, ...ai.GenerateOption) (string, error) {
	return "", errors.New("unused")
}

func (s stubMetadata) GenerateCompletionWithFormat(_ context.Context, _, _, _ string, out any, _ ...ai.GenerateOption) error {
	return json.Unmarshal([]byte(s.reply), out)
}

type fixture struct {
	svc     *Service
	objects *MemoryObjectStore
	vectors *memory.VectorStore
	graph   *memory.GraphStore
}

func crisprExtractor() stubExtractor {
	crispr := common.Entity{Text: "CRISPR", Type: common.NodeTypeConcept, Confidence: 0.9}
	jane := common.Entity{Text: "Jane Doe", Type: common.NodeTypePerson, Confidence: 0.9}
	return stubExtractor{
		entities:  []common.Entity{crispr, jane},
		relations: []common.Relation{{Source: jane, Target: crispr, Relationship: "authored_by", Confidence: 0.9}},
	}
}

func newFixture(t *testing.T, ex graph.Extractor, emb ai.Embedder, meta ai.Generator) fixture {
	t.Helper()
	f := fixture{
		objects: NewMemoryObjectStore(),
		vectors: memory.NewVectorStore(),
		graph:   memory.NewGraphStore(),
	}
	gc, err := graph.NewGraphClient(graph.NewGraphClientParams{Store: f.graph})
	if err != nil {
		t.Fatal(err)
	}
	f.svc, err = NewService(NewServiceParams{
		Objects:           f.objects,
		Loader:            loader.NewRegistry(nil),
		Extractor:         ex,
		Embedder:          emb,
		MetadataGenerator: meta,
		Vectors:           f.vectors,
		Graph:             gc,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return f
}

func TestIngest_PublicDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, crisprExtractor(), stubEmbedder{dim: 4}, nil)
	body := "CRISPR gene editing by Jane Doe. " + strings.Repeat("More text. ", 100)

	res := f.svc.Ingest(ctx, Request{
		Content:  []byte(body),
		Filename: "crispr.txt",
		IsPublic: true,
		UserID:   "u1",
	})
	if res.Status != StatusCompleted {
		t.Fatalf("Status = %s, error = %s", res.Status, res.Error)
	}
	if res.PublicEntities != 1 || res.PublicRelations != 0 || res.PrivateEntities != 1 || res.PrivateRelations != 1 {
		t.Fatalf("partition counts = %+v", res)
	}
	if res.StoredEntities != 2 || res.StoredRelations != 1 || res.EmbeddingDimension != 4 {
		t.Fatalf("stored counts = %+v", res)
	}

	raw, err := f.objects.Get(ctx, RawKey("u1", res.DocID, "crispr.txt"))
	if err != nil || string(raw) != body {
		t.Fatalf("raw object = %q, %v", raw, err)
	}
	if _, err := f.objects.Get(ctx, TextKey("u1", res.DocID)); err != nil {
		t.Fatalf("text object missing: %v", err)
	}

	pub, _ := f.vectors.Search(ctx, store.PublicNamespace, []float32{1, 1, 1, 1}, 10, nil)
	if len(pub) != 1 || pub[0].ID != res.DocID {
		t.Fatalf("public vectors = %+v", pub)
	}
	own, _ := f.vectors.Search(ctx, "u1", []float32{1, 1, 1, 1}, 10, nil)
	if len(own) != 1 || own[0].ID != "u1_"+res.DocID {
		t.Fatalf("user vectors = %+v", own)
	}
	md := own[0].Metadata
	if md[common.PropTitle] != "crispr.txt" || md["namespace"] != "u1" || md["user_id"] != "u1" {
		t.Fatalf("vector metadata = %+v", md)
	}
	if preview := md["text_preview"].(string); !strings.HasSuffix(preview, "...") || len([]rune(preview)) != 203 {
		t.Fatalf("text_preview = %q", preview)
	}

	gc, _ := graph.NewGraphClient(graph.NewGraphClientParams{Store: f.graph})
	paper, err := gc.PaperNode(ctx, res.DocID, "u1")
	if err != nil {
		t.Fatalf("PaperNode() error = %v", err)
	}
	if !paper.IsPublic() {
		t.Fatal("paper of a public document is private")
	}
	if got := common.StringProp(paper.Properties, common.PropFileHash); got != FileHash([]byte(body)) || len(got) != 32 {
		t.Fatalf("file_hash = %q", got)
	}
	if abs := common.StringProp(paper.Properties, common.PropAbstract); len([]rune(abs)) != abstractLength {
		t.Fatalf("abstract has %d runes", len([]rune(abs)))
	}
}

func TestIngest_PrivateDocumentStaysOutOfPublicNamespace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, crisprExtractor(), stubEmbedder{dim: 2}, nil)

	res := f.svc.Ingest(ctx, Request{Content: []byte("some text"), Filename: "notes.md", UserID: "u2", DocID: "fixed"})
	if res.Status != StatusCompleted || res.DocID != "fixed" {
		t.Fatalf("result = %+v", res)
	}
	if pub, _ := f.vectors.Search(ctx, store.PublicNamespace, []float32{1, 1}, 10, nil); len(pub) != 0 {
		t.Fatalf("private document leaked into public namespace: %+v", pub)
	}
	if ct := f.objects.ContentType(TextKey("u2", "fixed")); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("text content type = %q", ct)
	}
}

func TestIngest_Failures(t *testing.T) {
	tests := []struct {
		name    string
		ex      stubExtractor
		emb     stubEmbedder
		req     Request
		wantErr error
	}{
		{
			name:    "empty content",
			req:     Request{Filename: "a.txt", UserID: "u"},
			wantErr: ErrEmptyDocument,
		},
		{
			name:    "blank text",
			req:     Request{Content: []byte("\n\n  \t"), Filename: "a.txt", UserID: "u"},
			wantErr: ErrEmptyDocument,
		},
		{
			name:    "unsupported file",
			req:     Request{Content: []byte("x"), Filename: "a.docx", UserID: "u"},
			wantErr: ErrUnsupportedFile,
		},
		{
			name:    "missing user",
			req:     Request{Content: []byte("x"), Filename: "a.txt"},
			wantErr: ErrMissingUser,
		},
		{
			name:    "embedder down",
			emb:     stubEmbedder{err: store.ErrUnavailable},
			req:     Request{Content: []byte("x"), Filename: "a.txt", UserID: "u"},
			wantErr: store.ErrUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.ex, tt.emb, nil)
			res := f.svc.Ingest(context.Background(), tt.req)
			if res.Status != StatusFailed || res.Error == "" {
				t.Fatalf("result = %+v, want failed", res)
			}
			if !errors.Is(res.Err(), tt.wantErr) {
				t.Fatalf("Err() = %v, want %v", res.Err(), tt.wantErr)
			}
		})
	}
}

func TestIngest_ExtractorFailureDegrades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stubExtractor{err: store.ErrUnavailable}, stubEmbedder{dim: 2}, nil)

	res := f.svc.Ingest(ctx, Request{Content: []byte("a paper about gene drives"), Filename: "gd.txt", UserID: "u", IsPublic: true})
	if res.Status != StatusCompleted || res.Error != "" {
		t.Fatalf("result = %+v, want completed", res)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "extraction failed") {
		t.Fatalf("warnings = %v", res.Warnings)
	}
	if res.StoredEntities != 0 || res.StoredRelations != 0 || res.EmbeddingDimension != 2 {
		t.Fatalf("result = %+v", res)
	}
	if pub, _ := f.vectors.Search(ctx, store.PublicNamespace, []float32{1, 1}, 10, nil); len(pub) != 1 {
		t.Fatalf("public vectors = %+v", pub)
	}
	gc, _ := graph.NewGraphClient(graph.NewGraphClientParams{Store: f.graph})
	if _, err := gc.PaperNode(ctx, res.DocID, "u"); err != nil {
		t.Fatalf("paper node missing: %v", err)
	}
}

func TestIngest_MetadataFromModel(t *testing.T) {
	ctx := context.Background()
	meta := stubMetadata{reply: `{"title": "Gene Drives", "authors": ["Ada", " "], "publication_date": "2024", "journal": "Nature", "abstract": "We study gene drives."}`}
	f := newFixture(t, stubExtractor{}, stubEmbedder{dim: 2}, meta)

	res := f.svc.Ingest(ctx, Request{
		Content:  []byte("body"),
		Filename: "gd.txt",
		UserID:   "u",
		Metadata: Metadata{Journal: "Science"},
	})
	if res.Status != StatusCompleted {
		t.Fatalf("result = %+v", res)
	}
	own, _ := f.vectors.Search(ctx, "u", []float32{1, 1}, 1, nil)
	md := own[0].Metadata
	if md[common.PropTitle] != "Gene Drives" || md["journal"] != "Science" || md["publication_date"] != "2024" {
		t.Fatalf("metadata = %+v", md)
	}
	if authors := common.StringsProp(md, common.PropAuthors); len(authors) != 1 || authors[0] != "Ada" {
		t.Fatalf("authors = %v", authors)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, crisprExtractor(), stubEmbedder{dim: 2}, nil)
	res := f.svc.Ingest(ctx, Request{Content: []byte("CRISPR by Jane Doe"), Filename: "c.txt", UserID: "u1", IsPublic: true})
	if res.Status != StatusCompleted {
		t.Fatalf("ingest: %+v", res)
	}

	if _, err := f.svc.Delete(ctx, "u2", res.DocID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Delete(other user) error = %v", err)
	}

	del, err := f.svc.Delete(ctx, "u1", res.DocID)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if del.NodesDeleted != 3 {
		t.Fatalf("NodesDeleted = %d, want paper and two entities", del.NodesDeleted)
	}
	if nodes, edges := f.graph.Stats(); nodes != 0 || edges != 0 {
		t.Fatalf("graph still has %d nodes %d edges", nodes, edges)
	}
	for _, ns := range []string{"u1", store.PublicNamespace} {
		if got, _ := f.vectors.Search(ctx, ns, []float32{1, 1}, 10, nil); len(got) != 0 {
			t.Fatalf("namespace %s still has %+v", ns, got)
		}
	}
	if _, err := f.objects.Get(ctx, RawKey("u1", res.DocID, "c.txt")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("raw file not deleted: %v", err)
	}
}
