package query

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/scholargraph/internal/util"
	"github.com/OFFIS-RIT/scholargraph/pkg/ai"
	"github.com/OFFIS-RIT/scholargraph/pkg/cache"
	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/store"
	"github.com/OFFIS-RIT/scholargraph/pkg/store/memory"

	"github.com/alicebob/miniredis/v2"
)

func init() {
	util.RetryBaseDelay = 0
}

// fakeAI is a scripted embedder and generator.
type fakeAI struct {
	mu sync.Mutex

	embedding     []float32
	embedErr      error
	answer        string
	answerErr     error
	structured    map[string]string
	structuredErr error

	prompts     []string
	completions int
}

func (f *fakeAI) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.embedding, nil
}

func (f *fakeAI) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		e, err := f.GenerateEmbedding(ctx, inputs[i])
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (f *fakeAI) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions++
	f.prompts = append(f.prompts, prompt)
	return f.answer, f.answerErr
}

func (f *fakeAI) GenerateCompletionWithFormat(ctx context.Context, name, desc, prompt string, out any, opts ...ai.GenerateOption) error {
	if f.structuredErr != nil {
		return f.structuredErr
	}
	raw, ok := f.structured[name]
	if !ok {
		return errors.New("no scripted reply for " + name)
	}
	return json.Unmarshal([]byte(raw), out)
}

type staticGraph string

func (s staticGraph) Retrieve(context.Context, string, string) string { return string(s) }

type countingObserver struct {
	mu       sync.Mutex
	hits     int
	misses   int
	degraded int
}

func (o *countingObserver) CacheLookup(hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func (o *countingObserver) QueryAnswered(_ common.QueryType, _ time.Duration, degraded bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if degraded {
		o.degraded++
	}
}

func seededVectors(t *testing.T) *memory.VectorStore {
	t.Helper()
	vs := memory.NewVectorStore()
	err := vs.Upsert(context.Background(), "alice", []store.VectorRecord{
		{
			ID:        "alice_d1",
			Embedding: []float32{1, 0},
			Metadata: map[string]any{
				common.PropDocID:   "d1",
				common.PropTitle:   "Attention Is All You Need",
				common.PropAuthors: []string{"Vaswani", "Shazeer"},
				"text_preview":     "We propose the Transformer...",
			},
		},
		{
			ID:        "alice_d2",
			Embedding: []float32{0.6, 0.8},
			Metadata: map[string]any{
				common.PropDocID: "d2",
				common.PropTitle: "Uncited Paper",
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return vs
}

func newTestAnswerer(t *testing.T, gen *fakeAI, c cache.Cache, opts ...AnswerOption) *Answerer {
	t.Helper()
	a, err := NewAnswerer(NewAnswererParams{
		Embedder:  gen,
		Generator: gen,
		Vectors:   NewVectorSearcher(seededVectors(t), nil),
		Graph:     staticGraph(`("Transformer") --[uses]--> ("attention")`),
		Cache:     c,
	}, opts...)
	if err != nil {
		t.Fatalf("NewAnswerer() error = %v", err)
	}
	return a
}

func TestAnswerer_AnswersWithCitationsAndFollowUps(t *testing.T) {
	gen := &fakeAI{
		embedding: []float32{1, 0},
		answer:    "The paper Attention Is All You Need introduced the Transformer.",
		structured: map[string]string{
			"follow_up_questions": `{"questions": ["What is self-attention?", " ", "Who cited it?", "Why?", "How fast?"]}`,
		},
	}
	a := newTestAnswerer(t, gen, cache.NewMemoryCache())

	resp := a.Answer(context.Background(), common.Query{Text: "What is a transformer?", UserID: "alice", Type: common.QueryTypeRelational})

	if resp.QueryID == "" || resp.QueryID == DegradedQueryID {
		t.Fatalf("QueryID = %q", resp.QueryID)
	}
	if resp.Confidence != 0.8 {
		t.Fatalf("Confidence = %v, want 0.8", resp.Confidence)
	}
	if len(resp.Citations) != 1 {
		t.Fatalf("citations = %+v, want one", resp.Citations)
	}
	c := resp.Citations[0]
	if c.PaperID != "d1" || c.PaperTitle != "Attention Is All You Need" || len(c.Authors) != 2 {
		t.Fatalf("citation = %+v", c)
	}
	if !strings.Contains(c.TextSegment, "Attention Is All You Need") || c.Confidence <= 0 || c.Confidence > 1 {
		t.Fatalf("citation segment/confidence = %q / %v", c.TextSegment, c.Confidence)
	}
	want := []string{"What is self-attention?", "Who cited it?", "Why?"}
	if strings.Join(resp.FollowUpQuestions, "|") != strings.Join(want, "|") {
		t.Fatalf("follow-ups = %v, want %v", resp.FollowUpQuestions, want)
	}

	prompt := gen.prompts[0]
	for _, part := range []string{
		ai.AnswerTemplates["relational"].Persona,
		"QUESTION: What is a transformer?",
		"Paper 1: Attention Is All You Need",
		"Authors: Vaswani, Shazeer",
		"Abstract: We propose the Transformer...",
		`("Transformer") --[uses]--> ("attention")`,
		"ANSWER:",
	} {
		if !strings.Contains(prompt, part) {
			t.Errorf("prompt is missing %q", part)
		}
	}
}

func TestAnswerer_CacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache(context.Background(), cache.NewRedisCacheParams{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedisCache() error = %v", err)
	}
	defer rc.Close()

	gen := &fakeAI{
		embedding:  []float32{1, 0},
		answer:     "Attention Is All You Need is the answer.",
		structured: map[string]string{"follow_up_questions": `{"questions": ["Next?"]}`},
	}
	obs := &countingObserver{}
	a := newTestAnswerer(t, gen, rc, WithObserver(obs), WithCacheTTL(time.Minute))
	q := common.Query{Text: "Which paper introduced transformers?", UserID: "alice"}

	first := a.Answer(context.Background(), q)
	second := a.Answer(context.Background(), q)

	if gen.completions != 1 {
		t.Fatalf("generator called %d times, want 1", gen.completions)
	}
	if !first.ProcessedAt.Equal(second.ProcessedAt) {
		t.Fatalf("processed_at differs: %v vs %v", first.ProcessedAt, second.ProcessedAt)
	}
	cached := second
	cached.ProcessedAt = first.ProcessedAt
	if !reflect.DeepEqual(first, cached) {
		t.Fatalf("cached response differs:\n%+v\n%+v", first, second)
	}
	if len(second.Citations) != 1 || second.Citations[0].PaperID != "d1" {
		t.Fatalf("cached citations = %+v", second.Citations)
	}
	if !reflect.DeepEqual(second.FollowUpQuestions, []string{"Next?"}) {
		t.Fatalf("cached follow-ups = %v", second.FollowUpQuestions)
	}
	if obs.hits != 1 || obs.misses != 1 {
		t.Fatalf("observer hits=%d misses=%d", obs.hits, obs.misses)
	}
	if ttl := mr.TTL(CacheKey("alice", q.Text)); ttl != time.Minute {
		t.Fatalf("cache ttl = %v", ttl)
	}
}

func TestAnswerer_DegradedResponseIsNotCached(t *testing.T) {
	gen := &fakeAI{embedding: []float32{1, 0}, answerErr: errors.New("model overloaded")}
	c := cache.NewMemoryCache()
	obs := &countingObserver{}
	a := newTestAnswerer(t, gen, c, WithObserver(obs))
	q := common.Query{Text: "anything", UserID: "alice"}

	resp := a.Answer(context.Background(), q)
	if resp.QueryID != DegradedQueryID || resp.Answer != DegradedAnswer || resp.Confidence != 0 {
		t.Fatalf("response = %+v, want degraded", resp)
	}
	if len(resp.Citations) != 0 || len(resp.FollowUpQuestions) != 0 {
		t.Fatalf("degraded response has citations or follow-ups: %+v", resp)
	}
	if _, ok, _ := c.Get(context.Background(), CacheKey("alice", q.Text)); ok {
		t.Fatal("degraded response was cached")
	}
	if obs.degraded != 1 {
		t.Fatalf("degraded count = %d", obs.degraded)
	}
}

func TestAnswerer_EmbeddingFailureKeepsGraphContext(t *testing.T) {
	gen := &fakeAI{
		embedErr:      errors.New("embedder down"),
		answer:        "No papers, but the graph helps.",
		structuredErr: errors.New("no follow-ups"),
	}
	a := newTestAnswerer(t, gen, nil)

	resp := a.Answer(context.Background(), common.Query{Text: "q", UserID: "alice", Type: "unheard-of"})
	if resp.QueryID == DegradedQueryID {
		t.Fatalf("response degraded: %+v", resp)
	}
	if len(resp.FollowUpQuestions) != 0 || resp.FollowUpQuestions == nil {
		t.Fatalf("follow-ups = %#v, want empty list", resp.FollowUpQuestions)
	}
	prompt := gen.prompts[0]
	if !strings.Contains(prompt, NoPapersContext) || !strings.Contains(prompt, "--[uses]-->") {
		t.Fatalf("prompt = %s", prompt)
	}
	if !strings.Contains(prompt, ai.GenericAnswerTemplate.Persona) {
		t.Fatal("unknown query type did not use the generic template")
	}
}

func TestCacheKey(t *testing.T) {
	a := CacheKey("alice", "what is rna?")
	if !strings.HasPrefix(a, "query:alice:") || len(a) != len("query:alice:")+64 {
		t.Fatalf("CacheKey() = %q", a)
	}
	if a == CacheKey("alice", "what is dna?") {
		t.Fatal("different questions share a key")
	}
	if a == CacheKey("bob", "what is rna?") {
		t.Fatal("different users share a key")
	}
}

func TestContextBlockRespectsBudget(t *testing.T) {
	gen := &fakeAI{}
	a := newTestAnswerer(t, gen, nil, WithContextTokens(40))
	long := strings.Repeat("token ", 500)
	matches := []store.VectorMatch{
		{ID: "1", Score: 0.9, Metadata: map[string]any{common.PropTitle: "First", common.PropAbstract: "short"}},
		{ID: "2", Score: 0.8, Metadata: map[string]any{common.PropTitle: "Second", common.PropAbstract: long}},
	}

	block := a.contextBlock(matches)
	if !strings.Contains(block, "Paper 1: First") || strings.Contains(block, "Second") {
		t.Fatalf("block = %q", block)
	}
	if n := ai.CountTokens(block); n > 40 {
		t.Fatalf("block has %d tokens, budget 40", n)
	}

	one := a.contextBlock(matches[1:])
	if n := ai.CountTokens(one); n > 40 || !strings.HasPrefix(one, "Paper 1: Second") {
		t.Fatalf("oversized first paper not truncated: %d tokens", n)
	}
}

func TestSnippetUsesRunes(t *testing.T) {
	text := strings.Repeat("ü", 60) + "TITLE" + strings.Repeat("é", 60)
	idx := strings.Index(text, "TITLE")
	got := snippet(text, idx, len("TITLE"), 50)
	if want := strings.Repeat("ü", 50) + "TITLE" + strings.Repeat("é", 50); got != want {
		t.Fatalf("snippet() = %q", got)
	}
}
