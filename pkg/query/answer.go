// Package query answers research questions from the vector index and the
// knowledge graph.
package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/OFFIS-RIT/scholargraph/internal/util"
	"github.com/OFFIS-RIT/scholargraph/pkg/ai"
	"github.com/OFFIS-RIT/scholargraph/pkg/cache"
	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"
	"github.com/OFFIS-RIT/scholargraph/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultCacheTTL      = time.Hour
	DefaultContextTokens = 6000
	DefaultCallTimeout   = 30 * time.Second

	// ContextPapers is the number of vector matches rendered into the prompt.
	ContextPapers = 5

	answerTemperature   = 0.2
	answerMaxTokens     = 1024
	followUpTemperature = 0.3
	followUpMaxTokens   = 200
	maxFollowUps        = 3
	snippetRadius       = 50
	answerConfidence    = 0.8
	defaultCitationConf = 0.5
	embeddingRetries    = 3
)

const (
	DegradedAnswer  = "I'm sorry, I encountered an error while processing your query. Please try again later."
	DegradedQueryID = "error"
	NoPapersContext = "No relevant research papers found for this query."
)

// VectorRetriever finds papers similar to an embedded question.
type VectorRetriever interface {
	Search(ctx context.Context, embedding []float32, scope common.QueryScope, userID string, topK int) ([]store.VectorMatch, error)
}

// GraphContextRetriever renders knowledge graph context for a question. It
// always returns a non-empty string.
type GraphContextRetriever interface {
	Retrieve(ctx context.Context, userID, queryText string) string
}

// Observer receives per-query measurements.
type Observer interface {
	CacheLookup(hit bool)
	QueryAnswered(queryType common.QueryType, d time.Duration, degraded bool)
}

type answerOptions struct {
	Model         string
	SystemPrompts []string
	Thinking      string
	CacheTTL      time.Duration
	ContextTokens int
	CallTimeout   time.Duration
	Tracer        Tracer
	Observer      Observer
}

// AnswerOption is a functional option for configuring answer generation.
type AnswerOption func(*answerOptions)

// WithModel selects the model used for answer and follow-up generation.
func WithModel(model string) AnswerOption {
	return func(o *answerOptions) {
		o.Model = model
	}
}

// WithSystemPrompts appends system prompts to every generation call.
func WithSystemPrompts(prompts ...string) AnswerOption {
	return func(o *answerOptions) {
		o.SystemPrompts = append(o.SystemPrompts, prompts...)
	}
}

func WithThinking(thinking string) AnswerOption {
	return func(o *answerOptions) {
		o.Thinking = thinking
	}
}

// WithCacheTTL sets how long answers stay cached.
func WithCacheTTL(ttl time.Duration) AnswerOption {
	return func(o *answerOptions) {
		if ttl > 0 {
			o.CacheTTL = ttl
		}
	}
}

// WithContextTokens bounds the paper context block.
func WithContextTokens(n int) AnswerOption {
	return func(o *answerOptions) {
		if n > 0 {
			o.ContextTokens = n
		}
	}
}

// WithCallTimeout bounds every embedding and generation call.
func WithCallTimeout(d time.Duration) AnswerOption {
	return func(o *answerOptions) {
		if d > 0 {
			o.CallTimeout = d
		}
	}
}

func WithTracer(t Tracer) AnswerOption {
	return func(o *answerOptions) {
		o.Tracer = t
	}
}

func WithObserver(obs Observer) AnswerOption {
	return func(o *answerOptions) {
		o.Observer = obs
	}
}

// Answerer runs the full question answering pipeline.
type Answerer struct {
	embedder  ai.Embedder
	generator ai.Generator
	vectors   VectorRetriever
	graph     GraphContextRetriever
	cache     cache.Cache

	options answerOptions
}

type NewAnswererParams struct {
	Embedder  ai.Embedder
	Generator ai.Generator
	Vectors   VectorRetriever
	Graph     GraphContextRetriever
	// Cache is optional. Without one every query is answered fresh.
	Cache cache.Cache
}

func NewAnswerer(params NewAnswererParams, opts ...AnswerOption) (*Answerer, error) {
	if params.Embedder == nil || params.Generator == nil {
		return nil, fmt.Errorf("answerer: embedder and generator are required")
	}
	if params.Vectors == nil || params.Graph == nil {
		return nil, fmt.Errorf("answerer: vector and graph retrievers are required")
	}

	o := answerOptions{
		CacheTTL:      DefaultCacheTTL,
		ContextTokens: DefaultContextTokens,
		CallTimeout:   DefaultCallTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&o)
	}

	return &Answerer{
		embedder:  params.Embedder,
		generator: params.Generator,
		vectors:   params.Vectors,
		graph:     params.Graph,
		cache:     params.Cache,
		options:   o,
	}, nil
}

// CacheKey returns the cache key of a question asked by userID.
func CacheKey(userID, queryText string) string {
	sum := sha256.Sum256([]byte(queryText))
	return "query:" + userID + ":" + hex.EncodeToString(sum[:])
}

// DegradedResponse is returned whenever an answer cannot be generated.
func DegradedResponse() common.Response {
	return common.Response{
		QueryID:           DegradedQueryID,
		Answer:            DegradedAnswer,
		Citations:         []common.Citation{},
		Confidence:        0,
		FollowUpQuestions: []string{},
		ProcessedAt:       time.Now().UTC(),
	}
}

func (a *Answerer) generateOptions(temperature float64, maxTokens int) []ai.GenerateOption {
	opts := []ai.GenerateOption{
		ai.WithTemperature(temperature),
		ai.WithMaxTokens(maxTokens),
	}
	if len(a.options.SystemPrompts) > 0 {
		opts = append(opts, ai.WithSystemPrompts(a.options.SystemPrompts...))
	}
	if a.options.Model != "" {
		opts = append(opts, ai.WithModel(a.options.Model))
	}
	if a.options.Thinking != "" {
		opts = append(opts, ai.WithThinking(a.options.Thinking))
	}
	return opts
}

// Answer answers q. It never fails: problems in retrieval degrade the
// context and problems in generation produce DegradedResponse, which is not
// cached.
func (a *Answerer) Answer(ctx context.Context, q common.Query) (resp common.Response) {
	start := time.Now()
	degraded := false
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("[Query] Answer panicked", "user_id", q.UserID, "panic", rec)
			resp = DegradedResponse()
			degraded = true
		}
		if a.options.Observer != nil {
			a.options.Observer.QueryAnswered(q.Type, time.Since(start), degraded)
		}
	}()

	if q.Scope == "" {
		q.Scope = common.ScopePersonal
	}
	if q.Type == "" {
		q.Type = common.QueryTypeFactual
	}

	key := CacheKey(q.UserID, q.Text)
	if cached, ok := a.lookup(ctx, key); ok {
		return cached
	}

	matches, graphCtx := a.retrieve(ctx, q)
	if len(matches) > ContextPapers {
		matches = matches[:ContextPapers]
	}
	papers := a.contextBlock(matches)

	tmpl, ok := ai.AnswerTemplates[string(q.Type)]
	if !ok {
		tmpl = ai.GenericAnswerTemplate
	}
	prompt := fmt.Sprintf(ai.AnswerPrompt, tmpl.Persona, q.Text, papers, graphCtx, tmpl.Instruction)

	gctx, cancel := context.WithTimeout(ctx, a.options.CallTimeout)
	answer, err := a.generator.GenerateCompletion(gctx, prompt, a.generateOptions(answerTemperature, answerMaxTokens)...)
	cancel()
	if err != nil {
		logger.Error("[Query] Answer generation failed", "user_id", q.UserID, "err", err)
		recordFailure(a.options.Tracer, "generation", err)
		degraded = true
		return DegradedResponse()
	}

	citations := buildCitations(answer, matches)
	cited := make([]string, 0, len(citations))
	for _, c := range citations {
		cited = append(cited, c.PaperID)
	}
	recordIDs(a.options.Tracer, TraceEventCitedDocIDs, cited...)

	queryID, err := gonanoid.New()
	if err != nil {
		queryID = fmt.Sprintf("q%d", time.Now().UnixNano())
	}

	resp = common.Response{
		QueryID:           queryID,
		Answer:            answer,
		Citations:         citations,
		Confidence:        answerConfidence,
		FollowUpQuestions: a.followUps(ctx, q.Text, answer),
		ProcessedAt:       time.Now().UTC(),
	}
	a.remember(ctx, key, resp)
	return resp
}

func (a *Answerer) lookup(ctx context.Context, key string) (common.Response, bool) {
	if a.cache == nil {
		return common.Response{}, false
	}
	raw, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("[Query] Cache lookup failed", "key", key, "err", err)
		ok = false
	}
	var resp common.Response
	if ok {
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			logger.Warn("[Query] Dropping undecodable cache entry", "key", key, "err", err)
			ok = false
		}
	}
	if a.options.Observer != nil {
		a.options.Observer.CacheLookup(ok)
	}
	return resp, ok
}

func (a *Answerer) remember(ctx context.Context, key string, resp common.Response) {
	if a.cache == nil {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		logger.Warn("[Query] Could not encode response for cache", "err", err)
		return
	}
	if err := a.cache.Set(ctx, key, string(raw), a.options.CacheTTL); err != nil {
		logger.Warn("[Query] Cache store failed", "key", key, "err", err)
	}
}

// retrieve embeds the question and runs vector search and graph retrieval
// side by side. Vector problems leave the paper list empty.
func (a *Answerer) retrieve(ctx context.Context, q common.Query) ([]store.VectorMatch, string) {
	var (
		g        errgroup.Group
		matches  []store.VectorMatch
		graphCtx string
	)

	g.Go(func() error {
		graphCtx = a.graph.Retrieve(ctx, q.UserID, q.Text)
		return nil
	})

	g.Go(func() error {
		embedding, err := util.RetryWithContext(ctx, embeddingRetries, func(ctx context.Context) ([]float32, error) {
			ectx, cancel := context.WithTimeout(ctx, a.options.CallTimeout)
			defer cancel()
			return a.embedder.GenerateEmbedding(ectx, []byte(q.Text))
		})
		if err != nil {
			logger.Error("[Query] Query embedding failed", "user_id", q.UserID, "err", err)
			recordFailure(a.options.Tracer, "embedding", err)
			return nil
		}
		res, err := a.vectors.Search(ctx, embedding, q.Scope, q.UserID, DefaultTopK)
		if err != nil {
			logger.Error("[Query] Vector search failed", "user_id", q.UserID, "err", err)
			return nil
		}
		matches = res
		return nil
	})

	// Both stages degrade instead of failing, so Wait never reports an error.
	_ = g.Wait()
	if graphCtx == "" {
		graphCtx = NoGraphDataSentinel
	}
	return matches, graphCtx
}

func paperTitle(m store.VectorMatch) string {
	if t := common.StringProp(m.Metadata, common.PropTitle); t != "" {
		return t
	}
	if f := common.StringProp(m.Metadata, common.PropFilename); f != "" {
		return f
	}
	return m.DocID()
}

func paperAbstract(m store.VectorMatch) string {
	if a := common.StringProp(m.Metadata, common.PropAbstract); a != "" {
		return a
	}
	return common.StringProp(m.Metadata, "text_preview")
}

// contextBlock renders the papers for the prompt and keeps the result within
// the token budget. Papers that no longer fit are dropped; a first paper that
// alone exceeds the budget is truncated.
func (a *Answerer) contextBlock(matches []store.VectorMatch) string {
	if len(matches) == 0 {
		return NoPapersContext
	}

	budget := a.options.ContextTokens
	parts := make([]string, 0, len(matches))
	used := 0
	for i, m := range matches {
		part := fmt.Sprintf("Paper %d: %s\nAuthors: %s\nAbstract: %s\nRelevance score: %.3f",
			i+1,
			paperTitle(m),
			strings.Join(common.StringsProp(m.Metadata, common.PropAuthors), ", "),
			paperAbstract(m),
			m.Score,
		)
		n := ai.CountTokens(part)
		if used+n > budget {
			if i == 0 {
				parts = append(parts, ai.TruncateToTokens(part, budget))
			}
			break
		}
		parts = append(parts, part)
		used += n
	}
	return strings.Join(parts, "\n\n")
}

// snippet returns up to radius runes on either side of the match at byte
// offset idx.
func snippet(text string, idx, length, radius int) string {
	startRune := utf8.RuneCountInString(text[:idx])
	endRune := startRune + utf8.RuneCountInString(text[idx:idx+length])
	runes := []rune(text)
	from := max(0, startRune-radius)
	to := min(len(runes), endRune+radius)
	return string(runes[from:to])
}

// buildCitations creates one citation per paper whose title appears in the
// answer.
func buildCitations(answer string, matches []store.VectorMatch) []common.Citation {
	citations := []common.Citation{}
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		title := common.StringProp(m.Metadata, common.PropTitle)
		if title == "" {
			continue
		}
		id := m.DocID()
		if _, dup := seen[id]; dup {
			continue
		}
		idx := strings.Index(answer, title)
		if idx < 0 {
			continue
		}
		seen[id] = struct{}{}

		conf := m.Score
		if conf == 0 {
			conf = defaultCitationConf
		}
		conf = min(1, max(0, conf))

		authors := common.StringsProp(m.Metadata, common.PropAuthors)
		if authors == nil {
			authors = []string{}
		}
		citations = append(citations, common.Citation{
			PaperID:         id,
			PaperTitle:      title,
			Authors:         authors,
			PublicationDate: common.StringProp(m.Metadata, "publication_date"),
			TextSegment:     snippet(answer, idx, len(title), snippetRadius),
			Confidence:      conf,
		})
	}
	return citations
}

type followUpQuestions struct {
	Questions []string `json:"questions" jsonschema_description:"Follow-up questions for the researcher"`
}

func (a *Answerer) followUps(ctx context.Context, queryText, answer string) []string {
	ctx, cancel := context.WithTimeout(ctx, a.options.CallTimeout)
	defer cancel()

	res, err := ai.GenerateStructured[followUpQuestions](
		ctx,
		a.generator,
		"follow_up_questions",
		"Suggested follow-up questions.",
		fmt.Sprintf(ai.FollowUpPrompt, queryText, answer),
		a.generateOptions(followUpTemperature, followUpMaxTokens)...,
	).Unwrap()
	if err != nil {
		logger.Warn("[Query] Follow-up generation failed", "err", err)
		return []string{}
	}

	out := make([]string, 0, maxFollowUps)
	for _, q := range res.Questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == maxFollowUps {
			break
		}
	}
	return out
}
