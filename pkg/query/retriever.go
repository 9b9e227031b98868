package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/OFFIS-RIT/scholargraph/pkg/ai"
	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"
	"github.com/OFFIS-RIT/scholargraph/pkg/store"
)

const (
	NoGraphDataSentinel      = "No relevant knowledge graph data found."
	GraphUnavailableSentinel = "Knowledge graph information is currently unavailable."
)

const (
	DefaultSeedLimit    = 3
	DefaultNodesPerSeed = 5
	DefaultGraphTimeout = 30 * time.Second
)

// GraphRetriever turns a question into rendered knowledge graph triples.
// It never fails: every problem is reported through one of the sentinels.
type GraphRetriever struct {
	store     store.GraphStorage
	generator ai.Generator
	tracer    Tracer

	traverse     store.TraverseOptions
	seedLimit    int
	nodesPerSeed int
	timeout      time.Duration
}

type NewGraphRetrieverParams struct {
	Store store.GraphStorage
	// Generator picks seed mentions. Without one the keyword fallback is used.
	Generator ai.Generator
	Tracer    Tracer

	MinDepth     int
	MaxDepth     int
	Direction    store.Direction
	EdgeLabels   []string
	SeedLimit    int
	NodesPerSeed int
	// Timeout bounds each store call.
	Timeout time.Duration
}

func NewGraphRetriever(params NewGraphRetrieverParams) *GraphRetriever {
	opts := store.DefaultTraverseOptions()
	if params.MaxDepth > 0 {
		opts.MaxDepth = params.MaxDepth
	}
	if params.MinDepth > 0 && params.MinDepth <= opts.MaxDepth {
		opts.MinDepth = params.MinDepth
	}
	if params.Direction != "" {
		opts.Direction = params.Direction
	}
	opts.EdgeLabels = params.EdgeLabels

	r := &GraphRetriever{
		store:        params.Store,
		generator:    params.Generator,
		tracer:       params.Tracer,
		traverse:     opts,
		seedLimit:    params.SeedLimit,
		nodesPerSeed: params.NodesPerSeed,
		timeout:      params.Timeout,
	}
	if r.seedLimit <= 0 {
		r.seedLimit = DefaultSeedLimit
	}
	if r.nodesPerSeed <= 0 {
		r.nodesPerSeed = DefaultNodesPerSeed
	}
	if r.timeout <= 0 {
		r.timeout = DefaultGraphTimeout
	}
	return r
}

type queryEntities struct {
	Entities []string `json:"entities" jsonschema_description:"Key entities mentioned in the question"`
}

// subgraph accumulates nodes and edges in first-seen order.
type subgraph struct {
	nodes     map[string]common.Node
	edges     []common.Edge
	edgeIndex map[string]struct{}
}

func newSubgraph() *subgraph {
	return &subgraph{
		nodes:     make(map[string]common.Node),
		edgeIndex: make(map[string]struct{}),
	}
}

func (s *subgraph) addNode(n common.Node) {
	if _, ok := s.nodes[n.ID]; !ok {
		s.nodes[n.ID] = n
	}
}

func (s *subgraph) addEdge(e common.Edge) {
	if _, ok := s.edgeIndex[e.ID]; ok {
		return
	}
	s.edgeIndex[e.ID] = struct{}{}
	s.edges = append(s.edges, e)
}

// Retrieve resolves seed entities from the question, walks the graph around
// them on behalf of userID and renders the edges found as triples, one per
// line.
func (r *GraphRetriever) Retrieve(ctx context.Context, userID, queryText string) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("[Query] Graph retrieval panicked", "panic", rec)
			out = GraphUnavailableSentinel
		}
	}()

	mentions := r.mentions(ctx, queryText)
	if len(mentions) == 0 {
		return NoGraphDataSentinel
	}

	seeds, err := r.resolveSeeds(ctx, userID, mentions)
	if err != nil {
		logger.Error("[Query] Seed resolution failed", "err", err)
		recordFailure(r.tracer, "seed_resolution", err)
		return GraphUnavailableSentinel
	}
	if len(seeds) == 0 {
		return NoGraphDataSentinel
	}

	sg, failed := r.walk(ctx, userID, seeds)
	lines := r.render(ctx, userID, sg)
	if len(lines) == 0 {
		if failed {
			return GraphUnavailableSentinel
		}
		return NoGraphDataSentinel
	}
	return strings.Join(lines, "\n")
}

// mentions asks the model for the key entities of the question and falls back
// to keyword heuristics. The result is deduplicated case-insensitively and
// capped at the seed limit.
func (r *GraphRetriever) mentions(ctx context.Context, queryText string) []string {
	var raw []string
	if r.generator != nil {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		res, err := ai.GenerateStructured[queryEntities](
			ctx,
			r.generator,
			"query_entities",
			"Key entities of a research question.",
			fmt.Sprintf(ai.QueryEntitiesPrompt, queryText),
			ai.WithTemperature(0.1),
		).Unwrap()
		cancel()
		if err != nil {
			logger.Warn("[Query] Entity extraction failed, using keyword fallback", "err", err)
			recordFailure(r.tracer, "seed_extraction", err)
		} else {
			raw = res.Entities
		}
	}
	if len(dedupeMentions(raw, r.seedLimit)) == 0 {
		raw = fallbackMentions(queryText)
	}
	return dedupeMentions(raw, r.seedLimit)
}

func dedupeMentions(raw []string, limit int) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, min(limit, len(raw)))
	for _, m := range raw {
		m = strings.TrimSpace(m)
		key := strings.ToLower(m)
		if m == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out
}

var (
	titlePairRe = regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`)
	titleWordRe = regexp.MustCompile(`\b[A-Z][a-z]{2,}\b`)
	methodRe    = regexp.MustCompile(`(?i)\b(?:method|approach|technique|algorithm|model|framework)\s+(\w+)`)
)

var questionStopwords = map[string]struct{}{
	"what": {}, "which": {}, "who": {}, "whom": {}, "whose": {}, "when": {},
	"where": {}, "why": {}, "how": {}, "does": {}, "do": {}, "did": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "can": {}, "could": {},
	"should": {}, "would": {}, "the": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "tell": {}, "explain": {}, "describe": {}, "compare": {},
	"summarize": {}, "list": {}, "find": {}, "give": {}, "show": {}, "and": {},
}

// fallbackMentions pulls candidate entities out of the question text with
// simple capitalization and keyword patterns.
func fallbackMentions(text string) []string {
	var out []string
	out = append(out, titlePairRe.FindAllString(text, -1)...)

	for _, loc := range titleWordRe.FindAllStringIndex(text, -1) {
		word := text[loc[0]:loc[1]]
		prefix := strings.TrimSpace(text[:loc[0]])
		sentenceStart := prefix == "" || strings.ContainsAny(prefix[len(prefix)-1:], ".?!")
		if _, stop := questionStopwords[strings.ToLower(word)]; stop && sentenceStart {
			continue
		}
		out = append(out, word)
	}

	for _, m := range methodRe.FindAllStringSubmatch(text, -1) {
		out = append(out, m[0])
	}
	return out
}

func (r *GraphRetriever) resolveSeeds(ctx context.Context, userID string, mentions []string) ([]common.Node, error) {
	var (
		seeds   []common.Node
		seen    = make(map[string]struct{})
		lastErr error
		failed  int
	)
	for _, m := range mentions {
		qctx, cancel := context.WithTimeout(ctx, r.timeout)
		nodes, err := r.store.QueryNodes(qctx, store.NodeFilter{
			Properties: map[string]any{common.PropOriginalText: m},
			VisibleTo:  userID,
			Limit:      r.nodesPerSeed,
		})
		cancel()
		if err != nil {
			logger.Warn("[Query] Seed lookup failed", "mention", m, "err", err)
			lastErr = err
			failed++
			continue
		}
		for _, n := range nodes {
			if _, dup := seen[n.ID]; dup {
				continue
			}
			seen[n.ID] = struct{}{}
			seeds = append(seeds, n)
		}
	}
	if failed == len(mentions) {
		return nil, lastErr
	}

	ids := make([]string, 0, len(seeds))
	for _, s := range seeds {
		ids = append(ids, s.ID)
	}
	recordIDs(r.tracer, TraceEventSeedNodeIDs, ids...)
	return seeds, nil
}

// walk traverses around every seed and merges the results. It reports
// whether any traversal failed.
func (r *GraphRetriever) walk(ctx context.Context, userID string, seeds []common.Node) (*subgraph, bool) {
	sg := newSubgraph()
	failed := false

	opts := r.traverse
	opts.VisibleTo = userID

	for _, seed := range seeds {
		sg.addNode(seed)

		tctx, cancel := context.WithTimeout(ctx, r.timeout)
		res, err := r.store.Traverse(tctx, seed.ID, opts)
		cancel()
		if err != nil {
			logger.Warn("[Query] Traversal failed", "seed", seed.ID, "err", err)
			recordFailure(r.tracer, "traversal", err)
			failed = true
			continue
		}
		for _, n := range res.Nodes {
			sg.addNode(n)
		}
		for _, e := range res.Edges {
			sg.addEdge(e)
		}
	}

	nodeIDs := make([]string, 0, len(sg.nodes))
	for id := range sg.nodes {
		nodeIDs = append(nodeIDs, id)
	}
	edgeIDs := make([]string, 0, len(sg.edges))
	for _, e := range sg.edges {
		edgeIDs = append(edgeIDs, e.ID)
	}
	recordIDs(r.tracer, TraceEventTraversedNodeIDs, nodeIDs...)
	recordIDs(r.tracer, TraceEventTraversedEdgeIDs, edgeIDs...)
	return sg, failed
}

// nodeLabel prefers the display label, then the original text, then the id.
func nodeLabel(n common.Node) string {
	if n.Label != "" {
		return n.Label
	}
	if t := n.OriginalText(); t != "" {
		return t
	}
	return n.ID
}

func (r *GraphRetriever) endpointLabel(ctx context.Context, userID string, sg *subgraph, id string) string {
	if n, ok := sg.nodes[id]; ok {
		return nodeLabel(n)
	}
	gctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := r.store.GetNode(gctx, id)
	if err != nil || !store.Visible(n, userID) {
		return id
	}
	sg.nodes[id] = n
	return nodeLabel(n)
}

func (r *GraphRetriever) render(ctx context.Context, userID string, sg *subgraph) []string {
	lines := make([]string, 0, len(sg.edges))
	for _, e := range sg.edges {
		if e.Label == common.EdgeLabelContains || !store.EdgeVisible(e, userID) {
			continue
		}
		lines = append(lines, fmt.Sprintf(`("%s") --[%s]--> ("%s")`,
			r.endpointLabel(ctx, userID, sg, e.SourceID),
			e.Label,
			r.endpointLabel(ctx, userID, sg, e.TargetID),
		))
	}
	return lines
}
