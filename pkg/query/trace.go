package query

import (
	"sort"
	"sync"

	"github.com/OFFIS-RIT/scholargraph/pkg/logger"
)

type TraceEventKind string

const (
	TraceEventSeedNodeIDs      TraceEventKind = "seed_node_ids"
	TraceEventTraversedNodeIDs TraceEventKind = "traversed_node_ids"
	TraceEventTraversedEdgeIDs TraceEventKind = "traversed_edge_ids"
	TraceEventConsideredDocIDs TraceEventKind = "considered_doc_ids"
	TraceEventCitedDocIDs      TraceEventKind = "cited_doc_ids"
	TraceEventStageFailed      TraceEventKind = "stage_failed"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	IDs []string

	Stage string
	Error string
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, metrics, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func recordIDs(t Tracer, kind TraceEventKind, ids ...string) {
	if t == nil || len(ids) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: kind, IDs: ids})
}

func recordFailure(t Tracer, stage string, err error) {
	if t == nil || err == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventStageFailed, Stage: stage, Error: err.Error()})
}

// LogTracer writes every event to the debug log.
type LogTracer struct{}

func (LogTracer) Record(event TraceEvent) {
	if event.Kind == TraceEventStageFailed {
		logger.Debug("[Query] Stage failed", "stage", event.Stage, "err", event.Error)
		return
	}
	logger.Debug("[Query] Trace", "kind", string(event.Kind), "ids", event.IDs)
}

// QueryTrace collects which graph elements and documents a query touched.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	ids      map[TraceEventKind]map[string]struct{}
	failures []string
}

type QueryTraceSnapshot struct {
	SeedNodeIDs      []string
	TraversedNodeIDs []string
	TraversedEdgeIDs []string
	ConsideredDocIDs []string
	CitedDocIDs      []string
	FailedStages     []string
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{ids: make(map[TraceEventKind]map[string]struct{})}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if event.Kind == TraceEventStageFailed {
		t.failures = append(t.failures, event.Stage)
		return
	}

	set, ok := t.ids[event.Kind]
	if !ok {
		set = make(map[string]struct{})
		t.ids[event.Kind] = set
	}
	for _, id := range event.IDs {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
}

func (t *QueryTrace) sorted(kind TraceEventKind) []string {
	out := make([]string, 0, len(t.ids[kind]))
	for id := range t.ids[kind] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return QueryTraceSnapshot{
		SeedNodeIDs:      t.sorted(TraceEventSeedNodeIDs),
		TraversedNodeIDs: t.sorted(TraceEventTraversedNodeIDs),
		TraversedEdgeIDs: t.sorted(TraceEventTraversedEdgeIDs),
		ConsideredDocIDs: t.sorted(TraceEventConsideredDocIDs),
		CitedDocIDs:      t.sorted(TraceEventCitedDocIDs),
		FailedStages:     append([]string(nil), t.failures...),
	}
}
