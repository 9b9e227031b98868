package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/scholargraph/pkg/ai"
	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/ingest"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.DocumentIngested(ingest.StatusCompleted, 2*time.Second)
	c.DocumentIngested(ingest.StatusCompleted, time.Second)
	c.DocumentIngested(ingest.StatusFailed, time.Second)

	c.CacheLookup(true)
	c.CacheLookup(false)
	c.CacheLookup(false)

	c.QueryAnswered(common.QueryTypeRelational, 300*time.Millisecond, false)
	c.QueryAnswered("", time.Second, true)

	c.ModelUsage(ai.ModelMetrics{InputTokens: 120, OutputTokens: 30, DurationMs: 1500})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"completed", testutil.ToFloat64(c.documentsIngested.WithLabelValues(ingest.StatusCompleted)), 2},
		{"failed", testutil.ToFloat64(c.documentsIngested.WithLabelValues(ingest.StatusFailed)), 1},
		{"hits", testutil.ToFloat64(c.cacheHits), 1},
		{"misses", testutil.ToFloat64(c.cacheMisses), 2},
		{"degraded", testutil.ToFloat64(c.degraded), 1},
		{"input tokens", testutil.ToFloat64(c.modelTokens.WithLabelValues("input")), 120},
		{"model seconds", testutil.ToFloat64(c.modelDuration), 1.5},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			t.Errorf("%s = %v, want %v", ch.name, ch.got, ch.want)
		}
	}

	if n := testutil.CollectAndCount(c.queryDuration); n != 2 {
		t.Errorf("query duration series = %d, want 2 (relational, factual)", n)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.CacheLookup(true)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "scholargraph_query_cache_hits_total 1") {
		t.Fatalf("metrics output missing cache hits:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("go collector not registered")
	}
}
