package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/OFFIS-RIT/scholargraph/internal/util"
	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/graph"
	"github.com/OFFIS-RIT/scholargraph/pkg/ingest"
	"github.com/OFFIS-RIT/scholargraph/pkg/leaselock"
	"github.com/OFFIS-RIT/scholargraph/pkg/loader"
	"github.com/OFFIS-RIT/scholargraph/pkg/store"
	"github.com/OFFIS-RIT/scholargraph/pkg/store/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

func init() {
	util.RetryBaseDelay = 0
}

type stubExtractor struct{}

func (stubExtractor) Extract(context.Context, string) ([]common.Entity, []common.Relation, error) {
	crispr := common.Entity{Text: "CRISPR", Type: common.NodeTypeConcept, Confidence: 0.9}
	return []common.Entity{crispr}, nil, nil
}

type stubEmbedder struct{}

func (stubEmbedder) GenerateEmbedding(context.Context, []byte) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func (s stubEmbedder) GenerateEmbeddings(ctx context.Context, in [][]byte) ([][]float32, error) {
	out := make([][]float32, len(in))
	for i := range in {
		out[i], _ = s.GenerateEmbedding(ctx, in[i])
	}
	return out, nil
}

type processFixture struct {
	proc    *Processor
	objects *ingest.MemoryObjectStore
	vectors *memory.VectorStore
	graph   *memory.GraphStore
}

func newProcessFixture(t *testing.T, locks *leaselock.Client) processFixture {
	t.Helper()
	f := processFixture{
		objects: ingest.NewMemoryObjectStore(),
		vectors: memory.NewVectorStore(),
		graph:   memory.NewGraphStore(),
	}
	gc, err := graph.NewGraphClient(graph.NewGraphClientParams{Store: f.graph})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := ingest.NewService(ingest.NewServiceParams{
		Objects:   f.objects,
		Loader:    loader.NewRegistry(nil),
		Extractor: stubExtractor{},
		Embedder:  stubEmbedder{},
		Vectors:   f.vectors,
		Graph:     gc,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.proc, err = NewProcessor(NewProcessorParams{Service: svc, Objects: f.objects, Locks: locks})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func (f processFixture) upload(t *testing.T, msg IngestMsg, content string) []byte {
	t.Helper()
	msg.RawKey = ingest.RawKey(msg.UserID, msg.DocID, msg.Filename)
	if err := f.objects.Put(context.Background(), msg.RawKey, "text/plain", []byte(content)); err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func redisLocks(t *testing.T) *leaselock.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return leaselock.New(leaselock.NewRedisBackend(rdb))
}

func TestProcessIngestMessageUnderLease(t *testing.T) {
	locks := redisLocks(t)
	f := newProcessFixture(t, locks)
	ctx := context.Background()

	body := f.upload(t, IngestMsg{DocID: "doc1", UserID: "u1", Filename: "notes.txt", IsPublic: true}, "CRISPR is a gene editing tool.")
	if err := f.proc.Handle(ctx, IngestQueue, body); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	matches, err := f.vectors.Search(ctx, store.PublicNamespace, []float32{0.1, 0.2, 0.3}, 5, nil)
	if err != nil || len(matches) != 1 || matches[0].ID != "doc1" {
		t.Fatalf("public vectors = %+v, %v", matches, err)
	}
	nodes, _ := f.graph.Stats()
	if nodes != 2 {
		t.Errorf("graph nodes = %d, want paper and entity", nodes)
	}

	// The lease is released afterwards.
	lease, err := locks.Acquire(ctx, IngestLockKey(ingest.FileHash([]byte("CRISPR is a gene editing tool.")), "u1"), leaselock.Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("lock still held after processing: %v", err)
	}
	_ = lease.Release(ctx)
}

func TestProcessIngestMessagePermanentFailures(t *testing.T) {
	f := newProcessFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		body []byte
	}{
		{"invalid json", []byte("{")},
		{"missing fields", []byte(`{"doc_id":"d"}`)},
		{"raw file gone", []byte(`{"doc_id":"d","user_id":"u1","filename":"a.txt","raw_key":"users/u1/raw/d_a.txt"}`)},
		{"unsupported file", f.upload(t, IngestMsg{DocID: "d2", UserID: "u1", Filename: "slides.pptx"}, "data")},
		{"empty text", f.upload(t, IngestMsg{DocID: "d3", UserID: "u1", Filename: "blank.txt"}, "   ")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.proc.ProcessIngestMessage(ctx, tt.body)
			if !IsPermanent(err) {
				t.Fatalf("error = %v, want permanent", err)
			}
		})
	}
}

func TestProcessDeleteMessage(t *testing.T) {
	f := newProcessFixture(t, nil)
	ctx := context.Background()

	body := f.upload(t, IngestMsg{DocID: "doc1", UserID: "u1", Filename: "notes.txt"}, "CRISPR is a gene editing tool.")
	if err := f.proc.ProcessIngestMessage(ctx, body); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	del, _ := json.Marshal(DeleteMsg{DocID: "doc1", UserID: "u1"})
	if err := f.proc.Handle(ctx, DeleteQueue, del); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if nodes, edges := f.graph.Stats(); nodes != 0 || edges != 0 {
		t.Errorf("graph after delete = %d nodes, %d edges", nodes, edges)
	}

	// A second delete finds nothing and is not retried.
	if err := f.proc.Handle(ctx, DeleteQueue, del); err != nil {
		t.Errorf("repeated delete error = %v", err)
	}
}

func TestHandleUnknownQueue(t *testing.T) {
	f := newProcessFixture(t, nil)
	if err := f.proc.Handle(context.Background(), "index_queue", nil); !IsPermanent(err) {
		t.Fatalf("error = %v, want permanent", err)
	}
}

type scriptedHandler struct {
	calls []string
}

func (s *scriptedHandler) Handle(_ context.Context, queueName string, body []byte) error {
	s.calls = append(s.calls, queueName+":"+string(body))
	if string(body) == "fail" {
		return errors.New("boom")
	}
	return nil
}

func TestWorkerRun(t *testing.T) {
	ch := newFakeChannel()
	ingestDeliveries := make(chan amqp091.Delivery, 2)
	deleteDeliveries := make(chan amqp091.Delivery, 1)
	ch.deliveries[IngestQueue] = ingestDeliveries
	ch.deliveries[DeleteQueue] = deleteDeliveries

	okAck, failAck, delAck := &fakeAck{}, &fakeAck{}, &fakeAck{}
	ingestDeliveries <- delivery(okAck, "ok", nil)
	ingestDeliveries <- delivery(failAck, "fail", nil)
	deleteDeliveries <- delivery(delAck, "gone", nil)
	close(ingestDeliveries)
	close(deleteDeliveries)

	handler := &scriptedHandler{}
	var after []error
	w := NewWorker(ch, handler, WithAfterMessage(func(_ string, _ time.Duration, err error) {
		after = append(after, err)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(handler.calls) != 3 || len(after) != 3 {
		t.Fatalf("calls = %v, hooks = %d", handler.calls, len(after))
	}
	if okAck.acked != 1 || delAck.acked != 1 {
		t.Errorf("successful messages not acked")
	}
	if len(ch.published) != 1 || ch.published[0].queue != "ingest_queue_retry" {
		t.Errorf("failed message routed to %+v", ch.published)
	}
}
