package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/scholargraph/pkg/ingest"
	"github.com/OFFIS-RIT/scholargraph/pkg/leaselock"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"
	"github.com/OFFIS-RIT/scholargraph/pkg/store"
)

const (
	lockTTL        = 10 * time.Minute
	lockRenewEvery = 4 * time.Minute
)

// Processor executes queue messages against the ingestion service.
type Processor struct {
	service *ingest.Service
	objects ingest.ObjectStore
	locks   *leaselock.Client
}

// NewProcessorParams configures a Processor. Locks may be nil, in which case
// duplicate uploads are not serialized.
type NewProcessorParams struct {
	Service *ingest.Service
	Objects ingest.ObjectStore
	Locks   *leaselock.Client
}

func NewProcessor(params NewProcessorParams) (*Processor, error) {
	if params.Service == nil || params.Objects == nil {
		return nil, errors.New("queue processor needs a service and an object store")
	}
	return &Processor{
		service: params.Service,
		objects: params.Objects,
		locks:   params.Locks,
	}, nil
}

// Handle dispatches a message body by the queue it arrived on.
func (p *Processor) Handle(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case IngestQueue:
		return p.ProcessIngestMessage(ctx, body)
	case DeleteQueue:
		return p.ProcessDeleteMessage(ctx, body)
	}
	return Permanent(fmt.Errorf("unknown queue %q", queueName))
}

// IngestLockKey serializes ingestion of the same file for the same owner.
func IngestLockKey(fileHash, userID string) string {
	return "ingest:" + userID + ":" + fileHash
}

func (p *Processor) ProcessIngestMessage(ctx context.Context, body []byte) error {
	var msg IngestMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return Permanent(fmt.Errorf("decode ingest message: %w", err))
	}
	if msg.DocID == "" || msg.UserID == "" || msg.RawKey == "" {
		return Permanent(fmt.Errorf("ingest message is missing doc_id, user_id or raw_key"))
	}

	content, err := p.objects.Get(ctx, msg.RawKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Permanent(err)
		}
		return err
	}
	if msg.FileHash == "" {
		msg.FileHash = ingest.FileHash(content)
	}

	run := func(ctx context.Context) error {
		res := p.service.Ingest(ctx, ingest.Request{
			DocID:    msg.DocID,
			Content:  content,
			Filename: msg.Filename,
			IsPublic: msg.IsPublic,
			UserID:   msg.UserID,
			Metadata: msg.Metadata,
		})
		err := res.Err()
		if errors.Is(err, ingest.ErrEmptyDocument) ||
			errors.Is(err, ingest.ErrUnsupportedFile) ||
			errors.Is(err, ingest.ErrMissingUser) {
			return Permanent(err)
		}
		return err
	}

	if p.locks == nil {
		return run(ctx)
	}
	return p.locks.WithLease(ctx, IngestLockKey(msg.FileHash, msg.UserID), leaselock.Options{
		TTL:         lockTTL,
		RenewEvery:  lockRenewEvery,
		Wait:        true,
		TokenPrefix: "ingest/" + msg.DocID + "/",
	}, run)
}

func (p *Processor) ProcessDeleteMessage(ctx context.Context, body []byte) error {
	var msg DeleteMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return Permanent(fmt.Errorf("decode delete message: %w", err))
	}

	res, err := p.service.Delete(ctx, msg.UserID, msg.DocID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("[Queue] Document to delete does not exist", "doc_id", msg.DocID, "user_id", msg.UserID)
		return nil
	}
	if errors.Is(err, ingest.ErrMissingUser) {
		return Permanent(err)
	}
	if err != nil {
		return err
	}
	logger.Info("[Queue] Delete completed", "doc_id", res.DocID, "nodes_deleted", res.NodesDeleted)
	return nil
}
