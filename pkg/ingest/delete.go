package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"
	"github.com/OFFIS-RIT/scholargraph/pkg/store"
)

// DeleteResult describes what Delete removed.
type DeleteResult struct {
	DocID        string `json:"doc_id"`
	NodesDeleted int    `json:"nodes_deleted"`
}

// Delete removes a document owned by userID: its graph nodes with their
// edges, its vectors and its stored files. It returns store.ErrNotFound when
// the user owns no such document.
func (s *Service) Delete(ctx context.Context, userID, docID string) (DeleteResult, error) {
	if userID == "" {
		return DeleteResult{}, ErrMissingUser
	}
	paper, err := s.graph.PaperNode(ctx, docID, userID)
	if err != nil {
		return DeleteResult{}, err
	}
	filename := common.StringProp(paper.Properties, common.PropFilename)

	if err := s.vectors.Delete(ctx, userID, UserVectorID(userID, docID)); err != nil {
		return DeleteResult{}, fmt.Errorf("delete user vector: %w", err)
	}
	if paper.IsPublic() {
		if err := s.vectors.Delete(ctx, store.PublicNamespace, docID); err != nil {
			return DeleteResult{}, fmt.Errorf("delete public vector: %w", err)
		}
	}

	n, err := s.graph.DeleteDocument(ctx, docID, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return DeleteResult{DocID: docID, NodesDeleted: n}, err
	}

	for _, key := range []string{RawKey(userID, docID, filename), TextKey(userID, docID)} {
		if err := s.objects.Delete(ctx, key); err != nil {
			logger.Warn("[Ingest] Could not delete stored file", "key", key, "err", err)
		}
	}

	logger.Info("[Ingest] Document deleted", "doc_id", docID, "user_id", userID, "nodes", n)
	return DeleteResult{DocID: docID, NodesDeleted: n}, nil
}
