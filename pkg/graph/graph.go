package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/compliance"
	"github.com/OFFIS-RIT/scholargraph/pkg/ids"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"
	"github.com/OFFIS-RIT/scholargraph/pkg/store"
)

// PaperDocument describes the document a set of facts was extracted from.
type PaperDocument struct {
	DocID           string
	Title           string
	Authors         []string
	Abstract        string
	Filename        string
	FileHash        string
	PublicationDate string
	Journal         string
	IsPublic        bool
}

// IngestionResult summarizes what IngestDocument stored.
type IngestionResult struct {
	PaperID          string   `json:"paper_id"`
	PublicEntities   int      `json:"public_entities"`
	PrivateEntities  int      `json:"private_entities"`
	PublicRelations  int      `json:"public_relations"`
	PrivateRelations int      `json:"private_relations"`
	SkippedEntities  int      `json:"skipped_entities"`
	SkippedRelations int      `json:"skipped_relations"`
	Warnings         []string `json:"warnings,omitempty"`
}

func (r *IngestionResult) warn(msg string, keyvals ...any) {
	logger.Warn(msg, keyvals...)

	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", keyvals[i], keyvals[i+1])
	}
	r.Warnings = append(r.Warnings, sb.String())
}

// nodeKey returns a fresh key that passed validation.
func nodeKey() string {
	key := ids.NewNodeKey()
	if err := ids.ValidateKey(key); err != nil {
		return ids.SanitizeKey(key)
	}
	return key
}

// IngestDocument writes a paper node, its entities and the relations between
// them. Writes happen strictly in that order so that every edge endpoint
// exists before the edge.
//
// Only the paper node is mandatory: if it cannot be stored the call fails.
// Entity and relation failures are logged, counted as skipped and reported in
// the result.
func (g *GraphClient) IngestDocument(
	ctx context.Context,
	doc PaperDocument,
	part compliance.Partition,
	ownerID string,
) (*IngestionResult, error) {
	paper := g.paperNode(doc, ownerID)
	if err := g.store.UpsertNode(ctx, paper); err != nil {
		return nil, fmt.Errorf("store paper node for %s: %w", doc.DocID, err)
	}

	res := &IngestionResult{PaperID: paper.ID}
	arena := newEntityArena()

	res.PublicEntities = g.writeEntities(ctx, res, arena, paper.ID, doc.DocID, ownerID, part.PublicEntities, visPublic)
	res.PrivateEntities = g.writeEntities(ctx, res, arena, paper.ID, doc.DocID, ownerID, part.PrivateEntities, visPrivate)
	res.PublicRelations = g.writeRelations(ctx, res, arena, doc.DocID, ownerID, part.PublicRelations, visPublic)
	res.PrivateRelations = g.writeRelations(ctx, res, arena, doc.DocID, ownerID, part.PrivateRelations, visPrivate)

	logger.Info("[Graph] Document ingested",
		"doc_id", doc.DocID,
		"paper_id", paper.ID,
		"public_entities", res.PublicEntities,
		"private_entities", res.PrivateEntities,
		"public_relations", res.PublicRelations,
		"private_relations", res.PrivateRelations,
		"skipped_entities", res.SkippedEntities,
		"skipped_relations", res.SkippedRelations,
	)
	return res, nil
}

func (g *GraphClient) paperNode(doc PaperDocument, ownerID string) common.Node {
	title := doc.Title
	if title == "" {
		title = doc.Filename
	}
	authors := doc.Authors
	if authors == nil {
		authors = []string{}
	}
	props := map[string]any{
		common.PropOriginalText: title,
		common.PropIsPublic:     doc.IsPublic,
		common.PropOwnerID:      ownerID,
		common.PropDocID:        doc.DocID,
		common.PropFileHash:     doc.FileHash,
		common.PropTitle:        title,
		common.PropAuthors:      authors,
		common.PropAbstract:     doc.Abstract,
		common.PropFilename:     doc.Filename,
	}
	if doc.PublicationDate != "" {
		props["publication_date"] = doc.PublicationDate
	}
	if doc.Journal != "" {
		props["journal"] = doc.Journal
	}
	return common.Node{
		ID:         ids.NodeID(common.NodeTypePaper, nodeKey()),
		Label:      common.Truncate(title, common.MaxNodeLabelLen),
		Type:       common.NodeTypePaper,
		Properties: props,
	}
}

func (g *GraphClient) writeEntities(
	ctx context.Context,
	res *IngestionResult,
	arena *entityArena,
	paperID, docID, ownerID string,
	entities []common.Entity,
	vis visibility,
) int {
	stored := 0
	for i, e := range entities {
		text := normalizeMention(e.Text)
		if text == "" {
			res.SkippedEntities++
			res.warn("skipped entity without text", "doc_id", docID, "index", i)
			continue
		}
		if _, dup := arena.get(text, vis); dup {
			continue
		}

		t := e.Type
		if !t.Valid() || t == common.NodeTypePaper {
			t = common.ParseNodeType(string(t))
		}
		node := common.Node{
			ID:    ids.NodeID(t, nodeKey()),
			Label: common.Truncate(text, common.MaxNodeLabelLen),
			Type:  t,
			Properties: map[string]any{
				common.PropOriginalText: text,
				common.PropIsPublic:     bool(vis),
				common.PropConfidence:   g.confidenceOr(e.Confidence),
				common.PropDocID:        docID,
				common.PropOwnerID:      ownerID,
				common.PropEntityIndex:  i,
			},
		}

		if err := g.store.UpsertNode(ctx, node); err != nil {
			res.SkippedEntities++
			res.warn("failed to store entity", "doc_id", docID, "entity", text, "err", err)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return stored
			}
			continue
		}
		arena.put(text, vis, node.ID)

		contains := common.Edge{
			ID:       ids.EdgeID(paperID, node.ID, common.EdgeLabelContains),
			SourceID: paperID,
			TargetID: node.ID,
			Label:    common.EdgeLabelContains,
			Type:     common.EdgeLabelContains,
			Properties: map[string]any{
				common.PropIsPublic: bool(vis),
				common.PropOwnerID:  ownerID,
				common.PropDocID:    docID,
			},
		}
		if err := g.store.UpsertEdge(ctx, contains); err != nil {
			res.warn("failed to link entity to paper", "doc_id", docID, "entity", text, "err", err)
		}
		stored++
	}
	return stored
}

func (g *GraphClient) writeRelations(
	ctx context.Context,
	res *IngestionResult,
	arena *entityArena,
	docID, ownerID string,
	relations []common.Relation,
	vis visibility,
) int {
	stored := 0
	for i, r := range relations {
		src, okSrc := arena.resolve(r.Source.Text, vis)
		tgt, okTgt := arena.resolve(r.Target.Text, vis)
		if !okSrc || !okTgt {
			res.SkippedRelations++
			res.warn("skipped relation with unknown endpoint",
				"doc_id", docID,
				"source", r.Source.Text,
				"relationship", r.Relationship,
				"target", r.Target.Text,
			)
			continue
		}

		rel := r.Relationship
		edge := common.Edge{
			ID:       ids.EdgeID(src, tgt, rel),
			SourceID: src,
			TargetID: tgt,
			Label:    common.Truncate(rel, common.MaxEdgeLabelLen),
			Type:     common.Truncate(rel, common.MaxEdgeLabelLen),
			Properties: map[string]any{
				common.PropOriginalRelationship: rel,
				common.PropConfidence:           g.confidenceOr(r.Confidence),
				common.PropIsPublic:             bool(vis),
				common.PropOwnerID:              ownerID,
				common.PropDocID:                docID,
				common.PropRelationIndex:        i,
			},
		}
		if err := g.store.UpsertEdge(ctx, edge); err != nil {
			res.SkippedRelations++
			res.warn("failed to store relation", "doc_id", docID, "relationship", rel, "err", err)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return stored
			}
			continue
		}
		stored++
	}
	return stored
}

// DeleteDocument removes every node ingested for docID on behalf of ownerID.
// Incident edges go with their nodes. It returns the number of nodes removed.
func (g *GraphClient) DeleteDocument(ctx context.Context, docID, ownerID string) (int, error) {
	nodes, err := g.store.QueryNodes(ctx, store.NodeFilter{
		Properties: map[string]any{
			common.PropDocID:   docID,
			common.PropOwnerID: ownerID,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("find nodes of %s: %w", docID, err)
	}
	if len(nodes) == 0 {
		return 0, fmt.Errorf("document %s: %w", docID, store.ErrNotFound)
	}

	deleted := 0
	for _, n := range nodes {
		if err := g.store.DeleteNode(ctx, n.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return deleted, fmt.Errorf("delete node %s: %w", n.ID, err)
		}
		deleted++
	}
	logger.Info("[Graph] Document deleted", "doc_id", docID, "nodes", deleted)
	return deleted, nil
}

// PaperNode returns the paper node ingested for docID by ownerID.
func (g *GraphClient) PaperNode(ctx context.Context, docID, ownerID string) (common.Node, error) {
	nodes, err := g.store.QueryNodes(ctx, store.NodeFilter{
		Type: common.NodeTypePaper,
		Properties: map[string]any{
			common.PropDocID:   docID,
			common.PropOwnerID: ownerID,
		},
		Limit: 1,
	})
	if err != nil {
		return common.Node{}, fmt.Errorf("find paper %s: %w", docID, err)
	}
	if len(nodes) == 0 {
		return common.Node{}, fmt.Errorf("paper %s: %w", docID, store.ErrNotFound)
	}
	return nodes[0], nil
}
