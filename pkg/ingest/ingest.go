// Package ingest runs the document ingestion pipeline: store the upload,
// extract text and facts, embed the document and write it into the vector
// index and the knowledge graph.
package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/OFFIS-RIT/scholargraph/internal/util"
	"github.com/OFFIS-RIT/scholargraph/pkg/ai"
	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/compliance"
	"github.com/OFFIS-RIT/scholargraph/pkg/graph"
	"github.com/OFFIS-RIT/scholargraph/pkg/loader"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"
	"github.com/OFFIS-RIT/scholargraph/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrEmptyDocument   = errors.New("document contains no text")
	ErrUnsupportedFile = loader.ErrUnsupportedFile
	ErrMissingUser     = errors.New("missing user id")
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const (
	previewLength   = 200
	abstractLength  = 500
	embeddingTokens = 8000
	metadataWindow  = 3000
	embedRetries    = 3
)

// ObjectStore keeps raw uploads and extracted text.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Metadata is bibliographic information supplied with an upload. Empty
// fields are filled from the file itself when possible.
type Metadata struct {
	Title           string   `json:"title,omitempty"`
	Authors         []string `json:"authors,omitempty"`
	PublicationDate string   `json:"publication_date,omitempty"`
	Journal         string   `json:"journal,omitempty"`
	Abstract        string   `json:"abstract,omitempty"`
}

// Request is a single document to ingest.
type Request struct {
	// DocID is optional. A new id is generated when it is empty.
	DocID    string   `json:"doc_id,omitempty"`
	Content  []byte   `json:"content"`
	Filename string   `json:"filename"`
	IsPublic bool     `json:"is_public"`
	UserID   string   `json:"user_id"`
	Metadata Metadata `json:"metadata"`
}

// Result describes the outcome of Ingest. Status is StatusCompleted or
// StatusFailed, in which case Error says why.
type Result struct {
	DocID              string   `json:"doc_id"`
	Filename           string   `json:"filename"`
	TextLength         int      `json:"text_length"`
	PublicEntities     int      `json:"public_entities_count"`
	PublicRelations    int      `json:"public_relations_count"`
	PrivateEntities    int      `json:"private_entities_count"`
	PrivateRelations   int      `json:"private_relations_count"`
	StoredEntities     int      `json:"stored_entities"`
	StoredRelations    int      `json:"stored_relations"`
	SkippedEntities    int      `json:"skipped_entities"`
	SkippedRelations   int      `json:"skipped_relations"`
	Warnings           []string `json:"warnings,omitempty"`
	EmbeddingDimension int      `json:"embedding_dimension"`
	Status             string   `json:"status"`
	Error              string   `json:"error,omitempty"`

	err error
}

// Err returns the error behind a failed result.
func (r Result) Err() error {
	return r.err
}

// Observer receives one call per finished ingestion.
type Observer interface {
	DocumentIngested(status string, d time.Duration)
}

// Service wires the ingestion pipeline together.
type Service struct {
	objects   ObjectStore
	loader    loader.Loader
	extractor graph.Extractor
	embedder  ai.Embedder
	metadata  ai.Generator
	vectors   store.VectorStorage
	graph     *graph.GraphClient
	observer  Observer
}

type NewServiceParams struct {
	Objects   ObjectStore
	Loader    loader.Loader
	Extractor graph.Extractor
	Embedder  ai.Embedder
	// MetadataGenerator is optional. When set it fills title, authors and
	// abstract the upload and the file did not provide.
	MetadataGenerator ai.Generator
	Vectors           store.VectorStorage
	Graph             *graph.GraphClient
	Observer          Observer
}

func NewService(params NewServiceParams) (*Service, error) {
	switch {
	case params.Objects == nil:
		return nil, errors.New("ingest: object store is required")
	case params.Loader == nil:
		return nil, errors.New("ingest: loader is required")
	case params.Extractor == nil:
		return nil, errors.New("ingest: extractor is required")
	case params.Embedder == nil:
		return nil, errors.New("ingest: embedder is required")
	case params.Vectors == nil:
		return nil, errors.New("ingest: vector store is required")
	case params.Graph == nil:
		return nil, errors.New("ingest: graph client is required")
	}
	return &Service{
		objects:   params.Objects,
		loader:    params.Loader,
		extractor: params.Extractor,
		embedder:  params.Embedder,
		metadata:  params.MetadataGenerator,
		vectors:   params.Vectors,
		graph:     params.Graph,
		observer:  params.Observer,
	}, nil
}

// RawKey is the object key of an uploaded file.
func RawKey(userID, docID, filename string) string {
	return fmt.Sprintf("users/%s/raw/%s_%s", userID, docID, filename)
}

// TextKey is the object key of a document's extracted text.
func TextKey(userID, docID string) string {
	return fmt.Sprintf("users/%s/text/%s.txt", userID, docID)
}

// UserVectorID is the id of a document in its owner's namespace.
func UserVectorID(userID, docID string) string {
	return userID + "_" + docID
}

// FileHash is the md5 hex digest stored on paper nodes.
func FileHash(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}

// Validate checks a request before any work is done.
func (r Request) Validate() error {
	if r.UserID == "" {
		return ErrMissingUser
	}
	if len(r.Content) == 0 {
		return ErrEmptyDocument
	}
	if _, err := loader.FileTypeOf(r.Filename); err != nil {
		return fmt.Errorf("%s: %w", r.Filename, ErrUnsupportedFile)
	}
	return nil
}

// Ingest processes one document. It does not return an error: failures are
// reported through Result.Status and Result.Error.
func (s *Service) Ingest(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	req.Filename = filepath.Base(req.Filename)
	res = Result{DocID: req.DocID, Filename: req.Filename}

	defer func() {
		if res.err != nil {
			res.Status = StatusFailed
			res.Error = res.err.Error()
			logger.Error("[Ingest] Document failed",
				"doc_id", res.DocID, "filename", req.Filename, "user_id", req.UserID, "err", res.err)
		} else {
			res.Status = StatusCompleted
			logger.Info("[Ingest] Document completed",
				"doc_id", res.DocID, "filename", req.Filename, "duration", time.Since(start))
		}
		if s.observer != nil {
			s.observer.DocumentIngested(res.Status, time.Since(start))
		}
	}()

	if err := req.Validate(); err != nil {
		res.err = err
		return res
	}
	if res.DocID == "" {
		id, err := gonanoid.New()
		if err != nil {
			res.err = fmt.Errorf("generate doc id: %w", err)
			return res
		}
		res.DocID = id
	}
	res.err = s.run(ctx, req, &res)
	return res
}

func (s *Service) run(ctx context.Context, req Request, res *Result) error {
	docID := res.DocID

	if err := s.objects.Put(ctx, RawKey(req.UserID, docID, req.Filename), contentType(req.Filename), req.Content); err != nil {
		return fmt.Errorf("store raw file: %w", err)
	}

	doc, err := s.loader.Load(ctx, req.Filename, req.Content)
	if errors.Is(err, loader.ErrNoText) {
		return ErrEmptyDocument
	}
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	text := util.NormalizeDocumentText(doc.Text)
	if text == "" {
		return ErrEmptyDocument
	}
	res.TextLength = len([]rune(text))

	if err := s.objects.Put(ctx, TextKey(req.UserID, docID), "text/plain; charset=utf-8", []byte(text)); err != nil {
		return fmt.Errorf("store text: %w", err)
	}

	meta := s.resolveMetadata(ctx, req, doc.Metadata, text)

	entities, relations, err := s.extractor.Extract(ctx, text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Warn("[Ingest] Extraction failed, storing document without entities",
			"doc_id", docID, "err", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("entity extraction failed: %v", err))
		entities, relations = nil, nil
	}

	embedding, err := util.RetryWithContext(ctx, embedRetries, func(ctx context.Context) ([]float32, error) {
		return s.embedder.GenerateEmbedding(ctx, []byte(ai.TruncateToTokens(text, embeddingTokens)))
	})
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}
	res.EmbeddingDimension = len(embedding)

	// The uploader keeps every fact privately even when the paper is public.
	part := compliance.Filter(entities, relations, false)
	res.PublicEntities = len(part.PublicEntities)
	res.PublicRelations = len(part.PublicRelations)
	res.PrivateEntities = len(part.PrivateEntities)
	res.PrivateRelations = len(part.PrivateRelations)

	if err := s.upsertVectors(ctx, req, docID, meta, text, embedding); err != nil {
		return err
	}

	gres, err := s.graph.IngestDocument(ctx, graph.PaperDocument{
		DocID:           docID,
		Title:           meta.Title,
		Authors:         meta.Authors,
		Abstract:        meta.Abstract,
		Filename:        req.Filename,
		FileHash:        FileHash(req.Content),
		PublicationDate: meta.PublicationDate,
		Journal:         meta.Journal,
		IsPublic:        req.IsPublic,
	}, part, req.UserID)
	if err != nil {
		return err
	}
	res.StoredEntities = gres.PublicEntities + gres.PrivateEntities
	res.StoredRelations = gres.PublicRelations + gres.PrivateRelations
	res.SkippedEntities = gres.SkippedEntities
	res.SkippedRelations = gres.SkippedRelations
	res.Warnings = append(res.Warnings, gres.Warnings...)
	return nil
}

func (s *Service) upsertVectors(ctx context.Context, req Request, docID string, meta Metadata, text string, embedding []float32) error {
	authors := meta.Authors
	if authors == nil {
		authors = []string{}
	}
	metadata := map[string]any{
		"user_id":           req.UserID,
		common.PropDocID:    docID,
		common.PropFilename: req.Filename,
		common.PropIsPublic: req.IsPublic,
		common.PropTitle:    meta.Title,
		common.PropAuthors:  authors,
		"publication_date":  meta.PublicationDate,
		"journal":           meta.Journal,
		"text_preview":      util.Preview(text, previewLength),
	}

	if req.IsPublic {
		rec := store.VectorRecord{ID: docID, Embedding: embedding, Metadata: withNamespace(metadata, store.PublicNamespace)}
		if err := s.vectors.Upsert(ctx, store.PublicNamespace, []store.VectorRecord{rec}); err != nil {
			return fmt.Errorf("store public vector: %w", err)
		}
	}
	rec := store.VectorRecord{ID: UserVectorID(req.UserID, docID), Embedding: embedding, Metadata: withNamespace(metadata, req.UserID)}
	if err := s.vectors.Upsert(ctx, req.UserID, []store.VectorRecord{rec}); err != nil {
		return fmt.Errorf("store user vector: %w", err)
	}
	return nil
}

func withNamespace(m map[string]any, ns string) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["namespace"] = ns
	return out
}

func contentType(filename string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	return "application/octet-stream"
}
