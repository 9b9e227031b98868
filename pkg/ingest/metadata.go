package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/scholargraph/internal/util"
	"github.com/OFFIS-RIT/scholargraph/pkg/ai"
	"github.com/OFFIS-RIT/scholargraph/pkg/loader"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"
)

type extractedMetadata struct {
	Title           string   `json:"title"`
	Authors         []string `json:"authors"`
	PublicationDate string   `json:"publication_date"`
	Journal         string   `json:"journal"`
	Abstract        string   `json:"abstract"`
}

// resolveMetadata merges, in order of precedence, the metadata sent with the
// upload, the file's own document information and a model reading of the
// first page. The title falls back to the filename and the abstract to the
// beginning of the text.
func (s *Service) resolveMetadata(ctx context.Context, req Request, file loader.Metadata, text string) Metadata {
	m := req.Metadata
	m.Title = strings.TrimSpace(m.Title)

	if m.Title == "" {
		m.Title = file.Title
	}
	if len(m.Authors) == 0 {
		m.Authors = file.Authors
	}
	if m.PublicationDate == "" {
		m.PublicationDate = file.PublicationDate
	}

	if s.metadata != nil && (m.Title == "" || len(m.Authors) == 0 || m.Abstract == "") {
		if got, err := s.extractMetadata(ctx, req.Filename, text); err != nil {
			logger.Warn("[Ingest] Metadata extraction failed", "filename", req.Filename, "err", err)
		} else {
			m = mergeMetadata(m, got)
		}
	}

	if m.Title == "" {
		m.Title = req.Filename
	}
	if m.Abstract == "" {
		m.Abstract = util.Prefix(text, abstractLength)
	}
	return m
}

func mergeMetadata(m Metadata, got *extractedMetadata) Metadata {
	if m.Title == "" {
		m.Title = strings.TrimSpace(got.Title)
	}
	if len(m.Authors) == 0 {
		for _, a := range got.Authors {
			if a = strings.TrimSpace(a); a != "" {
				m.Authors = append(m.Authors, a)
			}
		}
	}
	if m.PublicationDate == "" {
		m.PublicationDate = strings.TrimSpace(got.PublicationDate)
	}
	if m.Journal == "" {
		m.Journal = strings.TrimSpace(got.Journal)
	}
	if m.Abstract == "" {
		m.Abstract = strings.TrimSpace(got.Abstract)
	}
	return m
}

func (s *Service) extractMetadata(ctx context.Context, filename, text string) (*extractedMetadata, error) {
	return ai.GenerateStructured[extractedMetadata](
		ctx,
		s.metadata,
		"paper_metadata",
		"Bibliographic metadata of a research paper.",
		fmt.Sprintf(ai.MetadataPrompt, filename, util.Prefix(text, metadataWindow)),
		ai.WithTemperature(0.1),
	).Unwrap()
}
