package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/scholargraph/internal/util"
	"github.com/OFFIS-RIT/scholargraph/pkg/ai"
	"github.com/OFFIS-RIT/scholargraph/pkg/common"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"
)

// Extractor finds entities and relations in document text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]common.Entity, []common.Relation, error)
}

const (
	// ExtractionWindow is the number of leading characters sent to the model.
	ExtractionWindow      = 4000
	extractionTemperature = 0.1
	extractionRetries     = 3
)

type extractEntity struct {
	Text       string   `json:"text" jsonschema_description:"Surface text of the entity as it appears in the document"`
	Type       string   `json:"type" jsonschema:"enum=concept,enum=methodology,enum=organization,enum=person,enum=location"`
	Confidence *float64 `json:"confidence" jsonschema_description:"Confidence between 0 and 1"`
}

type extractRelation struct {
	Source       string   `json:"source" jsonschema_description:"Text of the source entity, as listed in entities"`
	Target       string   `json:"target" jsonschema_description:"Text of the target entity, as listed in entities"`
	Relationship string   `json:"relationship" jsonschema_description:"Short snake_case relationship name"`
	Confidence   *float64 `json:"confidence" jsonschema_description:"Confidence between 0 and 1"`
}

type extractResponse struct {
	Entities  []extractEntity   `json:"entities" jsonschema_description:"Entities identified in the text"`
	Relations []extractRelation `json:"relations" jsonschema_description:"Relationships between the identified entities"`
}

func (r *extractResponse) Validate() error {
	for i, e := range r.Entities {
		if strings.TrimSpace(e.Text) == "" {
			return fmt.Errorf("entity %d has no text", i)
		}
	}
	for i, rel := range r.Relations {
		if strings.TrimSpace(rel.Relationship) == "" {
			return fmt.Errorf("relation %d has no relationship", i)
		}
	}
	return nil
}

// AIExtractor extracts entities and relations with a structured LLM call.
type AIExtractor struct {
	client  ai.Generator
	window  int
	retries int
}

type AIExtractorOption func(*AIExtractor)

// WithWindow changes how many leading characters of the text are analysed.
func WithWindow(n int) AIExtractorOption {
	return func(e *AIExtractor) {
		if n > 0 {
			e.window = n
		}
	}
}

// WithRetries sets how many times a failed model call is attempted.
func WithRetries(n int) AIExtractorOption {
	return func(e *AIExtractor) {
		if n > 0 {
			e.retries = n
		}
	}
}

func NewAIExtractor(client ai.Generator, opts ...AIExtractorOption) *AIExtractor {
	e := &AIExtractor{client: client, window: ExtractionWindow, retries: extractionRetries}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *AIExtractor) Extract(ctx context.Context, text string) ([]common.Entity, []common.Relation, error) {
	text = util.Prefix(strings.TrimSpace(text), e.window)
	if text == "" {
		return nil, nil, nil
	}
	prompt := fmt.Sprintf(ai.ExtractPrompt, text)

	res, err := util.RetryWithContext(ctx, e.retries, func(ctx context.Context) (*extractResponse, error) {
		out, err := ai.GenerateStructured[extractResponse](
			ctx,
			e.client,
			"extract_entities_and_relations",
			"Extract entities and relationships from a research paper.",
			prompt,
			ai.WithTemperature(extractionTemperature),
		).Unwrap()
		if errors.Is(err, ai.ErrInvalidStructuredOutput) {
			logger.Warn("[Extract] Model returned invalid payload", "err", err)
		}
		return out, err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("extract entities: %w", err)
	}

	entities, relations := convertExtraction(res)
	logger.Debug("[Extract] Extraction finished", "entities", len(entities), "relations", len(relations))
	return entities, relations, nil
}

func confidence(c *float64) float64 {
	if c == nil {
		return common.ConfidenceUnset
	}
	return *c
}

// convertExtraction maps the model payload onto domain types. Duplicate
// mentions keep their first type and relations whose endpoints were not
// extracted as entities are dropped.
func convertExtraction(res *extractResponse) ([]common.Entity, []common.Relation) {
	byText := make(map[string]common.Entity, len(res.Entities))
	entities := make([]common.Entity, 0, len(res.Entities))
	for _, e := range res.Entities {
		text := strings.TrimSpace(e.Text)
		if _, seen := byText[text]; seen {
			continue
		}
		ent := common.Entity{
			Text:       text,
			Type:       common.ParseNodeType(e.Type),
			Confidence: confidence(e.Confidence),
		}
		byText[text] = ent
		entities = append(entities, ent)
	}

	relations := make([]common.Relation, 0, len(res.Relations))
	for _, r := range res.Relations {
		src, okSrc := byText[strings.TrimSpace(r.Source)]
		tgt, okTgt := byText[strings.TrimSpace(r.Target)]
		if !okSrc || !okTgt {
			continue
		}
		relations = append(relations, common.Relation{
			Source:       src,
			Target:       tgt,
			Relationship: strings.TrimSpace(r.Relationship),
			Confidence:   confidence(r.Confidence),
		})
	}
	return entities, relations
}
