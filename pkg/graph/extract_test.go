package graph

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/scholargraph/internal/util"
	"github.com/OFFIS-RIT/scholargraph/pkg/ai"
	"github.com/OFFIS-RIT/scholargraph/pkg/common"
)

func init() {
	util.RetryBaseDelay = 0
}

// scriptedGenerator replays canned JSON replies, one per call.
type scriptedGenerator struct {
	replies []string
	errs    []error
	prompts []string
	calls   int
}

func (g *scriptedGenerator) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", errors.New("not used")
}

func (g *scriptedGenerator) GenerateCompletionWithFormat(ctx context.Context, name, desc, prompt string, out any, opts ...ai.GenerateOption) error {
	i := g.calls
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if i < len(g.errs) && g.errs[i] != nil {
		return g.errs[i]
	}
	return json.Unmarshal([]byte(g.replies[i]), out)
}

func TestAIExtractor_DropsRelationsWithUnknownEndpoints(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{`{
		"entities": [
			{"text": "CRISPR", "type": "concept", "confidence": 0.9},
			{"text": "Jane Doe", "type": "Person", "confidence": 0.8},
			{"text": "CRISPR", "type": "methodology", "confidence": 0.5},
			{"text": "Cas9", "type": "protein", "confidence": 0.7}
		],
		"relations": [
			{"source": "Jane Doe", "target": "CRISPR", "relationship": "authored_by", "confidence": 0.9},
			{"source": "Jane Doe", "target": "Nobody", "relationship": "knows", "confidence": 0.9}
		]
	}`}}

	ents, rels, err := NewAIExtractor(gen).Extract(context.Background(), "CRISPR text by Jane Doe")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	want := []common.Entity{
		{Text: "CRISPR", Type: common.NodeTypeConcept, Confidence: 0.9},
		{Text: "Jane Doe", Type: common.NodeTypePerson, Confidence: 0.8},
		{Text: "Cas9", Type: common.NodeTypeConcept, Confidence: 0.7},
	}
	if len(ents) != len(want) {
		t.Fatalf("entities = %+v", ents)
	}
	for i := range want {
		if ents[i] != want[i] {
			t.Errorf("entity[%d] = %+v, want %+v", i, ents[i], want[i])
		}
	}
	if len(rels) != 1 || rels[0].Relationship != "authored_by" || rels[0].Source.Type != common.NodeTypePerson {
		t.Fatalf("relations = %+v", rels)
	}
}

func TestAIExtractor_TruncatesInputAndRetries(t *testing.T) {
	gen := &scriptedGenerator{
		errs:    []error{errors.New("rate limited"), nil},
		replies: []string{"", `{"entities": [], "relations": []}`},
	}
	text := strings.Repeat("x", 50) + strings.Repeat("y", 50)

	_, _, err := NewAIExtractor(gen, WithWindow(50)).Extract(context.Background(), text)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("calls = %d, want 2", gen.calls)
	}
	if strings.Contains(gen.prompts[1], "xy") {
		t.Fatal("prompt contains text beyond the extraction window")
	}
}

func TestAIExtractor_InvalidPayload(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		`{"entities": [{"text": "  ", "type": "concept"}], "relations": []}`,
	}}
	_, _, err := NewAIExtractor(gen, WithRetries(1)).Extract(context.Background(), "text")
	if !errors.Is(err, ai.ErrInvalidStructuredOutput) {
		t.Fatalf("Extract() error = %v, want ErrInvalidStructuredOutput", err)
	}
}

func TestAIExtractor_MissingConfidenceIsUnset(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{`{
		"entities": [
			{"text": "CRISPR", "type": "concept"},
			{"text": "Cas9", "type": "concept", "confidence": 0}
		],
		"relations": [
			{"source": "Cas9", "target": "CRISPR", "relationship": "part_of"}
		]
	}`}}

	ents, rels, err := NewAIExtractor(gen).Extract(context.Background(), "CRISPR and Cas9")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(ents) != 2 || ents[0].Confidence != common.ConfidenceUnset || ents[1].Confidence != 0 {
		t.Fatalf("entities = %+v", ents)
	}
	if len(rels) != 1 || rels[0].Confidence != common.ConfidenceUnset {
		t.Fatalf("relations = %+v", rels)
	}
}
