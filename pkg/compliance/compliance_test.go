package compliance

import (
	"testing"

	"github.com/OFFIS-RIT/scholargraph/pkg/common"

	"pgregory.net/rapid"
)

var allTypes = []common.NodeType{
	common.NodeTypePerson,
	common.NodeTypeOrganization,
	common.NodeTypeLocation,
	common.NodeTypeConcept,
	common.NodeTypeMethodology,
}

var relationshipNames = []string{
	"authored_by", "Authored_By", " located_at ", "contact_info",
	"uses", "extends", "related_to", "evaluated_on",
}

func entityGen() *rapid.Generator[common.Entity] {
	return rapid.Custom(func(t *rapid.T) common.Entity {
		return common.Entity{
			Text:       rapid.StringMatching(`[A-Za-z ]{1,12}`).Draw(t, "text"),
			Type:       rapid.SampledFrom(allTypes).Draw(t, "type"),
			Confidence: rapid.Float64Range(0, 1).Draw(t, "confidence"),
		}
	})
}

func relationGen() *rapid.Generator[common.Relation] {
	return rapid.Custom(func(t *rapid.T) common.Relation {
		return common.Relation{
			Source:       entityGen().Draw(t, "source"),
			Target:       entityGen().Draw(t, "target"),
			Relationship: rapid.SampledFrom(relationshipNames).Draw(t, "relationship"),
			Confidence:   rapid.Float64Range(0, 1).Draw(t, "confidence"),
		}
	})
}

func TestFilter_PrivateDocumentSplitsByType(t *testing.T) {
	entities := []common.Entity{
		{Text: "CRISPR", Type: common.NodeTypeConcept, Confidence: 0.9},
		{Text: "Jane Doe", Type: common.NodeTypePerson, Confidence: 0.8},
		{Text: "MIT", Type: common.NodeTypeOrganization, Confidence: 0.7},
		{Text: "Boston", Type: common.NodeTypeLocation, Confidence: 0.6},
		{Text: "Gradient Descent", Type: common.NodeTypeMethodology, Confidence: 0.5},
	}
	relations := []common.Relation{
		{Source: entities[1], Target: entities[0], Relationship: "authored_by"},
		{Source: entities[4], Target: entities[0], Relationship: "applied_to"},
		{Source: entities[2], Target: entities[3], Relationship: "located_at"},
		{Source: entities[0], Target: entities[2], Relationship: "developed_by"},
	}

	p := Filter(entities, relations, false)

	if len(p.PublicEntities) != 3 {
		t.Fatalf("expected 3 public entities, got %d", len(p.PublicEntities))
	}
	if len(p.PrivateEntities) != 2 {
		t.Fatalf("expected 2 private entities, got %d", len(p.PrivateEntities))
	}
	if p.PrivateEntities[0].Text != "Jane Doe" || p.PrivateEntities[1].Text != "Boston" {
		t.Fatalf("unexpected private entities: %+v", p.PrivateEntities)
	}
	if len(p.PublicRelations) != 2 {
		t.Fatalf("expected 2 public relations, got %d", len(p.PublicRelations))
	}
	if len(p.PrivateRelations) != 2 {
		t.Fatalf("expected 2 private relations, got %d", len(p.PrivateRelations))
	}
}

func TestFilter_PublicDocumentDropsPrivateOutputs(t *testing.T) {
	entities := []common.Entity{
		{Text: "CRISPR", Type: common.NodeTypeConcept},
		{Text: "Jane Doe", Type: common.NodeTypePerson},
	}
	relations := []common.Relation{
		{Source: entities[1], Target: entities[0], Relationship: "authored_by"},
	}

	p := Filter(entities, relations, true)

	if len(p.PublicEntities) != 1 || p.PublicEntities[0].Text != "CRISPR" {
		t.Fatalf("unexpected public entities: %+v", p.PublicEntities)
	}
	if len(p.PublicRelations) != 0 {
		t.Fatalf("expected no public relations, got %+v", p.PublicRelations)
	}
	if p.PrivateEntities != nil || p.PrivateRelations != nil {
		t.Fatalf("expected empty private outputs, got %+v / %+v", p.PrivateEntities, p.PrivateRelations)
	}
}

func TestIsSensitive_NormalisesCaseAndSpace(t *testing.T) {
	cases := map[string]bool{
		"authored_by":    true,
		"AUTHORED_BY":    true,
		"  located_at  ": true,
		"contact_info":   true,
		"uses":           false,
		"":               false,
	}
	for name, want := range cases {
		if got := IsSensitive(name); got != want {
			t.Errorf("IsSensitive(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestFilter_NoEntityInBothBuckets(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		entities := rapid.SliceOf(entityGen()).Draw(t, "entities")
		isPublic := rapid.Bool().Draw(t, "is_public")

		p := Filter(entities, nil, isPublic)

		if len(p.PublicEntities)+len(p.PrivateEntities) > len(entities) {
			t.Fatalf("filter produced more entities than it received")
		}
		for _, e := range p.PublicEntities {
			if !IsPublicType(e.Type) {
				t.Fatalf("entity %q of type %s leaked into public output", e.Text, e.Type)
			}
		}
		for _, e := range p.PrivateEntities {
			if IsPublicType(e.Type) {
				t.Fatalf("public-eligible entity %q placed in private output", e.Text)
			}
		}
		if !isPublic && len(p.PublicEntities)+len(p.PrivateEntities) != len(entities) {
			t.Fatalf("private document lost entities")
		}
	})
}

func TestFilter_SensitiveRelationshipsNeverPublic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		relations := rapid.SliceOf(relationGen()).Draw(t, "relations")
		isPublic := rapid.Bool().Draw(t, "is_public")

		p := Filter(nil, relations, isPublic)

		for _, r := range p.PublicRelations {
			if IsSensitive(r.Relationship) {
				t.Fatalf("sensitive relationship %q exposed publicly", r.Relationship)
			}
			if !IsPublicType(r.Source.Type) || !IsPublicType(r.Target.Type) {
				t.Fatalf("public relation touches a private-only endpoint: %+v", r)
			}
		}
		if isPublic && len(p.PrivateRelations) != 0 {
			t.Fatalf("public document produced private relations")
		}
	})
}
