package common

import (
	"strings"
	"time"
	"unicode/utf8"
)

// NodeType is the closed set of node kinds stored in the knowledge graph.
// Each type maps to its own collection, so a node id is always prefixed with
// its type (e.g. "concept/3f2a...").
type NodeType string

const (
	NodeTypePaper        NodeType = "paper"
	NodeTypePerson       NodeType = "person"
	NodeTypeOrganization NodeType = "organization"
	NodeTypeLocation     NodeType = "location"
	NodeTypeConcept      NodeType = "concept"
	NodeTypeMethodology  NodeType = "methodology"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypePaper, NodeTypePerson, NodeTypeOrganization,
		NodeTypeLocation, NodeTypeConcept, NodeTypeMethodology:
		return true
	}
	return false
}

// ParseNodeType normalises free-form type names produced by extractors.
// Unknown values map to concept, mirroring how extractors default.
func ParseNodeType(s string) NodeType {
	t := NodeType(strings.ToLower(strings.TrimSpace(s)))
	if t.Valid() && t != NodeTypePaper {
		return t
	}
	return NodeTypeConcept
}

// Property keys shared between the ingestion writer and the retrieval engine.
const (
	PropOriginalText         = "original_text"
	PropIsPublic             = "is_public"
	PropOwnerID              = "owner_id"
	PropDocID                = "doc_id"
	PropFileHash             = "file_hash"
	PropTitle                = "title"
	PropAuthors              = "authors"
	PropAbstract             = "abstract"
	PropFilename             = "filename"
	PropConfidence           = "confidence"
	PropEntityIndex          = "entity_index"
	PropRelationIndex        = "relation_index"
	PropOriginalRelationship = "original_relationship"
)

// EdgeLabelContains marks the paper -> entity containment edge.
const EdgeLabelContains = "contains"

const (
	MaxNodeLabelLen = 100
	MaxEdgeLabelLen = 50
)

// Node is a vertex of the property graph.
//
// ID is "<type>/<key>" and never changes once created. Upserting a node with
// an existing ID replaces Label and Properties but keeps Type.
type Node struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Type       NodeType       `json:"type"`
	Properties map[string]any `json:"properties"`
}

// OriginalText returns the untruncated source text stored on the node.
func (n Node) OriginalText() string {
	return StringProp(n.Properties, PropOriginalText)
}

// IsPublic reports the node's visibility class.
func (n Node) IsPublic() bool {
	return BoolProp(n.Properties, PropIsPublic)
}

// OwnerID returns the owner of a private node, or "" for public ones.
func (n Node) OwnerID() string {
	return StringProp(n.Properties, PropOwnerID)
}

// Edge is a directed relationship between two nodes. Edges can be traversed
// in either direction at query time.
type Edge struct {
	ID         string         `json:"id"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Label      string         `json:"label"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

// IsPublic reports the edge's visibility class.
func (e Edge) IsPublic() bool {
	return BoolProp(e.Properties, PropIsPublic)
}

// OwnerID returns the user whose document produced the edge.
func (e Edge) OwnerID() string {
	return StringProp(e.Properties, PropOwnerID)
}

// ConfidenceUnset marks an Entity or Relation whose extractor reported no
// confidence. Zero is a valid confidence.
const ConfidenceUnset = -1.0

// Entity is an extraction-time mention. It only lives until ingestion turns
// it into a Node.
type Entity struct {
	Text       string   `json:"text"`
	Type       NodeType `json:"type"`
	Confidence float64  `json:"confidence"`
}

// Relation is an extraction-time statement between two entities.
type Relation struct {
	Source       Entity  `json:"source_entity"`
	Target       Entity  `json:"target_entity"`
	Relationship string  `json:"relationship"`
	Confidence   float64 `json:"confidence"`
}

// QueryScope selects which vector namespaces a query may read.
type QueryScope string

const (
	ScopePersonal    QueryScope = "personal"
	ScopeShared      QueryScope = "shared"
	ScopePublic      QueryScope = "public"
	ScopeCrossDomain QueryScope = "cross_domain"
)

// IncludesPublic reports whether the shared public namespace is searched.
func (s QueryScope) IncludesPublic() bool {
	switch s {
	case ScopeShared, ScopePublic, ScopeCrossDomain:
		return true
	}
	return false
}

// QueryType selects the prompt template used for answer generation.
type QueryType string

const (
	QueryTypeFactual        QueryType = "factual"
	QueryTypeRelational     QueryType = "relational"
	QueryTypeComparative    QueryType = "comparative"
	QueryTypeSummarization  QueryType = "summarization"
	QueryTypeRecommendation QueryType = "recommendation"
)

// Query is a single natural-language question asked by a user.
type Query struct {
	Text   string     `json:"text"`
	UserID string     `json:"user_id"`
	Scope  QueryScope `json:"scope"`
	Type   QueryType  `json:"type"`
}

// Citation points at a paper whose title appears in a generated answer.
type Citation struct {
	PaperID         string   `json:"paper_id"`
	PaperTitle      string   `json:"paper_title"`
	Authors         []string `json:"authors"`
	PublicationDate string   `json:"publication_date,omitempty"`
	TextSegment     string   `json:"text_segment"`
	Confidence      float64  `json:"confidence"`
}

// Response is the answer returned for a Query. It is what gets cached.
type Response struct {
	QueryID           string     `json:"query_id"`
	Answer            string     `json:"answer"`
	Citations         []Citation `json:"citations"`
	Confidence        float64    `json:"confidence"`
	FollowUpQuestions []string   `json:"suggested_follow_up_questions"`
	ProcessedAt       time.Time  `json:"processed_at"`
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// StringProp reads a string property, returning "" when absent or of another type.
func StringProp(props map[string]any, key string) string {
	if props == nil {
		return ""
	}
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

// BoolProp reads a bool property, returning false when absent.
func BoolProp(props map[string]any, key string) bool {
	if props == nil {
		return false
	}
	if v, ok := props[key].(bool); ok {
		return v
	}
	return false
}

// StringsProp reads a string list property. It accepts both []string and the
// []any shape produced by JSON decoding.
func StringsProp(props map[string]any, key string) []string {
	if props == nil {
		return nil
	}
	switch v := props[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// FloatProp reads a numeric property, returning def when absent.
func FloatProp(props map[string]any, key string, def float64) float64 {
	if props == nil {
		return def
	}
	switch v := props[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}
