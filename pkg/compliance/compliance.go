// Package compliance decides which extracted facts may become publicly
// visible. Everything here is pure so that the public/private split can be
// audited and tested in isolation.
package compliance

import (
	"strings"

	"github.com/OFFIS-RIT/scholargraph/pkg/common"
)

var publicEntityTypes = map[common.NodeType]struct{}{
	common.NodeTypeConcept:      {},
	common.NodeTypeMethodology:  {},
	common.NodeTypeOrganization: {},
}

var sensitiveRelationships = map[string]struct{}{
	"authored_by":  {},
	"located_at":   {},
	"contact_info": {},
}

// Partition is the result of Filter.
type Partition struct {
	PublicEntities   []common.Entity
	PublicRelations  []common.Relation
	PrivateEntities  []common.Entity
	PrivateRelations []common.Relation
}

// IsPublicType reports whether entities of type t may be shared publicly.
func IsPublicType(t common.NodeType) bool {
	_, ok := publicEntityTypes[t]
	return ok
}

// IsSensitive reports whether a relationship name must never be public.
func IsSensitive(relationship string) bool {
	_, ok := sensitiveRelationships[strings.ToLower(strings.TrimSpace(relationship))]
	return ok
}

// IsPublicRelation reports whether a relation may be shared publicly: both
// endpoints must be public-eligible and the relationship must not be sensitive.
func IsPublicRelation(r common.Relation) bool {
	return IsPublicType(r.Source.Type) && IsPublicType(r.Target.Type) && !IsSensitive(r.Relationship)
}

// Filter splits entities and relations into public and private buckets.
//
// For a private document every entity lands in exactly one bucket, decided by
// its type, and every relation that is not public is private. For a public
// document only the public buckets are filled. Input order is preserved and
// the inputs are never modified.
func Filter(entities []common.Entity, relations []common.Relation, isPublic bool) Partition {
	var p Partition

	for _, e := range entities {
		if IsPublicType(e.Type) {
			p.PublicEntities = append(p.PublicEntities, e)
		} else if !isPublic {
			p.PrivateEntities = append(p.PrivateEntities, e)
		}
	}

	for _, r := range relations {
		if IsPublicRelation(r) {
			p.PublicRelations = append(p.PublicRelations, r)
		} else if !isPublic {
			p.PrivateRelations = append(p.PrivateRelations, r)
		}
	}

	return p
}
