package types

import "time"

// RelationshipKind enumerates the fixed edge types of spec §3.
type RelationshipKind string

const (
	RelationCausal      RelationshipKind = "causal"
	RelationContradicts RelationshipKind = "contradicts"
	RelationSupports    RelationshipKind = "supports"
	RelationRequires    RelationshipKind = "requires"
	RelationRelated     RelationshipKind = "related"
)

// ValidRelationshipKinds is used for validation at the graph boundary.
var ValidRelationshipKinds = map[RelationshipKind]struct{}{
	RelationCausal:      {},
	RelationContradicts: {},
	RelationSupports:    {},
	RelationRequires:    {},
	RelationRelated:     {},
}

// RelationshipEdge is a typed directed edge between two memories (spec §3).
// Unique on (FromID, ToID, Kind).
type RelationshipEdge struct {
	ID        string
	FromID    string
	ToID      string
	Kind      RelationshipKind
	Strength  float64
	Evidence  string
	CreatedAt time.Time
}

// Direction selects which side of an edge to traverse in GetRelated.
type Direction string

const (
	DirectionFrom Direction = "from"
	DirectionTo   Direction = "to"
	DirectionBoth Direction = "both"
)
