package graph

import "time"

// Direction selects which traversal pattern a relationship query uses.
type Direction string

// Traversal directions relative to the queried entity.
const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// Valid reports whether the direction is one of the supported values.
func (d Direction) Valid() bool {
	switch d {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
		return true
	}
	return false
}

// Relationship is a typed, directed edge between two entities. Both endpoint
// entities must exist before the edge is created; the store never leaves
// dangling edges.
type Relationship struct {
	Type         string           `json:"type"`
	FromEntityID string           `json:"from_entity_id"`
	ToEntityID   string           `json:"to_entity_id"`
	TenantID     string           `json:"tenant_id,omitempty"`
	Properties   map[string]Value `json:"properties,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	CreatedBy    string           `json:"created_by,omitempty"`
}

// NewRelationship creates an edge of the given type between two entity ids.
func NewRelationship(relType, fromID, toID, tenantID string) *Relationship {
	return &Relationship{
		Type:         relType,
		FromEntityID: fromID,
		ToEntityID:   toID,
		TenantID:     tenantID,
		CreatedAt:    time.Now().UTC(),
	}
}
