package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/k5tuck/binelek-core-sub001/errors"
	"github.com/k5tuck/binelek-core-sub001/graph"
)

// RelationshipStore persists directed, typed edges between entities. An edge
// is only created when both endpoint entities already exist; there are never
// dangling edges.
type RelationshipStore struct {
	driver GraphDriver
	logger *slog.Logger
}

// NewRelationshipStore creates a relationship store over the given driver.
func NewRelationshipStore(driver GraphDriver, logger *slog.Logger) *RelationshipStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelationshipStore{driver: driver, logger: logger}
}

// Create matches both endpoints before creating the edge. Zero matched rows
// means an endpoint is missing: the create fails and nothing is written.
func (s *RelationshipStore) Create(ctx context.Context, r *graph.Relationship) (*graph.Relationship, error) {
	relType, err := sanitizeIdentifier(r.Type)
	if err != nil {
		return nil, err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	props, err := encodeRelationship(r)
	if err != nil {
		return nil, err
	}

	result, err := s.driver.ExecuteQuery(ctx, fmt.Sprintf(createRelationshipQuery, relType), map[string]any{
		"from_id":   r.FromEntityID,
		"to_id":     r.ToEntityID,
		"tenant_id": r.TenantID,
		"props":     props,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "RelationshipStore", "Create", "create edge")
	}

	if len(result.Records) == 0 {
		return nil, errors.WrapNotFound(errors.ErrEndpointMissing, "RelationshipStore", "Create", "match endpoints")
	}

	s.logger.Debug("relationship created",
		"type", r.Type, "from", r.FromEntityID, "to", r.ToEntityID, "tenant_id", r.TenantID)
	return decodeRelationshipRecord(result.Records[0])
}

// Get returns the edge of the given type between two entities, or nil when absent.
func (s *RelationshipStore) Get(
	ctx context.Context, tenantID, relType, fromID, toID string,
) (*graph.Relationship, error) {
	safeType, err := sanitizeIdentifier(relType)
	if err != nil {
		return nil, err
	}

	result, err := s.driver.ExecuteQuery(ctx, fmt.Sprintf(getRelationshipQuery, safeType), map[string]any{
		"from_id":   fromID,
		"to_id":     toID,
		"tenant_id": tenantID,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "RelationshipStore", "Get", "match edge")
	}

	if len(result.Records) == 0 {
		return nil, nil
	}
	return decodeRelationshipRecord(result.Records[0])
}

// Exists reports whether the typed edge between the two entities exists.
func (s *RelationshipStore) Exists(
	ctx context.Context, tenantID, relType, fromID, toID string,
) (bool, error) {
	rel, err := s.Get(ctx, tenantID, relType, fromID, toID)
	if err != nil {
		return false, err
	}
	return rel != nil, nil
}

// GetForEntity returns edges touching one entity. Direction selects the
// traversal pattern; DirectionBoth normalizes from/to relative to the queried
// entity regardless of the physical edge direction.
func (s *RelationshipStore) GetForEntity(
	ctx context.Context, tenantID, entityID string, direction graph.Direction, relType string,
) ([]*graph.Relationship, error) {
	if !direction.Valid() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown direction %q", direction),
			"RelationshipStore", "GetForEntity", "validate direction")
	}

	typeFragment := ""
	if relType != "" {
		safeType, err := sanitizeIdentifier(relType)
		if err != nil {
			return nil, err
		}
		typeFragment = ":" + safeType
	}

	var pattern string
	switch direction {
	case graph.DirectionOutgoing:
		pattern = fmt.Sprintf("-[r%s]->", typeFragment)
	case graph.DirectionIncoming:
		pattern = fmt.Sprintf("<-[r%s]-", typeFragment)
	case graph.DirectionBoth:
		pattern = fmt.Sprintf("-[r%s]-", typeFragment)
	}

	query := fmt.Sprintf(getRelationshipsForEntityQuery, pattern)
	result, err := s.driver.ExecuteQuery(ctx, query, map[string]any{
		"id":        entityID,
		"tenant_id": tenantID,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "RelationshipStore", "GetForEntity", "match edges")
	}

	rels := make([]*graph.Relationship, 0, len(result.Records))
	for _, record := range result.Records {
		rel, err := decodeRelationshipRecord(record)
		if err != nil {
			return nil, err
		}
		if direction == graph.DirectionBoth {
			// Normalize so the queried entity is always the from side.
			if rel.FromEntityID != entityID {
				rel.FromEntityID, rel.ToEntityID = entityID, rel.FromEntityID
			}
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

// Delete removes the typed edge between two entities, reporting whether a
// row was actually deleted.
func (s *RelationshipStore) Delete(
	ctx context.Context, tenantID, relType, fromID, toID string,
) (bool, error) {
	safeType, err := sanitizeIdentifier(relType)
	if err != nil {
		return false, err
	}

	result, err := s.driver.ExecuteQuery(ctx, fmt.Sprintf(deleteRelationshipQuery, safeType), map[string]any{
		"from_id":   fromID,
		"to_id":     toID,
		"tenant_id": tenantID,
	})
	if err != nil {
		return false, errors.WrapTransient(err, "RelationshipStore", "Delete", "delete edge")
	}

	return firstInt(result, "deleted") > 0, nil
}

// CountForEntity returns how many edges touch the entity in either direction.
func (s *RelationshipStore) CountForEntity(ctx context.Context, tenantID, entityID string) (int, error) {
	result, err := s.driver.ExecuteQuery(ctx, countEntityRelationshipsQuery, map[string]any{
		"id":        entityID,
		"tenant_id": tenantID,
	})
	if err != nil {
		return 0, errors.WrapTransient(err, "RelationshipStore", "CountForEntity", "count edges")
	}

	return int(firstInt(result, "rel_count")), nil
}

// decodeRelationshipRecord rebuilds a relationship from a record carrying the
// edge under "r" and endpoint ids under "from_id"/"to_id".
func decodeRelationshipRecord(record *neo4j.Record) (*graph.Relationship, error) {
	raw, ok := record.Get("r")
	if !ok {
		return nil, errors.WrapTransient(errors.ErrQueryFailed, "RelationshipStore", "decode", "read edge column")
	}
	rel, ok := raw.(dbtype.Relationship)
	if !ok {
		return nil, errors.WrapTransient(errors.ErrQueryFailed, "RelationshipStore", "decode", "cast edge value")
	}

	fromRaw, _ := record.Get("from_id")
	toRaw, _ := record.Get("to_id")
	fromID, _ := fromRaw.(string)
	toID, _ := toRaw.(string)

	return decodeRelationship(rel, fromID, toID), nil
}
