package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"golang.org/x/time/rate"

	"github.com/k5tuck/binelek-core-sub001/errors"
	"github.com/k5tuck/binelek-core-sub001/graph"
)

// EntityStore persists and retrieves entities as graph nodes. Every operation
// is scoped by (id, tenant_id); cross-tenant reads are impossible because the
// tenant id is part of every match pattern.
type EntityStore struct {
	driver GraphDriver
	logger *slog.Logger

	// Full-text search shares the database with the event consumers, so
	// query volume is bounded here rather than at each caller.
	searchLimiter *rate.Limiter
}

// NewEntityStore creates an entity store over the given driver.
func NewEntityStore(driver GraphDriver, logger *slog.Logger) *EntityStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityStore{
		driver:        driver,
		logger:        logger,
		searchLimiter: rate.NewLimiter(rate.Limit(100), 10),
	}
}

// Create writes a new node labeled by the entity's type.
func (s *EntityStore) Create(ctx context.Context, e *graph.Entity) (*graph.Entity, error) {
	label, err := sanitizeIdentifier(e.Type)
	if err != nil {
		return nil, err
	}

	props, err := encodeEntity(e)
	if err != nil {
		return nil, err
	}

	result, err := s.driver.ExecuteQuery(ctx, fmt.Sprintf(createEntityQuery, label), map[string]any{
		"props": props,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "EntityStore", "Create", "write node")
	}

	node, ok := firstNode(result, "e")
	if !ok {
		return nil, errors.WrapTransient(errors.ErrQueryFailed, "EntityStore", "Create", "read created node")
	}

	s.logger.Debug("entity created", "entity_id", e.ID, "type", e.Type, "tenant_id", e.TenantID)
	return decodeEntity(node)
}

// GetByID looks up an entity by id within a tenant, unscoped by type.
// Soft-deleted entities are excluded. Returns nil without error when absent.
func (s *EntityStore) GetByID(ctx context.Context, tenantID, id string) (*graph.Entity, error) {
	result, err := s.driver.ExecuteQuery(ctx, getEntityByIDQuery, map[string]any{
		"id":        id,
		"tenant_id": tenantID,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "EntityStore", "GetByID", "match node")
	}

	node, ok := firstNode(result, "e")
	if !ok {
		return nil, nil
	}
	return decodeEntity(node)
}

// GetByType returns entities of one type ordered by created_at descending.
func (s *EntityStore) GetByType(
	ctx context.Context, tenantID, entityType string, skip, limit int,
) ([]*graph.Entity, error) {
	label, err := sanitizeIdentifier(entityType)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	result, err := s.driver.ExecuteQuery(ctx, fmt.Sprintf(getEntitiesByTypeQuery, label), map[string]any{
		"tenant_id": tenantID,
		"skip":      skip,
		"limit":     limit,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "EntityStore", "GetByType", "match nodes")
	}

	return decodeEntities(result, "e")
}

// Update performs a full overwrite of node properties by id. The stored id
// and type never change. Fails with a not-found error when the node is
// missing.
func (s *EntityStore) Update(ctx context.Context, e *graph.Entity) (*graph.Entity, error) {
	e.UpdatedAt = time.Now().UTC()

	props, err := encodeEntity(e)
	if err != nil {
		return nil, err
	}

	result, err := s.driver.ExecuteQuery(ctx, updateEntityQuery, map[string]any{
		"id":        e.ID,
		"tenant_id": e.TenantID,
		"props":     props,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "EntityStore", "Update", "overwrite node")
	}

	node, ok := firstNode(result, "e")
	if !ok {
		return nil, errors.WrapNotFound(errors.ErrEntityNotFound, "EntityStore", "Update", "match node")
	}

	return decodeEntity(node)
}

// Search runs a full-text query against the pre-built index, optionally
// filtered by type, ranked by relevance score descending.
func (s *EntityStore) Search(
	ctx context.Context, tenantID, term, entityType string, limit int,
) ([]*graph.Entity, error) {
	if err := s.searchLimiter.Wait(ctx); err != nil {
		return nil, errors.WrapTransient(err, "EntityStore", "Search", "acquire query slot")
	}
	if limit <= 0 {
		limit = 25
	}

	result, err := s.driver.ExecuteQuery(ctx, searchEntitiesQuery, map[string]any{
		"index":     SearchIndexName,
		"term":      term,
		"tenant_id": tenantID,
		"type":      entityType,
		"limit":     limit,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "EntityStore", "Search", "query fulltext index")
	}

	return decodeEntities(result, "node")
}

// FindByProperty returns entities of one type sharing a property value,
// excluding the given entity. Backs relationship inference.
func (s *EntityStore) FindByProperty(
	ctx context.Context, tenantID, entityType, key string, value graph.Value, excludeID string, limit int,
) ([]*graph.Entity, error) {
	label, err := sanitizeIdentifier(entityType)
	if err != nil {
		return nil, err
	}
	safeKey, err := sanitizeIdentifier(key)
	if err != nil {
		return nil, err
	}
	encoded, err := encodeValue(value)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(findEntitiesByPropertyQuery, label, safeKey)
	result, err := s.driver.ExecuteQuery(ctx, query, map[string]any{
		"tenant_id":  tenantID,
		"value":      encoded,
		"exclude_id": excludeID,
		"limit":      limit,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "EntityStore", "FindByProperty", "match candidates")
	}

	return decodeEntities(result, "e")
}

// Exists reports whether a non-deleted entity with the id exists in the tenant.
func (s *EntityStore) Exists(ctx context.Context, tenantID, id string) (bool, error) {
	result, err := s.driver.ExecuteQuery(ctx, existsEntityQuery, map[string]any{
		"id":        id,
		"tenant_id": tenantID,
	})
	if err != nil {
		return false, errors.WrapTransient(err, "EntityStore", "Exists", "count nodes")
	}

	return firstInt(result, "found") > 0, nil
}

// ApplyPropertyDiff sets only the given keys on the node and bumps
// updated_at. Properties absent from the diff are untouched.
func (s *EntityStore) ApplyPropertyDiff(
	ctx context.Context, tenantID, id string, diff map[string]graph.Value,
) error {
	if len(diff) == 0 {
		return nil
	}

	params := map[string]any{
		"id":         id,
		"tenant_id":  tenantID,
		"updated_at": time.Now().UTC(),
	}

	keys := make([]string, 0, len(diff))
	for key := range diff {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys)+2)
	diffKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		if graph.IsReservedKey(key) {
			continue
		}
		safe, err := sanitizeIdentifier(key)
		if err != nil {
			return err
		}
		encoded, err := encodeValue(diff[key])
		if err != nil {
			return err
		}
		params["p_"+safe] = encoded
		clauses = append(clauses, fmt.Sprintf("e.%s = $p_%s", safe, safe))
		diffKeys = append(diffKeys, safe)
	}
	if len(clauses) == 0 {
		return nil
	}

	// Keep property_keys consistent so reads preserve bag ordering.
	params["diff_keys"] = diffKeys
	clauses = append(clauses,
		"e.property_keys = [k IN coalesce(e.property_keys, []) WHERE NOT k IN $diff_keys] + $diff_keys",
		"e.updated_at = $updated_at",
	)

	query := fmt.Sprintf(applyPropertyDiffQuery, strings.Join(clauses, ", "))
	result, err := s.driver.ExecuteQuery(ctx, query, params)
	if err != nil {
		return errors.WrapTransient(err, "EntityStore", "ApplyPropertyDiff", "set properties")
	}

	if len(result.Records) == 0 {
		return errors.WrapNotFound(errors.ErrEntityNotFound, "EntityStore", "ApplyPropertyDiff", "match node")
	}
	return nil
}

// ApplyClassification overwrites the classification attributes on the node.
// A pure overwrite, so redelivered classification work is idempotent.
func (s *EntityStore) ApplyClassification(
	ctx context.Context, tenantID, id string,
	categories []string, riskLevel string, qualityScore int, autoTags []string,
	classifiedAt time.Time,
) error {
	result, err := s.driver.ExecuteQuery(ctx, applyClassificationQuery, map[string]any{
		"id":            id,
		"tenant_id":     tenantID,
		"categories":    categories,
		"risk_level":    riskLevel,
		"quality_score": qualityScore,
		"auto_tags":     autoTags,
		"classified_at": classifiedAt.UTC(),
	})
	if err != nil {
		return errors.WrapTransient(err, "EntityStore", "ApplyClassification", "set classification")
	}

	if len(result.Records) == 0 {
		return errors.WrapNotFound(errors.ErrEntityNotFound, "EntityStore", "ApplyClassification", "match node")
	}
	return nil
}

// SoftDelete marks the entity deleted. The node stays in the store.
func (s *EntityStore) SoftDelete(ctx context.Context, tenantID, id, deletedBy string) error {
	result, err := s.driver.ExecuteQuery(ctx, softDeleteEntityQuery, map[string]any{
		"id":         id,
		"tenant_id":  tenantID,
		"deleted_at": time.Now().UTC(),
		"deleted_by": deletedBy,
	})
	if err != nil {
		return errors.WrapTransient(err, "EntityStore", "SoftDelete", "mark node deleted")
	}

	if len(result.Records) == 0 {
		return errors.WrapNotFound(errors.ErrEntityNotFound, "EntityStore", "SoftDelete", "match node")
	}
	return nil
}

// HardDelete removes the node and its edges. Administrative use only; the
// event-driven paths always soft-delete.
func (s *EntityStore) HardDelete(ctx context.Context, tenantID, id string) (bool, error) {
	result, err := s.driver.ExecuteQuery(ctx, hardDeleteEntityQuery, map[string]any{
		"id":        id,
		"tenant_id": tenantID,
	})
	if err != nil {
		return false, errors.WrapTransient(err, "EntityStore", "HardDelete", "delete node")
	}

	return firstInt(result, "deleted") > 0, nil
}

// firstNode extracts the named node from the first record of a result.
func firstNode(result neo4j.EagerResult, key string) (dbtype.Node, bool) {
	if len(result.Records) == 0 {
		return dbtype.Node{}, false
	}
	raw, ok := result.Records[0].Get(key)
	if !ok {
		return dbtype.Node{}, false
	}
	node, ok := raw.(dbtype.Node)
	return node, ok
}

// decodeEntities converts all records in a result into entities.
func decodeEntities(result neo4j.EagerResult, key string) ([]*graph.Entity, error) {
	entities := make([]*graph.Entity, 0, len(result.Records))
	for _, record := range result.Records {
		raw, ok := record.Get(key)
		if !ok {
			continue
		}
		node, ok := raw.(dbtype.Node)
		if !ok {
			continue
		}
		e, err := decodeEntity(node)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// firstInt extracts the named integer from the first record of a result.
func firstInt(result neo4j.EagerResult, key string) int64 {
	if len(result.Records) == 0 {
		return 0
	}
	raw, ok := result.Records[0].Get(key)
	if !ok {
		return 0
	}
	switch t := raw.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	}
	return 0
}
