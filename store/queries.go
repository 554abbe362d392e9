package store

// SearchIndexName is the full-text index backing entity search.
const SearchIndexName = "entity_search"

// Cypher statements shared by the stores. Node labels and relationship types
// cannot be parameterized in Cypher, so statements that need them are
// format strings filled with a sanitized identifier.
const (
	// createEntityQuery writes a new node with the shared Entity label plus
	// the type label. All node properties arrive in one map parameter.
	createEntityQuery = `
		CREATE (e:Entity:%s)
		SET e = $props
		RETURN e
	`

	// getEntityByIDQuery is unscoped by type: it matches any node carrying
	// the id property within the tenant, excluding soft-deleted nodes.
	getEntityByIDQuery = `
		MATCH (e {id: $id, tenant_id: $tenant_id})
		WHERE NOT coalesce(e.is_deleted, false)
		RETURN e
		LIMIT 1
	`

	// getEntitiesByTypeQuery is label-scoped and paginated, newest first.
	getEntitiesByTypeQuery = `
		MATCH (e:%s {tenant_id: $tenant_id})
		WHERE NOT coalesce(e.is_deleted, false)
		RETURN e
		ORDER BY e.created_at DESC
		SKIP $skip LIMIT $limit
	`

	// updateEntityQuery is a full overwrite of node properties by id. The
	// stored id and type are pinned across the overwrite: update never
	// changes either.
	updateEntityQuery = `
		MATCH (e {id: $id, tenant_id: $tenant_id})
		WITH e, e.type AS original_type
		SET e = $props, e.id = $id, e.type = original_type
		RETURN e
	`

	// applyPropertyDiffQuery template; the dynamic SET clause is limited to
	// the diff keys plus updated_at.
	applyPropertyDiffQuery = `
		MATCH (e {id: $id, tenant_id: $tenant_id})
		SET %s
		RETURN e
	`

	// applyClassificationQuery overwrites the classification attributes in
	// place, which keeps redelivered classification events idempotent.
	applyClassificationQuery = `
		MATCH (e {id: $id, tenant_id: $tenant_id})
		SET e.categories = $categories,
			e.risk_level = $risk_level,
			e.quality_score = $quality_score,
			e.auto_tags = $auto_tags,
			e.classified_at = $classified_at
		RETURN e
	`

	existsEntityQuery = `
		MATCH (e {id: $id, tenant_id: $tenant_id})
		WHERE NOT coalesce(e.is_deleted, false)
		RETURN count(e) AS found
	`

	softDeleteEntityQuery = `
		MATCH (e {id: $id, tenant_id: $tenant_id})
		SET e.is_deleted = true,
			e.deleted_at = $deleted_at,
			e.deleted_by = $deleted_by
		RETURN e
	`

	// hardDeleteEntityQuery exists only as an administrative operation.
	hardDeleteEntityQuery = `
		MATCH (e {id: $id, tenant_id: $tenant_id})
		DETACH DELETE e
		RETURN count(e) AS deleted
	`

	searchEntitiesQuery = `
		CALL db.index.fulltext.queryNodes($index, $term) YIELD node, score
		WHERE node.tenant_id = $tenant_id
			AND ($type = '' OR node.type = $type)
			AND NOT coalesce(node.is_deleted, false)
		RETURN node, score
		ORDER BY score DESC
		LIMIT $limit
	`

	// findEntitiesByPropertyQuery backs relationship inference: candidates
	// sharing one property value, excluding the entity being matched.
	findEntitiesByPropertyQuery = `
		MATCH (e:%s {tenant_id: $tenant_id})
		WHERE e.%s = $value
			AND e.id <> $exclude_id
			AND NOT coalesce(e.is_deleted, false)
		RETURN e
		LIMIT $limit
	`

	countEntityRelationshipsQuery = `
		MATCH (e {id: $id, tenant_id: $tenant_id})-[r]-()
		RETURN count(r) AS rel_count
	`

	// createRelationshipQuery matches both endpoints before creating the
	// edge; zero rows means an endpoint is missing and no edge is created.
	createRelationshipQuery = `
		MATCH (from {id: $from_id, tenant_id: $tenant_id}), (to {id: $to_id, tenant_id: $tenant_id})
		CREATE (from)-[r:%s]->(to)
		SET r = $props
		RETURN r, from.id AS from_id, to.id AS to_id
	`

	getRelationshipQuery = `
		MATCH (from {id: $from_id, tenant_id: $tenant_id})-[r:%s]->(to {id: $to_id, tenant_id: $tenant_id})
		RETURN r, from.id AS from_id, to.id AS to_id
		LIMIT 1
	`

	// getRelationshipsForEntityQuery template; the traversal pattern is
	// chosen per direction and the relationship type filter is optional.
	getRelationshipsForEntityQuery = `
		MATCH (e {id: $id, tenant_id: $tenant_id})%s(o)
		RETURN r, startNode(r).id AS from_id, endNode(r).id AS to_id, o.id AS other_id
	`

	deleteRelationshipQuery = `
		MATCH (from {id: $from_id, tenant_id: $tenant_id})-[r:%s]->(to {id: $to_id, tenant_id: $tenant_id})
		DELETE r
		RETURN count(r) AS deleted
	`

	// mergePipelineExecutionQuery upserts the pipeline node and appends one
	// execution record node. MERGE on execution_id keeps redelivered
	// completion events from duplicating records.
	mergePipelineExecutionQuery = `
		MERGE (p:Pipeline {id: $pipeline_id, tenant_id: $tenant_id})
		SET p.name = $pipeline_name,
			p.last_execution_at = $completed_at
		MERGE (x:PipelineExecution {execution_id: $execution_id, tenant_id: $tenant_id})
		SET x.completed_at = $completed_at,
			x.entity_count = $entity_count,
			x.relationship_count = $relationship_count,
			x.duration_ms = $duration_ms
		MERGE (p)-[:EXECUTED]->(x)
		RETURN p.id AS pipeline_id
	`
)
