// Package store persists entities and relationships as graph nodes and edges.
// Node labels carry the entity type discriminator; scalar property-bag values
// map to native node properties and compound values are JSON-encoded at the
// storage boundary.
package store

import (
	"context"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/k5tuck/binelek-core-sub001/errors"
)

// GraphDriver abstracts the Cypher execution surface so stores can be tested
// against a fake and run against Neo4j or Memgraph in production.
type GraphDriver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error)
	BuildIndices(ctx context.Context) error
	Close(ctx context.Context) error
}

// Neo4jDriver executes Cypher against a Neo4j-compatible server.
type Neo4jDriver struct {
	driver neo4j.DriverWithContext
	logger *slog.Logger
}

// NewNeo4jDriver connects to the graph database and verifies connectivity.
func NewNeo4jDriver(ctx context.Context, uri, username, password string, logger *slog.Logger) (*Neo4jDriver, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, errors.WrapFatal(err, "Neo4jDriver", "NewNeo4jDriver", "create driver")
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, errors.WrapTransient(err, "Neo4jDriver", "NewNeo4jDriver", "verify connectivity")
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connected to graph database", "uri", uri)

	return &Neo4jDriver{driver: driver, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (d *Neo4jDriver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// ExecuteQuery runs one Cypher statement eagerly. Failures are classified as
// transient so consumer handlers re-raise them for redelivery.
func (d *Neo4jDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, d.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return neo4j.EagerResult{}, errors.WrapTransient(err, "Neo4jDriver", "ExecuteQuery", "execute query")
	}
	return *result, nil
}

// BuildIndices creates the id/tenant indexes and the full-text index backing
// entity search. Creation errors are logged and skipped since the index may
// already exist.
func (d *Neo4jDriver) BuildIndices(ctx context.Context) error {
	queries := []string{
		"CREATE INDEX entity_id IF NOT EXISTS FOR (e:Entity) ON (e.id)",
		"CREATE INDEX entity_tenant IF NOT EXISTS FOR (e:Entity) ON (e.tenant_id)",
		"CREATE INDEX entity_type IF NOT EXISTS FOR (e:Entity) ON (e.type)",
		"CREATE INDEX entity_created IF NOT EXISTS FOR (e:Entity) ON (e.created_at)",
		"CREATE FULLTEXT INDEX " + SearchIndexName +
			" IF NOT EXISTS FOR (e:Entity) ON EACH [e.search_text]",
	}

	for _, q := range queries {
		if _, err := d.ExecuteQuery(ctx, q, nil); err != nil {
			d.logger.Warn("index creation skipped", "query", q, "error", err)
		}
	}

	return nil
}
