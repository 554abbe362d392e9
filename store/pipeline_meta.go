package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/k5tuck/binelek-core-sub001/errors"
)

// PipelineMetadataStore records aggregate pipeline execution bookkeeping.
// The pipeline node is MERGEd by id and execution records are MERGEd by
// execution id, so a redelivered completion event rewrites the same record
// instead of appending a duplicate.
type PipelineMetadataStore struct {
	driver GraphDriver
	logger *slog.Logger
}

// NewPipelineMetadataStore creates a pipeline metadata store.
func NewPipelineMetadataStore(driver GraphDriver, logger *slog.Logger) *PipelineMetadataStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineMetadataStore{driver: driver, logger: logger}
}

// RecordExecution upserts the pipeline node and one execution record.
func (s *PipelineMetadataStore) RecordExecution(
	ctx context.Context,
	tenantID, pipelineID, pipelineName, executionID string,
	completedAt time.Time,
	entityCount, relationshipCount int,
	durationMS int64,
) error {
	_, err := s.driver.ExecuteQuery(ctx, mergePipelineExecutionQuery, map[string]any{
		"tenant_id":          tenantID,
		"pipeline_id":        pipelineID,
		"pipeline_name":      pipelineName,
		"execution_id":       executionID,
		"completed_at":       completedAt.UTC(),
		"entity_count":       entityCount,
		"relationship_count": relationshipCount,
		"duration_ms":        durationMS,
	})
	if err != nil {
		return errors.WrapTransient(err, "PipelineMetadataStore", "RecordExecution", "merge execution record")
	}
	return nil
}
