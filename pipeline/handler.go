// Package pipeline implements the completion handler that classifies newly
// created entities and infers relationships among them after an external
// ingestion pipeline finishes.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/k5tuck/binelek-core-sub001/classify"
	"github.com/k5tuck/binelek-core-sub001/errors"
	"github.com/k5tuck/binelek-core-sub001/graph"
	"github.com/k5tuck/binelek-core-sub001/metric"
)

// Classifier classifies one entity and persists the result.
type Classifier interface {
	ClassifyEntity(ctx context.Context, tenantID, entityID string) (classify.Classification, error)
}

// ExecutionRecorder persists pipeline execution bookkeeping.
type ExecutionRecorder interface {
	RecordExecution(
		ctx context.Context,
		tenantID, pipelineID, pipelineName, executionID string,
		completedAt time.Time,
		entityCount, relationshipCount int,
		durationMS int64,
	) error
}

// Deps carries the handler's collaborators.
type Deps struct {
	Classifier Classifier
	Inferrer   Inferrer
	Recorder   ExecutionRecorder
	Logger     *slog.Logger
	Metrics    *metric.Metrics
}

// CompletionHandler processes pipeline.execution.completed events.
type CompletionHandler struct {
	classifier Classifier
	inferrer   Inferrer
	recorder   ExecutionRecorder
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// NewCompletionHandler creates the pipeline completion handler.
func NewCompletionHandler(deps Deps) (*CompletionHandler, error) {
	if deps.Classifier == nil || deps.Inferrer == nil || deps.Recorder == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"CompletionHandler", "NewCompletionHandler", "validate dependencies")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionHandler{
		classifier: deps.Classifier,
		inferrer:   deps.Inferrer,
		recorder:   deps.Recorder,
		logger:     logger.With("component", "pipeline"),
		metrics:    deps.Metrics,
	}, nil
}

// ProcessEvent handles one completion event. Failed executions and empty
// batches return without touching the graph. Per-entity classification
// failures never abort the batch; transient failures are re-raised after the
// batch completes so redelivery converges.
func (h *CompletionHandler) ProcessEvent(ctx context.Context, data []byte) error {
	var event graph.PipelineCompletionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return errors.WrapInvalid(err, "CompletionHandler", "ProcessEvent", "decode event")
	}

	logger := h.logger.With(
		"pipeline_id", event.PipelineID,
		"execution_id", event.ExecutionID,
		"tenant_id", event.TenantID,
	)

	if event.Status == graph.PipelineStatusFailed {
		logger.Warn("pipeline execution failed, skipping",
			"error_message", event.ErrorMessage)
		return nil
	}
	if len(event.EntitiesCreated) == 0 {
		logger.Info("pipeline created no entities, skipping")
		return nil
	}

	classified, skipped, transientErr := h.classifyBatch(ctx, logger, event)

	inferred, err := h.inferrer.Infer(ctx, event.TenantID, event.EntitiesCreated)
	if err != nil {
		if !errors.IsTerminal(err) {
			return errors.Wrap(err, "CompletionHandler", "ProcessEvent", "infer relationships")
		}
		logger.Warn("relationship inference skipped", "error", err)
	}
	if h.metrics != nil {
		h.metrics.RecordRelationshipsInferred(inferred)
	}

	// Bookkeeping failures are logged, never re-raised: the graph writes
	// above already happened and must not be redone just for metadata.
	if err := h.recorder.RecordExecution(ctx,
		event.TenantID, event.PipelineID, event.PipelineName, event.ExecutionID,
		event.CompletedAt, len(event.EntitiesCreated), inferred, event.DurationMS,
	); err != nil {
		logger.Error("failed to record pipeline execution", "error", err)
	}

	logger.Info("pipeline completion processed",
		"entities", len(event.EntitiesCreated),
		"classified", classified,
		"skipped", skipped,
		"relationships_inferred", inferred)

	if transientErr != nil {
		// Classification is a pure overwrite, so redelivering the whole
		// batch reconverges the entities that failed this round.
		return errors.Wrap(transientErr, "CompletionHandler", "ProcessEvent", "classify batch")
	}
	return nil
}

// classifyBatch classifies every created entity, tolerating per-entity
// failures. Returns counts and the first transient failure seen.
func (h *CompletionHandler) classifyBatch(
	ctx context.Context, logger *slog.Logger, event graph.PipelineCompletionEvent,
) (classified, skipped int, transientErr error) {
	for _, entityID := range event.EntitiesCreated {
		_, err := h.classifier.ClassifyEntity(ctx, event.TenantID, entityID)
		if err == nil {
			classified++
			continue
		}

		skipped++
		if errors.IsTerminal(err) {
			logger.Warn("entity skipped during classification",
				"entity_id", entityID, "error", err)
			continue
		}
		logger.Error("entity classification failed",
			"entity_id", entityID, "error", err)
		if transientErr == nil {
			transientErr = err
		}
	}
	return classified, skipped, transientErr
}
