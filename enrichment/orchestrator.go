// Package enrichment implements the orchestrator that turns enrichment
// request events into applied property diffs and entity.updated
// notifications.
package enrichment

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/k5tuck/binelek-core-sub001/errors"
	"github.com/k5tuck/binelek-core-sub001/graph"
	"github.com/k5tuck/binelek-core-sub001/metric"
)

// EntityReader is the slice of the entity store the orchestrator needs.
type EntityReader interface {
	GetByID(ctx context.Context, tenantID, id string) (*graph.Entity, error)
	ApplyPropertyDiff(ctx context.Context, tenantID, id string, diff map[string]graph.Value) error
}

// Publisher publishes a message to a subject.
type Publisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// Deps carries the orchestrator's collaborators.
type Deps struct {
	Entities EntityReader
	Provider Provider
	Bus      Publisher
	Logger   *slog.Logger
	Metrics  *metric.Metrics
}

// Orchestrator processes enrichment.requested events: fetch, enrich, apply
// the diff, publish entity.updated. Each step's failure class decides
// whether the event is dropped or redelivered.
type Orchestrator struct {
	entities       EntityReader
	provider       Provider
	bus            Publisher
	logger         *slog.Logger
	metrics        *metric.Metrics
	publishSubject string
}

// NewOrchestrator creates the enrichment orchestrator.
func NewOrchestrator(publishSubject string, deps Deps) (*Orchestrator, error) {
	if deps.Entities == nil || deps.Provider == nil || deps.Bus == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Orchestrator", "NewOrchestrator", "validate dependencies")
	}
	if publishSubject == "" {
		publishSubject = "entity.updated"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		entities:       deps.Entities,
		provider:       deps.Provider,
		bus:            deps.Bus,
		logger:         logger.With("component", "enrichment"),
		metrics:        deps.Metrics,
		publishSubject: publishSubject,
	}, nil
}

// ProcessEvent handles one enrichment request. Terminal conditions (missing
// fields, missing entity, empty diff) return nil or a terminal error so the
// message is dropped; transient failures propagate for redelivery.
func (o *Orchestrator) ProcessEvent(ctx context.Context, data []byte) error {
	var event graph.EnrichmentRequestEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return errors.WrapInvalid(err, "Orchestrator", "ProcessEvent", "decode event")
	}

	if event.EntityID == "" || event.EnrichmentType == "" {
		return errors.WrapInvalid(errors.ErrMissingField,
			"Orchestrator", "ProcessEvent", "validate required fields")
	}

	logger := o.logger.With(
		"entity_id", event.EntityID,
		"enrichment_type", event.EnrichmentType,
		"tenant_id", event.TenantID,
		"correlation_id", event.CorrelationID,
	)

	if !graph.IsKnownEnrichmentType(event.EnrichmentType) {
		logger.Warn("unknown enrichment type")
	}

	entity, err := o.entities.GetByID(ctx, event.TenantID, event.EntityID)
	if err != nil {
		return errors.Wrap(err, "Orchestrator", "ProcessEvent", "fetch entity")
	}
	if entity == nil {
		// The entity may have been deleted since the request was published.
		// Redelivery cannot bring it back.
		return errors.WrapNotFound(errors.ErrEntityNotFound,
			"Orchestrator", "ProcessEvent", "fetch entity")
	}

	params := make(map[string]graph.Value, len(event.Parameters))
	for k, v := range event.Parameters {
		params[k] = v
	}

	diff, err := o.provider.Enrich(ctx, entity, event.EnrichmentType, params)
	if err != nil {
		return errors.Wrap(err, "Orchestrator", "ProcessEvent", "enrich entity")
	}
	if len(diff) == 0 {
		logger.Info("enrichment produced no changes")
		return nil
	}

	if err := o.entities.ApplyPropertyDiff(ctx, event.TenantID, event.EntityID, diff); err != nil {
		return errors.Wrap(err, "Orchestrator", "ProcessEvent", "apply property diff")
	}

	if o.metrics != nil {
		o.metrics.RecordEnrichmentApplied(event.EnrichmentType)
	}

	updated := graph.EntityUpdatedEvent{
		TenantID:          event.TenantID,
		EntityID:          entity.ID,
		EntityType:        entity.Type,
		ChangedProperties: diff,
		TriggeredBy:       "enrichment:" + event.EnrichmentType,
		CorrelationID:     event.CorrelationID,
	}
	payload, err := json.Marshal(updated)
	if err != nil {
		return errors.WrapInvalid(err, "Orchestrator", "ProcessEvent", "encode entity.updated")
	}
	if err := o.bus.PublishToStream(ctx, o.publishSubject, payload); err != nil {
		// The diff is already persisted; redelivery will reapply it
		// idempotently and retry the publish.
		return errors.Wrap(err, "Orchestrator", "ProcessEvent", "publish entity.updated")
	}

	logger.Info("enrichment applied", "changed_properties", len(diff))
	return nil
}
