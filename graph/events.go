package graph

import "time"

// Pipeline completion statuses.
const (
	PipelineStatusSucceeded = "succeeded"
	PipelineStatusFailed    = "failed"
)

// EnrichmentRequestEvent asks the enrichment orchestrator to augment one
// entity using an external data source.
type EnrichmentRequestEvent struct {
	EntityID       string           `json:"entity_id"`
	EnrichmentType string           `json:"enrichment_type"`
	Parameters     map[string]Value `json:"parameters,omitempty"`
	TenantID       string           `json:"tenant_id,omitempty"`
	CorrelationID  string           `json:"correlation_id,omitempty"`
}

// PipelineCompletionEvent announces that an external ingestion pipeline
// finished executing, listing the entities it created.
type PipelineCompletionEvent struct {
	PipelineID      string    `json:"pipeline_id"`
	PipelineName    string    `json:"pipeline_name,omitempty"`
	ExecutionID     string    `json:"execution_id"`
	Status          string    `json:"status"`
	EntitiesCreated []string  `json:"entities_created"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationMS      int64     `json:"duration_ms"`
	TenantID        string    `json:"tenant_id,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// EntityUpdatedEvent is published after an enrichment diff is applied. It
// carries only the changed properties, not a full entity snapshot.
type EntityUpdatedEvent struct {
	TenantID          string           `json:"tenant_id,omitempty"`
	EntityID          string           `json:"entity_id"`
	EntityType        string           `json:"entity_type"`
	ChangedProperties map[string]Value `json:"changed_properties"`
	TriggeredBy       string           `json:"triggered_by,omitempty"`
	CorrelationID     string           `json:"correlation_id,omitempty"`
}
