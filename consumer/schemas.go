package consumer

// JSON schemas for the event payloads the platform consumes. Validation
// happens on the raw bytes before decoding, so malformed events are dropped
// without touching the stores.

// EnrichmentRequestSchema validates enrichment.requested payloads.
const EnrichmentRequestSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"entity_id": {"type": "string"},
		"enrichment_type": {"type": "string"},
		"parameters": {"type": "object"},
		"tenant_id": {"type": "string"},
		"correlation_id": {"type": "string"}
	},
	"additionalProperties": true
}`

// PipelineCompletionSchema validates pipeline.execution.completed payloads.
const PipelineCompletionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"pipeline_id": {"type": "string"},
		"pipeline_name": {"type": "string"},
		"execution_id": {"type": "string"},
		"status": {"type": "string"},
		"entities_created": {
			"type": "array",
			"items": {"type": "string"}
		},
		"completed_at": {"type": "string"},
		"duration_ms": {"type": "integer"},
		"tenant_id": {"type": "string"},
		"error_message": {"type": "string"}
	},
	"additionalProperties": true
}`
