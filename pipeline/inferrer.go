package pipeline

import (
	"context"
	"log/slog"

	"github.com/k5tuck/binelek-core-sub001/errors"
	"github.com/k5tuck/binelek-core-sub001/graph"
)

// Inferrer discovers and creates relationships among a batch of entities.
// Returns the number of relationships created. Implementations must be
// idempotent: redelivered batches must not duplicate edges.
type Inferrer interface {
	Infer(ctx context.Context, tenantID string, entityIDs []string) (int, error)
}

// Rule declares one shared-attribute inference: entities of EntityType
// sharing an equal PropertyKey value with a candidate of TargetType get a
// RelationshipType edge.
type Rule struct {
	Name             string `yaml:"name" json:"name"`
	EntityType       string `yaml:"entity_type" json:"entity_type"`
	TargetType       string `yaml:"target_type" json:"target_type"`
	PropertyKey      string `yaml:"property_key" json:"property_key"`
	RelationshipType string `yaml:"relationship_type" json:"relationship_type"`
}

// EntityFinder is the slice of the entity store the inferrer needs.
type EntityFinder interface {
	GetByID(ctx context.Context, tenantID, id string) (*graph.Entity, error)
	FindByProperty(
		ctx context.Context, tenantID, entityType, key string,
		value graph.Value, excludeID string, limit int,
	) ([]*graph.Entity, error)
}

// RelationshipWriter is the slice of the relationship store the inferrer
// needs.
type RelationshipWriter interface {
	Exists(ctx context.Context, tenantID, relType, fromID, toID string) (bool, error)
	Create(ctx context.Context, r *graph.Relationship) (*graph.Relationship, error)
}

// RuleInferrer applies configured shared-attribute rules to each entity in
// the batch. Edges are only created after an existence check, so redelivered
// batches converge instead of duplicating.
type RuleInferrer struct {
	rules         []Rule
	entities      EntityFinder
	relationships RelationshipWriter
	logger        *slog.Logger
	candidateCap  int
}

// NewRuleInferrer creates an inferrer over the given rules.
func NewRuleInferrer(
	rules []Rule, entities EntityFinder, relationships RelationshipWriter, logger *slog.Logger,
) (*RuleInferrer, error) {
	if entities == nil || relationships == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"RuleInferrer", "NewRuleInferrer", "validate dependencies")
	}
	for _, rule := range rules {
		if rule.EntityType == "" || rule.PropertyKey == "" || rule.RelationshipType == "" {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
				"RuleInferrer", "NewRuleInferrer", "validate rule "+rule.Name)
		}
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &RuleInferrer{
		rules:         rules,
		entities:      entities,
		relationships: relationships,
		logger:        logger.With("component", "inference"),
		candidateCap:  20,
	}, nil
}

// Infer runs every matching rule against every entity in the batch.
func (r *RuleInferrer) Infer(ctx context.Context, tenantID string, entityIDs []string) (int, error) {
	created := 0
	for _, entityID := range entityIDs {
		entity, err := r.entities.GetByID(ctx, tenantID, entityID)
		if err != nil {
			return created, errors.Wrap(err, "RuleInferrer", "Infer", "fetch entity")
		}
		if entity == nil {
			// Deleted since the pipeline ran; nothing to infer for it.
			continue
		}

		for _, rule := range r.rules {
			if rule.EntityType != entity.Type {
				continue
			}

			n, err := r.applyRule(ctx, tenantID, entity, rule)
			if err != nil {
				return created, err
			}
			created += n
		}
	}
	return created, nil
}

// applyRule finds candidates sharing the rule's property value and links the
// entity to each one it is not already linked to.
func (r *RuleInferrer) applyRule(
	ctx context.Context, tenantID string, entity *graph.Entity, rule Rule,
) (int, error) {
	value, ok := entity.Property(rule.PropertyKey)
	if !ok || value.IsNull() {
		return 0, nil
	}

	targetType := rule.TargetType
	if targetType == "" {
		targetType = rule.EntityType
	}

	candidates, err := r.entities.FindByProperty(
		ctx, tenantID, targetType, rule.PropertyKey, value, entity.ID, r.candidateCap)
	if err != nil {
		return 0, errors.Wrap(err, "RuleInferrer", "Infer", "find candidates")
	}

	created := 0
	for _, candidate := range candidates {
		exists, err := r.relationships.Exists(ctx, tenantID, rule.RelationshipType, entity.ID, candidate.ID)
		if err != nil {
			return created, errors.Wrap(err, "RuleInferrer", "Infer", "check existing edge")
		}
		if exists {
			continue
		}

		rel := graph.NewRelationship(rule.RelationshipType, entity.ID, candidate.ID, tenantID)
		rel.CreatedBy = "inference:" + rule.Name
		rel.Properties = map[string]graph.Value{
			"inferred_from": graph.Text(rule.PropertyKey),
		}

		if _, err := r.relationships.Create(ctx, rel); err != nil {
			if errors.IsNotFound(err) {
				// Candidate vanished between the match and the create.
				continue
			}
			return created, errors.Wrap(err, "RuleInferrer", "Infer", "create edge")
		}

		r.logger.Debug("relationship inferred",
			"rule", rule.Name, "from", entity.ID, "to", candidate.ID,
			"relationship_type", rule.RelationshipType, "tenant_id", tenantID)
		created++
	}
	return created, nil
}
