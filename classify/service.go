package classify

import (
	"context"
	"log/slog"
	"time"

	"github.com/k5tuck/binelek-core-sub001/errors"
	"github.com/k5tuck/binelek-core-sub001/graph"
	"github.com/k5tuck/binelek-core-sub001/metric"
)

// EntityWriter is the slice of the entity store the service needs.
type EntityWriter interface {
	GetByID(ctx context.Context, tenantID, id string) (*graph.Entity, error)
	ApplyClassification(
		ctx context.Context, tenantID, id string,
		categories []string, riskLevel string, qualityScore int, autoTags []string,
		classifiedAt time.Time,
	) error
}

// RelationshipCounter counts edges touching an entity.
type RelationshipCounter interface {
	CountForEntity(ctx context.Context, tenantID, entityID string) (int, error)
}

// Service fetches an entity, classifies it, and writes the result back as a
// pure overwrite of the classification attributes.
type Service struct {
	engine        *Engine
	entities      EntityWriter
	relationships RelationshipCounter
	logger        *slog.Logger
	metrics       *metric.Metrics
}

// Deps carries the service's collaborators.
type Deps struct {
	Engine        *Engine
	Entities      EntityWriter
	Relationships RelationshipCounter
	Logger        *slog.Logger
	Metrics       *metric.Metrics
}

// NewService creates a classification service.
func NewService(deps Deps) (*Service, error) {
	if deps.Entities == nil || deps.Relationships == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Service", "NewService", "validate dependencies")
	}

	engine := deps.Engine
	if engine == nil {
		engine = NewEngine()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		engine:        engine,
		entities:      deps.Entities,
		relationships: deps.Relationships,
		logger:        logger.With("component", "classify"),
		metrics:       deps.Metrics,
	}, nil
}

// ClassifyEntity classifies one entity and persists the result. Missing
// entities return NotFound; the write is idempotent under redelivery.
func (s *Service) ClassifyEntity(ctx context.Context, tenantID, entityID string) (Classification, error) {
	entity, err := s.entities.GetByID(ctx, tenantID, entityID)
	if err != nil {
		return Classification{}, errors.Wrap(err, "Service", "ClassifyEntity", "fetch entity")
	}
	if entity == nil {
		return Classification{}, errors.WrapNotFound(errors.ErrEntityNotFound,
			"Service", "ClassifyEntity", "fetch entity")
	}

	relCount, err := s.relationships.CountForEntity(ctx, tenantID, entityID)
	if err != nil {
		return Classification{}, errors.Wrap(err, "Service", "ClassifyEntity", "count relationships")
	}

	c := s.engine.Classify(entity, relCount)

	err = s.entities.ApplyClassification(ctx, tenantID, entityID,
		c.Categories, c.RiskLevel, c.QualityScore, c.AutoTags, c.ClassifiedAt)
	if err != nil {
		return Classification{}, errors.Wrap(err, "Service", "ClassifyEntity", "persist classification")
	}

	if s.metrics != nil {
		s.metrics.RecordEntityClassified(c.RiskLevel)
	}

	s.logger.Debug("entity classified",
		"entity_id", entityID, "tenant_id", tenantID,
		"risk_level", c.RiskLevel, "quality_score", c.QualityScore)
	return c, nil
}
