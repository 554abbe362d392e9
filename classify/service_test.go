package classify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k5tuck/binelek-core-sub001/errors"
	"github.com/k5tuck/binelek-core-sub001/graph"
)

type fakeEntityWriter struct {
	entity *graph.Entity
	getErr error

	applied      bool
	appliedRisk  string
	appliedScore int
	applyErr     error
}

func (f *fakeEntityWriter) GetByID(context.Context, string, string) (*graph.Entity, error) {
	return f.entity, f.getErr
}

func (f *fakeEntityWriter) ApplyClassification(
	_ context.Context, _, _ string,
	_ []string, riskLevel string, qualityScore int, _ []string, _ time.Time,
) error {
	f.applied = true
	f.appliedRisk = riskLevel
	f.appliedScore = qualityScore
	return f.applyErr
}

type fakeCounter struct {
	count int
	err   error
}

func (f *fakeCounter) CountForEntity(context.Context, string, string) (int, error) {
	return f.count, f.err
}

func TestClassifyEntityPersistsResult(t *testing.T) {
	entity := graph.NewEntity(graph.TypeProperty, "t1")
	writer := &fakeEntityWriter{entity: entity}
	svc, err := NewService(Deps{
		Engine:        fixedEngine(),
		Entities:      writer,
		Relationships: &fakeCounter{count: 2},
	})
	require.NoError(t, err)

	c, err := svc.ClassifyEntity(context.Background(), "t1", entity.ID)
	require.NoError(t, err)

	assert.True(t, writer.applied)
	assert.Equal(t, c.RiskLevel, writer.appliedRisk)
	assert.Equal(t, c.QualityScore, writer.appliedScore)
}

func TestClassifyEntityMissingIsNotFound(t *testing.T) {
	svc, err := NewService(Deps{
		Entities:      &fakeEntityWriter{entity: nil},
		Relationships: &fakeCounter{},
	})
	require.NoError(t, err)

	_, err = svc.ClassifyEntity(context.Background(), "t1", "gone")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestClassifyEntityStorageFailurePropagates(t *testing.T) {
	writer := &fakeEntityWriter{
		getErr: errors.WrapTransient(errors.ErrStorageUnavailable, "EntityStore", "GetByID", "match node"),
	}
	svc, err := NewService(Deps{Entities: writer, Relationships: &fakeCounter{}})
	require.NoError(t, err)

	_, err = svc.ClassifyEntity(context.Background(), "t1", "e1")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
