package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k5tuck/binelek-core-sub001/errors"
	"github.com/k5tuck/binelek-core-sub001/graph"
)

type fakeFinder struct {
	entities   map[string]*graph.Entity
	candidates map[string][]*graph.Entity
	findErr    error
	findCalls  int
}

func (f *fakeFinder) GetByID(_ context.Context, _, id string) (*graph.Entity, error) {
	return f.entities[id], nil
}

func (f *fakeFinder) FindByProperty(
	_ context.Context, _, entityType, key string, _ graph.Value, _ string, _ int,
) ([]*graph.Entity, error) {
	f.findCalls++
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.candidates[entityType+"/"+key], nil
}

type fakeEdgeWriter struct {
	existing  map[string]bool
	createErr map[string]error
	created   []*graph.Relationship
}

func edgeKey(relType, fromID, toID string) string {
	return relType + ":" + fromID + "->" + toID
}

func (f *fakeEdgeWriter) Exists(_ context.Context, _, relType, fromID, toID string) (bool, error) {
	return f.existing[edgeKey(relType, fromID, toID)], nil
}

func (f *fakeEdgeWriter) Create(_ context.Context, r *graph.Relationship) (*graph.Relationship, error) {
	if err, ok := f.createErr[edgeKey(r.Type, r.FromEntityID, r.ToEntityID)]; ok {
		return nil, err
	}
	f.created = append(f.created, r)
	return r, nil
}

func propertyEntity(t *testing.T, id, entityType string, props map[string]graph.Value) *graph.Entity {
	t.Helper()
	e := graph.NewEntity(entityType, "t1")
	e.ID = id
	for key, value := range props {
		require.NoError(t, e.SetProperty(key, value))
	}
	return e
}

var parcelRule = Rule{
	Name:             "shared-parcel",
	EntityType:       "property",
	PropertyKey:      "parcel_number",
	RelationshipType: "SHARES_PARCEL",
}

func TestRuleInferrerCreatesEdges(t *testing.T) {
	e1 := propertyEntity(t, "e1", "property", map[string]graph.Value{
		"parcel_number": graph.Text("P-100"),
	})
	e2 := propertyEntity(t, "e2", "property", map[string]graph.Value{
		"parcel_number": graph.Text("P-100"),
	})

	finder := &fakeFinder{
		entities:   map[string]*graph.Entity{"e1": e1},
		candidates: map[string][]*graph.Entity{"property/parcel_number": {e2}},
	}
	edges := &fakeEdgeWriter{}

	inferrer, err := NewRuleInferrer([]Rule{parcelRule}, finder, edges, nil)
	require.NoError(t, err)

	created, err := inferrer.Infer(context.Background(), "t1", []string{"e1"})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	require.Len(t, edges.created, 1)
	rel := edges.created[0]
	assert.Equal(t, "SHARES_PARCEL", rel.Type)
	assert.Equal(t, "e1", rel.FromEntityID)
	assert.Equal(t, "e2", rel.ToEntityID)
	assert.Equal(t, "t1", rel.TenantID)
	assert.Equal(t, "inference:shared-parcel", rel.CreatedBy)

	source, ok := rel.Properties["inferred_from"]
	require.True(t, ok)
	assert.Equal(t, graph.Text("parcel_number"), source)
}

func TestRuleInferrerSkipsExistingEdges(t *testing.T) {
	e1 := propertyEntity(t, "e1", "property", map[string]graph.Value{
		"parcel_number": graph.Text("P-100"),
	})
	e2 := propertyEntity(t, "e2", "property", map[string]graph.Value{
		"parcel_number": graph.Text("P-100"),
	})

	finder := &fakeFinder{
		entities:   map[string]*graph.Entity{"e1": e1},
		candidates: map[string][]*graph.Entity{"property/parcel_number": {e2}},
	}
	edges := &fakeEdgeWriter{
		existing: map[string]bool{edgeKey("SHARES_PARCEL", "e1", "e2"): true},
	}

	inferrer, err := NewRuleInferrer([]Rule{parcelRule}, finder, edges, nil)
	require.NoError(t, err)

	created, err := inferrer.Infer(context.Background(), "t1", []string{"e1"})
	require.NoError(t, err)
	assert.Zero(t, created, "redelivered batches must not duplicate edges")
	assert.Empty(t, edges.created)
}

func TestRuleInferrerSkipsEntitiesWithoutProperty(t *testing.T) {
	e1 := propertyEntity(t, "e1", "property", nil)

	finder := &fakeFinder{entities: map[string]*graph.Entity{"e1": e1}}
	edges := &fakeEdgeWriter{}

	inferrer, err := NewRuleInferrer([]Rule{parcelRule}, finder, edges, nil)
	require.NoError(t, err)

	created, err := inferrer.Infer(context.Background(), "t1", []string{"e1"})
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Zero(t, finder.findCalls, "no candidate search without the property")
}

func TestRuleInferrerSkipsNonMatchingTypes(t *testing.T) {
	e1 := propertyEntity(t, "e1", "lien", map[string]graph.Value{
		"parcel_number": graph.Text("P-100"),
	})

	finder := &fakeFinder{entities: map[string]*graph.Entity{"e1": e1}}
	edges := &fakeEdgeWriter{}

	inferrer, err := NewRuleInferrer([]Rule{parcelRule}, finder, edges, nil)
	require.NoError(t, err)

	created, err := inferrer.Infer(context.Background(), "t1", []string{"e1"})
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Zero(t, finder.findCalls)
}

func TestRuleInferrerSkipsDeletedBatchEntities(t *testing.T) {
	finder := &fakeFinder{entities: map[string]*graph.Entity{}}
	edges := &fakeEdgeWriter{}

	inferrer, err := NewRuleInferrer([]Rule{parcelRule}, finder, edges, nil)
	require.NoError(t, err)

	created, err := inferrer.Infer(context.Background(), "t1", []string{"gone"})
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestRuleInferrerTargetTypeCrossesTypes(t *testing.T) {
	lien := propertyEntity(t, "l1", "lien", map[string]graph.Value{
		"parcel_number": graph.Text("P-100"),
	})
	property := propertyEntity(t, "p1", "property", map[string]graph.Value{
		"parcel_number": graph.Text("P-100"),
	})

	rule := Rule{
		Name:             "lien-on-parcel",
		EntityType:       "lien",
		TargetType:       "property",
		PropertyKey:      "parcel_number",
		RelationshipType: "ENCUMBERS",
	}

	finder := &fakeFinder{
		entities:   map[string]*graph.Entity{"l1": lien},
		candidates: map[string][]*graph.Entity{"property/parcel_number": {property}},
	}
	edges := &fakeEdgeWriter{}

	inferrer, err := NewRuleInferrer([]Rule{rule}, finder, edges, nil)
	require.NoError(t, err)

	created, err := inferrer.Infer(context.Background(), "t1", []string{"l1"})
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	require.Len(t, edges.created, 1)
	assert.Equal(t, "ENCUMBERS", edges.created[0].Type)
	assert.Equal(t, "l1", edges.created[0].FromEntityID)
	assert.Equal(t, "p1", edges.created[0].ToEntityID)
}

func TestRuleInferrerToleratesVanishedCandidates(t *testing.T) {
	e1 := propertyEntity(t, "e1", "property", map[string]graph.Value{
		"parcel_number": graph.Text("P-100"),
	})
	e2 := propertyEntity(t, "e2", "property", map[string]graph.Value{
		"parcel_number": graph.Text("P-100"),
	})
	e3 := propertyEntity(t, "e3", "property", map[string]graph.Value{
		"parcel_number": graph.Text("P-100"),
	})

	finder := &fakeFinder{
		entities:   map[string]*graph.Entity{"e1": e1},
		candidates: map[string][]*graph.Entity{"property/parcel_number": {e2, e3}},
	}
	edges := &fakeEdgeWriter{
		createErr: map[string]error{
			edgeKey("SHARES_PARCEL", "e1", "e2"): errors.WrapNotFound(
				errors.ErrEndpointMissing, "RelationshipStore", "Create", "match endpoints"),
		},
	}

	inferrer, err := NewRuleInferrer([]Rule{parcelRule}, finder, edges, nil)
	require.NoError(t, err)

	created, err := inferrer.Infer(context.Background(), "t1", []string{"e1"})
	require.NoError(t, err, "a candidate deleted mid-batch is not a failure")
	assert.Equal(t, 1, created)
	require.Len(t, edges.created, 1)
	assert.Equal(t, "e3", edges.created[0].ToEntityID)
}

func TestRuleInferrerPropagatesStorageFailures(t *testing.T) {
	e1 := propertyEntity(t, "e1", "property", map[string]graph.Value{
		"parcel_number": graph.Text("P-100"),
	})

	finder := &fakeFinder{
		entities: map[string]*graph.Entity{"e1": e1},
		findErr: errors.WrapTransient(errors.ErrStorageUnavailable,
			"EntityStore", "FindByProperty", "match candidates"),
	}

	inferrer, err := NewRuleInferrer([]Rule{parcelRule}, finder, &fakeEdgeWriter{}, nil)
	require.NoError(t, err)

	_, err = inferrer.Infer(context.Background(), "t1", []string{"e1"})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestNewRuleInferrerValidatesRules(t *testing.T) {
	_, err := NewRuleInferrer(
		[]Rule{{Name: "broken", EntityType: "property"}},
		&fakeFinder{}, &fakeEdgeWriter{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewRuleInferrer([]Rule{parcelRule}, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
