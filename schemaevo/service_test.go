package schemaevo

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k5tuck/binelek-core-sub001/errors"
)

func fixedClock() time.Time {
	return time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
}

func newTestService() *Service {
	return NewServiceWithClock(nil, fixedClock)
}

func TestGenerateViewsEntityRenamed(t *testing.T) {
	views, err := newTestService().GenerateViews("acme", []Change{{
		Type:          ChangeEntityRenamed,
		EntityType:    "Parcel",
		NewEntityType: "Property",
	}})
	require.NoError(t, err)
	require.Len(t, views, 1)

	view := views[0]
	assert.Equal(t, "parcel", view.Name)
	assert.Equal(t, ChangeEntityRenamed, view.ChangeType)
	assert.Contains(t, view.SQL, `CREATE OR REPLACE VIEW "parcel" AS`)
	assert.Contains(t, view.SQL, `FROM "property"`)
	assert.Contains(t, view.SQL, `WHERE tenant_id = 'acme'`)
	assert.Contains(t, view.SQL, "scheduled for removal on 2026-06-01")
	assert.Equal(t, fixedClock().AddDate(0, 12, 0), view.RemovalDate)
}

func TestGenerateViewsPropertyRenamed(t *testing.T) {
	views, err := newTestService().GenerateViews("acme", []Change{{
		Type:            ChangePropertyRenamed,
		EntityType:      "Property",
		PropertyName:    "sqft",
		NewPropertyName: "square_feet",
	}})
	require.NoError(t, err)
	require.Len(t, views, 1)

	view := views[0]
	assert.Equal(t, "property_compat", view.Name)
	assert.Contains(t, view.SQL, `SELECT *, "square_feet" AS "sqft"`)
	assert.Contains(t, view.SQL, `FROM "property"`)
	assert.Contains(t, view.SQL, `WHERE tenant_id = 'acme'`)
	assert.Contains(t, view.SQL, "removal on 2026-06-01")
}

func TestGenerateViewsEntityRemovedSelectsZeroRows(t *testing.T) {
	views, err := newTestService().GenerateViews("acme", []Change{{
		Type:       ChangeEntityRemoved,
		EntityType: "Lien",
		Columns:    []string{"id", "parcel_number", "amount"},
	}})
	require.NoError(t, err)
	require.Len(t, views, 1)

	view := views[0]
	assert.Equal(t, "lien", view.Name)
	assert.Contains(t, view.SQL, "WHERE false")
	assert.Contains(t, view.SQL, `NULL AS "parcel_number"`)
	assert.Contains(t, view.SQL, "scheduled for removal on 2026-06-01")
	assert.NotContains(t, view.SQL, "FROM", "removed entities have no backing table")
}

func TestGenerateViewsEntityRemovedDefaultShape(t *testing.T) {
	views, err := newTestService().GenerateViews("acme", []Change{{
		Type:       ChangeEntityRemoved,
		EntityType: "Lien",
	}})
	require.NoError(t, err)
	require.Len(t, views, 1)

	for _, column := range []string{"id", "tenant_id", "type", "created_at", "updated_at"} {
		assert.Contains(t, views[0].SQL, `NULL AS "`+column+`"`)
	}
}

func TestGenerateViewsEscapesTenantLiteral(t *testing.T) {
	views, err := newTestService().GenerateViews("o'brien", []Change{{
		Type:          ChangeEntityRenamed,
		EntityType:    "Parcel",
		NewEntityType: "Property",
	}})
	require.NoError(t, err)
	assert.Contains(t, views[0].SQL, `WHERE tenant_id = 'o''brien'`)
}

func TestGenerateViewsRejectsBadInput(t *testing.T) {
	svc := newTestService()

	_, err := svc.GenerateViews("", []Change{{Type: ChangeEntityRemoved, EntityType: "Lien"}})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = svc.GenerateViews("acme", []Change{{Type: "entity_exploded", EntityType: "Lien"}})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = svc.GenerateViews("acme", []Change{{
		Type:          ChangeEntityRenamed,
		EntityType:    "parcel; DROP TABLE property",
		NewEntityType: "property",
	}})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestGenerateViewsBatch(t *testing.T) {
	views, err := newTestService().GenerateViews("acme", []Change{
		{Type: ChangeEntityRenamed, EntityType: "Parcel", NewEntityType: "Property"},
		{Type: ChangeEntityRemoved, EntityType: "Lien"},
	})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, views[0].RemovalDate, views[1].RemovalDate, "one removal date per batch")
}

type fakeViewWriter struct {
	puts map[string][]byte
	err  error
}

func (f *fakeViewWriter) Put(_ context.Context, key string, value []byte) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[key] = value
	return uint64(len(f.puts)), nil
}

func TestArchiveSave(t *testing.T) {
	views, err := newTestService().GenerateViews("acme", []Change{
		{Type: ChangeEntityRemoved, EntityType: "Lien"},
	})
	require.NoError(t, err)

	writer := &fakeViewWriter{}
	archive, err := NewArchive(writer, nil)
	require.NoError(t, err)

	require.NoError(t, archive.Save(context.Background(), "acme", views))

	stored, ok := writer.puts["views.acme.lien"]
	require.True(t, ok)

	var view View
	require.NoError(t, json.Unmarshal(stored, &view))
	assert.Equal(t, "lien", view.Name)
	assert.True(t, strings.Contains(view.SQL, "WHERE false"))
}

func TestArchiveSaveStorageFailure(t *testing.T) {
	writer := &fakeViewWriter{err: errors.ErrStorageUnavailable}
	archive, err := NewArchive(writer, nil)
	require.NoError(t, err)

	err = archive.Save(context.Background(), "acme", []View{{Name: "lien", SQL: "SELECT 1"}})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
