package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntity(t *testing.T) {
	e := NewEntity(TypeProperty, "tenant-a")

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, TypeProperty, e.Type)
	assert.Equal(t, "tenant-a", e.TenantID)
	assert.Equal(t, DefaultVersion, e.Version)
	assert.False(t, e.IsDeleted)
	assert.NotNil(t, e.Properties)
	assert.WithinDuration(t, time.Now().UTC(), e.CreatedAt, time.Second)
}

func TestEntitySetPropertyRejectsReservedNames(t *testing.T) {
	e := NewEntity(TypePerson, "t1")

	require.NoError(t, e.SetProperty("name", Text("Ada")))

	for _, reserved := range []string{"id", "type", "tenant_id", "created_at", "IS_DELETED"} {
		err := e.SetProperty(reserved, Text("x"))
		assert.Error(t, err, "reserved key %s should be rejected", reserved)
	}
}

func TestEntityMetadata(t *testing.T) {
	e := NewEntity(TypeLien, "t1")

	_, ok := e.MetadataValue("enriched_at")
	assert.False(t, ok)

	e.SetMetadata("enriched_at", Timestamp(time.Now()))
	_, ok = e.MetadataValue("enriched_at")
	assert.True(t, ok)
}

func TestEntitySoftDelete(t *testing.T) {
	e := NewEntity(TypeProperty, "t1")
	at := time.Now().UTC()

	e.SoftDelete("admin", at)

	assert.True(t, e.IsDeleted)
	require.NotNil(t, e.DeletedAt)
	assert.Equal(t, at, *e.DeletedAt)
	assert.Equal(t, "admin", e.DeletedBy)
}

func TestIncrementVersion(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		expected string
	}{
		{"default", "1.0", "1.1"},
		{"minor rollover", "2.9", "2.10"},
		{"malformed falls back", "garbage", "1.1"},
		{"empty falls back", "", "1.1"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := NewEntity(TypeProperty, "t1")
			e.Version = test.version
			assert.Equal(t, test.expected, e.IncrementVersion())
			assert.Equal(t, test.expected, e.Version)
		})
	}
}

func TestTypedAccessors(t *testing.T) {
	e := NewEntity(TypeProperty, "t1")
	require.NoError(t, e.SetProperty("address", Text("123 Main St")))
	require.NoError(t, e.SetProperty("sqft", Number(1200)))
	require.NoError(t, e.SetProperty("latitude", Number(30.27)))
	require.NoError(t, e.SetProperty("longitude", Number(-97.74)))

	asset := AsPropertyAsset(e)

	addr, ok := asset.Address()
	require.True(t, ok)
	assert.Equal(t, "123 Main St", addr)

	sqft, ok := asset.SquareFeet()
	require.True(t, ok)
	assert.Equal(t, 1200.0, sqft)

	lat, lon, ok := asset.Coordinates()
	require.True(t, ok)
	assert.Equal(t, 30.27, lat)
	assert.Equal(t, -97.74, lon)

	_, ok = asset.Price()
	assert.False(t, ok, "absent property returns explicit false")

	lien := AsLien(NewEntity(TypeLien, "t1"))
	_, ok = lien.Amount()
	assert.False(t, ok)
}

func TestEnrichmentCatalogIsReadOnly(t *testing.T) {
	types := EnrichmentTypes()
	require.NotEmpty(t, types)

	types[0] = "mutated"
	assert.NotEqual(t, "mutated", EnrichmentTypes()[0], "callers must not mutate the catalog")

	assert.True(t, IsKnownEnrichmentType("geocoding"))
	assert.False(t, IsKnownEnrichmentType("unknown-enrichment"))
}
