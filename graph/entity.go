// Package graph defines the tenant-scoped entity/relationship model shared by
// the graph store, the event consumers, and the classification engine.
// Entities carry a free-form ordered property bag; heterogeneous domain
// objects (Property, Person, Lien, MarketData) share this one physical shape.
package graph

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultVersion is the semantic "major.minor" version assigned to new entities.
const DefaultVersion = "1.0"

// Reserved property names stored as first-class node attributes rather than
// inside the serialized property bag, so they stay indexable and usable in
// Cypher filters.
var reservedKeys = map[string]struct{}{
	"id":         {},
	"type":       {},
	"tenant_id":  {},
	"version":    {},
	"created_at": {},
	"updated_at": {},
	"created_by": {},
	"updated_by": {},
	"source":     {},
	"is_deleted": {},
	"deleted_at": {},
	"deleted_by": {},
	"metadata":   {},
	"properties": {},
}

// IsReservedKey reports whether a property name collides with a first-class
// node attribute.
func IsReservedKey(key string) bool {
	_, ok := reservedKeys[strings.ToLower(key)]
	return ok
}

// Entity is a tenant-scoped graph node with a type discriminator and a
// free-form property bag. The type maps to the node label in the graph store.
type Entity struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	TenantID   string           `json:"tenant_id,omitempty"`
	Properties *Properties      `json:"properties"`
	Metadata   map[string]Value `json:"metadata,omitempty"`
	Version    string           `json:"version"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	CreatedBy  string           `json:"created_by,omitempty"`
	UpdatedBy  string           `json:"updated_by,omitempty"`
	Source     string           `json:"source,omitempty"`
	IsDeleted  bool             `json:"is_deleted"`
	DeletedAt  *time.Time       `json:"deleted_at,omitempty"`
	DeletedBy  string           `json:"deleted_by,omitempty"`
}

// NewEntity creates an entity of the given type for a tenant with a fresh id,
// default version, and store-assigned timestamps.
func NewEntity(entityType, tenantID string) *Entity {
	now := time.Now().UTC()
	return &Entity{
		ID:         uuid.New().String(),
		Type:       entityType,
		TenantID:   tenantID,
		Properties: NewProperties(),
		Version:    DefaultVersion,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Property returns the named property value with an explicit presence flag.
func (e *Entity) Property(key string) (Value, bool) {
	return e.Properties.Get(key)
}

// SetProperty stores a property value, rejecting reserved names.
func (e *Entity) SetProperty(key string, v Value) error {
	if IsReservedKey(key) {
		return fmt.Errorf("property name %q is reserved", key)
	}
	if e.Properties == nil {
		e.Properties = NewProperties()
	}
	e.Properties.Set(key, v)
	return nil
}

// HasProperty reports whether the entity carries a non-null property.
func (e *Entity) HasProperty(key string) bool {
	return e.Properties.Has(key)
}

// MetadataValue returns the named metadata value with a presence flag.
func (e *Entity) MetadataValue(key string) (Value, bool) {
	if e.Metadata == nil {
		return Null(), false
	}
	v, ok := e.Metadata[key]
	return v, ok
}

// SetMetadata stores a provenance/bookkeeping value.
func (e *Entity) SetMetadata(key string, v Value) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]Value)
	}
	e.Metadata[key] = v
}

// Age returns how long ago the entity was created relative to now.
func (e *Entity) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Staleness returns how long ago the entity was last updated relative to now.
func (e *Entity) Staleness(now time.Time) time.Duration {
	return now.Sub(e.UpdatedAt)
}

// SoftDelete marks the entity deleted without removing it from the store.
func (e *Entity) SoftDelete(deletedBy string, at time.Time) {
	e.IsDeleted = true
	e.DeletedAt = &at
	e.DeletedBy = deletedBy
}

// IncrementVersion bumps the minor component of the "major.minor" version
// string. The entity-update path intentionally does not call this: entity
// versions do not advance on mutation and the store performs no optimistic
// concurrency checks. The helper exists for administrative re-versioning.
func (e *Entity) IncrementVersion() string {
	major, minor := 1, 0
	parts := strings.SplitN(e.Version, ".", 2)
	if len(parts) == 2 {
		if m, err := strconv.Atoi(parts[0]); err == nil {
			major = m
		}
		if m, err := strconv.Atoi(parts[1]); err == nil {
			minor = m
		}
	}
	e.Version = fmt.Sprintf("%d.%d", major, minor+1)
	return e.Version
}
