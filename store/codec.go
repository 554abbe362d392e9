package store

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/k5tuck/binelek-core-sub001/errors"
	"github.com/k5tuck/binelek-core-sub001/graph"
)

// identifierPattern restricts interpolated labels, relationship types, and
// property names. Cypher cannot parameterize these, so anything else is
// rejected before query assembly.
var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// sanitizeIdentifier validates a value destined for string interpolation
// into a Cypher statement.
func sanitizeIdentifier(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", errors.WrapInvalid(
			fmt.Errorf("identifier %q is not a valid graph label or type", name),
			"store", "sanitizeIdentifier", "validate identifier")
	}
	return name, nil
}

// Node attributes managed by the store itself. They never round-trip into
// the entity's property bag.
var storeManagedKeys = map[string]struct{}{
	"property_keys": {},
	"search_text":   {},
	"categories":    {},
	"risk_level":    {},
	"quality_score": {},
	"auto_tags":     {},
	"classified_at": {},
}

// encodeValue converts a bag Value into a graph-native property. Scalars map
// directly; lists and maps are serialized to a JSON string because the graph
// store only accepts scalar node properties.
func encodeValue(v graph.Value) (any, error) {
	switch v.Kind() {
	case graph.KindNull:
		return nil, nil
	case graph.KindBool:
		b, _ := v.AsBool()
		return b, nil
	case graph.KindNumber:
		n, _ := v.AsNumber()
		return n, nil
	case graph.KindText:
		t, _ := v.AsText()
		return t, nil
	case graph.KindTimestamp:
		ts, _ := v.AsTimestamp()
		return ts.UTC(), nil
	case graph.KindList, graph.KindMap:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, errors.WrapInvalid(err, "store", "encodeValue", "serialize compound value")
		}
		return string(data), nil
	}
	return nil, fmt.Errorf("unknown value kind %v", v.Kind())
}

// decodeValue converts a graph-native property back into a bag Value.
// Strings that carry serialized JSON objects or arrays are decoded back into
// their compound form. Text whose content happens to be valid JSON therefore
// comes back compound; the string encoding carries no type marker.
func decodeValue(raw any) graph.Value {
	switch t := raw.(type) {
	case nil:
		return graph.Null()
	case bool:
		return graph.Bool(t)
	case int64:
		return graph.Number(float64(t))
	case float64:
		return graph.Number(t)
	case string:
		trimmed := strings.TrimSpace(t)
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
			var v graph.Value
			if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
				return v
			}
		}
		return graph.Text(t)
	case time.Time:
		return graph.Timestamp(t)
	case []any:
		items := make([]graph.Value, 0, len(t))
		for _, item := range t {
			items = append(items, decodeValue(item))
		}
		return graph.List(items...)
	default:
		return graph.Text(fmt.Sprintf("%v", t))
	}
}

// encodeEntity flattens an entity into one node property map: reserved
// fields become first-class attributes, each bag property becomes its own
// attribute, and insertion order is kept in property_keys.
func encodeEntity(e *graph.Entity) (map[string]any, error) {
	props := map[string]any{
		"id":         e.ID,
		"type":       e.Type,
		"tenant_id":  e.TenantID,
		"version":    e.Version,
		"created_at": e.CreatedAt.UTC(),
		"updated_at": e.UpdatedAt.UTC(),
		"is_deleted": e.IsDeleted,
	}
	if e.CreatedBy != "" {
		props["created_by"] = e.CreatedBy
	}
	if e.UpdatedBy != "" {
		props["updated_by"] = e.UpdatedBy
	}
	if e.Source != "" {
		props["source"] = e.Source
	}
	if e.DeletedAt != nil {
		props["deleted_at"] = e.DeletedAt.UTC()
	}
	if e.DeletedBy != "" {
		props["deleted_by"] = e.DeletedBy
	}

	var searchTerms []string
	// property_keys lists only the keys actually encoded; reserved and
	// store-managed names must not shadow first-class node attributes on
	// decode.
	encodedKeys := make([]string, 0, e.Properties.Len())
	for _, key := range e.Properties.Keys() {
		if graph.IsReservedKey(key) {
			continue
		}
		if _, managed := storeManagedKeys[key]; managed {
			continue
		}
		v, _ := e.Properties.Get(key)
		encoded, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		props[key] = encoded
		encodedKeys = append(encodedKeys, key)
		if text, ok := v.AsText(); ok {
			searchTerms = append(searchTerms, text)
		}
	}
	props["property_keys"] = encodedKeys
	props["search_text"] = strings.Join(searchTerms, " ")

	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, errors.WrapInvalid(err, "store", "encodeEntity", "serialize metadata")
		}
		props["metadata"] = string(data)
	}

	return props, nil
}

// decodeEntity rebuilds an entity from a node, restoring property order from
// property_keys.
func decodeEntity(node dbtype.Node) (*graph.Entity, error) {
	e := &graph.Entity{Properties: graph.NewProperties()}

	e.ID, _ = node.Props["id"].(string)
	e.Type, _ = node.Props["type"].(string)
	e.TenantID, _ = node.Props["tenant_id"].(string)
	e.Version, _ = node.Props["version"].(string)
	e.CreatedBy, _ = node.Props["created_by"].(string)
	e.UpdatedBy, _ = node.Props["updated_by"].(string)
	e.Source, _ = node.Props["source"].(string)
	e.DeletedBy, _ = node.Props["deleted_by"].(string)
	e.IsDeleted, _ = node.Props["is_deleted"].(bool)
	if e.Version == "" {
		e.Version = graph.DefaultVersion
	}

	if t, ok := node.Props["created_at"].(time.Time); ok {
		e.CreatedAt = t
	}
	if t, ok := node.Props["updated_at"].(time.Time); ok {
		e.UpdatedAt = t
	}
	if t, ok := node.Props["deleted_at"].(time.Time); ok {
		e.DeletedAt = &t
	}

	if raw, ok := node.Props["metadata"].(string); ok && raw != "" {
		meta := make(map[string]graph.Value)
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, errors.WrapInvalid(err, "store", "decodeEntity", "deserialize metadata")
		}
		e.Metadata = meta
	}

	orderedKeys := decodeStringSlice(node.Props["property_keys"])
	seen := make(map[string]struct{}, len(orderedKeys))
	for _, key := range orderedKeys {
		if raw, ok := node.Props[key]; ok {
			e.Properties.Set(key, decodeValue(raw))
			seen[key] = struct{}{}
		}
	}
	// Pick up attributes written outside the store's own encoder, e.g. by an
	// enrichment diff, that are not yet listed in property_keys.
	for key, raw := range node.Props {
		if graph.IsReservedKey(key) {
			continue
		}
		if _, managed := storeManagedKeys[key]; managed {
			continue
		}
		if _, done := seen[key]; done {
			continue
		}
		e.Properties.Set(key, decodeValue(raw))
	}

	return e, nil
}

// encodeRelationship flattens a relationship into an edge property map.
func encodeRelationship(r *graph.Relationship) (map[string]any, error) {
	props := map[string]any{
		"tenant_id":  r.TenantID,
		"created_at": r.CreatedAt.UTC(),
	}
	if r.CreatedBy != "" {
		props["created_by"] = r.CreatedBy
	}
	for key, v := range r.Properties {
		if graph.IsReservedKey(key) {
			continue
		}
		encoded, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		props[key] = encoded
	}
	return props, nil
}

// decodeRelationship rebuilds a relationship from an edge and its endpoint ids.
func decodeRelationship(rel dbtype.Relationship, fromID, toID string) *graph.Relationship {
	r := &graph.Relationship{
		Type:         rel.Type,
		FromEntityID: fromID,
		ToEntityID:   toID,
	}
	r.TenantID, _ = rel.Props["tenant_id"].(string)
	r.CreatedBy, _ = rel.Props["created_by"].(string)
	if t, ok := rel.Props["created_at"].(time.Time); ok {
		r.CreatedAt = t
	}

	for key, raw := range rel.Props {
		switch key {
		case "tenant_id", "created_at", "created_by":
			continue
		}
		if r.Properties == nil {
			r.Properties = make(map[string]graph.Value)
		}
		r.Properties[key] = decodeValue(raw)
	}
	return r
}

func decodeStringSlice(raw any) []string {
	switch t := raw.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
