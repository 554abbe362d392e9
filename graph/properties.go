package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Properties is an insertion-ordered property bag. Ordering matters because
// generated compatibility views and serialized blobs must be stable across
// writes of the same entity.
type Properties struct {
	keys   []string
	values map[string]Value
}

// NewProperties creates an empty property bag.
func NewProperties() *Properties {
	return &Properties{values: make(map[string]Value)}
}

// PropertiesFrom creates a bag from key/value pairs in the given order.
func PropertiesFrom(pairs ...any) *Properties {
	p := NewProperties()
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		if v, ok := pairs[i+1].(Value); ok {
			p.Set(key, v)
		}
	}
	return p
}

// Set stores a value under key, preserving first-insertion order.
func (p *Properties) Set(key string, v Value) {
	if p.values == nil {
		p.values = make(map[string]Value)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = v
}

// Get returns the value for key, reporting whether it was present.
func (p *Properties) Get(key string) (Value, bool) {
	if p == nil || p.values == nil {
		return Null(), false
	}
	v, ok := p.values[key]
	return v, ok
}

// Has reports whether key is present with a non-null value.
func (p *Properties) Has(key string) bool {
	v, ok := p.Get(key)
	return ok && !v.IsNull()
}

// Delete removes key from the bag, reporting whether it was present.
func (p *Properties) Delete(key string) bool {
	if p == nil || p.values == nil {
		return false
	}
	if _, ok := p.values[key]; !ok {
		return false
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the property names in insertion order.
func (p *Properties) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of properties in the bag.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Clone returns a shallow copy of the bag preserving order.
func (p *Properties) Clone() *Properties {
	clone := NewProperties()
	if p == nil {
		return clone
	}
	for _, k := range p.keys {
		clone.Set(k, p.values[k])
	}
	return clone
}

// MarshalJSON encodes the bag as a JSON object in insertion order.
func (p *Properties) MarshalJSON() ([]byte, error) {
	if p == nil || len(p.keys) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valJSON, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving key order.
func (p *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("properties: expected JSON object, got %v", tok)
	}

	*p = *NewProperties()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("properties: object key is not a string: %v", keyTok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return err
		}
		p.Set(key, val)
	}
	_, err = dec.Token() // consume '}'
	return err
}
