package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/k5tuck/binelek-core-sub001/errors"
)

// Kind identifies the variant held by a Value.
type Kind int

// Value variants. Scalar kinds map to native graph node properties;
// KindList and KindMap are serialized to a JSON string at the storage
// boundary because the graph store only accepts scalar properties.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindText
	KindTimestamp
	KindList
	KindMap
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindTimestamp:
		return "timestamp"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is the tagged union carried by entity and relationship property bags.
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	t    time.Time
	list []Value
	m    map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric Value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Text returns a string Value.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// Timestamp returns a datetime Value.
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t} }

// List returns a list Value.
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// Map returns a nested map Value.
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind returns the variant held by this Value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the Value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsScalar reports whether the Value maps to a native graph property.
func (v Value) IsScalar() bool {
	return v.kind != KindList && v.kind != KindMap
}

// AsBool returns the boolean variant, reporting whether the Value holds one.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsNumber returns the numeric variant, reporting whether the Value holds one.
func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.n, true
}

// AsText returns the string variant, reporting whether the Value holds one.
func (v Value) AsText() (string, bool) {
	if v.kind != KindText {
		return "", false
	}
	return v.s, true
}

// AsTimestamp returns the datetime variant. Text values that parse as
// RFC3339 are accepted so timestamps survive a JSON round trip.
func (v Value) AsTimestamp() (time.Time, bool) {
	switch v.kind {
	case KindTimestamp:
		return v.t, true
	case KindText:
		if t, err := time.Parse(time.RFC3339, v.s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AsList returns the list variant, reporting whether the Value holds one.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// AsMap returns the map variant, reporting whether the Value holds one.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Equal reports deep equality of two Values.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindNumber:
		return v.n == other.n
	case KindText:
		return v.s == other.s
	case KindTimestamp:
		return v.t.Equal(other.t)
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, val := range v.m {
			ov, ok := other.m[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindText:
		return json.Marshal(v.s)
	case KindTimestamp:
		return json.Marshal(v.t.UTC().Format(time.RFC3339Nano))
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler. JSON strings decode as text,
// never as timestamps; callers recover datetimes via AsTimestamp.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	decoded, err := decodeValue(dec)
	if err != nil {
		return errors.WrapInvalid(err, "Value", "UnmarshalJSON", "decode value")
	}
	*v = decoded
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null(), err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), err
		}
		return Number(f), nil
	case string:
		return Text(t), nil
	case json.Delim:
		switch t {
		case '[':
			var items []Value
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Null(), err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return Null(), err
			}
			return List(items...), nil
		case '{':
			m := make(map[string]Value)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Null(), err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Null(), fmt.Errorf("object key is not a string: %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Null(), err
				}
				m[key] = val
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return Null(), err
			}
			return Map(m), nil
		}
	}
	return Null(), fmt.Errorf("unexpected JSON token: %v", tok)
}
