package graph

import "time"

// Typed accessors for the common domain entity types. Each wrapper reads and
// writes named keys in the untyped bag with explicit presence flags; there is
// no reflection and no per-type physical schema.

// Entity type discriminators used by the ingestion pipelines.
const (
	TypeProperty   = "Property"
	TypePerson     = "Person"
	TypeLien       = "Lien"
	TypeMarketData = "MarketData"
)

// PropertyAsset wraps an Entity of type Property.
type PropertyAsset struct{ *Entity }

// AsPropertyAsset provides typed access to a Property entity's bag.
func AsPropertyAsset(e *Entity) PropertyAsset { return PropertyAsset{e} }

// Address returns the street address, if present.
func (p PropertyAsset) Address() (string, bool) {
	v, ok := p.Property("address")
	if !ok {
		return "", false
	}
	return v.AsText()
}

// SetAddress stores the street address.
func (p PropertyAsset) SetAddress(addr string) {
	p.Properties.Set("address", Text(addr))
}

// SquareFeet returns the interior area, if present.
func (p PropertyAsset) SquareFeet() (float64, bool) {
	v, ok := p.Property("sqft")
	if !ok {
		return 0, false
	}
	return v.AsNumber()
}

// Price returns the listed price, if present.
func (p PropertyAsset) Price() (float64, bool) {
	v, ok := p.Property("price")
	if !ok {
		return 0, false
	}
	return v.AsNumber()
}

// Coordinates returns latitude and longitude when both are present.
func (p PropertyAsset) Coordinates() (lat, lon float64, ok bool) {
	latV, okLat := p.Property("latitude")
	lonV, okLon := p.Property("longitude")
	if !okLat || !okLon {
		return 0, 0, false
	}
	lat, okLat = latV.AsNumber()
	lon, okLon = lonV.AsNumber()
	return lat, lon, okLat && okLon
}

// Person wraps an Entity of type Person.
type Person struct{ *Entity }

// AsPerson provides typed access to a Person entity's bag.
func AsPerson(e *Entity) Person { return Person{e} }

// FullName returns the person's name, if present.
func (p Person) FullName() (string, bool) {
	v, ok := p.Property("name")
	if !ok {
		return "", false
	}
	return v.AsText()
}

// Email returns the contact email, if present.
func (p Person) Email() (string, bool) {
	v, ok := p.Property("email")
	if !ok {
		return "", false
	}
	return v.AsText()
}

// Lien wraps an Entity of type Lien.
type Lien struct{ *Entity }

// AsLien provides typed access to a Lien entity's bag.
func AsLien(e *Entity) Lien { return Lien{e} }

// Amount returns the lien amount, if present.
func (l Lien) Amount() (float64, bool) {
	v, ok := l.Property("amount")
	if !ok {
		return 0, false
	}
	return v.AsNumber()
}

// Holder returns the lien holder name, if present.
func (l Lien) Holder() (string, bool) {
	v, ok := l.Property("holder")
	if !ok {
		return "", false
	}
	return v.AsText()
}

// RecordedAt returns when the lien was recorded, if present.
func (l Lien) RecordedAt() (time.Time, bool) {
	v, ok := l.Property("recorded_at")
	if !ok {
		return time.Time{}, false
	}
	return v.AsTimestamp()
}
