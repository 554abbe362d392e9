package graph

// Known enrichment types. This is a process-wide read-only catalog; callers
// receive a copy and cannot mutate the table.
var enrichmentTypes = []string{
	"geocoding",
	"valuation",
	"ownership",
	"risk-profile",
	"market-comparables",
}

// EnrichmentTypes returns the catalog of enrichment types accepted by the
// enrichment orchestrator.
func EnrichmentTypes() []string {
	out := make([]string, len(enrichmentTypes))
	copy(out, enrichmentTypes)
	return out
}

// IsKnownEnrichmentType reports whether the catalog contains the given type.
func IsKnownEnrichmentType(name string) bool {
	for _, t := range enrichmentTypes {
		if t == name {
			return true
		}
	}
	return false
}
