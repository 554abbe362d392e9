// Package classify implements the classification engine. Classification is a
// pure function of the entity and its relationship count, so reprocessing a
// redelivered event always produces the same result.
package classify

import (
	"strings"
	"time"

	"github.com/k5tuck/binelek-core-sub001/graph"
)

// Risk levels ordered by severity.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Day thresholds used by the scoring rules.
const (
	oldAgeDays     = 365
	newAgeDays     = 30
	staleDays      = 365
	agingDays      = 180
	minProperties  = 5
	richRelCount   = 5
	highQualityMin = 80
	reviewMax      = 50
)

// Classification is the full classification result for one entity.
type Classification struct {
	Categories   []string  `json:"categories"`
	RiskLevel    string    `json:"risk_level"`
	QualityScore int       `json:"quality_score"`
	AutoTags     []string  `json:"auto_tags"`
	ClassifiedAt time.Time `json:"classified_at"`
}

// Engine computes classifications. The clock is injectable so scoring rules
// with age thresholds are testable.
type Engine struct {
	now func() time.Time
}

// NewEngine creates a classification engine using the system clock.
func NewEngine() *Engine {
	return &Engine{now: func() time.Time { return time.Now().UTC() }}
}

// NewEngineWithClock creates an engine with a fixed clock.
func NewEngineWithClock(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// Classify computes the entity's categories, risk level, quality score, and
// auto-tags. Deterministic for a given entity state and relationship count.
func (e *Engine) Classify(entity *graph.Entity, relationshipCount int) Classification {
	now := e.now()
	quality := e.qualityScore(entity, relationshipCount, now)

	return Classification{
		Categories:   e.categories(entity),
		RiskLevel:    riskLevel(e.riskScore(entity, now)),
		QualityScore: quality,
		AutoTags:     e.autoTags(entity, quality, now),
		ClassifiedAt: now,
	}
}

// categories derives semantic groupings from the entity type and which
// properties are present.
func (e *Engine) categories(entity *graph.Entity) []string {
	var categories []string
	seen := make(map[string]struct{})
	add := func(c string) {
		if _, dup := seen[c]; !dup && c != "" {
			seen[c] = struct{}{}
			categories = append(categories, c)
		}
	}

	add(entity.Type)
	if entity.HasProperty("price") || entity.HasProperty("value") {
		add("Financial")
	}
	if entity.HasProperty("latitude") && entity.HasProperty("longitude") {
		add("Geospatial")
	}
	if entity.HasProperty("address") || entity.HasProperty("location") {
		add("Physical")
	}
	if entity.HasProperty("start_date") || entity.HasProperty("end_date") {
		add("Temporal")
	}
	return categories
}

// riskScore accumulates risk points from age, missing core fields, and
// recorded validation errors.
func (e *Engine) riskScore(entity *graph.Entity, now time.Time) int {
	score := 0

	if entity.Age(now) > oldAgeDays*24*time.Hour {
		score += 10
	}

	if !entity.HasProperty("name") {
		score += 15
	}
	if entity.Type == "" {
		score += 15
	}
	if !entity.HasProperty("description") {
		score += 15
	}

	if _, ok := entity.MetadataValue("validation_errors"); ok {
		score += 20
	}

	return score
}

func riskLevel(score int) string {
	switch {
	case score < 20:
		return RiskLow
	case score < 40:
		return RiskMedium
	case score < 60:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// qualityScore starts at 100 and adjusts for completeness, freshness,
// provenance, and connectedness, clamped to [0, 100].
func (e *Engine) qualityScore(entity *graph.Entity, relationshipCount int, now time.Time) int {
	score := 100

	if entity.Properties.Len() < minProperties {
		score -= 20
	}

	staleness := entity.Staleness(now)
	switch {
	case staleness > staleDays*24*time.Hour:
		score -= 30
	case staleness > agingDays*24*time.Hour:
		score -= 15
	}

	if _, ok := entity.MetadataValue("enriched_at"); ok {
		score += 10
	}
	if _, ok := entity.MetadataValue("validated_at"); ok {
		score += 10
	}

	switch {
	case relationshipCount > richRelCount:
		score += 10
	case relationshipCount > 0:
		score += 5
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// autoTags derives searchable tags from the type, property values whose keys
// mention status or category, age, and the quality score. Deduplicated.
func (e *Engine) autoTags(entity *graph.Entity, quality int, now time.Time) []string {
	var tags []string
	seen := make(map[string]struct{})
	add := func(t string) {
		if _, dup := seen[t]; !dup && t != "" {
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}

	if entity.Type != "" {
		add(strings.ToLower(entity.Type))
	}

	for _, key := range entity.Properties.Keys() {
		lowered := strings.ToLower(key)
		hasStatus := strings.Contains(lowered, "status")
		hasCategory := strings.Contains(lowered, "category")
		if !hasStatus && !hasCategory {
			continue
		}
		v, ok := entity.Property(key)
		if !ok {
			continue
		}
		text, isText := v.AsText()
		if !isText || text == "" {
			continue
		}
		if hasStatus {
			add("status:" + text)
		}
		if hasCategory {
			add("category:" + text)
		}
	}

	age := entity.Age(now)
	if age < newAgeDays*24*time.Hour {
		add("new")
	}
	if age > oldAgeDays*24*time.Hour {
		add("old")
	}

	if quality >= highQualityMin {
		add("high-quality")
	}
	if quality < reviewMax {
		add("needs-review")
	}

	return tags
}
