// Package schemaevo generates backward-compatible SQL views for breaking
// ontology changes. Generation is pure; applying the SQL to a downstream
// relational mirror is a separate administrative action.
package schemaevo

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/k5tuck/binelek-core-sub001/errors"
)

// ChangeType names one kind of breaking ontology change.
type ChangeType string

// Supported breaking changes.
const (
	ChangeEntityRenamed   ChangeType = "entity_renamed"
	ChangePropertyRenamed ChangeType = "property_renamed"
	ChangeEntityRemoved   ChangeType = "entity_removed"
)

// deprecationWindow is how long a compatibility view stays available before
// its scheduled removal date.
const deprecationWindow = 12 // months

// Change describes one breaking ontology change to compensate for.
type Change struct {
	Type ChangeType `yaml:"type" json:"type"`

	// EntityType is the old entity type name for renames and removals,
	// and the owning entity type for property renames.
	EntityType    string `yaml:"entity_type" json:"entity_type"`
	NewEntityType string `yaml:"new_entity_type,omitempty" json:"new_entity_type,omitempty"`

	PropertyName    string `yaml:"property_name,omitempty" json:"property_name,omitempty"`
	NewPropertyName string `yaml:"new_property_name,omitempty" json:"new_property_name,omitempty"`

	// Columns preserves the old shape of a removed entity. When empty the
	// standard node columns are used.
	Columns []string `yaml:"columns,omitempty" json:"columns,omitempty"`
}

// View is one generated compatibility view.
type View struct {
	Name        string     `json:"name"`
	ChangeType  ChangeType `json:"change_type"`
	SQL         string     `json:"sql"`
	RemovalDate time.Time  `json:"removal_date"`
}

// defaultColumns is the old shape used for removed entities when the change
// does not carry an explicit column list.
var defaultColumns = []string{"id", "tenant_id", "type", "created_at", "updated_at"}

var sqlIdentifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Service generates compatibility views for a tenant.
type Service struct {
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a schema evolution service using wall-clock time.
func NewService(logger *slog.Logger) *Service {
	return NewServiceWithClock(logger, time.Now)
}

// NewServiceWithClock pins the clock the removal date derives from.
func NewServiceWithClock(logger *slog.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{now: now, logger: logger.With("component", "schemaevo")}
}

// GenerateViews produces one compatibility view per change, tenant-filtered.
// The removal date for the whole batch is the deprecation window from now.
func (s *Service) GenerateViews(tenantID string, changes []Change) ([]View, error) {
	if tenantID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingField,
			"SchemaEvolutionService", "GenerateViews", "validate tenant id")
	}

	removalDate := s.now().UTC().AddDate(0, deprecationWindow, 0)

	views := make([]View, 0, len(changes))
	for _, change := range changes {
		view, err := s.generateView(tenantID, change, removalDate)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}

	s.logger.Info("compatibility views generated",
		"tenant_id", tenantID,
		"views", len(views),
		"removal_date", removalDate.Format("2006-01-02"))
	return views, nil
}

func (s *Service) generateView(tenantID string, change Change, removalDate time.Time) (View, error) {
	switch change.Type {
	case ChangeEntityRenamed:
		return s.entityRenamedView(tenantID, change, removalDate)
	case ChangePropertyRenamed:
		return s.propertyRenamedView(tenantID, change, removalDate)
	case ChangeEntityRemoved:
		return s.entityRemovedView(change, removalDate)
	default:
		return View{}, errors.WrapInvalid(errors.ErrInvalidConfig,
			"SchemaEvolutionService", "GenerateViews",
			fmt.Sprintf("unsupported change type %q", change.Type))
	}
}

// entityRenamedView keeps the old entity name queryable over the new table.
func (s *Service) entityRenamedView(tenantID string, change Change, removalDate time.Time) (View, error) {
	oldName, err := tableIdentifier(change.EntityType)
	if err != nil {
		return View{}, err
	}
	newName, err := tableIdentifier(change.NewEntityType)
	if err != nil {
		return View{}, err
	}

	sql := fmt.Sprintf(`%s
CREATE OR REPLACE VIEW %s AS
SELECT *
FROM %s
WHERE tenant_id = %s;`,
		deprecationComment(fmt.Sprintf("entity %s renamed to %s", oldName, newName), removalDate),
		quoteIdentifier(oldName), quoteIdentifier(newName), quoteLiteral(tenantID))

	return View{Name: oldName, ChangeType: ChangeEntityRenamed, SQL: sql, RemovalDate: removalDate}, nil
}

// propertyRenamedView aliases the new column back to its old name alongside
// the full row, so both names resolve during the window.
func (s *Service) propertyRenamedView(tenantID string, change Change, removalDate time.Time) (View, error) {
	table, err := tableIdentifier(change.EntityType)
	if err != nil {
		return View{}, err
	}
	oldColumn, err := tableIdentifier(change.PropertyName)
	if err != nil {
		return View{}, err
	}
	newColumn, err := tableIdentifier(change.NewPropertyName)
	if err != nil {
		return View{}, err
	}

	viewName := table + "_compat"
	sql := fmt.Sprintf(`%s
CREATE OR REPLACE VIEW %s AS
SELECT *, %s AS %s
FROM %s
WHERE tenant_id = %s;`,
		deprecationComment(fmt.Sprintf("property %s.%s renamed to %s", table, oldColumn, newColumn), removalDate),
		quoteIdentifier(viewName),
		quoteIdentifier(newColumn), quoteIdentifier(oldColumn),
		quoteIdentifier(table), quoteLiteral(tenantID))

	return View{Name: viewName, ChangeType: ChangePropertyRenamed, SQL: sql, RemovalDate: removalDate}, nil
}

// entityRemovedView preserves the old shape while always selecting zero rows.
// Deleted data stays deleted; only query compatibility survives.
func (s *Service) entityRemovedView(change Change, removalDate time.Time) (View, error) {
	oldName, err := tableIdentifier(change.EntityType)
	if err != nil {
		return View{}, err
	}

	columns := change.Columns
	if len(columns) == 0 {
		columns = defaultColumns
	}
	selects := make([]string, 0, len(columns))
	for _, column := range columns {
		safe, err := tableIdentifier(column)
		if err != nil {
			return View{}, err
		}
		selects = append(selects, "NULL AS "+quoteIdentifier(safe))
	}

	sql := fmt.Sprintf(`%s
CREATE OR REPLACE VIEW %s AS
SELECT %s
WHERE false;`,
		deprecationComment(fmt.Sprintf("entity %s removed", oldName), removalDate),
		quoteIdentifier(oldName), strings.Join(selects, ", "))

	return View{Name: oldName, ChangeType: ChangeEntityRemoved, SQL: sql, RemovalDate: removalDate}, nil
}

func deprecationComment(reason string, removalDate time.Time) string {
	return fmt.Sprintf("-- Compatibility view: %s.\n-- Deprecated; scheduled for removal on %s.",
		reason, removalDate.Format("2006-01-02"))
}

// tableIdentifier lowercases and validates an identifier. Entity types arrive
// in mixed case but relational mirrors use lowercase names.
func tableIdentifier(name string) (string, error) {
	lowered := strings.ToLower(strings.TrimSpace(name))
	if !sqlIdentifierPattern.MatchString(lowered) {
		return "", errors.WrapInvalid(errors.ErrInvalidConfig,
			"SchemaEvolutionService", "GenerateViews",
			fmt.Sprintf("invalid identifier %q", name))
	}
	return lowered, nil
}

func quoteIdentifier(name string) string {
	return `"` + name + `"`
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
