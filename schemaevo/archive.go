package schemaevo

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/k5tuck/binelek-core-sub001/errors"
)

// ViewWriter is the slice of the key-value store the archive needs.
type ViewWriter interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// Archive keeps the latest generated view per (tenant, view name) so
// administrators can retrieve the SQL without regenerating it.
type Archive struct {
	kv     ViewWriter
	logger *slog.Logger
}

// NewArchive creates an archive over a key-value bucket.
func NewArchive(kv ViewWriter, logger *slog.Logger) (*Archive, error) {
	if kv == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Archive", "NewArchive", "validate dependencies")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{kv: kv, logger: logger.With("component", "schemaevo")}, nil
}

// Save writes every view under views.<tenant>.<name>. Last writer wins:
// regenerating a view for the same change overwrites the previous SQL.
func (a *Archive) Save(ctx context.Context, tenantID string, views []View) error {
	for _, view := range views {
		data, err := json.Marshal(view)
		if err != nil {
			return errors.WrapInvalid(err, "Archive", "Save", "encode view")
		}

		key := "views." + tenantID + "." + view.Name
		if _, err := a.kv.Put(ctx, key, data); err != nil {
			return errors.WrapTransient(err, "Archive", "Save", "store view")
		}
		a.logger.Debug("compatibility view archived", "key", key, "tenant_id", tenantID)
	}
	return nil
}
