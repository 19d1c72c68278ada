package tenant

import (
	"context"

	"github.com/hrcore/hrcore/pkg/database"
)

// Record is one row of the public tenant registry.
type Record struct {
	ID     string `db:"id"`
	Name   string `db:"name"`
	Slug   string `db:"slug"`
	Status string `db:"subscription_status"`
}

// Registry reads the public, cross-tenant registry of subscribed
// organizations. Unlike every other repository in this module it queries
// outside RLS — the registry itself is not tenant data, it is the list of
// tenants — so callers use it only to discover which tenant context to
// enter next, never to read or write tenant-scoped rows directly.
type Registry struct {
	db *database.DB
}

// NewRegistry creates a new tenant registry reader.
func NewRegistry(db *database.DB) *Registry {
	return &Registry{db: db}
}

// ListActive returns every tenant whose subscription is active, the set a
// scheduler loop iterates to run a job once per tenant.
func (r *Registry) ListActive(ctx context.Context) ([]Record, error) {
	var records []Record
	query := `SELECT id, name, slug, subscription_status FROM public.tenants WHERE subscription_status = 'active' ORDER BY slug`
	if err := r.db.SelectContext(ctx, &records, query); err != nil {
		return nil, err
	}
	return records, nil
}
