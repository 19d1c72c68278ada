package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/hrcore/hrcore/pkg/tenant"
)

// TestTenant represents a tenant row created for testing. Unlike a
// schema-per-tenant design, every TestTenant lives in the same hrcore
// schema; isolation between them comes from the tenant_isolation RLS
// policies keyed on tenant_id, exercised via WithTestTenant.
type TestTenant struct {
	ID   string
	Name string
	Slug string
}

// TenantManager creates and tears down tenant rows for tests.
type TenantManager struct {
	db      *sqlx.DB
	tenants []TestTenant
	mu      sync.Mutex
}

// NewTenantManager creates a new tenant manager for tests.
func NewTenantManager(db *sqlx.DB) *TenantManager {
	return &TenantManager{
		db:      db,
		tenants: make([]TestTenant, 0),
	}
}

// CreateTenant registers a new tenant row for testing. Each test should use
// its own tenant so RLS gives it full isolation from every other test
// running against the same shared hrcore schema.
//
// Usage:
//
//	tm := testutil.NewTenantManager(db)
//	tenant, _ := tm.CreateTenant(ctx, "test-acme-corp")
//	ctx = testutil.WithTestTenant(ctx, tenant)
//
//	// Now repository operations scoped to this tenant via WithTenantRLS
//	// only see rows with tenant_id = tenant.ID.
//	emp, err := employeeRepo.GetByID(ctx, employeeID)
func (tm *TenantManager) CreateTenant(ctx context.Context, name string) (*TestTenant, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	id := uuid.New().String()
	slug := strings.ToLower(strings.ReplaceAll(name, " ", "-"))

	_, err := tm.db.ExecContext(ctx, `
		INSERT INTO public.tenants (id, name, slug, subscription_status)
		VALUES ($1, $2, $3, 'active')
		ON CONFLICT (slug) DO NOTHING
	`, id, name, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to register tenant: %w", err)
	}

	t := TestTenant{ID: id, Name: name, Slug: slug}
	tm.tenants = append(tm.tenants, t)
	return &t, nil
}

// DropTenant removes a tenant row. Every hrcore table's tenant_id foreign
// key cascades on delete, so this single DELETE clears every row the
// tenant ever wrote.
func (tm *TenantManager) DropTenant(ctx context.Context, t *TestTenant) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if _, err := tm.db.ExecContext(ctx, "DELETE FROM public.tenants WHERE id = $1", t.ID); err != nil {
		return fmt.Errorf("failed to delete tenant record: %w", err)
	}

	for i, tracked := range tm.tenants {
		if tracked.ID == t.ID {
			tm.tenants = append(tm.tenants[:i], tm.tenants[i+1:]...)
			break
		}
	}
	return nil
}

// Cleanup drops every tenant this manager created. Call this in TestMain
// after all tests have run.
func (tm *TenantManager) Cleanup(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	var lastErr error
	for _, t := range tm.tenants {
		if _, err := tm.db.ExecContext(ctx, "DELETE FROM public.tenants WHERE id = $1", t.ID); err != nil {
			lastErr = err
		}
	}
	tm.tenants = make([]TestTenant, 0)
	return lastErr
}

// WithTestTenant creates a context carrying the tenant ID WithTenantRLS
// needs. The slug/schema arguments tenant.WithTenantContext historically
// took are no longer meaningful under single-schema RLS: the slug is the
// tenant's own and the schema is always "hrcore".
func WithTestTenant(ctx context.Context, t *TestTenant) context.Context {
	return tenant.WithTenantContext(ctx, t.ID, t.Slug, "hrcore")
}

// WithTestTenantValues creates a context with an arbitrary tenant ID,
// useful for testing cross-tenant isolation and not-found error paths.
func WithTestTenantValues(ctx context.Context, id, slug string) context.Context {
	return tenant.WithTenantContext(ctx, id, slug, "hrcore")
}

// TestTenantContext creates a context with a fake tenant ID for unit tests
// that stub the database and never actually hit RLS.
func TestTenantContext() context.Context {
	return tenant.WithTenantContext(context.Background(), uuid.NewString(), "test-tenant", "hrcore")
}
