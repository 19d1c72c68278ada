package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hrcore/hrcore/pkg/database"
	"github.com/hrcore/hrcore/pkg/errors"
	"github.com/hrcore/hrcore/pkg/tenant"
)

// Run is a single payroll period's state-machine record. Only one
// non-cancelled run may cover a given (period_start, period_end); the
// schema's unique index enforces that.
type Run struct {
	ID                 string     `db:"id" json:"id"`
	PeriodStart        time.Time  `db:"period_start" json:"period_start"`
	PeriodEnd          time.Time  `db:"period_end" json:"period_end"`
	Status             string     `db:"status" json:"status"`
	InputHash          *string    `db:"input_hash" json:"input_hash,omitempty"`
	CalculatedAt       *time.Time `db:"calculated_at" json:"calculated_at,omitempty"`
	ApprovedBy         *string    `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt         *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	SecondApprovedBy   *string    `db:"second_approved_by" json:"second_approved_by,omitempty"`
	SecondApprovedAt   *time.Time `db:"second_approved_at" json:"second_approved_at,omitempty"`
	PaidAt             *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	CancelledAt        *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason *string    `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// LineItem is one employee's computed pay for a run.
type LineItem struct {
	ID            string          `db:"id" json:"id"`
	PayrollRunID  string          `db:"payroll_run_id" json:"payroll_run_id"`
	EmployeeID    string          `db:"employee_id" json:"employee_id"`
	Gross         decimal.Decimal `db:"gross" json:"gross"`
	Deductions    decimal.Decimal `db:"deductions" json:"deductions"`
	Net           decimal.Decimal `db:"net" json:"net"`
	WorkedHours   decimal.Decimal `db:"worked_hours" json:"worked_hours"`
	OvertimeHours decimal.Decimal `db:"overtime_hours" json:"overtime_hours"`
	PaidLeaveDays decimal.Decimal `db:"paid_leave_days" json:"paid_leave_days"`
	Breakdown     database.JSONB  `db:"breakdown" json:"breakdown,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// PayrollRepository handles payroll run and line-item persistence.
type PayrollRepository struct {
	db *database.DB
}

// NewPayrollRepository creates a new payroll repository.
func NewPayrollRepository(db *database.DB) *PayrollRepository {
	return &PayrollRepository{db: db}
}

// CreateRun creates a new draft payroll run for a period.
func (r *PayrollRepository) CreateRun(ctx context.Context, run *Run) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = "draft"
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO payroll_runs (id, tenant_id, period_start, period_end, status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at, updated_at
		`
		err := r.db.QueryRowxContext(ctx, query, run.ID, tenantID, run.PeriodStart, run.PeriodEnd, run.Status).
			Scan(&run.CreatedAt, &run.UpdatedAt)
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	})
}

// GetByID gets a payroll run, locking its row FOR UPDATE so concurrent
// transition attempts serialize rather than race.
func (r *PayrollRepository) GetByID(ctx context.Context, id string) (*Run, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var run Run
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, period_start, period_end, status, input_hash, calculated_at,
			       approved_by, approved_at, second_approved_by, second_approved_at,
			       paid_at, cancelled_at, cancellation_reason, created_at, updated_at
			FROM payroll_runs WHERE id = $1 FOR UPDATE
		`
		return r.db.GetContext(ctx, &run, query, id)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("payroll_run")
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FindOverlapping returns non-cancelled runs whose period overlaps the
// given range, used to reject start_processing when another run already
// covers part of the period.
func (r *PayrollRepository) FindOverlapping(ctx context.Context, periodStart, periodEnd time.Time) ([]*Run, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var runs []*Run
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, period_start, period_end, status, input_hash, calculated_at,
			       approved_by, approved_at, second_approved_by, second_approved_at,
			       paid_at, cancelled_at, cancellation_reason, created_at, updated_at
			FROM payroll_runs
			WHERE status != 'cancelled' AND period_start <= $2 AND period_end >= $1
		`
		return r.db.SelectContext(ctx, &runs, query, periodStart, periodEnd)
	})
	return runs, err
}

// UpdateStatus applies a payroll run's full mutable state in one update.
// Callers (the service layer) are responsible for validating the
// transition is monotone before calling this.
func (r *PayrollRepository) UpdateStatus(ctx context.Context, run *Run) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			UPDATE payroll_runs SET
				status = $2, input_hash = $3, calculated_at = $4,
				approved_by = $5, approved_at = $6, second_approved_by = $7, second_approved_at = $8,
				paid_at = $9, cancelled_at = $10, cancellation_reason = $11, updated_at = NOW()
			WHERE id = $1
		`
		result, err := r.db.ExecContext(ctx, query,
			run.ID, run.Status, run.InputHash, run.CalculatedAt,
			run.ApprovedBy, run.ApprovedAt, run.SecondApprovedBy, run.SecondApprovedAt,
			run.PaidAt, run.CancelledAt, run.CancellationReason,
		)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFoundWithKey("payroll_run")
		}
		return nil
	})
}

// ReplaceLineItems deletes any existing line items for a run and inserts a
// fresh set, used by mark_calculated to make recalculation idempotent at
// the row level once the service layer has decided a recalculation is
// allowed.
func (r *PayrollRepository) ReplaceLineItems(ctx context.Context, runID string, items []*LineItem) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM payroll_line_items WHERE payroll_run_id = $1`, runID); err != nil {
			return err
		}
		for _, item := range items {
			if item.ID == "" {
				item.ID = uuid.New().String()
			}
			query := `
				INSERT INTO payroll_line_items (
					id, tenant_id, payroll_run_id, employee_id, gross, deductions, net,
					worked_hours, overtime_hours, paid_leave_days, breakdown
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				RETURNING created_at
			`
			err := r.db.QueryRowxContext(ctx, query,
				item.ID, tenantID, runID, item.EmployeeID, item.Gross, item.Deductions, item.Net,
				item.WorkedHours, item.OvertimeHours, item.PaidLeaveDays, item.Breakdown,
			).Scan(&item.CreatedAt)
			if err != nil {
				if appErr := database.MapPQError(err); appErr != nil {
					return appErr
				}
				return err
			}
		}
		return nil
	})
}

// ListLineItems returns every line item for a run.
func (r *PayrollRepository) ListLineItems(ctx context.Context, runID string) ([]*LineItem, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var items []*LineItem
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, payroll_run_id, employee_id, gross, deductions, net,
			       worked_hours, overtime_hours, paid_leave_days, breakdown, created_at
			FROM payroll_line_items WHERE payroll_run_id = $1 ORDER BY employee_id
		`
		return r.db.SelectContext(ctx, &items, query, runID)
	})
	return items, err
}

// Totals sums a run's line items into gross/deductions/net aggregates.
func (r *PayrollRepository) Totals(ctx context.Context, runID string) (gross, deductions, net decimal.Decimal, employeeCount int, err error) {
	items, err := r.ListLineItems(ctx, runID)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, 0, err
	}
	gross, deductions, net = decimal.Zero, decimal.Zero, decimal.Zero
	for _, item := range items {
		gross = gross.Add(item.Gross)
		deductions = deductions.Add(item.Deductions)
		net = net.Add(item.Net)
	}
	return gross, deductions, net, len(items), nil
}
