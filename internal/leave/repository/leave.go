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

// LeaveType is a named category of absence (vacation, sick, unpaid) an
// organization tracks balances and requests against.
type LeaveType struct {
	ID               string    `db:"id" json:"id"`
	Code             string    `db:"code" json:"code"`
	Name             string    `db:"name" json:"name"`
	Paid             bool      `db:"paid" json:"paid"`
	RequiresApproval bool      `db:"requires_approval" json:"requires_approval"`
	Unit             string    `db:"unit" json:"unit"` // day, hour
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// AccrualTier is one step of a tenure-tiered accrual schedule, stored as an
// element of AccrualPolicy.Tiers.
type AccrualTier struct {
	AfterMonths     int             `json:"after_months"`
	AmountPerPeriod decimal.Decimal `json:"amount_per_period"`
}

// AccrualPolicy governs how a LeaveBalance grows over time. Method selects
// which branch of the accrual engine evaluates it: fixed (flat amount per
// period), prorated (a period the employee was hired into scaled to the days
// employed from the hire date; termination dates are not considered), tiered
// (AccrualTier ladder keyed on tenure), or rule_based (RuleExpression
// evaluated against the employee's context).
type AccrualPolicy struct {
	ID                       string          `db:"id" json:"id"`
	LeaveTypeID              string          `db:"leave_type_id" json:"leave_type_id"`
	Name                     string          `db:"name" json:"name"`
	Method                   string          `db:"method" json:"method"`
	Frequency                string          `db:"frequency" json:"frequency"` // monthly, yearly, biweekly
	AmountPerPeriod          decimal.Decimal `db:"amount_per_period" json:"amount_per_period"`
	AnnualCap                *decimal.Decimal `db:"annual_cap" json:"annual_cap,omitempty"`
	CarryForwardCap          *decimal.Decimal `db:"carry_forward_cap" json:"carry_forward_cap,omitempty"`
	CarryForwardExpiryMonths *int            `db:"carry_forward_expiry_months" json:"carry_forward_expiry_months,omitempty"`
	Tiers                    database.JSONB  `db:"tiers" json:"tiers,omitempty"`
	RuleExpression           *string         `db:"rule_expression" json:"rule_expression,omitempty"`
	CreatedAt                time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time       `db:"updated_at" json:"updated_at"`
}

// LeaveBalance is an employee's running total for one leave type in one
// year. Available = Allocated + CarriedOver - Used - Pending; the
// available_non_negative CHECK constraint enforces this can never go
// negative, so a reservation that would overdraw fails at the database.
type LeaveBalance struct {
	ID          string          `db:"id" json:"id"`
	EmployeeID  string          `db:"employee_id" json:"employee_id"`
	LeaveTypeID string          `db:"leave_type_id" json:"leave_type_id"`
	Year        int             `db:"year" json:"year"`
	Allocated   decimal.Decimal `db:"allocated" json:"allocated"`
	Used        decimal.Decimal `db:"used" json:"used"`
	Pending     decimal.Decimal `db:"pending" json:"pending"`
	CarriedOver decimal.Decimal `db:"carried_over" json:"carried_over"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Available returns the balance's usable days: what's left after what's
// already taken and what's reserved against pending requests.
func (b *LeaveBalance) Available() decimal.Decimal {
	return b.Allocated.Add(b.CarriedOver).Sub(b.Used).Sub(b.Pending)
}

// AccrualTransaction is an immutable ledger entry behind a LeaveBalance
// mutation, kept so a balance can be audited and reconstructed independent
// of its current snapshot row.
type AccrualTransaction struct {
	ID             string          `db:"id" json:"id"`
	LeaveBalanceID string          `db:"leave_balance_id" json:"leave_balance_id"`
	Kind           string          `db:"kind" json:"kind"` // accrual, carry_forward, expiry, manual_adjustment, reservation, release
	Days           decimal.Decimal `db:"days" json:"days"`
	EffectiveDate  time.Time       `db:"effective_date" json:"effective_date"`
	Note           *string         `db:"note" json:"note,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// LeaveRequest is one employee's ask for time off against a leave type.
type LeaveRequest struct {
	ID                 string          `db:"id" json:"id"`
	EmployeeID         string          `db:"employee_id" json:"employee_id"`
	LeaveTypeID        string          `db:"leave_type_id" json:"leave_type_id"`
	FromDate           time.Time       `db:"from_date" json:"from_date"`
	ToDate             time.Time       `db:"to_date" json:"to_date"`
	HalfDay            bool            `db:"half_day" json:"half_day"`
	Days               decimal.Decimal `db:"days" json:"days"`
	Status             string          `db:"status" json:"status"` // pending, approved, rejected, cancelled
	Reason             *string         `db:"reason" json:"reason,omitempty"`
	WorkflowInstanceID *string         `db:"workflow_instance_id" json:"workflow_instance_id,omitempty"`
	SubmittedAt        time.Time       `db:"submitted_at" json:"submitted_at"`
	DecidedBy          *string         `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt          *time.Time      `db:"decided_at" json:"decided_at,omitempty"`
	DecisionNote       *string         `db:"decision_note" json:"decision_note,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// HolidayCalendar groups Holidays that share a region, so different offices
// can observe different public holidays when working days are counted.
type HolidayCalendar struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Country   *string   `db:"country" json:"country,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Holiday is a single non-working day observed by a HolidayCalendar.
type Holiday struct {
	ID         string    `db:"id" json:"id"`
	CalendarID string    `db:"calendar_id" json:"calendar_id"`
	ObservedOn time.Time `db:"observed_on" json:"observed_on"`
	Name       string    `db:"name" json:"name"`
}

// LeaveRepository handles leave-domain persistence: types, policies,
// balances, the accrual ledger, requests and holiday calendars.
type LeaveRepository struct {
	db *database.DB
}

// NewLeaveRepository creates a new leave repository.
func NewLeaveRepository(db *database.DB) *LeaveRepository {
	return &LeaveRepository{db: db}
}

// CreateLeaveType creates a leave type. TENANT-ISOLATED.
func (r *LeaveRepository) CreateLeaveType(ctx context.Context, lt *LeaveType) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	if lt.ID == "" {
		lt.ID = uuid.New().String()
	}
	if lt.Unit == "" {
		lt.Unit = "day"
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO leave_types (id, tenant_id, code, name, paid, requires_approval, unit)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at
		`
		err := r.db.QueryRowxContext(ctx, query, lt.ID, tenantID, lt.Code, lt.Name, lt.Paid, lt.RequiresApproval, lt.Unit).
			Scan(&lt.CreatedAt, &lt.UpdatedAt)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}
		return nil
	})
}

// GetLeaveType gets a leave type by ID. TENANT-ISOLATED.
func (r *LeaveRepository) GetLeaveType(ctx context.Context, id string) (*LeaveType, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var lt LeaveType
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `SELECT id, code, name, paid, requires_approval, unit, created_at, updated_at FROM leave_types WHERE id = $1`
		return r.db.GetContext(ctx, &lt, query, id)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("leave_type")
	}
	if err != nil {
		return nil, err
	}
	return &lt, nil
}

// ListLeaveTypes lists all leave types. TENANT-ISOLATED.
func (r *LeaveRepository) ListLeaveTypes(ctx context.Context) ([]*LeaveType, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var types []*LeaveType
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `SELECT id, code, name, paid, requires_approval, unit, created_at, updated_at FROM leave_types ORDER BY name`
		return r.db.SelectContext(ctx, &types, query)
	})
	if err != nil {
		return nil, err
	}
	return types, nil
}

// CreateAccrualPolicy creates an accrual policy. TENANT-ISOLATED.
func (r *LeaveRepository) CreateAccrualPolicy(ctx context.Context, p *AccrualPolicy) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Frequency == "" {
		p.Frequency = "monthly"
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO accrual_policies (
				id, tenant_id, leave_type_id, name, method, frequency, amount_per_period,
				annual_cap, carry_forward_cap, carry_forward_expiry_months, tiers, rule_expression
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING created_at, updated_at
		`
		err := r.db.QueryRowxContext(ctx, query,
			p.ID, tenantID, p.LeaveTypeID, p.Name, p.Method, p.Frequency, p.AmountPerPeriod,
			p.AnnualCap, p.CarryForwardCap, p.CarryForwardExpiryMonths, p.Tiers, p.RuleExpression,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}
		return nil
	})
}

// GetAccrualPolicyByLeaveType gets the accrual policy for a leave type, if
// one exists. TENANT-ISOLATED.
func (r *LeaveRepository) GetAccrualPolicyByLeaveType(ctx context.Context, leaveTypeID string) (*AccrualPolicy, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var p AccrualPolicy
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, leave_type_id, name, method, frequency, amount_per_period, annual_cap,
			       carry_forward_cap, carry_forward_expiry_months, tiers, rule_expression, created_at, updated_at
			FROM accrual_policies WHERE leave_type_id = $1
		`
		return r.db.GetContext(ctx, &p, query, leaveTypeID)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListAccrualPolicies lists every accrual policy in the tenant, the set the
// scheduled accrual job iterates over each run. TENANT-ISOLATED.
func (r *LeaveRepository) ListAccrualPolicies(ctx context.Context) ([]*AccrualPolicy, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var policies []*AccrualPolicy
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, leave_type_id, name, method, frequency, amount_per_period, annual_cap,
			       carry_forward_cap, carry_forward_expiry_months, tiers, rule_expression, created_at, updated_at
			FROM accrual_policies
		`
		return r.db.SelectContext(ctx, &policies, query)
	})
	if err != nil {
		return nil, err
	}
	return policies, nil
}

// GetOrCreateBalance fetches an employee's balance for a leave type/year,
// creating a zeroed row if none exists yet. TENANT-ISOLATED.
func (r *LeaveRepository) GetOrCreateBalance(ctx context.Context, employeeID, leaveTypeID string, year int) (*LeaveBalance, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var balance LeaveBalance
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, employee_id, leave_type_id, year, allocated, used, pending, carried_over, created_at, updated_at
			FROM leave_balances WHERE employee_id = $1 AND leave_type_id = $2 AND year = $3
		`
		err := r.db.GetContext(ctx, &balance, query, employeeID, leaveTypeID, year)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return err
		}

		balance = LeaveBalance{
			ID:          uuid.New().String(),
			EmployeeID:  employeeID,
			LeaveTypeID: leaveTypeID,
			Year:        year,
			Allocated:   decimal.Zero,
			Used:        decimal.Zero,
			Pending:     decimal.Zero,
			CarriedOver: decimal.Zero,
		}
		insert := `
			INSERT INTO leave_balances (id, tenant_id, employee_id, leave_type_id, year, allocated, used, pending, carried_over)
			VALUES ($1, $2, $3, $4, $5, 0, 0, 0, 0)
			ON CONFLICT (tenant_id, employee_id, leave_type_id, year) DO UPDATE SET employee_id = EXCLUDED.employee_id
			RETURNING id, allocated, used, pending, carried_over, created_at, updated_at
		`
		return r.db.QueryRowxContext(ctx, insert, balance.ID, tenantID, employeeID, leaveTypeID, year).
			Scan(&balance.ID, &balance.Allocated, &balance.Used, &balance.Pending, &balance.CarriedOver, &balance.CreatedAt, &balance.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// GetBalance gets an employee's balance for a leave type/year if it exists.
// TENANT-ISOLATED.
func (r *LeaveRepository) GetBalance(ctx context.Context, employeeID, leaveTypeID string, year int) (*LeaveBalance, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var balance LeaveBalance
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, employee_id, leave_type_id, year, allocated, used, pending, carried_over, created_at, updated_at
			FROM leave_balances WHERE employee_id = $1 AND leave_type_id = $2 AND year = $3
		`
		return r.db.GetContext(ctx, &balance, query, employeeID, leaveTypeID, year)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// ListBalances lists every balance an employee holds for a year.
// TENANT-ISOLATED.
func (r *LeaveRepository) ListBalances(ctx context.Context, employeeID string, year int) ([]*LeaveBalance, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var balances []*LeaveBalance
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, employee_id, leave_type_id, year, allocated, used, pending, carried_over, created_at, updated_at
			FROM leave_balances WHERE employee_id = $1 AND year = $2
		`
		return r.db.SelectContext(ctx, &balances, query, employeeID, year)
	})
	if err != nil {
		return nil, err
	}
	return balances, nil
}

// ApplyTransaction adjusts a balance's allocated/used/pending/carried_over
// columns by delta and records the ledger entry, both inside the caller's
// ambient transaction. kind determines which column delta applies to:
// accrual/manual_adjustment add to allocated, carry_forward adds to
// carried_over, expiry subtracts from carried_over, reservation adds to
// pending, release subtracts from pending, and "use" (decision settlement)
// moves days from pending to used.
func (r *LeaveRepository) ApplyTransaction(ctx context.Context, balanceID string, kind string, days decimal.Decimal, effectiveDate time.Time, note *string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		var column string
		switch kind {
		case "accrual", "manual_adjustment":
			column = "allocated"
		case "carry_forward":
			column = "carried_over"
		case "expiry":
			column = "carried_over"
			days = days.Neg()
		case "reservation":
			column = "pending"
		case "release":
			column = "pending"
			days = days.Neg()
		case "use":
			query := `UPDATE leave_balances SET pending = pending - $2, used = used + $2, updated_at = NOW() WHERE id = $1`
			if _, err := r.db.ExecContext(ctx, query, balanceID, days); err != nil {
				if appErr := database.MapPQError(err); appErr != nil {
					return appErr
				}
				return err
			}
			column = ""
		default:
			return errors.Internal("unknown accrual transaction kind: " + kind)
		}

		if column != "" {
			query := `UPDATE leave_balances SET ` + column + ` = ` + column + ` + $2, updated_at = NOW() WHERE id = $1`
			if _, err := r.db.ExecContext(ctx, query, balanceID, days); err != nil {
				if appErr := database.MapPQError(err); appErr != nil {
					return appErr
				}
				return err
			}
		}

		ledgerKind := kind
		if kind == "use" {
			ledgerKind = "manual_adjustment"
		}
		insert := `
			INSERT INTO accrual_transactions (id, tenant_id, leave_balance_id, kind, days, effective_date, note)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		_, err := r.db.ExecContext(ctx, insert, uuid.New().String(), tenantID, balanceID, ledgerKind, days.Abs(), effectiveDate, note)
		return err
	})
}

// CreateLeaveRequest creates a leave request. TENANT-ISOLATED.
func (r *LeaveRepository) CreateLeaveRequest(ctx context.Context, req *LeaveRequest) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Status == "" {
		req.Status = "pending"
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO leave_requests (
				id, tenant_id, employee_id, leave_type_id, from_date, to_date, half_day, days, status, reason
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING submitted_at, created_at, updated_at
		`
		err := r.db.QueryRowxContext(ctx, query,
			req.ID, tenantID, req.EmployeeID, req.LeaveTypeID, req.FromDate, req.ToDate,
			req.HalfDay, req.Days, req.Status, req.Reason,
		).Scan(&req.SubmittedAt, &req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}
		return nil
	})
}

// GetLeaveRequest gets a leave request by ID. TENANT-ISOLATED.
func (r *LeaveRepository) GetLeaveRequest(ctx context.Context, id string) (*LeaveRequest, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var req LeaveRequest
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, employee_id, leave_type_id, from_date, to_date, half_day, days, status, reason,
			       workflow_instance_id, submitted_at, decided_by, decided_at, decision_note, created_at, updated_at
			FROM leave_requests WHERE id = $1
		`
		return r.db.GetContext(ctx, &req, query, id)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("leave_request")
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListLeaveRequests lists an employee's leave requests, most recent first.
// TENANT-ISOLATED.
func (r *LeaveRepository) ListLeaveRequests(ctx context.Context, employeeID string) ([]*LeaveRequest, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var requests []*LeaveRequest
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, employee_id, leave_type_id, from_date, to_date, half_day, days, status, reason,
			       workflow_instance_id, submitted_at, decided_by, decided_at, decision_note, created_at, updated_at
			FROM leave_requests WHERE employee_id = $1 ORDER BY from_date DESC
		`
		return r.db.SelectContext(ctx, &requests, query, employeeID)
	})
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// FindOverlapping returns the employee's pending or approved requests that
// overlap [from, to], used to reject a new submission that double-books a
// date range already spoken for.
func (r *LeaveRepository) FindOverlapping(ctx context.Context, employeeID string, from, to time.Time) ([]*LeaveRequest, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var requests []*LeaveRequest
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, employee_id, leave_type_id, from_date, to_date, half_day, days, status, reason,
			       workflow_instance_id, submitted_at, decided_by, decided_at, decision_note, created_at, updated_at
			FROM leave_requests
			WHERE employee_id = $1 AND status IN ('pending', 'approved')
			  AND from_date <= $3 AND to_date >= $2
		`
		return r.db.SelectContext(ctx, &requests, query, employeeID, from, to)
	})
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// UpdateLeaveRequestStatus transitions a leave request's status and records
// the decision. TENANT-ISOLATED.
func (r *LeaveRepository) UpdateLeaveRequestStatus(ctx context.Context, id, status, decidedBy string, note *string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			UPDATE leave_requests
			SET status = $2, decided_by = $3, decided_at = NOW(), decision_note = $4, updated_at = NOW()
			WHERE id = $1
		`
		result, err := r.db.ExecContext(ctx, query, id, status, decidedBy, note)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFoundWithKey("leave_request")
		}
		return nil
	})
}

// SetWorkflowInstance attaches the workflow instance driving a leave
// request's approval. TENANT-ISOLATED.
func (r *LeaveRepository) SetWorkflowInstance(ctx context.Context, id, instanceID string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `UPDATE leave_requests SET workflow_instance_id = $2, updated_at = NOW() WHERE id = $1`, id, instanceID)
		return err
	})
}

// ListHolidays returns the holidays in a calendar within [from, to],
// inclusive, used to exclude public holidays from a working-day count.
func (r *LeaveRepository) ListHolidays(ctx context.Context, calendarID string, from, to time.Time) ([]*Holiday, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var holidays []*Holiday
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, calendar_id, observed_on, name FROM holidays
			WHERE calendar_id = $1 AND observed_on BETWEEN $2 AND $3
			ORDER BY observed_on
		`
		return r.db.SelectContext(ctx, &holidays, query, calendarID, from, to)
	})
	if err != nil {
		return nil, err
	}
	return holidays, nil
}

// CreateHolidayCalendar creates a holiday calendar. TENANT-ISOLATED.
func (r *LeaveRepository) CreateHolidayCalendar(ctx context.Context, c *HolidayCalendar) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `INSERT INTO holiday_calendars (id, tenant_id, name, country) VALUES ($1, $2, $3, $4) RETURNING created_at`
		err := r.db.QueryRowxContext(ctx, query, c.ID, tenantID, c.Name, c.Country).Scan(&c.CreatedAt)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}
		return nil
	})
}

// AddHoliday adds a holiday to a calendar. TENANT-ISOLATED.
func (r *LeaveRepository) AddHoliday(ctx context.Context, h *Holiday) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	if h.ID == "" {
		h.ID = uuid.New().String()
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `INSERT INTO holidays (id, tenant_id, calendar_id, observed_on, name) VALUES ($1, $2, $3, $4, $5)`
		_, err := r.db.ExecContext(ctx, query, h.ID, tenantID, h.CalendarID, h.ObservedOn, h.Name)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}
		return nil
	})
}
