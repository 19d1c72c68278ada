package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/hrcore/hrcore/pkg/database"
	"github.com/hrcore/hrcore/pkg/errors"
	"github.com/hrcore/hrcore/pkg/tenant"
)

// Record is one employee's attendance for a single work date: a check-in,
// an optional check-out, its breaks, and the hours/lateness figures derived
// from them. There is at most one record per (employee, work_date) — a
// second check-in on the same day is rejected rather than inserting another
// row.
type Record struct {
	ID                    string     `db:"id" json:"id"`
	EmployeeID            string     `db:"employee_id" json:"employee_id"`
	WorkDate              time.Time  `db:"work_date" json:"work_date"`
	CheckIn               *time.Time `db:"check_in" json:"check_in,omitempty"`
	CheckOut              *time.Time `db:"check_out" json:"check_out,omitempty"`
	ScheduledHours        float64    `db:"scheduled_hours" json:"scheduled_hours"`
	WorkedHours           float64    `db:"worked_hours" json:"worked_hours"`
	BreakMinutes          int        `db:"break_minutes" json:"break_minutes"`
	OvertimeHours         float64    `db:"overtime_hours" json:"overtime_hours"`
	LateMinutes           int        `db:"late_minutes" json:"late_minutes"`
	EarlyDepartureMinutes int        `db:"early_departure_minutes" json:"early_departure_minutes"`
	Status                string     `db:"status" json:"status"` // open, closed, corrected
	Source                string     `db:"source" json:"source"` // clock, manual, regularization
	Notes                 *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// Break is a single break interval within an attendance record.
type Break struct {
	ID                  string     `db:"id" json:"id"`
	AttendanceRecordID  string     `db:"attendance_record_id" json:"attendance_record_id"`
	StartedAt           time.Time  `db:"started_at" json:"started_at"`
	EndedAt             *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
}

// RegularizationRequest asks for an attendance record's check-in/check-out
// to be amended after the fact, routed through the workflow engine for
// approval before the underlying record is corrected.
type RegularizationRequest struct {
	ID                 string     `db:"id" json:"id"`
	AttendanceRecordID string     `db:"attendance_record_id" json:"attendance_record_id"`
	EmployeeID         string     `db:"employee_id" json:"employee_id"`
	RequestedCheckIn   *time.Time `db:"requested_check_in" json:"requested_check_in,omitempty"`
	RequestedCheckOut  *time.Time `db:"requested_check_out" json:"requested_check_out,omitempty"`
	Reason             string     `db:"reason" json:"reason"`
	Status             string     `db:"status" json:"status"` // pending, approved, rejected
	WorkflowInstanceID *string    `db:"workflow_instance_id" json:"workflow_instance_id,omitempty"`
	DecidedBy          *string    `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt          *time.Time `db:"decided_at" json:"decided_at,omitempty"`
	DecisionNote       *string    `db:"decision_note" json:"decision_note,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// AttendanceRepository handles attendance record, break and regularization
// persistence.
type AttendanceRepository struct {
	db *database.DB
}

// NewAttendanceRepository creates a new attendance repository.
func NewAttendanceRepository(db *database.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// CreateRecord inserts a new attendance record, normally from a check-in.
func (r *AttendanceRepository) CreateRecord(ctx context.Context, rec *Record) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = "open"
	}
	if rec.Source == "" {
		rec.Source = "clock"
	}
	if rec.ScheduledHours == 0 {
		rec.ScheduledHours = 8
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO attendance_records (
				id, tenant_id, employee_id, work_date, check_in, check_out,
				scheduled_hours, worked_hours, break_minutes, overtime_hours,
				late_minutes, early_departure_minutes, status, source, notes
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			RETURNING created_at, updated_at
		`
		err := r.db.QueryRowxContext(ctx, query,
			rec.ID, tenantID, rec.EmployeeID, rec.WorkDate, rec.CheckIn, rec.CheckOut,
			rec.ScheduledHours, rec.WorkedHours, rec.BreakMinutes, rec.OvertimeHours,
			rec.LateMinutes, rec.EarlyDepartureMinutes, rec.Status, rec.Source, rec.Notes,
		).Scan(&rec.CreatedAt, &rec.UpdatedAt)
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	})
}

// GetByID gets an attendance record by ID.
func (r *AttendanceRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var rec Record
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, employee_id, work_date, check_in, check_out, scheduled_hours,
			       worked_hours, break_minutes, overtime_hours, late_minutes,
			       early_departure_minutes, status, source, notes, created_at, updated_at
			FROM attendance_records WHERE id = $1
		`
		return r.db.GetContext(ctx, &rec, query, id)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("attendance_record")
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetOpenByEmployeeAndDate returns the open (not checked-out) attendance
// record for an employee on a date, or nil if there isn't one.
func (r *AttendanceRepository) GetOpenByEmployeeAndDate(ctx context.Context, employeeID string, workDate time.Time) (*Record, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var rec Record
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, employee_id, work_date, check_in, check_out, scheduled_hours,
			       worked_hours, break_minutes, overtime_hours, late_minutes,
			       early_departure_minutes, status, source, notes, created_at, updated_at
			FROM attendance_records
			WHERE employee_id = $1 AND work_date = $2 AND status = 'open'
		`
		return r.db.GetContext(ctx, &rec, query, employeeID, workDate)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByEmployeeAndDate returns any attendance record (open or closed) for an
// employee on a date, used to enforce the one-record-per-day uniqueness.
func (r *AttendanceRepository) GetByEmployeeAndDate(ctx context.Context, employeeID string, workDate time.Time) (*Record, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var rec Record
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, employee_id, work_date, check_in, check_out, scheduled_hours,
			       worked_hours, break_minutes, overtime_hours, late_minutes,
			       early_departure_minutes, status, source, notes, created_at, updated_at
			FROM attendance_records
			WHERE employee_id = $1 AND work_date = $2
		`
		return r.db.GetContext(ctx, &rec, query, employeeID, workDate)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateRecord persists the mutable fields of a record: check-out and the
// derived hours/lateness figures, the record's status, and its notes.
func (r *AttendanceRepository) UpdateRecord(ctx context.Context, rec *Record) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			UPDATE attendance_records SET
				check_in = $2, check_out = $3, worked_hours = $4, break_minutes = $5,
				overtime_hours = $6, late_minutes = $7, early_departure_minutes = $8,
				status = $9, source = $10, notes = $11, updated_at = NOW()
			WHERE id = $1
		`
		result, err := r.db.ExecContext(ctx, query,
			rec.ID, rec.CheckIn, rec.CheckOut, rec.WorkedHours, rec.BreakMinutes,
			rec.OvertimeHours, rec.LateMinutes, rec.EarlyDepartureMinutes,
			rec.Status, rec.Source, rec.Notes,
		)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFoundWithKey("attendance_record")
		}
		return nil
	})
}

// ListForEmployee lists an employee's attendance records in a date range.
func (r *AttendanceRepository) ListForEmployee(ctx context.Context, employeeID string, from, to time.Time) ([]*Record, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var records []*Record
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, employee_id, work_date, check_in, check_out, scheduled_hours,
			       worked_hours, break_minutes, overtime_hours, late_minutes,
			       early_departure_minutes, status, source, notes, created_at, updated_at
			FROM attendance_records
			WHERE employee_id = $1 AND work_date BETWEEN $2 AND $3
			ORDER BY work_date
		`
		return r.db.SelectContext(ctx, &records, query, employeeID, from, to)
	})
	return records, err
}

// CreateBreak opens a new break within an attendance record.
func (r *AttendanceRepository) CreateBreak(ctx context.Context, brk *Break) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	if brk.ID == "" {
		brk.ID = uuid.New().String()
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO attendance_breaks (id, tenant_id, attendance_record_id, started_at, ended_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`
		return r.db.QueryRowxContext(ctx, query, brk.ID, tenantID, brk.AttendanceRecordID, brk.StartedAt, brk.EndedAt).
			Scan(&brk.CreatedAt)
	})
}

// GetOpenBreak returns the not-yet-ended break for a record, or nil.
func (r *AttendanceRepository) GetOpenBreak(ctx context.Context, attendanceRecordID string) (*Break, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var brk Break
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, attendance_record_id, started_at, ended_at, created_at
			FROM attendance_breaks
			WHERE attendance_record_id = $1 AND ended_at IS NULL
			ORDER BY started_at DESC LIMIT 1
		`
		return r.db.GetContext(ctx, &brk, query, attendanceRecordID)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &brk, nil
}

// EndBreak closes a break.
func (r *AttendanceRepository) EndBreak(ctx context.Context, id string, endedAt time.Time) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		result, err := r.db.ExecContext(ctx, `UPDATE attendance_breaks SET ended_at = $2 WHERE id = $1`, id, endedAt)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFoundWithKey("attendance_break")
		}
		return nil
	})
}

// ListBreaks returns every break recorded against an attendance record.
func (r *AttendanceRepository) ListBreaks(ctx context.Context, attendanceRecordID string) ([]*Break, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var breaks []*Break
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, attendance_record_id, started_at, ended_at, created_at
			FROM attendance_breaks WHERE attendance_record_id = $1 ORDER BY started_at
		`
		return r.db.SelectContext(ctx, &breaks, query, attendanceRecordID)
	})
	return breaks, err
}

// CreateRegularization files a new regularization request.
func (r *AttendanceRepository) CreateRegularization(ctx context.Context, req *RegularizationRequest) error {
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
			INSERT INTO regularization_requests (
				id, tenant_id, attendance_record_id, employee_id, requested_check_in,
				requested_check_out, reason, status, workflow_instance_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at, updated_at
		`
		err := r.db.QueryRowxContext(ctx, query,
			req.ID, tenantID, req.AttendanceRecordID, req.EmployeeID, req.RequestedCheckIn,
			req.RequestedCheckOut, req.Reason, req.Status, req.WorkflowInstanceID,
		).Scan(&req.CreatedAt, &req.UpdatedAt)
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	})
}

// GetRegularization gets a regularization request by ID.
func (r *AttendanceRepository) GetRegularization(ctx context.Context, id string) (*RegularizationRequest, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var req RegularizationRequest
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, attendance_record_id, employee_id, requested_check_in, requested_check_out,
			       reason, status, workflow_instance_id, decided_by, decided_at, decision_note,
			       created_at, updated_at
			FROM regularization_requests WHERE id = $1
		`
		return r.db.GetContext(ctx, &req, query, id)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("regularization_request")
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// SetRegularizationWorkflow attaches the workflow instance driving a
// regularization's approval.
func (r *AttendanceRepository) SetRegularizationWorkflow(ctx context.Context, id, workflowInstanceID string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx,
			`UPDATE regularization_requests SET workflow_instance_id = $2, updated_at = NOW() WHERE id = $1`,
			id, workflowInstanceID)
		return err
	})
}

// DecideRegularization records the approval/rejection decision on a
// regularization request.
func (r *AttendanceRepository) DecideRegularization(ctx context.Context, id, status, decidedBy string, decidedAt time.Time, note *string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			UPDATE regularization_requests
			SET status = $2, decided_by = $3, decided_at = $4, decision_note = $5, updated_at = NOW()
			WHERE id = $1
		`
		result, err := r.db.ExecContext(ctx, query, id, status, decidedBy, decidedAt, note)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFoundWithKey("regularization_request")
		}
		return nil
	})
}

// ListRegularizations lists regularization requests filed against an
// attendance record.
func (r *AttendanceRepository) ListRegularizations(ctx context.Context, attendanceRecordID string) ([]*RegularizationRequest, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var requests []*RegularizationRequest
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, attendance_record_id, employee_id, requested_check_in, requested_check_out,
			       reason, status, workflow_instance_id, decided_by, decided_at, decision_note,
			       created_at, updated_at
			FROM regularization_requests WHERE attendance_record_id = $1 ORDER BY created_at DESC
		`
		return r.db.SelectContext(ctx, &requests, query, attendanceRecordID)
	})
	return requests, err
}
