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

// Employee is an organization-scoped person record. It is the anchor every
// other module (leave, attendance, payroll, workflow) hangs its per-person
// state off of via employee_id.
type Employee struct {
	ID             string  `db:"id" json:"id"`
	EmployeeCode   *string `db:"employee_code" json:"employee_code,omitempty"`
	ManagerID      *string `db:"manager_id" json:"manager_id,omitempty"`

	FirstName string  `db:"first_name" json:"first_name"`
	LastName  string  `db:"last_name" json:"last_name"`
	Email     string  `db:"email" json:"email"`
	Phone     *string `db:"phone" json:"phone,omitempty"`

	JobTitle       *string    `db:"job_title" json:"job_title,omitempty"`
	Department     *string    `db:"department" json:"department,omitempty"`
	Location       *string    `db:"location" json:"location,omitempty"`
	EmploymentType string     `db:"employment_type" json:"employment_type"` // full_time, part_time, contractor, intern, temporary
	HireDate       time.Time  `db:"hire_date" json:"hire_date"`
	TerminationDate *time.Time `db:"termination_date" json:"termination_date,omitempty"`

	WeeklyHours float64 `db:"weekly_hours" json:"weekly_hours"`

	Status string `db:"status" json:"status"` // active, on_leave, probation, notice, terminated, resigned

	Notes     *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
	CreatedBy *string    `db:"created_by" json:"created_by,omitempty"`
	UpdatedBy *string    `db:"updated_by" json:"updated_by,omitempty"`
}

// WeeklySchedule names the weekdays an employee is expected to work. A nil
// WorkingWeekdays means the organization default (Mon-Fri) applies. The leave
// module's working-day count does not read it; it treats Saturday and Sunday
// as the weekend for every employee.
type WeeklySchedule struct {
	EmployeeID     string `db:"employee_id" json:"employee_id"`
	WorkingWeekdays []time.Weekday `json:"working_weekdays"`
}

// EmployeeAddress is an employee's home/mailing address.
type EmployeeAddress struct {
	ID           string    `db:"id" json:"id"`
	EmployeeID   string    `db:"employee_id" json:"employee_id"`
	AddressType  string    `db:"address_type" json:"address_type"` // home, mailing
	Street       string    `db:"street" json:"street"`
	HouseNumber  *string   `db:"house_number" json:"house_number,omitempty"`
	AddressLine2 *string   `db:"address_line2" json:"address_line2,omitempty"`
	PostalCode   string    `db:"postal_code" json:"postal_code"`
	City         string    `db:"city" json:"city"`
	State        *string   `db:"state" json:"state,omitempty"`
	Country      string    `db:"country" json:"country"`
	IsPrimary    bool      `db:"is_primary" json:"is_primary"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// EmployeeContact is an emergency contact for an employee.
type EmployeeContact struct {
	ID           string    `db:"id" json:"id"`
	EmployeeID   string    `db:"employee_id" json:"employee_id"`
	Name         string    `db:"name" json:"name"`
	Relationship *string   `db:"relationship" json:"relationship,omitempty"`
	Phone        string    `db:"phone" json:"phone"`
	Email        *string   `db:"email" json:"email,omitempty"`
	IsPrimary    bool      `db:"is_primary" json:"is_primary"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// EmployeeRepository handles employee persistence.
type EmployeeRepository struct {
	db *database.DB
}

// NewEmployeeRepository creates a new employee repository.
func NewEmployeeRepository(db *database.DB) *EmployeeRepository {
	return &EmployeeRepository{db: db}
}

// Create creates a new employee. TENANT-ISOLATED.
func (r *EmployeeRepository) Create(ctx context.Context, emp *Employee) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if emp.ID == "" {
		emp.ID = uuid.New().String()
	}
	if emp.EmploymentType == "" {
		emp.EmploymentType = "full_time"
	}
	if emp.Status == "" {
		emp.Status = "active"
	}
	if emp.WeeklyHours == 0 {
		emp.WeeklyHours = 40
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO employees (
				id, tenant_id, employee_code, manager_id, first_name, last_name, email, phone,
				job_title, department, location, employment_type, hire_date, termination_date,
				weekly_hours, status, notes, created_by
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
			) RETURNING created_at, updated_at
		`

		err := r.db.QueryRowxContext(ctx, query,
			emp.ID, tenantID, emp.EmployeeCode, emp.ManagerID, emp.FirstName, emp.LastName, emp.Email, emp.Phone,
			emp.JobTitle, emp.Department, emp.Location, emp.EmploymentType, emp.HireDate, emp.TerminationDate,
			emp.WeeklyHours, emp.Status, emp.Notes, emp.CreatedBy,
		).Scan(&emp.CreatedAt, &emp.UpdatedAt)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}
		return nil
	})
}

// GetByID gets an employee by ID. TENANT-ISOLATED.
func (r *EmployeeRepository) GetByID(ctx context.Context, id string) (*Employee, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var emp Employee
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, employee_code, manager_id, first_name, last_name, email, phone,
			       job_title, department, location, employment_type, hire_date, termination_date,
			       weekly_hours, status, notes, created_by, updated_by, created_at, updated_at
			FROM employees WHERE id = $1 AND deleted_at IS NULL
		`
		return r.db.GetContext(ctx, &emp, query, id)
	})

	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("employee")
	}
	if err != nil {
		return nil, err
	}
	return &emp, nil
}

// GetDirectReports returns the employees who report to managerID.
func (r *EmployeeRepository) GetDirectReports(ctx context.Context, managerID string) ([]*Employee, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var employees []*Employee
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, employee_code, manager_id, first_name, last_name, email, phone,
			       job_title, department, location, employment_type, hire_date, termination_date,
			       weekly_hours, status, notes, created_by, updated_by, created_at, updated_at
			FROM employees WHERE manager_id = $1 AND deleted_at IS NULL
			ORDER BY last_name, first_name
		`
		return r.db.SelectContext(ctx, &employees, query, managerID)
	})
	if err != nil {
		return nil, err
	}
	return employees, nil
}

// List lists employees with pagination. TENANT-ISOLATED.
func (r *EmployeeRepository) List(ctx context.Context, page, perPage int) ([]*Employee, int64, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	var employees []*Employee

	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM employees WHERE deleted_at IS NULL`); err != nil {
			return err
		}

		offset := (page - 1) * perPage
		query := `
			SELECT id, employee_code, manager_id, first_name, last_name, email, phone,
			       job_title, department, location, employment_type, hire_date, termination_date,
			       weekly_hours, status, notes, created_by, updated_by, created_at, updated_at
			FROM employees
			WHERE deleted_at IS NULL
			ORDER BY last_name, first_name
			LIMIT $1 OFFSET $2
		`
		return r.db.SelectContext(ctx, &employees, query, perPage, offset)
	})
	if err != nil {
		return nil, 0, err
	}
	return employees, total, nil
}

// ListActive returns every non-deleted employee whose status is exactly
// "active" (on_leave, probation and notice are excluded), unpaginated. Meant for
// background batch jobs (accrual, payroll aggregation) that need the full
// roster rather than a page of it.
func (r *EmployeeRepository) ListActive(ctx context.Context) ([]*Employee, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var employees []*Employee
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, employee_code, manager_id, first_name, last_name, email, phone,
			       job_title, department, location, employment_type, hire_date, termination_date,
			       weekly_hours, status, notes, created_by, updated_by, created_at, updated_at
			FROM employees
			WHERE deleted_at IS NULL AND status = 'active'
			ORDER BY last_name, first_name
		`
		return r.db.SelectContext(ctx, &employees, query)
	})
	return employees, err
}

// Update updates an employee. TENANT-ISOLATED.
func (r *EmployeeRepository) Update(ctx context.Context, emp *Employee) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			UPDATE employees SET
				employee_code = $2, manager_id = $3, first_name = $4, last_name = $5, email = $6, phone = $7,
				job_title = $8, department = $9, location = $10, employment_type = $11, hire_date = $12,
				termination_date = $13, weekly_hours = $14, status = $15, notes = $16, updated_by = $17,
				updated_at = NOW()
			WHERE id = $1 AND deleted_at IS NULL
		`

		result, err := r.db.ExecContext(ctx, query,
			emp.ID, emp.EmployeeCode, emp.ManagerID, emp.FirstName, emp.LastName, emp.Email, emp.Phone,
			emp.JobTitle, emp.Department, emp.Location, emp.EmploymentType, emp.HireDate,
			emp.TerminationDate, emp.WeeklyHours, emp.Status, emp.Notes, emp.UpdatedBy,
		)
		if err != nil {
			if appErr := database.MapPQError(err); appErr != nil {
				return appErr
			}
			return err
		}

		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFoundWithKey("employee")
		}
		return nil
	})
}

// SoftDelete soft deletes an employee. TENANT-ISOLATED.
func (r *EmployeeRepository) SoftDelete(ctx context.Context, id string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		result, err := r.db.ExecContext(ctx, `UPDATE employees SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFoundWithKey("employee")
		}
		return nil
	})
}

// GetAddress gets an employee's primary address. TENANT-ISOLATED.
func (r *EmployeeRepository) GetAddress(ctx context.Context, employeeID string) (*EmployeeAddress, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var addr EmployeeAddress
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, employee_id, address_type, street, house_number, address_line2,
			       postal_code, city, state, country, is_primary, created_at, updated_at
			FROM employee_addresses WHERE employee_id = $1 AND is_primary = true LIMIT 1
		`
		return r.db.GetContext(ctx, &addr, query, employeeID)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// SaveAddress saves an employee's address. TENANT-ISOLATED.
func (r *EmployeeRepository) SaveAddress(ctx context.Context, addr *EmployeeAddress) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if addr.ID == "" {
		addr.ID = uuid.New().String()
	}
	if addr.AddressType == "" {
		addr.AddressType = "home"
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO employee_addresses (id, tenant_id, employee_id, address_type, street, house_number, address_line2, postal_code, city, state, country, is_primary)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id)
			DO UPDATE SET address_type = $4, street = $5, house_number = $6, address_line2 = $7, postal_code = $8, city = $9, state = $10, country = $11, updated_at = NOW()
		`
		_, err := r.db.ExecContext(ctx, query,
			addr.ID, tenantID, addr.EmployeeID, addr.AddressType, addr.Street, addr.HouseNumber,
			addr.AddressLine2, addr.PostalCode, addr.City, addr.State, addr.Country, addr.IsPrimary,
		)
		return err
	})
}

// GetContact gets an employee's emergency contact. TENANT-ISOLATED.
func (r *EmployeeRepository) GetContact(ctx context.Context, employeeID string) (*EmployeeContact, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var contact EmployeeContact
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, employee_id, name, relationship, phone, email, is_primary, created_at, updated_at
			FROM employee_contacts WHERE employee_id = $1 AND is_primary = true LIMIT 1
		`
		return r.db.GetContext(ctx, &contact, query, employeeID)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// SaveContact saves an employee's emergency contact. TENANT-ISOLATED.
func (r *EmployeeRepository) SaveContact(ctx context.Context, contact *EmployeeContact) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO employee_contacts (id, tenant_id, employee_id, name, relationship, phone, email, is_primary)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id)
			DO UPDATE SET name = $4, relationship = $5, phone = $6, email = $7, updated_at = NOW()
		`
		_, err := r.db.ExecContext(ctx, query,
			contact.ID, tenantID, contact.EmployeeID, contact.Name, contact.Relationship,
			contact.Phone, contact.Email, contact.IsPrimary,
		)
		return err
	})
}

// IsAncestor reports whether candidateID appears anywhere above employeeID in
// the manager chain — used to reject a manager assignment that would create
// a cycle in the reporting hierarchy.
func (r *EmployeeRepository) IsAncestor(ctx context.Context, employeeID, candidateID string) (bool, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return false, err
	}

	var isAncestor bool
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			WITH RECURSIVE chain AS (
				SELECT id, manager_id FROM employees WHERE id = $1
				UNION ALL
				SELECT e.id, e.manager_id
				FROM employees e
				JOIN chain c ON e.id = c.manager_id
			)
			SELECT EXISTS (SELECT 1 FROM chain WHERE id = $2)
		`
		return r.db.GetContext(ctx, &isAncestor, query, employeeID, candidateID)
	})
	if err != nil {
		return false, err
	}
	return isAncestor, nil
}
