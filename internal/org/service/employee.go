package service

import (
	"context"

	"github.com/hrcore/hrcore/internal/org/repository"
	"github.com/hrcore/hrcore/internal/outbox"
	"github.com/hrcore/hrcore/pkg/database"
	"github.com/hrcore/hrcore/pkg/errors"
	"github.com/hrcore/hrcore/pkg/logger"
	"github.com/hrcore/hrcore/pkg/messaging"
	"github.com/hrcore/hrcore/pkg/tenant"
)

// EmployeeService handles employee business logic: directory CRUD, manager
// hierarchy integrity, and event emission. Every mutation is written inside
// a single database.WithTenantRLS transaction together with its outbox
// entry, so the event is never lost even if the publisher is down.
type EmployeeService struct {
	db           *database.DB
	employeeRepo *repository.EmployeeRepository
	outboxRepo   *outbox.Repository
	logger       *logger.Logger
}

// NewEmployeeService creates a new employee service.
func NewEmployeeService(db *database.DB, employeeRepo *repository.EmployeeRepository, outboxRepo *outbox.Repository, log *logger.Logger) *EmployeeService {
	return &EmployeeService{
		db:           db,
		employeeRepo: employeeRepo,
		outboxRepo:   outboxRepo,
		logger:       log,
	}
}

// Create creates a new employee and, if a manager was assigned, validates
// the hierarchy stays acyclic before committing.
func (s *EmployeeService) Create(ctx context.Context, emp *repository.Employee) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		if err := s.employeeRepo.Create(ctx, emp); err != nil {
			return err
		}

		if emp.ManagerID != nil {
			if *emp.ManagerID == emp.ID {
				return errors.Validation(map[string]string{"manager_id": "an employee cannot be their own manager"})
			}
		}

		if err := s.outboxRepo.Enqueue(ctx, "employee", emp.ID, messaging.ExchangeOrgEvents,
			messaging.EventEmployeeCreated, messaging.EmployeeCreatedEvent{
				EmployeeID: emp.ID, Email: emp.Email, FirstName: emp.FirstName, LastName: emp.LastName,
				Department: emp.Department, ManagerID: emp.ManagerID,
			}, emp.ID, 0); err != nil {
			return err
		}

		s.logger.Info().Str("employee_id", emp.ID).Str("email", emp.Email).Msg("employee created")
		return nil
	})
}

// GetByID gets an employee by ID.
func (s *EmployeeService) GetByID(ctx context.Context, id string) (*repository.Employee, error) {
	return s.employeeRepo.GetByID(ctx, id)
}

// List lists employees with pagination.
func (s *EmployeeService) List(ctx context.Context, page, perPage int) ([]*repository.Employee, int64, error) {
	return s.employeeRepo.List(ctx, page, perPage)
}

// GetDirectReports lists the employees who report to managerID.
func (s *EmployeeService) GetDirectReports(ctx context.Context, managerID string) ([]*repository.Employee, error) {
	return s.employeeRepo.GetDirectReports(ctx, managerID)
}

// Update updates an employee's directory fields. If the manager assignment
// changed, SetManager must be used instead so the cycle check runs.
func (s *EmployeeService) Update(ctx context.Context, emp *repository.Employee) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		if err := s.employeeRepo.Update(ctx, emp); err != nil {
			return err
		}

		if err := s.outboxRepo.Enqueue(ctx, "employee", emp.ID, messaging.ExchangeOrgEvents,
			messaging.EventEmployeeUpdated, messaging.EmployeeUpdatedEvent{EmployeeID: emp.ID}, emp.ID, 0); err != nil {
			return err
		}

		return nil
	})
}

// SetManager reassigns emp's manager, rejecting any change that would
// create a cycle in the reporting chain (e.g. promoting an employee's own
// report above them). candidateManagerID may be nil to clear the manager.
func (s *EmployeeService) SetManager(ctx context.Context, employeeID string, candidateManagerID *string, actorID string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		emp, err := s.employeeRepo.GetByID(ctx, employeeID)
		if err != nil {
			return err
		}

		if candidateManagerID != nil {
			if *candidateManagerID == employeeID {
				return errors.Validation(map[string]string{"manager_id": "an employee cannot be their own manager"})
			}

			// candidateManagerID must not already be a report (direct or
			// transitive) of employeeID, or assigning it creates a cycle.
			isDescendant, err := s.employeeRepo.IsAncestor(ctx, *candidateManagerID, employeeID)
			if err != nil {
				return err
			}
			if isDescendant {
				return errors.Conflict("manager assignment would create a cycle in the reporting chain")
			}
		}

		emp.ManagerID = candidateManagerID
		emp.UpdatedBy = &actorID
		if err := s.employeeRepo.Update(ctx, emp); err != nil {
			return err
		}

		if err := s.outboxRepo.Enqueue(ctx, "employee", employeeID, messaging.ExchangeOrgEvents,
			messaging.EventEmployeeManagerSet, messaging.EmployeeManagerSetEvent{
				EmployeeID: employeeID, ManagerID: candidateManagerID, SetBy: actorID,
			}, employeeID, 0); err != nil {
			return err
		}

		s.logger.Info().Str("employee_id", employeeID).Msg("employee manager reassigned")
		return nil
	})
}

// Delete soft-deletes an employee. Direct reports are left pointing at the
// departed manager; re-pointing them is a separate, explicit SetManager
// call so it never happens as an undocumented side effect of a delete.
func (s *EmployeeService) Delete(ctx context.Context, id, actorID string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		if err := s.employeeRepo.SoftDelete(ctx, id); err != nil {
			return err
		}

		return s.outboxRepo.Enqueue(ctx, "employee", id, messaging.ExchangeOrgEvents,
			messaging.EventEmployeeDeleted, messaging.EmployeeDeletedEvent{EmployeeID: id, DeletedBy: actorID}, id, 0)
	})
}

// GetAddress gets an employee's address.
func (s *EmployeeService) GetAddress(ctx context.Context, employeeID string) (*repository.EmployeeAddress, error) {
	return s.employeeRepo.GetAddress(ctx, employeeID)
}

// SaveAddress saves an employee's address.
func (s *EmployeeService) SaveAddress(ctx context.Context, addr *repository.EmployeeAddress) error {
	return s.employeeRepo.SaveAddress(ctx, addr)
}

// GetContact gets an employee's emergency contact.
func (s *EmployeeService) GetContact(ctx context.Context, employeeID string) (*repository.EmployeeContact, error) {
	return s.employeeRepo.GetContact(ctx, employeeID)
}

// SaveContact saves an employee's emergency contact.
func (s *EmployeeService) SaveContact(ctx context.Context, contact *repository.EmployeeContact) error {
	return s.employeeRepo.SaveContact(ctx, contact)
}

// IsManagerOf reports whether managerID sits anywhere above employeeID in
// the reporting chain — used by handlers to authorize a manager acting on
// one of their reports' leave/attendance records.
func (s *EmployeeService) IsManagerOf(ctx context.Context, managerID, employeeID string) (bool, error) {
	return s.employeeRepo.IsAncestor(ctx, employeeID, managerID)
}
