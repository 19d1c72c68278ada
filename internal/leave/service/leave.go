package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hrcore/hrcore/internal/leave/accrual"
	"github.com/hrcore/hrcore/internal/leave/repository"
	"github.com/hrcore/hrcore/internal/outbox"
	"github.com/hrcore/hrcore/pkg/database"
	"github.com/hrcore/hrcore/pkg/errors"
	"github.com/hrcore/hrcore/pkg/logger"
	"github.com/hrcore/hrcore/pkg/messaging"
	"github.com/hrcore/hrcore/pkg/tenant"
)

// EmployeeRoster is the subset of the org module's directory the accrual
// job needs: every active employee's hire date, to decide proration and
// tenure tiers, and their weekly hours/employment type, for rule_based
// policy expressions.
type EmployeeRoster interface {
	ListActiveForAccrual(ctx context.Context) ([]RosterEmployee, error)
}

// RosterEmployee is one employee's accrual-relevant attributes.
type RosterEmployee struct {
	ID             string
	HireDate       time.Time
	EmploymentType string
	WeeklyHours    float64
}

// LeaveService implements the leave request lifecycle: submit, approve,
// reject, cancel. A submission reserves days against the employee's balance
// in the same transaction the request row and its outbox event are written
// in, so a balance can never drift out of sync with the requests holding it.
type LeaveService struct {
	db         *database.DB
	leaveRepo  *repository.LeaveRepository
	outboxRepo *outbox.Repository
	roster     EmployeeRoster
	engine     *accrual.Engine
	logger     *logger.Logger
}

// NewLeaveService creates a new leave service.
func NewLeaveService(db *database.DB, leaveRepo *repository.LeaveRepository, outboxRepo *outbox.Repository, roster EmployeeRoster, log *logger.Logger) *LeaveService {
	return &LeaveService{db: db, leaveRepo: leaveRepo, outboxRepo: outboxRepo, roster: roster, engine: accrual.NewEngine(), logger: log}
}

// WorkingDayCalendar answers whether a date is a working day for an
// employee, so Submit can exclude weekends and observed holidays from its
// days count.
type WorkingDayCalendar interface {
	IsHoliday(ctx context.Context, date time.Time) (bool, error)
}

// Submit creates a leave request, computing its working-days length and
// reserving that many days against the employee's balance for the leave
// type. The reservation and request both land in the pending state; a
// later Approve converts pending to used, Reject/Cancel releases it back.
func (s *LeaveService) Submit(ctx context.Context, employeeID, leaveTypeID string, from, to time.Time, halfDay bool, reason *string, calendar WorkingDayCalendar) (*repository.LeaveRequest, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	if to.Before(from) {
		return nil, errors.Validation(map[string]string{"to_date": "must not be before from_date"})
	}

	var req *repository.LeaveRequest
	err = s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		overlapping, err := s.leaveRepo.FindOverlapping(ctx, employeeID, from, to)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return errors.Conflict("requested dates overlap an existing pending or approved leave request")
		}

		days, err := workingDays(ctx, from, to, halfDay, calendar)
		if err != nil {
			return err
		}
		if !days.IsPositive() {
			return errors.Validation(map[string]string{"from_date": "the requested range contains no working days"})
		}

		balance, err := s.leaveRepo.GetOrCreateBalance(ctx, employeeID, leaveTypeID, from.Year())
		if err != nil {
			return err
		}
		if days.GreaterThan(balance.Available()) {
			return errors.Conflict("insufficient leave balance for the requested range")
		}

		req = &repository.LeaveRequest{
			EmployeeID:  employeeID,
			LeaveTypeID: leaveTypeID,
			FromDate:    from,
			ToDate:      to,
			HalfDay:     halfDay,
			Days:        days,
			Reason:      reason,
		}
		if err := s.leaveRepo.CreateLeaveRequest(ctx, req); err != nil {
			return err
		}

		if err := s.leaveRepo.ApplyTransaction(ctx, balance.ID, "reservation", days, from, reason); err != nil {
			return err
		}

		if err := s.outboxRepo.Enqueue(ctx, "leave_request", req.ID, messaging.ExchangeLeaveEvents,
			messaging.EventLeaveRequestSubmitted, messaging.LeaveRequestSubmittedEvent{
				LeaveRequestID: req.ID, EmployeeID: employeeID, LeaveTypeID: leaveTypeID,
				FromDate: from, ToDate: to, WorkingDays: days.String(),
			}, req.ID, 0); err != nil {
			return err
		}

		s.logger.Info().Str("leave_request_id", req.ID).Str("employee_id", employeeID).Str("days", days.String()).Msg("leave request submitted")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Approve settles a pending request: the reserved days move from pending to
// used and the request is marked approved.
func (s *LeaveService) Approve(ctx context.Context, requestID, approverID string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		req, err := s.leaveRepo.GetLeaveRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != "pending" {
			return errors.Conflict("only a pending leave request can be approved")
		}

		balance, err := s.leaveRepo.GetOrCreateBalance(ctx, req.EmployeeID, req.LeaveTypeID, req.FromDate.Year())
		if err != nil {
			return err
		}
		if err := s.leaveRepo.ApplyTransaction(ctx, balance.ID, "use", req.Days, req.FromDate, nil); err != nil {
			return err
		}

		if err := s.leaveRepo.UpdateLeaveRequestStatus(ctx, requestID, "approved", approverID, nil); err != nil {
			return err
		}

		return s.outboxRepo.Enqueue(ctx, "leave_request", requestID, messaging.ExchangeLeaveEvents,
			messaging.EventLeaveRequestApproved, messaging.LeaveRequestApprovedEvent{LeaveRequestID: requestID, ApproverID: approverID}, requestID, 0)
	})
}

// Reject releases the reservation and marks the request rejected.
func (s *LeaveService) Reject(ctx context.Context, requestID, approverID, reason string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		if err := s.releasePending(ctx, requestID, "pending"); err != nil {
			return err
		}
		if err := s.leaveRepo.UpdateLeaveRequestStatus(ctx, requestID, "rejected", approverID, &reason); err != nil {
			return err
		}

		return s.outboxRepo.Enqueue(ctx, "leave_request", requestID, messaging.ExchangeLeaveEvents,
			messaging.EventLeaveRequestRejected, messaging.LeaveRequestRejectedEvent{
				LeaveRequestID: requestID, ApproverID: approverID, Reason: reason,
			}, requestID, 0)
	})
}

// Cancel releases the reservation (or used days if already approved) and
// marks the request cancelled. A completed leave (FromDate in the past)
// cannot be cancelled.
func (s *LeaveService) Cancel(ctx context.Context, requestID, cancelledBy string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		req, err := s.leaveRepo.GetLeaveRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != "pending" && req.Status != "approved" {
			return errors.Conflict("only a pending or approved leave request can be cancelled")
		}
		if req.Status == "approved" && req.FromDate.Before(time.Now()) {
			return errors.Conflict("a leave that has already started cannot be cancelled")
		}

		balance, err := s.leaveRepo.GetOrCreateBalance(ctx, req.EmployeeID, req.LeaveTypeID, req.FromDate.Year())
		if err != nil {
			return err
		}

		var txErr error
		if req.Status == "approved" {
			txErr = s.leaveRepo.ApplyTransaction(ctx, balance.ID, "manual_adjustment", req.Days.Neg(), time.Now(), nil)
		} else {
			txErr = s.leaveRepo.ApplyTransaction(ctx, balance.ID, "release", req.Days, time.Now(), nil)
		}
		if txErr != nil {
			return txErr
		}

		if err := s.leaveRepo.UpdateLeaveRequestStatus(ctx, requestID, "cancelled", cancelledBy, nil); err != nil {
			return err
		}

		return s.outboxRepo.Enqueue(ctx, "leave_request", requestID, messaging.ExchangeLeaveEvents,
			messaging.EventLeaveRequestCancelled, messaging.LeaveRequestCancelledEvent{LeaveRequestID: requestID, CancelledBy: cancelledBy}, requestID, 0)
	})
}

func (s *LeaveService) releasePending(ctx context.Context, requestID string, expectStatus string) error {
	req, err := s.leaveRepo.GetLeaveRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != expectStatus {
		return errors.Conflict("leave request is not in the expected status for this transition")
	}
	balance, err := s.leaveRepo.GetOrCreateBalance(ctx, req.EmployeeID, req.LeaveTypeID, req.FromDate.Year())
	if err != nil {
		return err
	}
	return s.leaveRepo.ApplyTransaction(ctx, balance.ID, "release", req.Days, time.Now(), nil)
}

// GetBalance returns an employee's balance for a leave type/year, creating a
// zeroed row if one doesn't exist yet.
func (s *LeaveService) GetBalance(ctx context.Context, employeeID, leaveTypeID string, year int) (*repository.LeaveBalance, error) {
	return s.leaveRepo.GetOrCreateBalance(ctx, employeeID, leaveTypeID, year)
}

// ListBalances returns every balance an employee holds for a year.
func (s *LeaveService) ListBalances(ctx context.Context, employeeID string, year int) ([]*repository.LeaveBalance, error) {
	return s.leaveRepo.ListBalances(ctx, employeeID, year)
}

// ListRequests returns an employee's leave requests.
func (s *LeaveService) ListRequests(ctx context.Context, employeeID string) ([]*repository.LeaveRequest, error) {
	return s.leaveRepo.ListLeaveRequests(ctx, employeeID)
}

// RunAccrualForTenant evaluates every active accrual policy against every
// active employee for the single day ending at asOf, granting whatever
// period boundaries (month-start, year-start, the biweekly cadence) fall
// within that window. Run once daily, this is how a monthly policy's
// grant actually lands on the day its period starts rather than in a
// single end-of-year catch-up.
func (s *LeaveService) RunAccrualForTenant(ctx context.Context, asOf time.Time) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		policies, err := s.leaveRepo.ListAccrualPolicies(ctx)
		if err != nil {
			return err
		}
		if len(policies) == 0 {
			return nil
		}

		employees, err := s.roster.ListActiveForAccrual(ctx)
		if err != nil {
			return err
		}

		from := asOf.AddDate(0, 0, -1)
		for _, policy := range policies {
			for _, emp := range employees {
				exprContext := map[string]interface{}{
					"weekly_hours":    emp.WeeklyHours,
					"employment_type": emp.EmploymentType,
				}
				grants, err := s.engine.Evaluate(policy, emp.HireDate, exprContext, from, asOf)
				if err != nil {
					s.logger.Error().Err(err).Str("policy_id", policy.ID).Str("employee_id", emp.ID).
						Msg("accrual evaluation failed, skipping employee for this policy")
					continue
				}
				if err := s.applyGrants(ctx, emp.ID, policy, grants); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *LeaveService) applyGrants(ctx context.Context, employeeID string, policy *repository.AccrualPolicy, grants []accrual.Grant) error {
	for _, g := range grants {
		if !g.Days.IsPositive() {
			continue
		}
		balance, err := s.leaveRepo.GetOrCreateBalance(ctx, employeeID, policy.LeaveTypeID, g.EffectiveDate.Year())
		if err != nil {
			return err
		}
		note := g.Reason
		if err := s.leaveRepo.ApplyTransaction(ctx, balance.ID, "accrual", g.Days, g.EffectiveDate, &note); err != nil {
			return err
		}
	}
	return nil
}

// workingDays counts the days in [from, to] that are neither a weekend nor
// an observed holiday, applying a 0.5 day reduction when halfDay is set on
// a single-day request.
func workingDays(ctx context.Context, from, to time.Time, halfDay bool, calendar WorkingDayCalendar) (decimal.Decimal, error) {
	total := decimal.Zero
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		if calendar != nil {
			isHoliday, err := calendar.IsHoliday(ctx, d)
			if err != nil {
				return decimal.Zero, err
			}
			if isHoliday {
				continue
			}
		}
		total = total.Add(decimal.NewFromInt(1))
	}
	if halfDay && total.Equal(decimal.NewFromInt(1)) {
		total = decimal.NewFromFloat(0.5)
	}
	return total, nil
}
