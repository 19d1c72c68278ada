package service

import (
	"context"
	"math"
	"time"

	"github.com/hrcore/hrcore/internal/attendance/repository"
	"github.com/hrcore/hrcore/internal/outbox"
	"github.com/hrcore/hrcore/pkg/database"
	"github.com/hrcore/hrcore/pkg/errors"
	"github.com/hrcore/hrcore/pkg/logger"
	"github.com/hrcore/hrcore/pkg/messaging"
	"github.com/hrcore/hrcore/pkg/tenant"
)

// overtimeAlertThreshold is the number of hours over the scheduled day
// before a best-effort advisory event fires on check-out. This mirrors the
// teacher's post-transition compliance hook, generalized from the
// ArbZG-specific rule to a configurable threshold.
const overtimeAlertThreshold = 2.0

// AttendanceService implements check-in/out, break tracking, and
// regularization filing/decision for the attendance module.
type AttendanceService struct {
	db         *database.DB
	repo       *repository.AttendanceRepository
	outboxRepo *outbox.Repository
	logger     *logger.Logger
}

// NewAttendanceService creates a new attendance service.
func NewAttendanceService(db *database.DB, repo *repository.AttendanceRepository, outboxRepo *outbox.Repository, log *logger.Logger) *AttendanceService {
	return &AttendanceService{db: db, repo: repo, outboxRepo: outboxRepo, logger: log}
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// CheckIn opens today's attendance record for an employee. An employee can
// have at most one record per day, so a check-in on a day that already has
// a record (open or closed) is rejected.
func (s *AttendanceService) CheckIn(ctx context.Context, employeeID string, scheduledHours float64) (*repository.Record, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var rec *repository.Record
	err = s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		existing, err := s.repo.GetByEmployeeAndDate(ctx, employeeID, dayOf(now))
		if err != nil {
			return err
		}
		if existing != nil && existing.Status == "open" {
			return errors.Conflict("employee is already checked in")
		}
		if existing != nil {
			return errors.Conflict("employee already has an attendance record for today")
		}

		if scheduledHours <= 0 {
			scheduledHours = 8
		}
		rec = &repository.Record{
			EmployeeID:     employeeID,
			WorkDate:       dayOf(now),
			CheckIn:        &now,
			ScheduledHours: scheduledHours,
			Status:         "open",
			Source:         "clock",
		}
		if err := s.repo.CreateRecord(ctx, rec); err != nil {
			return err
		}

		return s.outboxRepo.Enqueue(ctx, "attendance_record", rec.ID, messaging.ExchangeAttendanceEvents,
			messaging.EventAttendanceCheckIn, messaging.AttendanceCheckInEvent{
				AttendanceRecordID: rec.ID, EmployeeID: employeeID, CheckIn: now,
			}, rec.ID, 0)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// CheckOut closes an employee's open attendance record, ending any running
// break first and computing worked/overtime hours and lateness figures.
func (s *AttendanceService) CheckOut(ctx context.Context, employeeID string) (*repository.Record, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var rec *repository.Record
	var overtimeFired bool
	err = s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		var err error
		rec, err = s.repo.GetOpenByEmployeeAndDate(ctx, employeeID, dayOf(now))
		if err != nil {
			return err
		}
		if rec == nil {
			return errors.Conflict("employee is not checked in")
		}

		openBreak, err := s.repo.GetOpenBreak(ctx, rec.ID)
		if err != nil {
			return err
		}
		if openBreak != nil {
			if err := s.repo.EndBreak(ctx, openBreak.ID, now); err != nil {
				return err
			}
		}

		breaks, err := s.repo.ListBreaks(ctx, rec.ID)
		if err != nil {
			return err
		}
		breakMinutes := 0
		for _, b := range breaks {
			end := now
			if b.EndedAt != nil {
				end = *b.EndedAt
			}
			breakMinutes += int(end.Sub(b.StartedAt).Minutes())
		}

		rec.CheckOut = &now
		rec.BreakMinutes = breakMinutes
		rec.WorkedHours = computeWorkedHours(*rec.CheckIn, now, breakMinutes)
		rec.OvertimeHours = math.Max(0, roundHours(rec.WorkedHours-rec.ScheduledHours))
		rec.LateMinutes = lateMinutes(*rec.CheckIn)
		rec.EarlyDepartureMinutes = earlyDepartureMinutes(now, rec.ScheduledHours, *rec.CheckIn)
		rec.Status = "closed"

		if err := s.repo.UpdateRecord(ctx, rec); err != nil {
			return err
		}

		if err := s.outboxRepo.Enqueue(ctx, "attendance_record", rec.ID, messaging.ExchangeAttendanceEvents,
			messaging.EventAttendanceCheckOut, messaging.AttendanceCheckOutEvent{
				AttendanceRecordID: rec.ID, EmployeeID: employeeID, CheckIn: *rec.CheckIn,
				CheckOut: now, WorkingHours: rec.WorkedHours, OvertimeHours: rec.OvertimeHours,
			}, rec.ID, 0); err != nil {
			return err
		}

		if rec.OvertimeHours >= overtimeAlertThreshold {
			overtimeFired = true
			if err := s.outboxRepo.Enqueue(ctx, "attendance_record", rec.ID, messaging.ExchangeAttendanceEvents,
				messaging.EventAttendanceOvertimeThreshold, messaging.AttendanceOvertimeThresholdEvent{
					AttendanceRecordID: rec.ID, EmployeeID: employeeID, OvertimeHours: rec.OvertimeHours,
					ThresholdHours: overtimeAlertThreshold,
				}, rec.ID, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if overtimeFired {
		s.logger.Info().Str("employee_id", employeeID).Float64("overtime_hours", rec.OvertimeHours).Msg("overtime threshold exceeded")
	}
	return rec, nil
}

// StartBreak opens a break within the employee's currently open record.
func (s *AttendanceService) StartBreak(ctx context.Context, employeeID string) (*repository.Break, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var brk *repository.Break
	err = s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		rec, err := s.repo.GetOpenByEmployeeAndDate(ctx, employeeID, dayOf(now))
		if err != nil {
			return err
		}
		if rec == nil {
			return errors.Conflict("employee is not checked in")
		}
		openBreak, err := s.repo.GetOpenBreak(ctx, rec.ID)
		if err != nil {
			return err
		}
		if openBreak != nil {
			return errors.Conflict("employee is already on a break")
		}

		brk = &repository.Break{AttendanceRecordID: rec.ID, StartedAt: now}
		if err := s.repo.CreateBreak(ctx, brk); err != nil {
			return err
		}
		return s.outboxRepo.Enqueue(ctx, "attendance_break", brk.ID, messaging.ExchangeAttendanceEvents,
			messaging.EventAttendanceBreakStart, messaging.AttendanceBreakStartEvent{
				BreakID: brk.ID, AttendanceRecordID: rec.ID, EmployeeID: employeeID, StartTime: now,
			}, rec.ID, 0)
	})
	if err != nil {
		return nil, err
	}
	return brk, nil
}

// EndBreak closes the employee's currently running break.
func (s *AttendanceService) EndBreak(ctx context.Context, employeeID string) (*repository.Break, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var brk *repository.Break
	err = s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		rec, err := s.repo.GetOpenByEmployeeAndDate(ctx, employeeID, dayOf(now))
		if err != nil {
			return err
		}
		if rec == nil {
			return errors.Conflict("employee is not checked in")
		}
		brk, err = s.repo.GetOpenBreak(ctx, rec.ID)
		if err != nil {
			return err
		}
		if brk == nil {
			return errors.Conflict("employee is not on a break")
		}
		if err := s.repo.EndBreak(ctx, brk.ID, now); err != nil {
			return err
		}
		brk.EndedAt = &now
		return s.outboxRepo.Enqueue(ctx, "attendance_break", brk.ID, messaging.ExchangeAttendanceEvents,
			messaging.EventAttendanceBreakEnd, messaging.AttendanceBreakEndEvent{
				BreakID: brk.ID, AttendanceRecordID: rec.ID, EmployeeID: employeeID, StartTime: brk.StartedAt,
			}, rec.ID, 0)
	})
	if err != nil {
		return nil, err
	}
	return brk, nil
}

// ManualCheckInOut lets a manager directly set or correct a record's
// check-in/check-out, bypassing the open/close state machine. Used for
// backfilling missed clock events, distinct from the regularization
// workflow which requires approval.
func (s *AttendanceService) ManualCheckInOut(ctx context.Context, employeeID string, workDate time.Time, checkIn, checkOut *time.Time, scheduledHours float64, actorID string) (*repository.Record, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var rec *repository.Record
	err = s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		existing, err := s.repo.GetByEmployeeAndDate(ctx, employeeID, dayOf(workDate))
		if err != nil {
			return err
		}

		if scheduledHours <= 0 {
			scheduledHours = 8
		}

		if existing == nil {
			rec = &repository.Record{
				EmployeeID:     employeeID,
				WorkDate:       dayOf(workDate),
				CheckIn:        checkIn,
				CheckOut:       checkOut,
				ScheduledHours: scheduledHours,
				Status:         "open",
				Source:         "manual",
			}
			if checkOut != nil {
				rec.Status = "closed"
			}
			if checkIn != nil && checkOut != nil {
				rec.WorkedHours = computeWorkedHours(*checkIn, *checkOut, 0)
				rec.OvertimeHours = math.Max(0, roundHours(rec.WorkedHours-scheduledHours))
				rec.LateMinutes = lateMinutes(*checkIn)
				rec.EarlyDepartureMinutes = earlyDepartureMinutes(*checkOut, scheduledHours, *checkIn)
			}
			return s.repo.CreateRecord(ctx, rec)
		}

		rec = existing
		rec.CheckIn = checkIn
		rec.CheckOut = checkOut
		rec.Source = "manual"
		if checkOut != nil {
			rec.Status = "corrected"
		}
		if checkIn != nil && checkOut != nil {
			rec.WorkedHours = computeWorkedHours(*checkIn, *checkOut, rec.BreakMinutes)
			rec.OvertimeHours = math.Max(0, roundHours(rec.WorkedHours-rec.ScheduledHours))
			rec.LateMinutes = lateMinutes(*checkIn)
			rec.EarlyDepartureMinutes = earlyDepartureMinutes(*checkOut, rec.ScheduledHours, *checkIn)
		}
		return s.repo.UpdateRecord(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// FileRegularization opens a regularization request against an attendance
// record, asking for its check-in/check-out to be amended. Approval is
// driven by the workflow engine; SetWorkflowInstance attaches the instance
// once the caller has instantiated it.
func (s *AttendanceService) FileRegularization(ctx context.Context, attendanceRecordID, employeeID string, requestedCheckIn, requestedCheckOut *time.Time, reason string) (*repository.RegularizationRequest, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var req *repository.RegularizationRequest
	err = s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		req = &repository.RegularizationRequest{
			AttendanceRecordID: attendanceRecordID,
			EmployeeID:         employeeID,
			RequestedCheckIn:   requestedCheckIn,
			RequestedCheckOut:  requestedCheckOut,
			Reason:             reason,
			Status:             "pending",
		}
		if err := s.repo.CreateRegularization(ctx, req); err != nil {
			return err
		}
		return s.outboxRepo.Enqueue(ctx, "regularization_request", req.ID, messaging.ExchangeAttendanceEvents,
			messaging.EventAttendanceRegularizationFiled, messaging.AttendanceRegularizationFiledEvent{
				RegularizationID: req.ID, AttendanceRecordID: attendanceRecordID, EmployeeID: employeeID,
			}, req.ID, 0)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// DecideRegularization records a regularization's outcome. Approving it
// corrects the underlying attendance record from the requested check-in/out
// and marks the record's source as regularization.
func (s *AttendanceService) DecideRegularization(ctx context.Context, requestID, decidedBy string, approved bool, note *string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		req, err := s.repo.GetRegularization(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != "pending" {
			return errors.Conflict("regularization request has already been decided")
		}

		status := "rejected"
		if approved {
			status = "approved"
		}
		now := time.Now()
		if err := s.repo.DecideRegularization(ctx, requestID, status, decidedBy, now, note); err != nil {
			return err
		}

		if approved {
			rec, err := s.repo.GetByID(ctx, req.AttendanceRecordID)
			if err != nil {
				return err
			}
			if req.RequestedCheckIn != nil {
				rec.CheckIn = req.RequestedCheckIn
			}
			if req.RequestedCheckOut != nil {
				rec.CheckOut = req.RequestedCheckOut
			}
			rec.Source = "regularization"
			rec.Status = "corrected"
			if rec.CheckIn != nil && rec.CheckOut != nil {
				rec.WorkedHours = computeWorkedHours(*rec.CheckIn, *rec.CheckOut, rec.BreakMinutes)
				rec.OvertimeHours = math.Max(0, roundHours(rec.WorkedHours-rec.ScheduledHours))
				rec.LateMinutes = lateMinutes(*rec.CheckIn)
				rec.EarlyDepartureMinutes = earlyDepartureMinutes(*rec.CheckOut, rec.ScheduledHours, *rec.CheckIn)
			}
			if err := s.repo.UpdateRecord(ctx, rec); err != nil {
				return err
			}
			if err := s.outboxRepo.Enqueue(ctx, "attendance_record", rec.ID, messaging.ExchangeAttendanceEvents,
				messaging.EventAttendanceCorrected, messaging.AttendanceCorrectedEvent{
					AttendanceRecordID: rec.ID, EmployeeID: req.EmployeeID, CorrectedBy: decidedBy,
				}, rec.ID, 0); err != nil {
				return err
			}
		}

		return s.outboxRepo.Enqueue(ctx, "regularization_request", requestID, messaging.ExchangeAttendanceEvents,
			messaging.EventAttendanceRegularizationClosed, messaging.AttendanceRegularizationClosedEvent{
				RegularizationID: requestID, Approved: approved, DecidedBy: decidedBy,
			}, requestID, 0)
	})
}

// ListForEmployee returns an employee's attendance records in a date range.
func (s *AttendanceService) ListForEmployee(ctx context.Context, employeeID string, from, to time.Time) ([]*repository.Record, error) {
	return s.repo.ListForEmployee(ctx, employeeID, from, to)
}

// computeWorkedHours converts a check-in/check-out span minus break minutes
// into hours, rounded to 2 decimal places.
func computeWorkedHours(checkIn, checkOut time.Time, breakMinutes int) float64 {
	totalMinutes := checkOut.Sub(checkIn).Minutes() - float64(breakMinutes)
	if totalMinutes < 0 {
		totalMinutes = 0
	}
	return roundHours(totalMinutes / 60)
}

func roundHours(h float64) float64 {
	return math.Round(h*100) / 100
}

// lateMinutes counts minutes past the 09:00 scheduled start. A real
// deployment would source the start time from a per-employee shift; this
// core keeps a fixed organizational default, matching the teacher's lack of
// a shift-template concept in its own attendance code.
func lateMinutes(checkIn time.Time) int {
	scheduledStart := time.Date(checkIn.Year(), checkIn.Month(), checkIn.Day(), 9, 0, 0, 0, checkIn.Location())
	if checkIn.Before(scheduledStart) || checkIn.Equal(scheduledStart) {
		return 0
	}
	return int(checkIn.Sub(scheduledStart).Minutes())
}

// earlyDepartureMinutes counts minutes left before a full scheduled day
// would have elapsed from check-in.
func earlyDepartureMinutes(checkOut time.Time, scheduledHours float64, checkIn time.Time) int {
	scheduledEnd := checkIn.Add(time.Duration(scheduledHours * float64(time.Hour)))
	if checkOut.After(scheduledEnd) || checkOut.Equal(scheduledEnd) {
		return 0
	}
	return int(scheduledEnd.Sub(checkOut).Minutes())
}
