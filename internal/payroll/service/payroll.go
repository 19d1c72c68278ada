package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hrcore/hrcore/internal/outbox"
	"github.com/hrcore/hrcore/internal/payroll/repository"
	"github.com/hrcore/hrcore/pkg/database"
	"github.com/hrcore/hrcore/pkg/errors"
	"github.com/hrcore/hrcore/pkg/logger"
	"github.com/hrcore/hrcore/pkg/messaging"
	"github.com/hrcore/hrcore/pkg/tenant"
)

// EmployeeInput is one employee's computed pay for a period, handed to
// MarkCalculated by whatever upstream job aggregated attendance and leave
// data for the run. The payroll service itself owns only the state
// machine and idempotence guard, not the earnings formula — that varies
// too much per organization to hardcode here.
type EmployeeInput struct {
	EmployeeID    string
	Gross         decimal.Decimal
	Deductions    decimal.Decimal
	Net           decimal.Decimal
	WorkedHours   decimal.Decimal
	OvertimeHours decimal.Decimal
	PaidLeaveDays decimal.Decimal
	Breakdown     map[string]interface{}
}

// PayrollService implements the payroll run state machine: draft →
// in_progress → calculated → approved → paid, with any state before paid
// also able to cancel. Transitions are serialized per run by the FOR
// UPDATE lock repository.GetByID takes inside the same WithTenantRLS
// transaction as the status update.
type PayrollService struct {
	db         *database.DB
	repo       *repository.PayrollRepository
	outboxRepo *outbox.Repository
	logger     *logger.Logger
}

// NewPayrollService creates a new payroll service.
func NewPayrollService(db *database.DB, repo *repository.PayrollRepository, outboxRepo *outbox.Repository, log *logger.Logger) *PayrollService {
	return &PayrollService{db: db, repo: repo, outboxRepo: outboxRepo, logger: log}
}

// StartProcessing opens a new run for a period and immediately advances it
// to in_progress. The pay period must already be closed and must not
// overlap any other non-cancelled run.
func (s *PayrollService) StartProcessing(ctx context.Context, periodStart, periodEnd time.Time) (*repository.Run, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	if !periodEnd.Before(time.Now()) {
		return nil, errors.Validation(map[string]string{"period_end": "pay period must already be closed"})
	}

	var run *repository.Run
	err = s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		overlapping, err := s.repo.FindOverlapping(ctx, periodStart, periodEnd)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return errors.Conflict("a non-cancelled payroll run already covers part of this period")
		}

		run = &repository.Run{PeriodStart: periodStart, PeriodEnd: periodEnd, Status: "draft"}
		if err := s.repo.CreateRun(ctx, run); err != nil {
			return err
		}
		run.Status = "in_progress"
		if err := s.repo.UpdateStatus(ctx, run); err != nil {
			return err
		}

		return s.outboxRepo.Enqueue(ctx, "payroll_run", run.ID, messaging.ExchangePayrollEvents,
			messaging.EventPayrollRunStarted, messaging.PayrollRunStartedEvent{
				PayrollRunID: run.ID, PeriodStart: periodStart, PeriodEnd: periodEnd,
			}, run.ID, 0)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// MarkCalculated computes a run's line items from the given per-employee
// inputs. A content hash of the inputs makes recalculation idempotent: an
// identical set of inputs on an already-calculated run is a no-op, and a
// changed set is rejected until the caller reverts the run back to
// in_progress.
func (s *PayrollService) MarkCalculated(ctx context.Context, runID string, inputs []EmployeeInput) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	hash, err := hashInputs(inputs)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		run, err := s.repo.GetByID(ctx, runID)
		if err != nil {
			return err
		}

		if run.Status == "calculated" {
			if run.InputHash != nil && *run.InputHash == hash {
				return nil
			}
			return errors.Conflict("inputs_changed_requires_revert")
		}
		if run.Status != "in_progress" {
			return errors.Conflict("payroll run must be in_progress to calculate")
		}

		items := make([]*repository.LineItem, 0, len(inputs))
		for _, in := range inputs {
			var breakdown database.JSONB
			if in.Breakdown != nil {
				raw, err := json.Marshal(in.Breakdown)
				if err != nil {
					return err
				}
				breakdown = database.JSONB(raw)
			}
			items = append(items, &repository.LineItem{
				PayrollRunID:  runID,
				EmployeeID:    in.EmployeeID,
				Gross:         in.Gross,
				Deductions:    in.Deductions,
				Net:           in.Net,
				WorkedHours:   in.WorkedHours,
				OvertimeHours: in.OvertimeHours,
				PaidLeaveDays: in.PaidLeaveDays,
				Breakdown:     breakdown,
			})
		}
		if err := s.repo.ReplaceLineItems(ctx, runID, items); err != nil {
			return err
		}

		now := time.Now()
		run.Status = "calculated"
		run.InputHash = &hash
		run.CalculatedAt = &now
		if err := s.repo.UpdateStatus(ctx, run); err != nil {
			return err
		}

		return s.outboxRepo.Enqueue(ctx, "payroll_run", runID, messaging.ExchangePayrollEvents,
			messaging.EventPayrollRunCalculated, messaging.PayrollRunCalculatedEvent{
				PayrollRunID: runID, ContentHash: hash, LineItemCount: len(items),
			}, runID, 0)
	})
}

// Revert moves a calculated run back to in_progress so it can be
// recalculated with changed inputs. Only possible before it has been
// approved.
func (s *PayrollService) Revert(ctx context.Context, runID string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		run, err := s.repo.GetByID(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != "calculated" {
			return errors.Conflict("only a calculated payroll run can be reverted")
		}
		run.Status = "in_progress"
		run.InputHash = nil
		run.CalculatedAt = nil
		return s.repo.UpdateStatus(ctx, run)
	})
}

// Approve records an approval. Two distinct approvers are required (the
// two-person rule): the first call records approved_by and leaves the run
// calculated; the second call, from a different principal, records
// second_approved_by and advances the run to approved.
func (s *PayrollService) Approve(ctx context.Context, runID, approverID string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		run, err := s.repo.GetByID(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != "calculated" {
			return errors.Conflict("payroll run must be calculated to approve")
		}

		now := time.Now()
		switch {
		case run.ApprovedBy == nil:
			run.ApprovedBy = &approverID
			run.ApprovedAt = &now
			return s.repo.UpdateStatus(ctx, run)
		case *run.ApprovedBy == approverID:
			return errors.Conflict("a second, distinct approver is required")
		default:
			run.SecondApprovedBy = &approverID
			run.SecondApprovedAt = &now
			run.Status = "approved"
			if err := s.repo.UpdateStatus(ctx, run); err != nil {
				return err
			}
			return s.outboxRepo.Enqueue(ctx, "payroll_run", runID, messaging.ExchangePayrollEvents,
				messaging.EventPayrollRunApproved, messaging.PayrollRunApprovedEvent{
					PayrollRunID: runID, ApproverID: approverID,
				}, runID, 0)
		}
	})
}

// MarkPaid closes out an approved run once external payment has been
// confirmed. paid is terminal.
func (s *PayrollService) MarkPaid(ctx context.Context, runID string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		run, err := s.repo.GetByID(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != "approved" {
			return errors.Conflict("payroll run must be approved to mark paid")
		}
		now := time.Now()
		run.Status = "paid"
		run.PaidAt = &now
		if err := s.repo.UpdateStatus(ctx, run); err != nil {
			return err
		}
		return s.outboxRepo.Enqueue(ctx, "payroll_run", runID, messaging.ExchangePayrollEvents,
			messaging.EventPayrollRunPaid, messaging.PayrollRunPaidEvent{PayrollRunID: runID}, runID, 0)
	})
}

// Cancel terminates a run before payment. paid runs cannot be cancelled.
func (s *PayrollService) Cancel(ctx context.Context, runID, reason string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		run, err := s.repo.GetByID(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status == "paid" || run.Status == "cancelled" {
			return errors.Conflict("a paid or already-cancelled payroll run cannot be cancelled")
		}
		now := time.Now()
		run.Status = "cancelled"
		run.CancelledAt = &now
		run.CancellationReason = &reason
		if err := s.repo.UpdateStatus(ctx, run); err != nil {
			return err
		}
		return s.outboxRepo.Enqueue(ctx, "payroll_run", runID, messaging.ExchangePayrollEvents,
			messaging.EventPayrollRunCancelled, messaging.PayrollRunCancelledEvent{
				PayrollRunID: runID, Reason: reason,
			}, runID, 0)
	})
}

// GetRun returns a run by ID. repository.GetByID selects it FOR UPDATE, so
// the row lock is held only for GetByID's own short transaction.
func (s *PayrollService) GetRun(ctx context.Context, runID string) (*repository.Run, error) {
	return s.repo.GetByID(ctx, runID)
}

// ListLineItems returns a run's computed line items.
func (s *PayrollService) ListLineItems(ctx context.Context, runID string) ([]*repository.LineItem, error) {
	return s.repo.ListLineItems(ctx, runID)
}

// hashInputs produces a stable content hash over a set of per-employee pay
// inputs, sorted by employee ID so input ordering doesn't change the hash.
func hashInputs(inputs []EmployeeInput) (string, error) {
	sorted := make([]EmployeeInput, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EmployeeID < sorted[j].EmployeeID })

	type canonical struct {
		EmployeeID    string `json:"employee_id"`
		Gross         string `json:"gross"`
		Deductions    string `json:"deductions"`
		Net           string `json:"net"`
		WorkedHours   string `json:"worked_hours"`
		OvertimeHours string `json:"overtime_hours"`
		PaidLeaveDays string `json:"paid_leave_days"`
	}
	rows := make([]canonical, 0, len(sorted))
	for _, in := range sorted {
		rows = append(rows, canonical{
			EmployeeID: in.EmployeeID, Gross: in.Gross.String(), Deductions: in.Deductions.String(),
			Net: in.Net.String(), WorkedHours: in.WorkedHours.String(),
			OvertimeHours: in.OvertimeHours.String(), PaidLeaveDays: in.PaidLeaveDays.String(),
		})
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
