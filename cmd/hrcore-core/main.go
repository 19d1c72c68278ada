// Command hrcore-core is the background process that drives the parts of
// the HR core with no external caller: the workflow engine's SLA ticks, the
// outbox dispatcher, and the daily leave accrual run. The request-driven
// surface (leave submission, attendance check-in, payroll run management)
// is wired by whatever HTTP or CLI front door calls the service packages
// directly; this binary only owns what runs on a schedule.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	leaverepo "github.com/hrcore/hrcore/internal/leave/repository"
	leaveservice "github.com/hrcore/hrcore/internal/leave/service"
	orgrepo "github.com/hrcore/hrcore/internal/org/repository"
	"github.com/hrcore/hrcore/internal/outbox"
	"github.com/hrcore/hrcore/internal/scheduler"
	workflowrepo "github.com/hrcore/hrcore/internal/workflow/repository"
	workflowservice "github.com/hrcore/hrcore/internal/workflow/service"
	"github.com/hrcore/hrcore/pkg/config"
	"github.com/hrcore/hrcore/pkg/database"
	"github.com/hrcore/hrcore/pkg/logger"
	"github.com/hrcore/hrcore/pkg/messaging"
	"github.com/hrcore/hrcore/pkg/tenant"
)

// employeeRosterAdapter satisfies leaveservice.EmployeeRoster by delegating
// to org's employee repository. It lives here rather than in internal/leave
// or internal/org so neither package needs to import the other — this
// wiring layer is the only place that knows both shapes.
type employeeRosterAdapter struct {
	employees *orgrepo.EmployeeRepository
}

func (a *employeeRosterAdapter) ListActiveForAccrual(ctx context.Context) ([]leaveservice.RosterEmployee, error) {
	employees, err := a.employees.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]leaveservice.RosterEmployee, 0, len(employees))
	for _, e := range employees {
		out = append(out, leaveservice.RosterEmployee{
			ID:             e.ID,
			HireDate:       e.HireDate,
			EmploymentType: e.EmploymentType,
			WeeklyHours:    e.WeeklyHours,
		})
	}
	return out, nil
}

func main() {
	cfg, err := config.LoadWithValidation("hrcore-core")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("hrcore-core", cfg.Server.Environment)
	log.Info().Msg("starting HR core")

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	publishers := make(map[string]*messaging.Publisher)
	for _, exchange := range []string{
		messaging.ExchangeOrgEvents,
		messaging.ExchangeLeaveEvents,
		messaging.ExchangeAttendanceEvents,
		messaging.ExchangePayrollEvents,
		messaging.ExchangeWorkflowEvents,
	} {
		pub, err := messaging.NewPublisher(rmq, exchange, "hrcore-core", log)
		if err != nil {
			log.Fatal().Err(err).Str("exchange", exchange).Msg("failed to declare publisher")
		}
		publishers[exchange] = pub
	}

	employeeRepo := orgrepo.NewEmployeeRepository(db)
	leaveRepo := leaverepo.NewLeaveRepository(db)
	workflowRepo := workflowrepo.NewWorkflowRepository(db)
	outboxRepo := outbox.NewRepository(db)

	roster := &employeeRosterAdapter{employees: employeeRepo}
	leaveService := leaveservice.NewLeaveService(db, leaveRepo, outboxRepo, roster, log)
	workflowService := workflowservice.NewWorkflowService(db, workflowRepo, outboxRepo, log)

	// The dispatcher publishes each outbox row to AMQP and, on success,
	// fans it out in-process. Registering the workflow engine as a handler
	// here means a leave submission or a regularization filing instantiates
	// its approval instance in the same process that drained the event,
	// without waiting on a broker round trip for what is really an internal
	// reaction between two core modules.
	dispatcher := outbox.NewDispatcher(outboxRepo, publishers, log)
	dispatcher.RegisterHandler(messaging.EventLeaveRequestSubmitted, func(ctx context.Context, event *messaging.Event) error {
		var data messaging.LeaveRequestSubmittedEvent
		if err := event.UnmarshalData(&data); err != nil {
			return err
		}
		_, err := workflowService.Instantiate(ctx, "leave_request_approval", "leave_request", data.LeaveRequestID, map[string]interface{}{
			"employee_id":   data.EmployeeID,
			"leave_type_id": data.LeaveTypeID,
			"working_days":  data.WorkingDays,
		})
		if err != nil {
			log.Error().Err(err).Str("leave_request_id", data.LeaveRequestID).Msg("failed to instantiate leave approval workflow")
		}
		return nil
	})
	dispatcher.RegisterHandler(messaging.EventAttendanceRegularizationFiled, func(ctx context.Context, event *messaging.Event) error {
		var data messaging.AttendanceRegularizationFiledEvent
		if err := event.UnmarshalData(&data); err != nil {
			return err
		}
		_, err := workflowService.Instantiate(ctx, "attendance_regularization_approval", "regularization_request", data.RegularizationID, map[string]interface{}{
			"employee_id":          data.EmployeeID,
			"attendance_record_id": data.AttendanceRecordID,
		})
		if err != nil {
			log.Error().Err(err).Str("regularization_id", data.RegularizationID).Msg("failed to instantiate regularization workflow")
		}
		return nil
	})

	registry := tenant.NewRegistry(db)
	sched := scheduler.NewScheduler(registry, workflowService, dispatcher, leaveService, scheduler.DefaultConfig(), log)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down HR core")
	stopCtx := sched.Stop()
	<-stopCtx.Done()

	log.Info().Msg("HR core stopped")
}
