// Package scheduler drives the core's three periodic jobs — workflow SLA
// ticks, the outbox dispatcher drain, and per-policy leave accrual runs —
// against every active tenant, each job independently schedulable so its
// cadence can be tuned without redeploying the others.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hrcore/hrcore/internal/outbox"
	"github.com/hrcore/hrcore/internal/workflow/service"
	"github.com/hrcore/hrcore/pkg/logger"
	"github.com/hrcore/hrcore/pkg/tenant"
)

// Config holds the cron expressions for each scheduled job. All three
// default from spec: the workflow tick at most every minute, the outbox
// dispatcher drain continuously, and the accrual job daily (the accrual
// engine itself decides per-policy whether a given day/employee is due).
type Config struct {
	WorkflowTickSchedule  string
	DispatcherDrainSchedule string
	AccrualSchedule       string
	Enabled               bool
}

// DefaultConfig returns the schedule spec.md §5/§6 names.
func DefaultConfig() Config {
	return Config{
		WorkflowTickSchedule:    "@every 1m",
		DispatcherDrainSchedule: "@every 10s",
		AccrualSchedule:         "0 1 * * *",
		Enabled:                 true,
	}
}

// AccrualRunner runs one tenant's due accrual policies for a given day.
// Implemented by internal/leave/service.LeaveService.
type AccrualRunner interface {
	RunAccrualForTenant(ctx context.Context, asOf time.Time) error
}

// Scheduler wires cron.Cron (seconds-resolution, matching
// HMB-research-open-accounting's scheduler) to the workflow engine's
// tick, the outbox dispatcher, and the accrual runner, fanning each job
// out over every active tenant in the registry.
type Scheduler struct {
	cron       *cron.Cron
	registry   *tenant.Registry
	workflow   *service.WorkflowService
	dispatcher *outbox.Dispatcher
	accrual    AccrualRunner
	config     Config
	logger     *logger.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a new scheduler.
func NewScheduler(registry *tenant.Registry, workflow *service.WorkflowService, dispatcher *outbox.Dispatcher, accrual AccrualRunner, config Config, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		registry:   registry,
		workflow:   workflow,
		dispatcher: dispatcher,
		accrual:    accrual,
		config:     config,
		logger:     log,
	}
}

// Start registers all three jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if !s.config.Enabled {
		s.logger.Info().Msg("scheduler disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(withSeconds(s.config.WorkflowTickSchedule), s.runWorkflowTick); err != nil {
		return fmt.Errorf("schedule workflow tick: %w", err)
	}
	if _, err := s.cron.AddFunc(withSeconds(s.config.DispatcherDrainSchedule), s.runDispatcherDrain); err != nil {
		return fmt.Errorf("schedule dispatcher drain: %w", err)
	}
	if _, err := s.cron.AddFunc(withSeconds(s.config.AccrualSchedule), s.runAccrual); err != nil {
		return fmt.Errorf("schedule accrual: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().
		Str("workflow_tick", s.config.WorkflowTickSchedule).
		Str("dispatcher_drain", s.config.DispatcherDrainSchedule).
		Str("accrual", s.config.AccrualSchedule).
		Msg("scheduler started")
	return nil
}

// Stop stops the cron runner and waits for any in-flight job to finish.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	ctx := s.cron.Stop()
	s.running = false
	return ctx
}

// withSeconds adapts a 5-field cron expression (or an @every/@daily style
// descriptor) to the 6-field seconds-resolution parser this scheduler
// uses; descriptors and already-6-field expressions pass through.
func withSeconds(expr string) string {
	if len(expr) > 0 && expr[0] == '@' {
		return expr
	}
	fields := 1
	for _, c := range expr {
		if c == ' ' {
			fields++
		}
	}
	if fields == 5 {
		return "0 " + expr
	}
	return expr
}

func (s *Scheduler) runWorkflowTick() {
	s.forEachTenant("workflow_tick", func(ctx context.Context) error {
		return s.workflow.Tick(ctx, time.Now())
	})
}

func (s *Scheduler) runDispatcherDrain() {
	ctx := context.Background()
	for {
		n, err := s.dispatcher.DrainOnce(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("outbox drain failed")
			return
		}
		if n == 0 {
			return
		}
	}
}

func (s *Scheduler) runAccrual() {
	if s.accrual == nil {
		return
	}
	s.forEachTenant("accrual", func(ctx context.Context) error {
		return s.accrual.RunAccrualForTenant(ctx, time.Now())
	})
}

func (s *Scheduler) forEachTenant(job string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	tenants, err := s.registry.ListActive(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("job", job).Msg("failed to list active tenants")
		return
	}
	for _, t := range tenants {
		tenantCtx := tenant.WithTenantContext(ctx, t.ID, t.Slug, "hrcore")
		if err := fn(tenantCtx); err != nil {
			s.logger.Error().Err(err).Str("job", job).Str("tenant", t.Slug).Msg("scheduled job failed for tenant")
		}
	}
}
