package outbox

import (
	"context"
	"fmt"

	"github.com/hrcore/hrcore/pkg/logger"
	"github.com/hrcore/hrcore/pkg/messaging"
	"github.com/hrcore/hrcore/pkg/tenant"
)

// Handler is an in-process event handler. Registering one lets another
// module react to an event synchronously in the same process as the
// dispatcher, without a network hop through the broker — the "dynamic
// dispatch for handlers" path alongside the AMQP publish.
type Handler func(ctx context.Context, event *messaging.Event) error

// Dispatcher drains pending outbox entries: it publishes each to its AMQP
// exchange and, on success, fans it out to any locally registered Handlers.
// A batch is processed sequentially so per-aggregate ordering from
// Repository.ClaimBatch survives into delivery order.
type Dispatcher struct {
	repo       *Repository
	publishers map[string]*messaging.Publisher
	handlers   map[string][]Handler
	logger     *logger.Logger
	batchSize  int
}

// NewDispatcher creates a dispatcher. publishers maps exchange name to an
// already-declared messaging.Publisher for that exchange (one per exchange
// family: hrcore.org, hrcore.leave, hrcore.attendance, hrcore.payroll,
// hrcore.workflow).
func NewDispatcher(repo *Repository, publishers map[string]*messaging.Publisher, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		repo:       repo,
		publishers: publishers,
		handlers:   make(map[string][]Handler),
		logger:     log,
		batchSize:  50,
	}
}

// RegisterHandler adds an in-process handler for eventType. Multiple
// handlers may be registered for the same event type; they run in
// registration order and a handler error is logged but does not block the
// others or roll back the dispatch.
func (d *Dispatcher) RegisterHandler(eventType string, h Handler) {
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

// DrainOnce claims and dispatches a single batch of due entries. It returns
// the number of entries it attempted, so callers (the scheduler's cron job
// or a test) can observe whether the outbox is keeping up.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	entries, err := d.repo.ClaimBatch(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}

	for _, entry := range entries {
		d.dispatchOne(ctx, entry)
	}

	return len(entries), nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, entry *Entry) {
	publisher, ok := d.publishers[entry.Exchange]
	if !ok {
		d.logger.Error().Str("exchange", entry.Exchange).Str("outbox_id", entry.ID).
			Msg("no publisher registered for exchange, dead-lettering")
		_ = d.repo.MarkFailed(ctx, entry.ID, entry.MaxAttempts, entry.MaxAttempts, fmt.Errorf("no publisher for exchange %s", entry.Exchange))
		return
	}

	event, err := messaging.NewEvent(entry.EventType, "hrcore-worker", entry.CorrelationID, entry.Payload)
	if err != nil {
		_ = d.repo.MarkFailed(ctx, entry.ID, entry.Attempts+1, entry.MaxAttempts, err)
		return
	}
	// Preserve the outbox row's own payload bytes rather than the
	// double-marshal NewEvent would otherwise produce.
	event.Data = entry.Payload

	if err := publisher.PublishWithRoutingKey(ctx, entry.EventType, event); err != nil {
		attempts := entry.Attempts + 1
		d.logger.Warn().Err(err).Str("outbox_id", entry.ID).Int("attempts", attempts).Msg("outbox publish failed, will retry")
		_ = d.repo.MarkFailed(ctx, entry.ID, attempts, entry.MaxAttempts, err)
		return
	}

	if err := d.repo.MarkDispatched(ctx, entry.ID); err != nil {
		d.logger.Error().Err(err).Str("outbox_id", entry.ID).Msg("failed to mark outbox entry dispatched")
		return
	}

	// Handlers run as the tenant that wrote the entry.
	hctx := tenant.WithTenantContext(ctx, entry.TenantID, "", "hrcore")
	for _, h := range d.handlers[entry.EventType] {
		if err := h(hctx, event); err != nil {
			d.logger.Error().Err(err).Str("event_type", entry.EventType).Str("outbox_id", entry.ID).
				Msg("in-process outbox handler failed")
		}
	}
}
