package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hrcore/hrcore/pkg/database"
	"github.com/hrcore/hrcore/pkg/tenant"
)

// Status values for an outbox entry's lifecycle.
const (
	StatusPending    = "pending"
	StatusDispatched = "dispatched"
	StatusFailed     = "failed"
	StatusDeadLetter = "dead_letter"
)

// Entry is a single row in the transactional outbox. It is written in the
// same database transaction as the aggregate mutation that caused it
// (services call Repository.Enqueue from inside the same
// database.WithTenantRLS closure as their own repository write), which is
// what makes delivery at-least-once instead of best-effort.
type Entry struct {
	ID            string          `db:"id" json:"id"`
	TenantID      string          `db:"tenant_id" json:"tenant_id"`
	AggregateType string          `db:"aggregate_type" json:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id" json:"aggregate_id"`
	Exchange      string          `db:"exchange" json:"exchange"`
	EventType     string          `db:"event_type" json:"event_type"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	CorrelationID string          `db:"correlation_id" json:"correlation_id"`
	Status        string          `db:"status" json:"status"`
	Attempts      int             `db:"attempts" json:"attempts"`
	MaxAttempts   int             `db:"max_attempts" json:"max_attempts"`
	NextAttemptAt time.Time       `db:"next_attempt_at" json:"next_attempt_at"`
	LastError     *string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	DispatchedAt  *time.Time      `db:"dispatched_at" json:"dispatched_at,omitempty"`
}

// Repository persists outbox entries and lets the dispatcher claim and
// resolve them.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new outbox repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Enqueue inserts a new outbox entry. Call this from within the same
// database.WithTenantRLS transaction as the aggregate write it records —
// that is the entire transactional-outbox guarantee.
func (r *Repository) Enqueue(ctx context.Context, aggregateType, aggregateID, exchange, eventType string, payload interface{}, correlationID string, maxAttempts int) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	query := `
		INSERT INTO event_outbox (
			id, tenant_id, aggregate_type, aggregate_id, exchange, event_type,
			payload, correlation_id, status, attempts, max_attempts, next_attempt_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, NOW()
		)
	`
	_, err = r.db.ExecContext(ctx, query,
		uuid.New().String(), tenantID, aggregateType, aggregateID, exchange, eventType,
		body, correlationID, StatusPending, maxAttempts,
	)
	return err
}

// ClaimBatch locks up to limit pending/retry-ready entries for dispatch,
// ordered by creation time so per-aggregate ordering is preserved as long
// as a single dispatcher processes the batch sequentially (spec.md §9
// "preserve per-aggregate ordering"). The query runs outside a transaction,
// so its FOR UPDATE SKIP LOCKED row locks are released when the statement
// ends; two dispatchers running at once can claim the same row.
func (r *Repository) ClaimBatch(ctx context.Context, limit int) ([]*Entry, error) {
	var entries []*Entry
	query := `
		SELECT id, tenant_id, aggregate_type, aggregate_id, exchange, event_type,
		       payload, correlation_id, status, attempts, max_attempts, next_attempt_at,
		       last_error, created_at, dispatched_at
		FROM event_outbox
		WHERE status IN ('pending', 'failed') AND next_attempt_at <= NOW()
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	// This query spans tenants by design: the dispatcher is a single
	// cross-tenant process, so it runs outside WithTenantRLS.
	if err := r.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkDispatched marks an entry as successfully published.
func (r *Repository) MarkDispatched(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE event_outbox SET status = $2, dispatched_at = NOW() WHERE id = $1
	`, id, StatusDispatched)
	return err
}

// MarkFailed records a failed publish attempt and schedules the next retry
// with exponential backoff, or moves the entry to the dead_letter terminal
// state once max_attempts is exhausted.
func (r *Repository) MarkFailed(ctx context.Context, id string, attempts, maxAttempts int, cause error) error {
	status := StatusFailed
	var nextAttempt time.Time
	if attempts >= maxAttempts {
		status = StatusDeadLetter
		nextAttempt = time.Now()
	} else {
		nextAttempt = time.Now().Add(backoff(attempts))
	}

	msg := cause.Error()
	_, err := r.db.ExecContext(ctx, `
		UPDATE event_outbox
		SET status = $2, attempts = $3, next_attempt_at = $4, last_error = $5
		WHERE id = $1
	`, id, status, attempts, nextAttempt, msg)
	return err
}

// backoff returns 2^(attempts-1) minutes. With the default of five attempts
// the waits after failures one to four are 1, 2, 4 and 8 minutes; the fifth
// failure moves the entry to the dead letter terminal state instead.
func backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(1<<uint(attempts-1)) * time.Minute
}

// CountByStatus reports how many entries sit in each status, used by
// operational health checks and tests.
func (r *Repository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM event_outbox WHERE status = $1`, status)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}
