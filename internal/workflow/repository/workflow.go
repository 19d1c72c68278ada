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

// Node is one step in a workflow definition's graph.
type Node struct {
	Code          string `json:"code"`
	Kind          string `json:"kind"` // start, approval, condition, action, notification, end
	ApproverType  string `json:"approver_type,omitempty"` // user, role, expression
	ApproverValue string `json:"approver_value,omitempty"`
	SLAHours      int    `json:"sla_hours,omitempty"`
	EscalationAfterHours int `json:"escalation_after_hours,omitempty"`
	EscalationType  string `json:"escalation_type,omitempty"`
	EscalationValue string `json:"escalation_value,omitempty"`
	AllowParallelApprovals bool   `json:"allow_parallel_approvals,omitempty"`
	RequireAllApprovals    bool   `json:"require_all_approvals,omitempty"`
	Condition              string `json:"condition,omitempty"`
}

// Edge connects two nodes in a workflow definition's graph, optionally
// guarded by an expression evaluated against the instance context.
type Edge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Guard    string `json:"guard,omitempty"`
	Priority int    `json:"priority"`
	Kind     string `json:"kind"` // default, conditional, success, failure
}

// Definition is one version of a named workflow graph.
type Definition struct {
	ID          string         `db:"id" json:"id"`
	Code        string         `db:"code" json:"code"`
	Version     int            `db:"version" json:"version"`
	Name        string         `db:"name" json:"name"`
	SubjectType string         `db:"subject_type" json:"subject_type"`
	Nodes       database.JSONB `db:"nodes" json:"nodes"`
	Edges       database.JSONB `db:"edges" json:"edges"`
	IsActive    bool           `db:"is_active" json:"is_active"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// Instance is a running (or terminated) execution of a workflow definition
// against one subject (e.g. a leave request or a regularization request).
type Instance struct {
	ID           string         `db:"id" json:"id"`
	DefinitionID string         `db:"definition_id" json:"definition_id"`
	SubjectType  string         `db:"subject_type" json:"subject_type"`
	SubjectID    string         `db:"subject_id" json:"subject_id"`
	CurrentNode  string         `db:"current_node" json:"current_node"`
	Status       string         `db:"status" json:"status"` // running, completed, cancelled, rejected, error
	Context      database.JSONB `db:"context" json:"context"`
	VisitCounts  database.JSONB `db:"visit_counts" json:"visit_counts"`
	StartedAt    time.Time      `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt  *time.Time     `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Task is one approval unit within an instance, assigned to a single
// principal (a user, or a role which any member of may act on).
type Task struct {
	ID             string     `db:"id" json:"id"`
	InstanceID     string     `db:"instance_id" json:"instance_id"`
	Node           string     `db:"node" json:"node"`
	AssigneeType   string     `db:"assignee_type" json:"assignee_type"` // user, role
	AssigneeID     string     `db:"assignee_id" json:"assignee_id"`
	Status         string     `db:"status" json:"status"` // open, acted, escalated, expired
	Decision       *string    `db:"decision" json:"decision,omitempty"`
	Comment        *string    `db:"comment" json:"comment,omitempty"`
	DueAt          *time.Time `db:"due_at" json:"due_at,omitempty"`
	EscalatedAt    *time.Time `db:"escalated_at" json:"escalated_at,omitempty"`
	ReminderSentAt *time.Time `db:"reminder_sent_at" json:"reminder_sent_at,omitempty"`
	ActedBy        *string    `db:"acted_by" json:"acted_by,omitempty"`
	ActedAt        *time.Time `db:"acted_at" json:"acted_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// WorkflowRepository handles workflow definition, instance and task
// persistence.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// GetActiveDefinition returns the active version of a named workflow.
func (r *WorkflowRepository) GetActiveDefinition(ctx context.Context, code string) (*Definition, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var def Definition
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, code, version, name, subject_type, nodes, edges, is_active, created_at, updated_at
			FROM workflow_definitions
			WHERE code = $1 AND is_active = TRUE
			ORDER BY version DESC LIMIT 1
		`
		return r.db.GetContext(ctx, &def, query, code)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("workflow_definition")
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// CreateDefinition inserts a new workflow definition version.
func (r *WorkflowRepository) CreateDefinition(ctx context.Context, def *Definition) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	if def.ID == "" {
		def.ID = uuid.New().String()
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO workflow_definitions (id, tenant_id, code, version, name, subject_type, nodes, edges, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at, updated_at
		`
		err := r.db.QueryRowxContext(ctx, query, def.ID, tenantID, def.Code, def.Version, def.Name,
			def.SubjectType, def.Nodes, def.Edges, def.IsActive).Scan(&def.CreatedAt, &def.UpdatedAt)
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	})
}

// GetDefinitionByID fetches a definition by its ID.
func (r *WorkflowRepository) GetDefinitionByID(ctx context.Context, id string) (*Definition, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var def Definition
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, code, version, name, subject_type, nodes, edges, is_active, created_at, updated_at
			FROM workflow_definitions WHERE id = $1
		`
		return r.db.GetContext(ctx, &def, query, id)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("workflow_definition")
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// CreateInstance inserts a new workflow instance.
func (r *WorkflowRepository) CreateInstance(ctx context.Context, inst *Instance) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.Status == "" {
		inst.Status = "running"
	}
	if len(inst.Context) == 0 {
		inst.Context = database.JSONB("{}")
	}
	if len(inst.VisitCounts) == 0 {
		inst.VisitCounts = database.JSONB("{}")
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO workflow_instances (
				id, tenant_id, definition_id, subject_type, subject_id, current_node,
				status, context, visit_counts
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING started_at, created_at, updated_at
		`
		err := r.db.QueryRowxContext(ctx, query, inst.ID, tenantID, inst.DefinitionID, inst.SubjectType,
			inst.SubjectID, inst.CurrentNode, inst.Status, inst.Context, inst.VisitCounts).
			Scan(&inst.StartedAt, &inst.CreatedAt, &inst.UpdatedAt)
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	})
}

// GetInstance locks and returns an instance by ID. The row lock serializes
// concurrent advancement attempts (a task action and a scheduler tick
// racing on the same instance).
func (r *WorkflowRepository) GetInstance(ctx context.Context, id string) (*Instance, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var inst Instance
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, definition_id, subject_type, subject_id, current_node, status,
			       context, visit_counts, started_at, completed_at, cancelled_at, created_at, updated_at
			FROM workflow_instances WHERE id = $1 FOR UPDATE
		`
		return r.db.GetContext(ctx, &inst, query, id)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("workflow_instance")
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// GetInstanceBySubject returns the latest instance bound to a subject.
func (r *WorkflowRepository) GetInstanceBySubject(ctx context.Context, subjectType, subjectID string) (*Instance, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var inst Instance
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, definition_id, subject_type, subject_id, current_node, status,
			       context, visit_counts, started_at, completed_at, cancelled_at, created_at, updated_at
			FROM workflow_instances
			WHERE subject_type = $1 AND subject_id = $2
			ORDER BY started_at DESC LIMIT 1
		`
		return r.db.GetContext(ctx, &inst, query, subjectType, subjectID)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("workflow_instance")
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListRunningInstances returns every running instance, used by the
// scheduler tick to drive reminders/escalations/expiry.
func (r *WorkflowRepository) ListRunningInstances(ctx context.Context) ([]*Instance, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var instances []*Instance
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, definition_id, subject_type, subject_id, current_node, status,
			       context, visit_counts, started_at, completed_at, cancelled_at, created_at, updated_at
			FROM workflow_instances WHERE status = 'running'
		`
		return r.db.SelectContext(ctx, &instances, query)
	})
	return instances, err
}

// UpdateInstance persists an instance's mutable state.
func (r *WorkflowRepository) UpdateInstance(ctx context.Context, inst *Instance) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			UPDATE workflow_instances SET
				current_node = $2, status = $3, context = $4, visit_counts = $5,
				completed_at = $6, cancelled_at = $7, updated_at = NOW()
			WHERE id = $1
		`
		result, err := r.db.ExecContext(ctx, query, inst.ID, inst.CurrentNode, inst.Status,
			inst.Context, inst.VisitCounts, inst.CompletedAt, inst.CancelledAt)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFoundWithKey("workflow_instance")
		}
		return nil
	})
}

// CreateTask inserts a new open task for an instance.
func (r *WorkflowRepository) CreateTask(ctx context.Context, task *Task) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = "open"
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			INSERT INTO workflow_tasks (
				id, tenant_id, instance_id, node, assignee_type, assignee_id, status, due_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at, updated_at
		`
		err := r.db.QueryRowxContext(ctx, query, task.ID, tenantID, task.InstanceID, task.Node,
			task.AssigneeType, task.AssigneeID, task.Status, task.DueAt).Scan(&task.CreatedAt, &task.UpdatedAt)
		if appErr := database.MapPQError(err); appErr != nil {
			return appErr
		}
		return err
	})
}

// GetTask locks and returns a task by ID.
func (r *WorkflowRepository) GetTask(ctx context.Context, id string) (*Task, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var task Task
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, instance_id, node, assignee_type, assignee_id, status, decision, comment,
			       due_at, escalated_at, reminder_sent_at, acted_by, acted_at, created_at, updated_at
			FROM workflow_tasks WHERE id = $1 FOR UPDATE
		`
		return r.db.GetContext(ctx, &task, query, id)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundWithKey("workflow_task")
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListOpenTasksForInstance returns every open task of an instance, whatever
// node it belongs to.
func (r *WorkflowRepository) ListOpenTasksForInstance(ctx context.Context, instanceID string) ([]*Task, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var tasks []*Task
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, instance_id, node, assignee_type, assignee_id, status, decision, comment,
			       due_at, escalated_at, reminder_sent_at, acted_by, acted_at, created_at, updated_at
			FROM workflow_tasks WHERE instance_id = $1 AND status = 'open'
		`
		return r.db.SelectContext(ctx, &tasks, query, instanceID)
	})
	return tasks, err
}

// ListTasksForInstance returns every task ever created for an instance,
// including escalated/expired/acted ones.
func (r *WorkflowRepository) ListTasksForInstance(ctx context.Context, instanceID string) ([]*Task, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var tasks []*Task
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, instance_id, node, assignee_type, assignee_id, status, decision, comment,
			       due_at, escalated_at, reminder_sent_at, acted_by, acted_at, created_at, updated_at
			FROM workflow_tasks WHERE instance_id = $1 ORDER BY created_at
		`
		return r.db.SelectContext(ctx, &tasks, query, instanceID)
	})
	return tasks, err
}

// ListPendingTasksForPrincipal returns open tasks directly assigned to a
// user, or assigned to any role the principal holds.
func (r *WorkflowRepository) ListPendingTasksForPrincipal(ctx context.Context, userID string, roles []string) ([]*Task, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var tasks []*Task
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, instance_id, node, assignee_type, assignee_id, status, decision, comment,
			       due_at, escalated_at, reminder_sent_at, acted_by, acted_at, created_at, updated_at
			FROM workflow_tasks
			WHERE status = 'open' AND (
				(assignee_type = 'user' AND assignee_id = $1) OR
				(assignee_type = 'role' AND assignee_id = ANY($2))
			)
			ORDER BY created_at
		`
		return r.db.SelectContext(ctx, &tasks, query, userID, roles)
	})
	return tasks, err
}

// UpdateTask persists a task's mutable state.
func (r *WorkflowRepository) UpdateTask(ctx context.Context, task *Task) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			UPDATE workflow_tasks SET
				status = $2, decision = $3, comment = $4, escalated_at = $5,
				reminder_sent_at = $6, acted_by = $7, acted_at = $8, updated_at = NOW()
			WHERE id = $1
		`
		result, err := r.db.ExecContext(ctx, query, task.ID, task.Status, task.Decision, task.Comment,
			task.EscalatedAt, task.ReminderSentAt, task.ActedBy, task.ActedAt)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return errors.NotFoundWithKey("workflow_task")
		}
		return nil
	})
}

// ListOpenTasksPastDue returns every open task that has a due_at, whether
// or not it has passed, used by tick to drive reminders/escalations/expiry
// (reminders and escalation can fall before due_at).
func (r *WorkflowRepository) ListOpenTasksPastDue(ctx context.Context) ([]*Task, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var tasks []*Task
	err = r.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		query := `
			SELECT id, instance_id, node, assignee_type, assignee_id, status, decision, comment,
			       due_at, escalated_at, reminder_sent_at, acted_by, acted_at, created_at, updated_at
			FROM workflow_tasks WHERE status = 'open' AND due_at IS NOT NULL
		`
		return r.db.SelectContext(ctx, &tasks, query)
	})
	return tasks, err
}
