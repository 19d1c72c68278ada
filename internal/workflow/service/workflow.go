package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hrcore/hrcore/internal/outbox"
	"github.com/hrcore/hrcore/internal/workflow/expr"
	"github.com/hrcore/hrcore/internal/workflow/repository"
	"github.com/hrcore/hrcore/pkg/database"
	"github.com/hrcore/hrcore/pkg/errors"
	"github.com/hrcore/hrcore/pkg/logger"
	"github.com/hrcore/hrcore/pkg/messaging"
	"github.com/hrcore/hrcore/pkg/tenant"
)

// reminderFraction is how far into a task's SLA window a reminder fires,
// expressed as a fraction of sla_hours elapsed since the task was created.
const reminderFraction = 0.9

// Principal identifies the actor driving a ListPendingTasks/Act/Cancel
// call: a user ID plus the role codes that user currently holds. Role
// membership itself is owned by the org module; the workflow engine only
// ever receives the resolved set.
type Principal struct {
	UserID string
	Roles  []string
}

// WorkflowService instantiates and advances workflow instances against a
// stored graph of nodes and edges, routing approval tasks to users or
// roles and driving SLA reminders/escalation on a scheduler tick.
type WorkflowService struct {
	db         *database.DB
	repo       *repository.WorkflowRepository
	outboxRepo *outbox.Repository
	logger     *logger.Logger
}

// NewWorkflowService creates a new workflow service.
func NewWorkflowService(db *database.DB, repo *repository.WorkflowRepository, outboxRepo *outbox.Repository, log *logger.Logger) *WorkflowService {
	return &WorkflowService{db: db, repo: repo, outboxRepo: outboxRepo, logger: log}
}

// graph is a definition's nodes/edges decoded out of JSONB, keyed by node
// code for O(1) lookups during advancement.
type graph struct {
	nodes map[string]repository.Node
	edges map[string][]repository.Edge // keyed by edge.From, pre-sorted by descending priority
}

func decodeGraph(def *repository.Definition) (*graph, error) {
	var nodeList []repository.Node
	if err := json.Unmarshal(def.Nodes, &nodeList); err != nil {
		return nil, fmt.Errorf("workflow: decode nodes: %w", err)
	}
	var edgeList []repository.Edge
	if err := json.Unmarshal(def.Edges, &edgeList); err != nil {
		return nil, fmt.Errorf("workflow: decode edges: %w", err)
	}

	g := &graph{nodes: make(map[string]repository.Node, len(nodeList)), edges: make(map[string][]repository.Edge)}
	for _, n := range nodeList {
		g.nodes[n.Code] = n
	}
	for _, e := range edgeList {
		g.edges[e.From] = append(g.edges[e.From], e)
	}
	for from := range g.edges {
		es := g.edges[from]
		for i := 1; i < len(es); i++ {
			for j := i; j > 0 && es[j].Priority > es[j-1].Priority; j-- {
				es[j], es[j-1] = es[j-1], es[j]
			}
		}
		g.edges[from] = es
	}
	return g, nil
}

func (g *graph) startNode() (*repository.Node, error) {
	for _, n := range g.nodes {
		if n.Kind == "start" {
			return &n, nil
		}
	}
	return nil, fmt.Errorf("workflow: definition has no start node")
}

// selectEdge picks the next edge out of `from` by descending priority: the
// first edge whose guard (if any) evaluates true against context, falling
// back to a guard-less default edge. Returns nil if nothing matches.
func (g *graph) selectEdge(from string, decisionContext map[string]interface{}) (*repository.Edge, error) {
	edges := g.edges[from]
	var fallback *repository.Edge
	for i := range edges {
		e := edges[i]
		if e.Guard == "" {
			if fallback == nil {
				fallback = &e
			}
			continue
		}
		ok, err := expr.EvalBool(e.Guard, decisionContext)
		if err != nil {
			return nil, fmt.Errorf("workflow: evaluating guard %q: %w", e.Guard, err)
		}
		if ok {
			return &e, nil
		}
	}
	return fallback, nil
}

// Instantiate starts a new instance of the active definition for `code`
// against a subject, seeding its context, and advances it until it hits an
// approval node (blocked on human input) or a terminal node.
func (s *WorkflowService) Instantiate(ctx context.Context, code, subjectType, subjectID string, seedContext map[string]interface{}) (*repository.Instance, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var inst *repository.Instance
	err = s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		def, err := s.repo.GetActiveDefinition(ctx, code)
		if err != nil {
			return err
		}
		g, err := decodeGraph(def)
		if err != nil {
			return err
		}
		start, err := g.startNode()
		if err != nil {
			return err
		}

		if seedContext == nil {
			seedContext = map[string]interface{}{}
		}
		ctxJSON, err := json.Marshal(seedContext)
		if err != nil {
			return err
		}

		inst = &repository.Instance{
			DefinitionID: def.ID,
			SubjectType:  subjectType,
			SubjectID:    subjectID,
			CurrentNode:  start.Code,
			Status:       "running",
			Context:      database.JSONB(ctxJSON),
			VisitCounts:  database.JSONB("{}"),
		}
		if err := s.repo.CreateInstance(ctx, inst); err != nil {
			return err
		}

		if err := s.outboxRepo.Enqueue(ctx, "workflow_instance", inst.ID, messaging.ExchangeWorkflowEvents,
			messaging.EventWorkflowInstanceStarted, messaging.WorkflowInstanceStartedEvent{
				InstanceID: inst.ID, DefinitionCode: def.Code, SubjectType: subjectType, SubjectID: subjectID,
			}, inst.ID, 0); err != nil {
			return err
		}

		return s.advance(ctx, inst, def, g, seedContext)
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// advance runs the instance forward from its current node, handling start,
// condition, action and notification nodes automatically, and stopping at
// an approval node (after creating its task(s)) or an end node. The caller
// must already hold the instance row lock within an active transaction.
func (s *WorkflowService) advance(ctx context.Context, inst *repository.Instance, def *repository.Definition, g *graph, evalContext map[string]interface{}) error {
	for {
		node, ok := g.nodes[inst.CurrentNode]
		if !ok {
			inst.Status = "error"
			return s.repo.UpdateInstance(ctx, inst)
		}

		switch node.Kind {
		case "start", "action", "notification":
			edge, err := g.selectEdge(node.Code, evalContext)
			if err != nil || edge == nil {
				inst.Status = "error"
				_ = s.repo.UpdateInstance(ctx, inst)
				if err != nil {
					return err
				}
				return errors.Internal(fmt.Sprintf("workflow: no outgoing edge from node %q", node.Code))
			}
			inst.CurrentNode = edge.To
			if err := s.repo.UpdateInstance(ctx, inst); err != nil {
				return err
			}
			continue

		case "condition":
			edge, err := g.selectEdge(node.Code, evalContext)
			if err != nil {
				return err
			}
			if edge == nil {
				inst.Status = "error"
				return s.repo.UpdateInstance(ctx, inst)
			}
			inst.CurrentNode = edge.To
			if err := s.repo.UpdateInstance(ctx, inst); err != nil {
				return err
			}
			continue

		case "approval":
			return s.createApprovalTasks(ctx, inst, &node)

		case "end":
			now := time.Now()
			inst.Status = "completed"
			inst.CompletedAt = &now
			if err := s.repo.UpdateInstance(ctx, inst); err != nil {
				return err
			}
			return s.outboxRepo.Enqueue(ctx, "workflow_instance", inst.ID, messaging.ExchangeWorkflowEvents,
				messaging.EventWorkflowInstanceCompleted, messaging.WorkflowInstanceCompletedEvent{
					InstanceID: inst.ID, Outcome: node.Code,
				}, inst.ID, 0)

		default:
			return fmt.Errorf("workflow: unknown node kind %q", node.Kind)
		}
	}
}

// createApprovalTasks resolves the approver selector for an approval node
// and opens one task per resolved assignee. A comma-separated selector
// value opens one task per entry, the shape allow_parallel_approvals
// needs; everything else opens a single task.
func (s *WorkflowService) createApprovalTasks(ctx context.Context, inst *repository.Instance, node *repository.Node) error {
	assignees, assigneeType, err := s.resolveApprovers(ctx, inst, node)
	if err != nil {
		inst.Status = "error"
		_ = s.repo.UpdateInstance(ctx, inst)
		return err
	}

	var sla *time.Time
	if node.SLAHours > 0 {
		due := time.Now().Add(time.Duration(node.SLAHours) * time.Hour)
		sla = &due
	}

	for _, assigneeID := range assignees {
		task := &repository.Task{
			InstanceID:   inst.ID,
			Node:         node.Code,
			AssigneeType: assigneeType,
			AssigneeID:   assigneeID,
			Status:       "open",
			DueAt:        sla,
		}
		if err := s.repo.CreateTask(ctx, task); err != nil {
			return err
		}
		if err := s.outboxRepo.Enqueue(ctx, "workflow_task", task.ID, messaging.ExchangeWorkflowEvents,
			messaging.EventWorkflowTaskCreated, messaging.WorkflowTaskCreatedEvent{
				TaskID: task.ID, InstanceID: inst.ID, NodeCode: node.Code,
			}, inst.ID, 0); err != nil {
			return err
		}
	}
	return nil
}

// resolveApprovers turns a node's approver selector into a list of
// assignee IDs and the assignee type tasks should be created with.
func (s *WorkflowService) resolveApprovers(ctx context.Context, inst *repository.Instance, node *repository.Node) ([]string, string, error) {
	switch node.ApproverType {
	case "user":
		return splitNonEmpty(node.ApproverValue), "user", nil
	case "role":
		return splitNonEmpty(node.ApproverValue), "role", nil
	case "expression":
		var evalContext map[string]interface{}
		if err := json.Unmarshal(inst.Context, &evalContext); err != nil {
			return nil, "", err
		}
		resolved, err := expr.EvalString(node.ApproverValue, evalContext)
		if err != nil {
			return nil, "", fmt.Errorf("workflow: resolving approver expression: %w", err)
		}
		if resolved == "" {
			return nil, "", errors.Internal(fmt.Sprintf("workflow: approver expression %q resolved empty", node.ApproverValue))
		}
		return []string{resolved}, "user", nil
	default:
		return nil, "", fmt.Errorf("workflow: unknown approver type %q", node.ApproverType)
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ListPendingTasks returns every open task assigned directly to the
// principal or to any role they hold.
func (s *WorkflowService) ListPendingTasks(ctx context.Context, principal Principal) ([]*repository.Task, error) {
	return s.repo.ListPendingTasksForPrincipal(ctx, principal.UserID, principal.Roles)
}

// Act records a principal's decision on a task and, once the node's
// quorum rule is satisfied, advances the owning instance. Returns whether
// this call caused the instance to advance past the node. Acting again
// with the same decision is a no-op (returns false, nil); acting with a
// different decision once the task is already closed is a conflict.
func (s *WorkflowService) Act(ctx context.Context, taskID string, principal Principal, decision string, comment *string) (bool, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return false, err
	}

	var advanced bool
	err = s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		task, err := s.repo.GetTask(ctx, taskID)
		if err != nil {
			return err
		}

		if !authorizedFor(task, principal) {
			return errors.Forbidden("principal is not the assignee of this task")
		}

		if task.Status != "open" {
			if task.Status == "acted" && task.Decision != nil && *task.Decision == decision && task.ActedBy != nil && *task.ActedBy == principal.UserID {
				return nil
			}
			return errors.Conflict("task is no longer open")
		}

		now := time.Now()
		task.Status = "acted"
		task.Decision = &decision
		task.Comment = comment
		task.ActedBy = &principal.UserID
		task.ActedAt = &now
		if err := s.repo.UpdateTask(ctx, task); err != nil {
			return err
		}
		if err := s.outboxRepo.Enqueue(ctx, "workflow_task", task.ID, messaging.ExchangeWorkflowEvents,
			messaging.EventWorkflowTaskActed, messaging.WorkflowTaskActedEvent{
				TaskID: task.ID, InstanceID: task.InstanceID, ActorID: principal.UserID, Decision: decision,
			}, task.InstanceID, 0); err != nil {
			return err
		}

		inst, err := s.repo.GetInstance(ctx, task.InstanceID)
		if err != nil {
			return err
		}
		if inst.Status != "running" || inst.CurrentNode != task.Node {
			return nil
		}

		def, err := s.repo.GetDefinitionByID(ctx, inst.DefinitionID)
		if err != nil {
			return err
		}
		g, err := decodeGraph(def)
		if err != nil {
			return err
		}
		node, ok := g.nodes[task.Node]
		if !ok {
			return fmt.Errorf("workflow: instance %s references missing node %q", inst.ID, task.Node)
		}

		outcome, ready, err := s.quorumOutcome(ctx, &node, task.InstanceID, decision)
		if err != nil {
			return err
		}
		if !ready {
			return nil
		}

		if err := s.expireSiblingTasks(ctx, task.InstanceID, task.Node, task.ID); err != nil {
			return err
		}

		var evalContext map[string]interface{}
		if err := json.Unmarshal(inst.Context, &evalContext); err != nil {
			return err
		}
		evalContext["decision"] = outcome

		advanced = true
		return s.advance(ctx, inst, def, g, evalContext)
	})
	return advanced, err
}

func authorizedFor(task *repository.Task, principal Principal) bool {
	if task.AssigneeType == "user" {
		return task.AssigneeID == principal.UserID
	}
	for _, r := range principal.Roles {
		if r == task.AssigneeID {
			return true
		}
	}
	return false
}

// quorumOutcome decides whether an approval node is ready to advance and,
// if so, the aggregate decision to advance with. Parallel nodes without
// require_all_approvals advance on the first decisive response; the
// caller is responsible for expiring the remaining open siblings once
// ready. require_all_approvals nodes need every task acted, and any single
// reject short-circuits to a reject outcome.
func (s *WorkflowService) quorumOutcome(ctx context.Context, node *repository.Node, instanceID, latestDecision string) (string, bool, error) {
	if !node.AllowParallelApprovals {
		return latestDecision, true, nil
	}
	if latestDecision == "reject" {
		return "reject", true, nil
	}
	if !node.RequireAllApprovals {
		return latestDecision, true, nil
	}

	open, err := s.repo.ListOpenTasksForInstance(ctx, instanceID)
	if err != nil {
		return "", false, err
	}
	if len(open) > 0 {
		return "", false, nil
	}
	return "approve", true, nil
}

// expireSiblingTasks closes out any tasks still open at a node once its
// quorum has resolved: the losing branch of a first-wins parallel node, or
// tasks left open when a require_all_approvals node short-circuits on a
// reject. The acted task itself is already closed by the caller and is
// skipped here.
func (s *WorkflowService) expireSiblingTasks(ctx context.Context, instanceID, nodeCode, actedTaskID string) error {
	open, err := s.repo.ListOpenTasksForInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	for _, t := range open {
		if t.ID == actedTaskID || t.Node != nodeCode {
			continue
		}
		reason := "quorum already resolved for this node"
		t.Status = "expired"
		t.Comment = &reason
		if err := s.repo.UpdateTask(ctx, t); err != nil {
			return err
		}
		if err := s.outboxRepo.Enqueue(ctx, "workflow_task", t.ID, messaging.ExchangeWorkflowEvents,
			messaging.EventWorkflowTaskExpired, messaging.WorkflowTaskExpiredEvent{
				TaskID: t.ID, InstanceID: instanceID, Reason: reason,
			}, instanceID, 0); err != nil {
			return err
		}
	}
	return nil
}

// Cancel terminates a running instance and closes any of its open tasks.
func (s *WorkflowService) Cancel(ctx context.Context, instanceID string, principal Principal, reason string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		inst, err := s.repo.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if inst.Status != "running" {
			return errors.Conflict("only a running workflow instance can be cancelled")
		}

		open, err := s.repo.ListOpenTasksForInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		for _, task := range open {
			task.Status = "expired"
			if err := s.repo.UpdateTask(ctx, task); err != nil {
				return err
			}
		}

		now := time.Now()
		inst.Status = "cancelled"
		inst.CancelledAt = &now
		if err := s.repo.UpdateInstance(ctx, inst); err != nil {
			return err
		}

		return s.outboxRepo.Enqueue(ctx, "workflow_instance", inst.ID, messaging.ExchangeWorkflowEvents,
			messaging.EventWorkflowInstanceCancelled, messaging.WorkflowInstanceCancelledEvent{
				InstanceID: inst.ID, CancelledBy: principal.UserID,
			}, inst.ID, 0)
	})
}

// Tick drives every open task's SLA clock forward: a reminder flag once
// reminderFraction of the SLA window has elapsed, an escalation to the
// node's configured escalation target once escalation_after_hours have
// elapsed since the task was created, and a hard expiry (with instance
// rejection on require_all_approvals nodes) once sla_hours+
// escalation_after_hours have elapsed with no action. Meant to be called
// periodically by a scheduler loop.
func (s *WorkflowService) Tick(ctx context.Context, now time.Time) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return s.db.WithTenantRLS(ctx, tenantID, func(ctx context.Context) error {
		tasks, err := s.repo.ListOpenTasksPastDue(ctx)
		if err != nil {
			return err
		}

		for _, task := range tasks {
			if err := s.tickTask(ctx, task, now); err != nil {
				s.logger.Error().Err(err).Str("task_id", task.ID).Msg("workflow tick failed for task")
			}
		}
		return nil
	})
}

func (s *WorkflowService) tickTask(ctx context.Context, task *repository.Task, now time.Time) error {
	inst, err := s.repo.GetInstance(ctx, task.InstanceID)
	if err != nil {
		return err
	}
	if inst.Status != "running" {
		return nil
	}
	def, err := s.repo.GetDefinitionByID(ctx, inst.DefinitionID)
	if err != nil {
		return err
	}
	g, err := decodeGraph(def)
	if err != nil {
		return err
	}
	node, ok := g.nodes[task.Node]
	if !ok || task.DueAt == nil {
		return nil
	}

	slaWindow := task.DueAt.Sub(task.CreatedAt)
	reminderAt := task.CreatedAt.Add(time.Duration(float64(slaWindow) * reminderFraction))
	if task.ReminderSentAt == nil && !now.Before(reminderAt) {
		task.ReminderSentAt = &now
		if err := s.repo.UpdateTask(ctx, task); err != nil {
			return err
		}
	}

	if node.EscalationAfterHours > 0 && task.EscalatedAt == nil {
		escalateAt := task.CreatedAt.Add(time.Duration(node.EscalationAfterHours) * time.Hour)
		if !now.Before(escalateAt) {
			return s.escalateTask(ctx, task, &node, inst)
		}
	}

	expireAt := task.DueAt.Add(time.Duration(node.EscalationAfterHours) * time.Hour)
	if !now.Before(expireAt) {
		return s.expireOverdueTask(ctx, task, &node, inst)
	}
	return nil
}

// expireOverdueTask closes a task that has sat unacted past its hard
// sla_hours+escalation_after_hours deadline. A require_all_approvals node
// can never reach quorum with a vote missing, so the instance is rejected
// with cause sla_expired; otherwise the node keeps waiting on whatever
// tasks remain open.
func (s *WorkflowService) expireOverdueTask(ctx context.Context, task *repository.Task, node *repository.Node, inst *repository.Instance) error {
	task.Status = "expired"
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return err
	}
	if err := s.outboxRepo.Enqueue(ctx, "workflow_task", task.ID, messaging.ExchangeWorkflowEvents,
		messaging.EventWorkflowTaskExpired, messaging.WorkflowTaskExpiredEvent{
			TaskID: task.ID, InstanceID: task.InstanceID, Reason: "sla_expired",
		}, task.InstanceID, 0); err != nil {
		return err
	}

	if !node.RequireAllApprovals {
		return nil
	}

	rejectedAt := time.Now()
	inst.Status = "rejected"
	inst.CompletedAt = &rejectedAt
	if err := s.repo.UpdateInstance(ctx, inst); err != nil {
		return err
	}
	return s.outboxRepo.Enqueue(ctx, "workflow_instance", inst.ID, messaging.ExchangeWorkflowEvents,
		messaging.EventWorkflowInstanceRejected, messaging.WorkflowInstanceRejectedEvent{
			InstanceID: inst.ID, Cause: "sla_expired",
		}, inst.ID, 0)
}

// escalateTask closes the overdue task and opens a replacement assigned to
// the node's escalation target, or to the overdue task's own assignee if no
// escalation target is configured.
func (s *WorkflowService) escalateTask(ctx context.Context, task *repository.Task, node *repository.Node, inst *repository.Instance) error {
	escalatedTo := node.EscalationValue
	escalatedType := node.EscalationType
	if escalatedType == "" {
		escalatedType = task.AssigneeType
		escalatedTo = task.AssigneeID
	}

	escalatedAt := time.Now()
	task.Status = "escalated"
	task.EscalatedAt = &escalatedAt
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return err
	}
	if err := s.outboxRepo.Enqueue(ctx, "workflow_task", task.ID, messaging.ExchangeWorkflowEvents,
		messaging.EventWorkflowTaskEscalated, messaging.WorkflowTaskEscalatedEvent{
			TaskID: task.ID, InstanceID: task.InstanceID, EscalatedTo: escalatedTo,
		}, task.InstanceID, 0); err != nil {
		return err
	}

	var due *time.Time
	if node.SLAHours > 0 {
		d := time.Now().Add(time.Duration(node.SLAHours) * time.Hour)
		due = &d
	}
	replacement := &repository.Task{
		InstanceID:   inst.ID,
		Node:         task.Node,
		AssigneeType: escalatedType,
		AssigneeID:   escalatedTo,
		Status:       "open",
		DueAt:        due,
	}
	if err := s.repo.CreateTask(ctx, replacement); err != nil {
		return err
	}
	return s.outboxRepo.Enqueue(ctx, "workflow_task", replacement.ID, messaging.ExchangeWorkflowEvents,
		messaging.EventWorkflowTaskCreated, messaging.WorkflowTaskCreatedEvent{
			TaskID: replacement.ID, InstanceID: inst.ID, NodeCode: task.Node,
		}, inst.ID, 0)
}
