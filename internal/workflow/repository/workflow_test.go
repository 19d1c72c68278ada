package repository_test

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrcore/hrcore/internal/workflow/repository"
	"github.com/hrcore/hrcore/pkg/database"
	"github.com/hrcore/hrcore/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		log.Fatalf("failed to create integration suite: %v", err)
	}
	defer suite.Cleanup(ctx)
	defer testutil.TerminateContainer(ctx)

	os.Exit(m.Run())
}

func seedDefinition(t *testing.T, ctx context.Context, repo *repository.WorkflowRepository) *repository.Definition {
	t.Helper()

	def := &repository.Definition{
		Code:        "leave_request_approval",
		Version:     1,
		Name:        "Leave request approval",
		SubjectType: "leave_request",
		Nodes: database.JSONB(`[
			{"code":"begin","kind":"start"},
			{"code":"manager_approval","kind":"approval","approver_type":"role","approver_value":"manager","sla_hours":48,"escalation_after_hours":24,"escalation_type":"role","escalation_value":"hr_manager"},
			{"code":"finish","kind":"end"}
		]`),
		Edges: database.JSONB(`[
			{"from":"begin","to":"manager_approval","priority":0},
			{"from":"manager_approval","to":"finish","guard":"decision == \"approve\"","priority":10},
			{"from":"manager_approval","to":"finish","priority":0}
		]`),
		IsActive: true,
	}
	require.NoError(t, repo.CreateDefinition(ctx, def))
	return def
}

func TestWorkflowRepository_CreateAndGetActiveDefinition(t *testing.T) {
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "test-wf-create-def")
	repo := repository.NewWorkflowRepository(suite.DB)
	tenantCtx := suite.TenantContext(tenant)

	def := seedDefinition(t, tenantCtx, repo)
	assert.NotEmpty(t, def.ID)

	found, err := repo.GetActiveDefinition(tenantCtx, "leave_request_approval")
	require.NoError(t, err)
	assert.Equal(t, def.ID, found.ID)
	assert.True(t, found.IsActive)
}

func TestWorkflowRepository_InstanceLifecycle(t *testing.T) {
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "test-wf-instance")
	repo := repository.NewWorkflowRepository(suite.DB)
	tenantCtx := suite.TenantContext(tenant)

	def := seedDefinition(t, tenantCtx, repo)

	inst := &repository.Instance{
		DefinitionID: def.ID,
		SubjectType:  "leave_request",
		SubjectID:    "11111111-1111-1111-1111-111111111111",
		CurrentNode:  "begin",
		Context:      database.JSONB(`{"employee_id":"e1"}`),
	}
	require.NoError(t, repo.CreateInstance(tenantCtx, inst))
	assert.NotEmpty(t, inst.ID)
	assert.Equal(t, "running", inst.Status)

	fetched, err := repo.GetInstance(tenantCtx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "begin", fetched.CurrentNode)

	bySubject, err := repo.GetInstanceBySubject(tenantCtx, "leave_request", inst.SubjectID)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, bySubject.ID)

	fetched.CurrentNode = "manager_approval"
	require.NoError(t, repo.UpdateInstance(tenantCtx, fetched))

	reloaded, err := repo.GetInstance(tenantCtx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "manager_approval", reloaded.CurrentNode)

	running, err := repo.ListRunningInstances(tenantCtx)
	require.NoError(t, err)
	assert.Len(t, running, 1)
}

func TestWorkflowRepository_TaskLifecycle(t *testing.T) {
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "test-wf-task")
	repo := repository.NewWorkflowRepository(suite.DB)
	tenantCtx := suite.TenantContext(tenant)

	def := seedDefinition(t, tenantCtx, repo)
	inst := &repository.Instance{
		DefinitionID: def.ID,
		SubjectType:  "leave_request",
		SubjectID:    "22222222-2222-2222-2222-222222222222",
		CurrentNode:  "manager_approval",
	}
	require.NoError(t, repo.CreateInstance(tenantCtx, inst))

	dueAt := time.Now().Add(48 * time.Hour)
	task := &repository.Task{
		InstanceID:   inst.ID,
		Node:         "manager_approval",
		AssigneeType: "role",
		AssigneeID:   "manager",
		DueAt:        &dueAt,
	}
	require.NoError(t, repo.CreateTask(tenantCtx, task))
	assert.Equal(t, "open", task.Status)

	open, err := repo.ListOpenTasksForInstance(tenantCtx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	pending, err := repo.ListPendingTasksForPrincipal(tenantCtx, "someone", []string{"manager"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, task.ID, pending[0].ID)

	locked, err := repo.GetTask(tenantCtx, task.ID)
	require.NoError(t, err)

	decision := "approve"
	actor := "u-1"
	now := time.Now()
	locked.Status = "acted"
	locked.Decision = &decision
	locked.ActedBy = &actor
	locked.ActedAt = &now
	require.NoError(t, repo.UpdateTask(tenantCtx, locked))

	all, err := repo.ListTasksForInstance(tenantCtx, inst.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "acted", all[0].Status)

	stillOpen, err := repo.ListOpenTasksForInstance(tenantCtx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, stillOpen, 0)
}

func TestWorkflowRepository_ListOpenTasksPastDue(t *testing.T) {
	ctx := context.Background()
	tenant := suite.SetupTenant(t, ctx, "test-wf-past-due")
	repo := repository.NewWorkflowRepository(suite.DB)
	tenantCtx := suite.TenantContext(tenant)

	def := seedDefinition(t, tenantCtx, repo)
	inst := &repository.Instance{
		DefinitionID: def.ID,
		SubjectType:  "leave_request",
		SubjectID:    "33333333-3333-3333-3333-333333333333",
		CurrentNode:  "manager_approval",
	}
	require.NoError(t, repo.CreateInstance(tenantCtx, inst))

	overdue := time.Now().Add(-time.Hour)
	task := &repository.Task{
		InstanceID:   inst.ID,
		Node:         "manager_approval",
		AssigneeType: "role",
		AssigneeID:   "manager",
		DueAt:        &overdue,
	}
	require.NoError(t, repo.CreateTask(tenantCtx, task))

	pastDue, err := repo.ListOpenTasksPastDue(tenantCtx)
	require.NoError(t, err)
	require.Len(t, pastDue, 1)
	assert.Equal(t, task.ID, pastDue[0].ID)
}
