package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrcore/hrcore/internal/workflow/repository"
)

func buildGraph(t *testing.T, nodesJSON, edgesJSON string) *graph {
	t.Helper()
	def := &repository.Definition{Nodes: []byte(nodesJSON), Edges: []byte(edgesJSON)}
	g, err := decodeGraph(def)
	require.NoError(t, err)
	return g
}

func TestSelectEdge_GuardMatchWinsOverDefault(t *testing.T) {
	g := buildGraph(t,
		`[{"code":"cond","kind":"condition"},{"code":"a","kind":"end"},{"code":"b","kind":"end"}]`,
		`[
			{"from":"cond","to":"a","guard":"amount > 1000","priority":10},
			{"from":"cond","to":"b","priority":0}
		]`)

	edge, err := g.selectEdge("cond", map[string]interface{}{"amount": 1500})
	require.NoError(t, err)
	require.NotNil(t, edge)
	assert.Equal(t, "a", edge.To)
}

func TestSelectEdge_FallsBackToDefault(t *testing.T) {
	g := buildGraph(t,
		`[{"code":"cond","kind":"condition"},{"code":"a","kind":"end"},{"code":"b","kind":"end"}]`,
		`[
			{"from":"cond","to":"a","guard":"amount > 1000","priority":10},
			{"from":"cond","to":"b","priority":0}
		]`)

	edge, err := g.selectEdge("cond", map[string]interface{}{"amount": 100})
	require.NoError(t, err)
	require.NotNil(t, edge)
	assert.Equal(t, "b", edge.To)
}

func TestSelectEdge_NoMatchNoDefaultReturnsNil(t *testing.T) {
	g := buildGraph(t,
		`[{"code":"cond","kind":"condition"},{"code":"a","kind":"end"}]`,
		`[{"from":"cond","to":"a","guard":"amount > 1000","priority":10}]`)

	edge, err := g.selectEdge("cond", map[string]interface{}{"amount": 1})
	require.NoError(t, err)
	assert.Nil(t, edge)
}

func TestStartNode_FindsStart(t *testing.T) {
	g := buildGraph(t,
		`[{"code":"begin","kind":"start"},{"code":"finish","kind":"end"}]`,
		`[{"from":"begin","to":"finish","priority":0}]`)

	start, err := g.startNode()
	require.NoError(t, err)
	assert.Equal(t, "begin", start.Code)
}

func TestQuorumOutcome_SingleApproverAdvancesImmediately(t *testing.T) {
	s := &WorkflowService{}
	node := &repository.Node{AllowParallelApprovals: false}

	outcome, ready, err := s.quorumOutcome(nil, node, "inst-1", "approve")
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, "approve", outcome)
}

func TestQuorumOutcome_ParallelFirstResponseWinsWithoutRequireAll(t *testing.T) {
	s := &WorkflowService{}
	node := &repository.Node{AllowParallelApprovals: true, RequireAllApprovals: false}

	outcome, ready, err := s.quorumOutcome(nil, node, "inst-1", "reject")
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, "reject", outcome)
}

func TestQuorumOutcome_RequireAllShortCircuitsOnReject(t *testing.T) {
	s := &WorkflowService{}
	node := &repository.Node{AllowParallelApprovals: true, RequireAllApprovals: true}

	outcome, ready, err := s.quorumOutcome(nil, node, "inst-1", "reject")
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, "reject", outcome)
}

func TestSplitNonEmpty(t *testing.T) {
	assert.Equal(t, []string{"u1", "u2"}, splitNonEmpty("u1, u2"))
	assert.Nil(t, splitNonEmpty(""))
}

func TestAuthorizedFor_UserAndRole(t *testing.T) {
	userTask := &repository.Task{AssigneeType: "user", AssigneeID: "u1"}
	assert.True(t, authorizedFor(userTask, Principal{UserID: "u1"}))
	assert.False(t, authorizedFor(userTask, Principal{UserID: "u2"}))

	roleTask := &repository.Task{AssigneeType: "role", AssigneeID: "hr_manager"}
	assert.True(t, authorizedFor(roleTask, Principal{UserID: "u1", Roles: []string{"hr_manager"}}))
	assert.False(t, authorizedFor(roleTask, Principal{UserID: "u1", Roles: []string{"employee"}}))
}
