package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ReOpsIL/cai-sub000/internal/errs"
	"github.com/ReOpsIL/cai-sub000/internal/feedback"
	"github.com/ReOpsIL/cai-sub000/internal/llmgateway"
	"github.com/ReOpsIL/cai-sub000/internal/taskexec"
	"github.com/ReOpsIL/cai-sub000/internal/toolserver"
)

// scriptedLLM serves a fixed sequence of chat-completion contents in
// order, repeating the last one if more calls arrive than scripted.
func scriptedLLM(t *testing.T, contents []string) *httptest.Server {
	t.Helper()
	var calls atomic.Int64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := calls.Add(1) - 1
		content := contents[len(contents)-1]
		if int(i) < len(contents) {
			content = contents[i]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
}

func newTestOrchestrator(t *testing.T, gatewayURL string) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	gw := llmgateway.New(gatewayURL, "key", "test-model", time.Second, 1, 0.5, 500)
	supervisor := toolserver.New(time.Second, nil)
	fbMgr := feedback.New(100, gw, nil)

	cfg := Config{TaskExec: taskexec.Config{SelectionTimeout: 100 * time.Millisecond, ToolCallTimeout: 100 * time.Millisecond}}
	return New(cfg, gw, supervisor, fbMgr, store, nil)
}

func TestWorkflow_EmptyToolSetScenario(t *testing.T) {
	initialAnalysis := `{"main_goal":"List project files","success_criteria":["files enumerated"],"estimated_complexity":"simple","reasoning":"straightforward"}`
	subGoals := `{"sub_goals":[{"description":"Enumerate top-level files","priority":1,"dependencies":[],"success_criteria":["listed"],"estimated_complexity":"simple"},{"description":"Enumerate nested files","priority":2,"dependencies":[],"success_criteria":["listed"],"estimated_complexity":"simple"}],"reasoning":"split by depth","execution_strategy":"sequential"}`
	taskPlanA := "1. List files in the top-level directory\n2. Record the results"
	refineAfterA := `{"should_add_goals":false,"new_goals":[],"updated_success_criteria":[],"reasoning":"sufficient"}`
	taskPlanB := "1. List files in nested directories"
	refineAfterB := `{"should_add_goals":false,"new_goals":[],"updated_success_criteria":[],"reasoning":"sufficient"}`
	taskPlanRoot := "1. Summarize the full file listing"

	srv := scriptedLLM(t, []string{initialAnalysis, subGoals, taskPlanA, refineAfterA, taskPlanB, refineAfterB, taskPlanRoot})
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL)
	ctx := context.Background()

	workflowID, err := o.StartWorkflow(ctx, "List project files")
	require.NoError(t, err)

	view, err := o.DisplayWorkflowStatus(workflowID)
	require.NoError(t, err)
	require.NotNil(t, view.Root)
	assert.Equal(t, GoalInProgress, view.Root.Status)
	require.Len(t, view.Root.ChildGoalIDs, 2)

	// Drive execution until the workflow reports no more ready goals.
	var executed int
	for {
		more, err := o.ExecuteNextGoal(ctx, workflowID)
		require.NoError(t, err)
		if !more {
			break
		}
		executed++
		require.Less(t, executed, 10, "executing more goals than the scripted scenario expects")
	}

	view, err = o.DisplayWorkflowStatus(workflowID)
	require.NoError(t, err)

	for id, g := range view.Goals {
		assert.Contains(t, []GoalStatus{GoalCompleted, GoalFailed}, g.Status, "goal %s left in non-terminal status %s", id, g.Status)
	}
	assert.Equal(t, ActionWorkflowCompleted, view.RecentActions[len(view.RecentActions)-1].Kind)
}

func TestWorkflow_RefinementExpansionAndCrashRecovery(t *testing.T) {
	initialAnalysis := `{"main_goal":"Build the report","success_criteria":["report exists"],"estimated_complexity":"moderate","reasoning":"r"}`
	subGoals := `{"sub_goals":[{"description":"Gather data","priority":1,"dependencies":[],"success_criteria":["data gathered"],"estimated_complexity":"simple"},{"description":"Draft the report","priority":2,"dependencies":[],"success_criteria":["draft exists"],"estimated_complexity":"simple"}],"reasoning":"r","execution_strategy":"sequential"}`
	taskPlanA := "1. Collect the input data"
	refineAddC := `{"should_add_goals":true,"new_goals":[{"description":"Review the report","priority":3,"dependencies":[],"success_criteria":["reviewed"],"estimated_complexity":"simple"}],"updated_success_criteria":["report exists","report reviewed"],"reasoning":"a review pass is missing"}`
	taskPlan := "1. Do the remaining work"
	refineNoMore := `{"should_add_goals":false,"new_goals":[],"updated_success_criteria":[],"reasoning":"sufficient"}`

	srv := scriptedLLM(t, []string{
		initialAnalysis, subGoals,
		taskPlanA, refineAddC,
		taskPlan, refineNoMore, // goal B
		taskPlan, refineNoMore, // goal C
		taskPlan, // root re-execution
	})
	defer srv.Close()

	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	gw := llmgateway.New(srv.URL, "key", "test-model", time.Second, 1, 0.5, 500)
	cfg := Config{TaskExec: taskexec.Config{SelectionTimeout: 100 * time.Millisecond, ToolCallTimeout: 100 * time.Millisecond}}
	o := New(cfg, gw, toolserver.New(time.Second, nil), feedback.New(100, gw, nil), store, nil)
	ctx := context.Background()

	workflowID, err := o.StartWorkflow(ctx, "Build the report")
	require.NoError(t, err)

	// Goal A executes, completes at 100%, and its completion triggers a
	// refinement pass over the root that adds goal C and replaces the
	// root's success criteria.
	more, err := o.ExecuteNextGoal(ctx, workflowID)
	require.NoError(t, err)
	require.True(t, more)

	view, err := o.DisplayWorkflowStatus(workflowID)
	require.NoError(t, err)
	root := view.Root
	assert.Equal(t, GoalRefined, root.Status)
	require.Len(t, root.ChildGoalIDs, 3)
	assert.Equal(t, []string{"report exists", "report reviewed"}, root.SuccessCriteria)

	var sawRefined bool
	for _, act := range view.RecentActions {
		if act.Kind == ActionGoalRefined {
			sawRefined = true
		}
	}
	assert.True(t, sawRefined, "expected a goal-refined action in recent history")

	newChildID := root.ChildGoalIDs[2]
	assert.Equal(t, GoalPending, view.Goals[newChildID].Status)

	// Simulate a process restart: a fresh orchestrator over the same
	// store sees the identical tree and resumes from goal B.
	o2 := New(cfg, gw, toolserver.New(time.Second, nil), feedback.New(100, gw, nil), store, nil)
	view2, err := o2.DisplayWorkflowStatus(workflowID)
	require.NoError(t, err)
	assert.Equal(t, GoalRefined, view2.Root.Status)
	require.Len(t, view2.Root.ChildGoalIDs, 3)
	assert.Equal(t, GoalCompleted, view2.Goals[view2.Root.ChildGoalIDs[0]].Status)
	assert.Equal(t, GoalPending, view2.Goals[view2.Root.ChildGoalIDs[1]].Status)
	assert.Equal(t, GoalPending, view2.Goals[view2.Root.ChildGoalIDs[2]].Status)

	var executed int
	for {
		more, err := o2.ExecuteNextGoal(ctx, workflowID)
		require.NoError(t, err)
		if !more {
			break
		}
		executed++
		require.Less(t, executed, 10)
	}

	final, err := o2.DisplayWorkflowStatus(workflowID)
	require.NoError(t, err)
	for id, g := range final.Goals {
		assert.Equal(t, GoalCompleted, g.Status, "goal %s", id)
	}
	assert.Equal(t, ActionWorkflowCompleted, final.RecentActions[len(final.RecentActions)-1].Kind)
}

func TestWorkflow_PlanSubGoals_UnknownWorkflow(t *testing.T) {
	srv := scriptedLLM(t, []string{`{}`})
	defer srv.Close()
	o := newTestOrchestrator(t, srv.URL)

	err := o.PlanSubGoals(context.Background(), "missing-workflow", "missing-goal")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.WorkflowNotFound))
}

func TestWorkflow_ExecuteNextGoal_UnknownWorkflow(t *testing.T) {
	srv := scriptedLLM(t, []string{`{}`})
	defer srv.Close()
	o := newTestOrchestrator(t, srv.URL)

	_, err := o.ExecuteNextGoal(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.WorkflowNotFound))
}

func TestWorkflow_PersistenceRoundTrip(t *testing.T) {
	initialAnalysis := `{"main_goal":"Read the README","success_criteria":["read"],"estimated_complexity":"simple","reasoning":"r"}`
	subGoals := `{"sub_goals":[{"description":"Open the file","priority":1,"dependencies":[],"success_criteria":["opened"],"estimated_complexity":"simple"}],"reasoning":"r","execution_strategy":"s"}`

	srv := scriptedLLM(t, []string{initialAnalysis, subGoals})
	defer srv.Close()

	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	gw := llmgateway.New(srv.URL, "key", "test-model", time.Second, 1, 0.5, 500)
	supervisor := toolserver.New(time.Second, nil)
	fbMgr := feedback.New(100, gw, nil)
	cfg := Config{TaskExec: taskexec.Config{SelectionTimeout: 100 * time.Millisecond, ToolCallTimeout: 100 * time.Millisecond}}
	o := New(cfg, gw, supervisor, fbMgr, store, nil)

	workflowID, err := o.StartWorkflow(context.Background(), "Read the README")
	require.NoError(t, err)

	reloaded, err := store.Load(workflowID)
	require.NoError(t, err)
	assert.Equal(t, workflowID, reloaded.ID)
	assert.Len(t, reloaded.Goals, 2)
	require.NotEmpty(t, reloaded.Hierarchy)
	assert.Equal(t, reloaded.Hierarchy[0], reloaded.RootGoalID)
	assert.Nil(t, reloaded.Goals[reloaded.RootGoalID].ParentGoalID)

	// A fresh Orchestrator loads the same workflow back from disk.
	o2 := New(cfg, gw, supervisor, fbMgr, store, nil)
	ids := o2.ListActiveWorkflows()
	assert.Contains(t, ids, workflowID)

	require.NoError(t, o2.CleanupWorkflow(workflowID))
	_, err = store.Load(workflowID)
	assert.Error(t, err)
}
