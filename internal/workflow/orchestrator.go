package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ReOpsIL/cai-sub000/internal/errs"
	"github.com/ReOpsIL/cai-sub000/internal/feedback"
	"github.com/ReOpsIL/cai-sub000/internal/llmgateway"
	"github.com/ReOpsIL/cai-sub000/internal/observability"
	"github.com/ReOpsIL/cai-sub000/internal/taskexec"
	"github.com/ReOpsIL/cai-sub000/internal/toolserver"
)

// highCompletionThreshold gates parent-refinement eligibility: a
// completed goal only triggers a refinement pass on its parent once
// its completion percentage clears this bar.
const highCompletionThreshold = 80.0

// Config bounds the per-goal Task Executor instances the orchestrator
// creates.
type Config struct {
	TaskExec taskexec.Config
}

// entry pairs one workflow's in-memory state with two locks: stateMu
// guards the workflow's fields, persistMu is a dedicated per-workflow
// serialization point that keeps disk writes ordered independently of
// the state lock.
type entry struct {
	stateMu   sync.Mutex
	persistMu sync.Mutex
	workflow  *Workflow
}

// Orchestrator owns the workflow registry, persists to a Store, and
// drives goal decomposition/execution/refinement through the LLM
// Gateway and a fresh Task Executor per goal execution.
type Orchestrator struct {
	cfg         Config
	gateway     *llmgateway.Gateway
	tools       *toolserver.Supervisor
	feedbackMgr *feedback.Manager
	store       *Store
	logger      *slog.Logger
	metrics     *observability.Metrics

	registryMu sync.Mutex
	registry   map[string]*entry
}

// SetMetrics attaches a Prometheus metrics sink. Safe to call once
// after New; nil disables instrumentation.
func (o *Orchestrator) SetMetrics(m *observability.Metrics) {
	o.metrics = m
}

// New constructs an Orchestrator and loads every persisted workflow
// from store into the registry, skipping and logging malformed
// documents rather than failing startup.
func New(cfg Config, gateway *llmgateway.Gateway, tools *toolserver.Supervisor, feedbackMgr *feedback.Manager, store *Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:         cfg,
		gateway:     gateway,
		tools:       tools,
		feedbackMgr: feedbackMgr,
		store:       store,
		logger:      logger,
		registry:    make(map[string]*entry),
	}

	loaded, problems := store.LoadAll()
	for _, err := range problems {
		logger.Warn("skipped malformed workflow document on startup", "error", err)
	}
	for id, wf := range loaded {
		o.registry[id] = &entry{workflow: wf}
	}
	if len(loaded) > 0 {
		logger.Info("loaded workflows from disk", "count", len(loaded))
	}
	return o
}

func (o *Orchestrator) getEntry(workflowID string) (*entry, error) {
	o.registryMu.Lock()
	defer o.registryMu.Unlock()
	e, ok := o.registry[workflowID]
	if !ok {
		return nil, errs.New(errs.WorkflowNotFound, fmt.Sprintf("workflow %q not found", workflowID))
	}
	return e, nil
}

// persist clones the workflow under the state lock's caller-supplied
// snapshot and writes it to disk outside that lock, serialized through
// persistMu.
func (o *Orchestrator) persist(e *entry, snapshot *Workflow) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	if err := o.store.Save(snapshot); err != nil {
		o.logger.Error("failed to persist workflow", "workflow_id", snapshot.ID, "error", err)
	}
}

// StartWorkflow creates a new workflow from a user request, asking the
// LLM Gateway for an initial goal analysis, then immediately plans the
// root goal's sub-goals.
func (o *Orchestrator) StartWorkflow(ctx context.Context, userRequest string) (string, error) {
	analysis, err := o.llmAnalyzeRequestForGoals(ctx, userRequest)
	if err != nil {
		return "", err
	}

	workflowID := uuid.NewString()
	rootGoalID := uuid.NewString()
	ts := now()

	root := &Goal{
		ID:              rootGoalID,
		Description:     analysis.MainGoal,
		Status:          GoalPlanning,
		CreatedAt:       ts,
		UpdatedAt:       ts,
		Context:         map[string]any{"user_request": userRequest},
		SuccessCriteria: analysis.SuccessCriteria,
	}

	wf := &Workflow{
		ID:                 workflowID,
		RootGoalID:         rootGoalID,
		CurrentFocusGoalID: rootGoalID,
		Goals:              map[string]*Goal{rootGoalID: root},
		Hierarchy:          []string{rootGoalID},
		SharedContext:      map[string]any{"original_request": userRequest},
		CreatedAt:          ts,
		History: []Action{{
			Kind:         ActionGoalCreated,
			GoalID:       rootGoalID,
			Timestamp:    ts,
			Input:        map[string]any{"user_request": userRequest},
			Output:       map[string]any{"goal_id": rootGoalID},
			LLMReasoning: analysis.Reasoning,
		}},
	}

	e := &entry{workflow: wf}
	o.registryMu.Lock()
	o.registry[workflowID] = e
	o.registryMu.Unlock()

	o.persist(e, wf.clone())
	o.store.SaveSessionState(workflowID)

	o.logger.Info("started workflow", "workflow_id", workflowID, "root_goal", rootGoalID)

	if err := o.PlanSubGoals(ctx, workflowID, rootGoalID); err != nil {
		return workflowID, err
	}
	return workflowID, nil
}

// PlanSubGoals decomposes goalID into 2-5 pending sub-goals using the
// LLM Gateway, informed by gathered historical feedback context.
func (o *Orchestrator) PlanSubGoals(ctx context.Context, workflowID, goalID string) error {
	e, err := o.getEntry(workflowID)
	if err != nil {
		return err
	}

	e.stateMu.Lock()
	goal, ok := e.workflow.Goals[goalID]
	if !ok {
		e.stateMu.Unlock()
		return errs.New(errs.GoalNotFound, fmt.Sprintf("goal %q not found in workflow %q", goalID, workflowID))
	}
	description := goal.Description
	successCriteria := append([]string(nil), goal.SuccessCriteria...)
	snapshotStatus := goal.Status
	e.stateMu.Unlock()

	historicalContext := o.feedbackMgr.GatherContextForTask(description)

	analysis, err := o.llmCreateSubGoals(ctx, description, map[string]any{"goal": description}, successCriteria, historicalContext)
	if err != nil {
		return err
	}

	e.stateMu.Lock()
	goal, ok = e.workflow.Goals[goalID]
	if !ok || goal.Status != snapshotStatus {
		e.stateMu.Unlock()
		o.logger.Warn("abandoning sub-goal planning: goal changed underneath us", "workflow_id", workflowID, "goal_id", goalID)
		return nil
	}

	ts := now()
	var subGoalIDs []string
	for _, sg := range analysis.SubGoals {
		id := uuid.NewString()
		e.workflow.Goals[id] = &Goal{
			ID:           id,
			Description:  sg.Description,
			ParentGoalID: &goalID,
			Status:       GoalPending,
			CreatedAt:    ts,
			UpdatedAt:    ts,
			Context: map[string]any{
				"priority":             sg.Priority,
				"dependencies":         sg.Dependencies,
				"estimated_complexity": sg.EstimatedComplexity,
			},
			SuccessCriteria: sg.SuccessCriteria,
		}
		e.workflow.Hierarchy = append(e.workflow.Hierarchy, id)
		subGoalIDs = append(subGoalIDs, id)
	}

	goal.ChildGoalIDs = append(goal.ChildGoalIDs, subGoalIDs...)
	goal.Status = GoalInProgress
	goal.UpdatedAt = ts
	o.metrics.ObserveGoalTransition(string(goal.Status))

	e.workflow.History = append(e.workflow.History, Action{
		Kind:         ActionSubGoalsGenerated,
		GoalID:       goalID,
		Timestamp:    ts,
		Input:        map[string]any{"goal_description": description},
		Output:       map[string]any{"sub_goals": subGoalIDs},
		LLMReasoning: analysis.Reasoning,
	})
	snapshot := e.workflow.clone()
	e.stateMu.Unlock()

	o.persist(e, snapshot)

	score := 0.8
	o.feedbackMgr.AddFeedback(
		feedback.KindContextRefinement,
		fmt.Sprintf("Sub-goal planning for: %s", description),
		description,
		fmt.Sprintf("sub_goals=%d", len(subGoalIDs)),
		&score,
	)

	o.logger.Info("planned sub-goals", "workflow_id", workflowID, "goal_id", goalID, "count", len(subGoalIDs))
	return nil
}

// ExecuteNextGoal finds the next ready goal and executes it, or checks workflow completion
// if none remain.
func (o *Orchestrator) ExecuteNextGoal(ctx context.Context, workflowID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "execute_next_goal")
	defer span.End()

	e, err := o.getEntry(workflowID)
	if err != nil {
		return false, err
	}

	e.stateMu.Lock()
	goalID, ready := findReadyGoal(e.workflow)
	e.stateMu.Unlock()

	if !ready {
		o.checkWorkflowCompletion(e)
		return false, nil
	}

	if err := o.executeGoal(ctx, e, goalID); err != nil {
		return true, err
	}
	return true, nil
}

// findReadyGoal returns the first goal, in hierarchy/insertion order,
// whose status is pending or refined and that has no children or
// whose children are all completed.
func findReadyGoal(w *Workflow) (string, bool) {
	for _, id := range w.Hierarchy {
		g, ok := w.Goals[id]
		if !ok {
			continue
		}
		if g.Status != GoalPending && g.Status != GoalRefined {
			continue
		}
		if goalReady(w, g) {
			return id, true
		}
	}
	return "", false
}

func goalReady(w *Workflow, g *Goal) bool {
	if len(g.ChildGoalIDs) == 0 {
		return true
	}
	for _, childID := range g.ChildGoalIDs {
		child, ok := w.Goals[childID]
		if !ok || child.Status != GoalCompleted {
			return false
		}
	}
	return true
}

// executeGoal marks a goal in-progress and focused, plans a flat task
// list via the LLM, runs it through a dedicated Task Executor, decides
// success, records the action, persists, and triggers parent
// refinement on success.
func (o *Orchestrator) executeGoal(ctx context.Context, e *entry, goalID string) error {
	e.stateMu.Lock()
	goal := e.workflow.Goals[goalID]
	goal.Status = GoalInProgress
	goal.UpdatedAt = now()
	e.workflow.CurrentFocusGoalID = goalID
	description := goal.Description
	goalContext := goal.Context
	sharedContext := e.workflow.SharedContext
	e.stateMu.Unlock()

	o.logger.Info("executing goal", "goal_id", goalID, "description", description)

	tasks, err := o.llmPlanTasksForGoal(ctx, description, goalContext, sharedContext)
	if err != nil {
		return err
	}

	e.stateMu.Lock()
	e.workflow.History = append(e.workflow.History, Action{
		Kind:      ActionTasksPlanned,
		GoalID:    goalID,
		Timestamp: now(),
		Input:     map[string]any{"goal_description": description},
		Output:    map[string]any{"tasks": tasks},
	})
	e.stateMu.Unlock()

	executor := taskexec.New(o.cfg.TaskExec, o.tools, o.gateway, o.logger)
	executor.EnqueueTasks(tasks)
	if err := executor.ExecuteAll(ctx); err != nil {
		return err
	}

	snapshots := executor.QueueStatus()
	success := true
	for _, s := range snapshots {
		if s.Status != taskexec.StatusDone {
			success = false
			break
		}
	}
	executor.ClearCompleted()

	e.stateMu.Lock()
	goal = e.workflow.Goals[goalID]
	ts := now()
	if success {
		goal.Status = GoalCompleted
		goal.CompletionPercentage = 100
	} else {
		goal.Status = GoalFailed
		goal.CompletionPercentage = 50
	}
	goal.UpdatedAt = ts
	o.metrics.ObserveGoalTransition(string(goal.Status))

	e.workflow.History = append(e.workflow.History, Action{
		Kind:      ActionTaskCompleted,
		GoalID:    goalID,
		Timestamp: ts,
		Input:     map[string]any{"goal_description": description},
		Output:    map[string]any{"success": success},
	})
	parentID := goal.ParentGoalID
	completionPct := goal.CompletionPercentage
	snapshot := e.workflow.clone()
	e.stateMu.Unlock()

	o.persist(e, snapshot)
	o.store.SaveSessionState(e.workflow.ID)

	resultScore := 0.3
	if success {
		resultScore = 0.9
	}
	o.feedbackMgr.AddFeedback(
		feedback.KindToolResultAnalysis,
		fmt.Sprintf("Task execution for goal: %s", description),
		description,
		fmt.Sprintf("tasks=%d success=%t", len(tasks), success),
		&resultScore,
	)

	o.logger.Info("goal execution finished", "goal_id", goalID, "success", success)

	if success && parentID != nil && completionPct > highCompletionThreshold {
		o.refineGoalBasedOnProgress(ctx, e, *parentID)
	}
	return nil
}

// refineGoalBasedOnProgress gathers a parent's completed children,
// asks the LLM whether more sub-goals are needed, and applies the
// result.
func (o *Orchestrator) refineGoalBasedOnProgress(ctx context.Context, e *entry, goalID string) {
	e.stateMu.Lock()
	goal, ok := e.workflow.Goals[goalID]
	if !ok {
		e.stateMu.Unlock()
		return
	}
	var completedChildren []*Goal
	for _, childID := range goal.ChildGoalIDs {
		if child, ok := e.workflow.Goals[childID]; ok && child.Status == GoalCompleted {
			completedChildren = append(completedChildren, child)
		}
	}
	sharedContext := e.workflow.SharedContext
	snapshotStatus := goal.Status
	goalCopy := *goal
	e.stateMu.Unlock()

	if len(completedChildren) == 0 {
		return
	}

	analysis, err := o.llmRefineGoalBasedOnResults(ctx, &goalCopy, completedChildren, sharedContext)
	if err != nil {
		o.logger.Warn("abandoning goal refinement: llm call failed", "goal_id", goalID, "error", err)
		return
	}

	e.stateMu.Lock()
	goal, ok = e.workflow.Goals[goalID]
	if !ok || goal.Status != snapshotStatus {
		e.stateMu.Unlock()
		o.logger.Warn("abandoning goal refinement: goal changed underneath us", "goal_id", goalID)
		return
	}

	ts := now()
	var newGoalIDs []string
	if analysis.ShouldAddGoals {
		for _, sg := range analysis.NewGoals {
			id := uuid.NewString()
			e.workflow.Goals[id] = &Goal{
				ID:              id,
				Description:     sg.Description,
				ParentGoalID:    &goalID,
				Status:          GoalPending,
				CreatedAt:       ts,
				UpdatedAt:       ts,
				Context:         map[string]any{"generated_from_refinement": true},
				SuccessCriteria: sg.SuccessCriteria,
			}
			e.workflow.Hierarchy = append(e.workflow.Hierarchy, id)
			newGoalIDs = append(newGoalIDs, id)
		}
		goal.ChildGoalIDs = append(goal.ChildGoalIDs, newGoalIDs...)
	}
	// The goal is always marked refined once a refinement pass has run
	// over it, whether or not it gained new children: this is what
	// makes it eligible for re-selection, which is how a
	// parent goal with no further work ever leaves in-progress.
	goal.Status = GoalRefined
	goal.UpdatedAt = ts
	o.metrics.ObserveGoalTransition(string(goal.Status))
	if len(analysis.UpdatedSuccessCriteria) > 0 {
		goal.SuccessCriteria = analysis.UpdatedSuccessCriteria
	}
	e.workflow.LastRefinement = &ts

	e.workflow.History = append(e.workflow.History, Action{
		Kind:         ActionGoalRefined,
		GoalID:       goalID,
		Timestamp:    ts,
		Input:        map[string]any{"completed_sub_goals": len(completedChildren)},
		Output:       map[string]any{"should_add_goals": analysis.ShouldAddGoals},
		LLMReasoning: analysis.Reasoning,
	})
	snapshot := e.workflow.clone()
	e.stateMu.Unlock()

	o.persist(e, snapshot)
	o.logger.Info("goal refinement applied", "goal_id", goalID, "new_sub_goals", len(newGoalIDs))
}

// checkWorkflowCompletion appends a workflow-completed action once
// every goal is completed or failed. Idempotent: a second call after completion is a no-op.
func (o *Orchestrator) checkWorkflowCompletion(e *entry) {
	e.stateMu.Lock()
	allDone := true
	for _, g := range e.workflow.Goals {
		if g.Status != GoalCompleted && g.Status != GoalFailed {
			allDone = false
			break
		}
	}
	alreadyRecorded := len(e.workflow.History) > 0 && e.workflow.History[len(e.workflow.History)-1].Kind == ActionWorkflowCompleted
	if !allDone || alreadyRecorded {
		e.stateMu.Unlock()
		return
	}

	ts := now()
	e.workflow.History = append(e.workflow.History, Action{
		Kind:         ActionWorkflowCompleted,
		GoalID:       e.workflow.RootGoalID,
		Timestamp:    ts,
		Output:       map[string]any{"success": true},
		LLMReasoning: "all goals completed",
	})
	snapshot := e.workflow.clone()
	e.stateMu.Unlock()

	o.persist(e, snapshot)
	o.logger.Info("workflow completed", "workflow_id", e.workflow.ID)
}

// DisplayWorkflowStatus returns a UI-ready snapshot of a workflow:
// root goal, every goal, current focus, and the last three actions.
func (o *Orchestrator) DisplayWorkflowStatus(workflowID string) (StatusView, error) {
	e, err := o.getEntry(workflowID)
	if err != nil {
		return StatusView{}, err
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	view := StatusView{
		WorkflowID: workflowID,
		Root:       e.workflow.Goals[e.workflow.RootGoalID],
		Goals:      e.workflow.Goals,
	}
	if e.workflow.CurrentFocusGoalID != "" {
		view.CurrentFocus = e.workflow.Goals[e.workflow.CurrentFocusGoalID]
	}
	history := e.workflow.History
	start := len(history) - 3
	if start < 0 {
		start = 0
	}
	view.RecentActions = append([]Action(nil), history[start:]...)
	return view, nil
}

// ListActiveWorkflows returns every registered workflow ID, sorted.
func (o *Orchestrator) ListActiveWorkflows() []string {
	o.registryMu.Lock()
	defer o.registryMu.Unlock()
	out := make([]string, 0, len(o.registry))
	for id := range o.registry {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CleanupWorkflow removes a workflow from the registry and deletes its
// persisted file.
func (o *Orchestrator) CleanupWorkflow(workflowID string) error {
	o.registryMu.Lock()
	_, ok := o.registry[workflowID]
	delete(o.registry, workflowID)
	o.registryMu.Unlock()

	if !ok {
		return errs.New(errs.WorkflowNotFound, fmt.Sprintf("workflow %q not found", workflowID))
	}
	if err := o.store.Delete(workflowID); err != nil {
		return err
	}
	o.logger.Info("cleaned up workflow", "workflow_id", workflowID)
	return nil
}
