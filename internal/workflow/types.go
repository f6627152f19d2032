// Package workflow implements the Workflow Orchestrator: a
// hierarchical goal state machine, LLM-driven decomposition and
// refinement, atomic persistence, and selection of the next
// executable goal, structured around an explicit per-workflow mutex.
package workflow

import "time"

// GoalStatus is the closed set of goal lifecycle states.
type GoalStatus string

const (
	GoalPending    GoalStatus = "pending"
	GoalPlanning   GoalStatus = "planning"
	GoalInProgress GoalStatus = "in-progress"
	GoalCompleted  GoalStatus = "completed"
	GoalFailed     GoalStatus = "failed"
	GoalRefined    GoalStatus = "refined"
)

// ActionKind is the closed set of execution-history entry kinds.
type ActionKind string

const (
	ActionGoalCreated       ActionKind = "goal-created"
	ActionSubGoalsGenerated ActionKind = "sub-goals-generated"
	ActionGoalRefined       ActionKind = "goal-refined"
	ActionTasksPlanned      ActionKind = "tasks-planned"
	ActionTaskCompleted     ActionKind = "task-completed"
	ActionWorkflowCompleted ActionKind = "workflow-completed"
)

// Goal is a node in a workflow's tree. ParentGoalID is nil for the
// root. ChildGoalIDs and ParentGoalID store IDs only, never owning
// references, to break the parent/child cycle for serialization.
type Goal struct {
	ID                   string         `json:"id"`
	Description          string         `json:"description"`
	ParentGoalID         *string        `json:"parent_goal_id,omitempty"`
	ChildGoalIDs         []string       `json:"child_goal_ids"`
	Status               GoalStatus     `json:"status"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	Context              map[string]any `json:"context"`
	SuccessCriteria      []string       `json:"success_criteria"`
	CompletionPercentage float64        `json:"completion_percentage"`
}

// Action is an append-only execution-history entry.
type Action struct {
	Kind         ActionKind `json:"kind"`
	GoalID       string     `json:"goal_id"`
	Timestamp    time.Time  `json:"timestamp"`
	Input        any        `json:"input,omitempty"`
	Output       any        `json:"output,omitempty"`
	LLMReasoning string     `json:"llm_reasoning,omitempty"`
}

// Workflow is the top-level persisted document. CurrentFocusGoalID is empty when no goal is presently focused.
type Workflow struct {
	ID                 string           `json:"id"`
	RootGoalID         string           `json:"root_goal_id"`
	CurrentFocusGoalID string           `json:"current_focus_goal_id,omitempty"`
	Goals              map[string]*Goal `json:"goals"`
	Hierarchy          []string         `json:"hierarchy"`
	History            []Action         `json:"history"`
	SharedContext      map[string]any   `json:"shared_context"`
	CreatedAt          time.Time        `json:"created_at"`
	LastRefinement     *time.Time       `json:"last_refinement,omitempty"`
}

// clone produces a copy of w for use as a persistence snapshot: goals
// are copied by value and the hierarchy, history, child-ID and
// success-criteria slices are copied. Goal Context maps and
// SharedContext are shared with the live workflow, not copied.
func (w *Workflow) clone() *Workflow {
	out := &Workflow{
		ID:                 w.ID,
		RootGoalID:         w.RootGoalID,
		CurrentFocusGoalID: w.CurrentFocusGoalID,
		Goals:              make(map[string]*Goal, len(w.Goals)),
		Hierarchy:          append([]string(nil), w.Hierarchy...),
		History:            append([]Action(nil), w.History...),
		SharedContext:      w.SharedContext,
		CreatedAt:          w.CreatedAt,
		LastRefinement:     w.LastRefinement,
	}
	for id, g := range w.Goals {
		gc := *g
		gc.ChildGoalIDs = append([]string(nil), g.ChildGoalIDs...)
		gc.SuccessCriteria = append([]string(nil), g.SuccessCriteria...)
		out.Goals[id] = &gc
	}
	return out
}

// StatusView is the read-only projection a "display workflow status"
// query returns, suitable for the UI layer.
type StatusView struct {
	WorkflowID    string
	Root          *Goal
	Goals         map[string]*Goal
	CurrentFocus  *Goal
	RecentActions []Action
}

var now = time.Now
