package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ReOpsIL/cai-sub000/internal/llmgateway"
	"github.com/ReOpsIL/cai-sub000/internal/observability"
)

var tracer = observability.GetTracer("workflow")

// initialGoalAnalysis is the structured response to "analyze this
// request and propose a root goal".
type initialGoalAnalysis struct {
	MainGoal            string   `json:"main_goal"`
	SuccessCriteria     []string `json:"success_criteria"`
	EstimatedComplexity string   `json:"estimated_complexity"`
	Reasoning           string   `json:"reasoning"`
}

// subGoalDescription is one proposed sub-goal, used both by initial
// sub-goal planning and by parent refinement.
type subGoalDescription struct {
	Description         string   `json:"description"`
	Priority            int      `json:"priority"`
	Dependencies        []string `json:"dependencies"`
	SuccessCriteria     []string `json:"success_criteria"`
	EstimatedComplexity string   `json:"estimated_complexity"`
}

type subGoalAnalysis struct {
	SubGoals          []subGoalDescription `json:"sub_goals"`
	Reasoning         string               `json:"reasoning"`
	ExecutionStrategy string               `json:"execution_strategy"`
}

type goalRefinementAnalysis struct {
	ShouldAddGoals         bool                 `json:"should_add_goals"`
	NewGoals               []subGoalDescription `json:"new_goals"`
	UpdatedSuccessCriteria []string             `json:"updated_success_criteria"`
	Reasoning              string               `json:"reasoning"`
}

// llmAnalyzeRequestForGoals asks the LLM to produce the initial goal
// analysis for a brand-new workflow.
func (o *Orchestrator) llmAnalyzeRequestForGoals(ctx context.Context, userRequest string) (initialGoalAnalysis, error) {
	ctx, span := tracer.Start(ctx, "llm.analyze_request_for_goals")
	defer span.End()

	prompt := fmt.Sprintf(`You are an intelligent workflow planner. Analyze the user request and create a comprehensive goal structure.

## User Request
%s

## Analysis Framework
1. Main Goal: the primary objective the user wants to achieve
2. Success Criteria: how we know this is successfully completed
3. Complexity Assessment: simple, moderate, or complex

## Response Format
Respond with ONLY a valid JSON object:

{"main_goal": "...", "success_criteria": ["..."], "estimated_complexity": "simple|moderate|complex", "reasoning": "..."}`, userRequest)

	var out initialGoalAnalysis
	err := o.gateway.ChatCompletionJSON(ctx, []llmgateway.Message{{Role: "user", Content: prompt}}, &out)
	return out, err
}

// llmCreateSubGoals decomposes a goal into 2-5 sub-goals, informed by
// historical feedback context.
func (o *Orchestrator) llmCreateSubGoals(ctx context.Context, goalDescription string, goalContext map[string]any, successCriteria []string, historicalContext string) (subGoalAnalysis, error) {
	ctx, span := tracer.Start(ctx, "llm.create_sub_goals")
	defer span.End()

	contextJSON, _ := json.MarshalIndent(goalContext, "", " ")

	prompt := fmt.Sprintf(`You are breaking down a complex goal into actionable sub-goals. Use context and historical learnings to create an effective plan.

## Parent Goal
%s

## Success Criteria
%s

## Context
%s

## Historical Insights
%s

## Sub-Goal Planning Guidelines
1. Decomposition: break the goal into 2-5 logical sub-goals
2. Dependencies: consider what must be done before other things
3. Actionability: each sub-goal should be concrete and executable
4. Priority: order by importance and logical sequence
5. Measurability: include clear success criteria for each sub-goal

## Response Format
Respond with ONLY a valid JSON object:

{"sub_goals": [{"description": "...", "priority": 1, "dependencies": [], "success_criteria": ["..."], "estimated_complexity": "simple|moderate|complex"}], "reasoning": "...", "execution_strategy": "..."}`,
		goalDescription, strings.Join(successCriteria, ", "), string(contextJSON), historicalContext)

	var out subGoalAnalysis
	err := o.gateway.ChatCompletionJSON(ctx, []llmgateway.Message{{Role: "user", Content: prompt}}, &out)
	return out, err
}

// llmPlanTasksForGoal asks the LLM for a flat, ordered task list for a
// goal. The response is parsed as a numbered list, not JSON.
func (o *Orchestrator) llmPlanTasksForGoal(ctx context.Context, goalDescription string, goalContext, sharedContext map[string]any) ([]string, error) {
	ctx, span := tracer.Start(ctx, "llm.plan_tasks_for_goal")
	defer span.End()

	goalContextJSON, _ := json.MarshalIndent(goalContext, "", " ")
	sharedContextJSON, _ := json.MarshalIndent(sharedContext, "", " ")

	prompt := fmt.Sprintf(`You are creating specific, actionable tasks to accomplish a goal. Focus on concrete actions that can be executed.

## Goal to Accomplish
%s

## Goal-Specific Context
%s

## Workflow Context
%s

## Task Planning Guidelines
1. Actionable: each task should be a specific action
2. Executable: tasks should be doable with available tools
3. Sequential: order tasks logically
4. Atomic: each task should be focused on one outcome
5. Clear: no ambiguity about what needs to be done

## Response Format
Respond with a simple numbered list of tasks:

1. First specific task
2. Second specific task

Task List:`, goalDescription, string(goalContextJSON), string(sharedContextJSON))

	text, err := o.gateway.ChatCompletion(ctx, []llmgateway.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}

	tasks := parseNumberedList(text)
	if len(tasks) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil, nil
		}
		return []string{trimmed}, nil
	}
	return tasks, nil
}

// llmRefineGoalBasedOnResults asks whether a parent goal needs
// additional sub-goals or tightened success criteria now that some of
// its children have completed.
func (o *Orchestrator) llmRefineGoalBasedOnResults(ctx context.Context, goal *Goal, completedChildren []*Goal, workflowContext map[string]any) (goalRefinementAnalysis, error) {
	ctx, span := tracer.Start(ctx, "llm.refine_goal_based_on_results")
	defer span.End()

	var completedDescriptions []string
	for _, g := range completedChildren {
		completedDescriptions = append(completedDescriptions, fmt.Sprintf("- %s (%.0f%%)", g.Description, g.CompletionPercentage))
	}
	contextJSON, _ := json.MarshalIndent(workflowContext, "", " ")

	prompt := fmt.Sprintf(`You are analyzing completed sub-goals to determine if the parent goal needs refinement or additional sub-goals.

## Parent Goal
Description: %s
Current Status: %s
Success Criteria: %s

## Completed Sub-Goals
%s

## Workflow Context
%s

## Refinement Analysis Guidelines
1. Gap Analysis: are there missing pieces to fully achieve the parent goal?
2. Quality Assessment: do completed sub-goals actually advance the parent goal?
3. Success Criteria Check: are we on track to meet the original success criteria?
4. Adaptive Planning: what new insights suggest additional work?

## Response Format
Respond with ONLY a valid JSON object:

{"should_add_goals": true, "new_goals": [{"description": "...", "priority": 1, "dependencies": [], "success_criteria": ["..."], "estimated_complexity": "simple"}], "updated_success_criteria": [], "reasoning": "..."}`,
		goal.Description, goal.Status, strings.Join(goal.SuccessCriteria, ", "), strings.Join(completedDescriptions, "\n"), string(contextJSON))

	var out goalRefinementAnalysis
	err := o.gateway.ChatCompletionJSON(ctx, []llmgateway.Message{{Role: "user", Content: prompt}}, &out)
	return out, err
}

// parseNumberedList extracts the items of a "1. foo\n2. bar"-style
// list by scanning line by line for a leading digit run.
func parseNumberedList(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		pos := strings.Index(line, ". ")
		if pos == -1 {
			continue
		}
		numberPart := line[:pos]
		if numberPart == "" {
			continue
		}
		if _, err := strconv.Atoi(numberPart); err != nil {
			continue
		}
		item := strings.TrimSpace(line[pos+2:])
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
