// Package feedback implements the Feedback Loop Manager: a bounded
// history of planning and execution outcomes, context retrieval for
// new decisions, validated-plan checkpoints, and a bounded
// iterative-improvement loop, built around a single mutex-guarded
// struct.
package feedback

import "time"

// Kind is the closed set of feedback entry kinds.
type Kind string

const (
	KindContextRefinement      Kind = "context-refinement"
	KindPlanValidation         Kind = "plan-validation"
	KindIterativeImprovement   Kind = "iterative-improvement"
	KindArchitecturalKnowledge Kind = "architectural-knowledge"
	KindToolResultAnalysis     Kind = "tool-result-analysis"
	KindTestDrivenDevelopment  Kind = "test-driven-development"
)

// Entry is one recorded outcome.
type Entry struct {
	ID               string
	Kind             Kind
	Timestamp        time.Time
	Context          string
	Input            string
	Output           string
	QualityScore     *float64
	HumanValidation  *bool
	IterationNumber  int
	ImprovementNotes string
}

// PlanValidation is the latest approval decision for one plan ID.
// Later validations of the same plan replace earlier ones.
type PlanValidation struct {
	PlanID                 string
	Approved               bool
	Feedback               string
	SuggestedModifications []string
	Timestamp              time.Time
}

// Plan names the sections a validated plan is broken into.
// CreateValidatedPlan returns the plan as free text and does not fill
// a Plan.
type Plan struct {
	Overview        string
	Tasks           []string
	Risks           []string
	ValidationSteps []string
	SuccessCriteria []string
}

// IterationResult is one round of an iterative-improvement run.
type IterationResult struct {
	IterationNumber      int
	Input                string
	Output               string
	QualityMetrics       map[string]float64
	IncorporatedFeedback []string
	Timestamp            time.Time
}

// IterativeImprovement is the append-only improvement record for one
// task ID.
type IterativeImprovement struct {
	TaskID             string
	Iterations         []IterationResult
	ConvergenceMetrics map[string]float64
}

// ArchitecturalKnowledge accumulates per-domain patterns and outcomes.
type ArchitecturalKnowledge struct {
	Domain                string
	Patterns              map[string]int
	SuccessfulApproaches  []string
	FailedApproaches      []string
	ArchitecturalInsights []string
}

// Stats is the summary returned by GetFeedbackStats.
type Stats struct {
	TotalEntries        int
	KindCounts          map[Kind]int
	AverageQualityScore float64
}
