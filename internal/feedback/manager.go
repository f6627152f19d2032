package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ReOpsIL/cai-sub000/internal/errs"
	"github.com/ReOpsIL/cai-sub000/internal/llmgateway"
)

const recentWindow = 20
const topPerKind = 3

// Manager owns the bounded feedback history and the derived state
// built on top of it (plan validations, iterative-improvement records,
// architectural knowledge). All state is guarded by one mutex.
type Manager struct {
	capacity int
	gateway  *llmgateway.Gateway
	logger   *slog.Logger

	mu              sync.Mutex
	history         []Entry
	planValidations map[string]PlanValidation
	improvements    map[string]*IterativeImprovement
	architectural   map[string]*ArchitecturalKnowledge
}

// New constructs a Manager with the given bounded history capacity.
// gateway may be nil; CreateValidatedPlan and IterativeImprovement then
// fail with LLMUnavailable.
func New(capacity int, gateway *llmgateway.Gateway, logger *slog.Logger) *Manager {
	if capacity <= 0 {
		capacity = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		capacity:        capacity,
		gateway:         gateway,
		logger:          logger,
		planValidations: make(map[string]PlanValidation),
		improvements:    make(map[string]*IterativeImprovement),
		architectural:   make(map[string]*ArchitecturalKnowledge),
	}
}

// AddFeedback appends a new entry, evicting the oldest on overflow,
// and returns the new entry's ID.
func (m *Manager) AddFeedback(kind Kind, context, input, output string, qualityScore *float64) string {
	entry := Entry{
		ID:              uuid.NewString(),
		Kind:            kind,
		Timestamp:       now(),
		Context:         context,
		Input:           input,
		Output:          output,
		QualityScore:    qualityScore,
		IterationNumber: 1,
	}

	m.mu.Lock()
	m.history = append(m.history, entry)
	if len(m.history) > m.capacity {
		m.history = m.history[len(m.history)-m.capacity:]
	}
	m.mu.Unlock()

	m.logger.Debug("recorded feedback entry", "kind", kind, "id", entry.ID)
	return entry.ID
}

// GatherContextForTask scans the most recent entries for relevance to
// taskContext and emits a deterministic textual summary, grouped by
// kind with up to three entries per kind in recency order.
func (m *Manager) GatherContextForTask(taskContext string) string {
	m.mu.Lock()
	recent := recentRelevant(m.history, taskContext)
	m.mu.Unlock()

	if len(recent) == 0 {
		return "No relevant historical context found."
	}

	grouped := make(map[Kind][]Entry)
	var kindOrder []Kind
	for _, e := range recent {
		if _, ok := grouped[e.Kind]; !ok {
			kindOrder = append(kindOrder, e.Kind)
		}
		grouped[e.Kind] = append(grouped[e.Kind], e)
	}
	sort.Slice(kindOrder, func(i, j int) bool { return kindOrder[i] < kindOrder[j] })

	var b strings.Builder
	b.WriteString("## Relevant Historical Context\n\n")
	for _, kind := range kindOrder {
		fmt.Fprintf(&b, "### %s Insights\n", kind)
		entries := grouped[kind]
		if len(entries) > topPerKind {
			entries = entries[:topPerKind]
		}
		for _, e := range entries {
			if e.QualityScore != nil {
				fmt.Fprintf(&b, "- **Quality Score: %.2f** - %s\n", *e.QualityScore, e.Context)
			} else {
				fmt.Fprintf(&b, "- %s\n", e.Context)
			}
			if e.ImprovementNotes != "" {
				fmt.Fprintf(&b, " *Improvement: %s*\n", e.ImprovementNotes)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// recentRelevant returns, newest first, the entries among the last
// recentWindow whose context is relevant to taskContext.
func recentRelevant(history []Entry, taskContext string) []Entry {
	start := len(history) - recentWindow
	if start < 0 {
		start = 0
	}
	window := history[start:]

	var out []Entry
	for i := len(window) - 1; i >= 0; i-- {
		e := window[i]
		if strings.Contains(strings.ToLower(e.Context), strings.ToLower(taskContext)) || isContextRelevant(e.Context, taskContext) {
			out = append(out, e)
		}
	}
	return out
}

// isContextRelevant reports whether entryContext shares more than 10%
// of taskContext's words.
func isContextRelevant(entryContext, taskContext string) bool {
	taskWords := strings.Fields(strings.ToLower(taskContext))
	if len(taskWords) == 0 {
		return false
	}
	taskSet := make(map[string]bool, len(taskWords))
	for _, w := range taskWords {
		taskSet[w] = true
	}

	entryWords := strings.Fields(strings.ToLower(entryContext))
	common := 0
	for _, w := range entryWords {
		if taskSet[w] {
			common++
		}
	}
	return common > 0 && float64(common)/float64(len(taskWords)) > 0.1
}

// CreateValidatedPlan asks the LLM Gateway for a structured
// implementation plan, informed by gathered historical context, and
// records a plan-validation feedback entry for it.
func (m *Manager) CreateValidatedPlan(ctx context.Context, userRequest, taskContext string) (planID string, plan string, err error) {
	if m.gateway == nil {
		return "", "", errs.New(errs.LLMUnavailable, "llm gateway not configured for plan creation")
	}

	historicalContext := m.GatherContextForTask(taskContext)
	prompt := fmt.Sprintf(`You are an expert software architect creating a detailed implementation plan. Use the historical context to inform your planning decisions.

## User Request
%s

## Task Context
%s

## Historical Context
%s

## Plan Requirements
Create a detailed, step-by-step implementation plan that:
1. Breaks down the request into specific, actionable tasks
2. Identifies potential risks and mitigation strategies
3. Considers architectural patterns from historical context
4. Includes validation checkpoints
5. Provides clear success criteria

## Response Format
Provide your response as a structured plan with:
- **Overview**: High-level approach summary
- **Tasks**: Numbered list of specific implementation steps
- **Risks**: Potential issues and how to address them
- **Validation**: How to verify each step's success
- **Success Criteria**: How to know the implementation is complete

Implementation Plan:`, userRequest, taskContext, historicalContext)

	text, err := m.gateway.ChatCompletion(ctx, []llmgateway.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return "", "", err
	}

	planID = uuid.NewString()
	m.AddFeedback(
		KindPlanValidation,
		fmt.Sprintf("Plan created for: %s", userRequest),
		fmt.Sprintf("request=%s context=%s", userRequest, taskContext),
		fmt.Sprintf("plan_id=%s", planID),
		nil,
	)
	return planID, text, nil
}

// ValidatePlan records an approval decision for a plan, replacing any
// earlier validation of the same plan ID, and records a matching
// feedback entry with quality score 1.0 (approved) or 0.0 (rejected).
func (m *Manager) ValidatePlan(planID string, approved bool, feedback string, modifications []string) {
	validation := PlanValidation{
		PlanID:                 planID,
		Approved:               approved,
		Feedback:               feedback,
		SuggestedModifications: modifications,
		Timestamp:              now(),
	}

	m.mu.Lock()
	m.planValidations[planID] = validation
	m.mu.Unlock()

	score := 0.0
	if approved {
		score = 1.0
	}
	status := "rejected"
	if approved {
		status = "approved"
	}
	m.AddFeedback(
		KindPlanValidation,
		fmt.Sprintf("Plan validation: %s", status),
		fmt.Sprintf("plan_id=%s", planID),
		fmt.Sprintf("approved=%t feedback=%s", approved, feedback),
		&score,
	)
}

// IterativeImprovement runs up to maxIterations refinement rounds
// through the LLM Gateway, tracks the best-scoring output, and records
// the run both as an IterativeImprovement entry indexed by task ID and
// as a feedback entry. maxIterations is clamped to [1, 5].
func (m *Manager) IterativeImprovement(ctx context.Context, taskID, initialInput string, maxIterations int) (string, error) {
	if m.gateway == nil {
		return "", errs.New(errs.LLMUnavailable, "llm gateway not configured for iterative improvement")
	}
	if maxIterations < 1 {
		maxIterations = 1
	}
	if maxIterations > 5 {
		maxIterations = 5
	}

	currentInput := initialInput
	var iterations []IterationResult
	bestOutput := ""
	bestScore := 0.0

	for iter := 1; iter <= maxIterations; iter++ {
		iterationContext := "First iteration - no previous context available."
		if len(iterations) > 0 {
			iterationContext = buildIterationContext(iterations)
		}

		prompt := fmt.Sprintf(`You are improving a solution through iterative refinement.

## Current Input/Task
%s

## Previous Iterations Context
%s

## Improvement Goals
- Enhance quality, clarity, and effectiveness
- Address any issues from previous iterations
- Incorporate learnings from iteration context
- Make meaningful improvements, not just cosmetic changes

## Instructions
Analyze the current solution and provide an improved version. Be specific about what improvements you're making and why.

Improved Solution:`, currentInput, iterationContext)

		output, err := m.gateway.ChatCompletion(ctx, []llmgateway.Message{{Role: "user", Content: prompt}})
		if err != nil {
			return "", err
		}

		score := calculateQualityScore(output, iter)
		result := IterationResult{
			IterationNumber: iter,
			Input:           currentInput,
			Output:          output,
			QualityMetrics:  map[string]float64{"quality_score": score, "length": float64(len(output))},
			Timestamp:       now(),
		}
		iterations = append(iterations, result)

		if score > bestScore {
			bestScore = score
			bestOutput = output
		}
		currentInput = output
	}

	record := &IterativeImprovement{
		TaskID:     taskID,
		Iterations: iterations,
		ConvergenceMetrics: map[string]float64{
			"final_quality_score": bestScore,
			"total_iterations":    float64(maxIterations),
		},
	}

	m.mu.Lock()
	m.improvements[taskID] = record
	m.mu.Unlock()

	m.AddFeedback(
		KindIterativeImprovement,
		fmt.Sprintf("Iterative improvement completed for task: %s", taskID),
		initialInput,
		bestOutput,
		&bestScore,
	)

	return bestOutput, nil
}

// buildIterationContext summarizes quality trend across prior
// iterations for the next refinement prompt.
func buildIterationContext(iterations []IterationResult) string {
	var b strings.Builder
	b.WriteString("Previous iteration analysis:\n")
	for i, iter := range iterations {
		fmt.Fprintf(&b, "Iteration %d: Quality score %.2f\n", i+1, iter.QualityMetrics["quality_score"])
	}
	if len(iterations) > 1 {
		latest := iterations[len(iterations)-1].QualityMetrics["quality_score"]
		previous := iterations[len(iterations)-2].QualityMetrics["quality_score"]
		trend := "declining"
		if latest > previous {
			trend = "improving"
		}
		fmt.Fprintf(&b, "Trend: Quality is %s\n", trend)
	}
	return b.String()
}

// calculateQualityScore combines a base score, a length bonus, and an
// iteration bonus, capped at 1.0.
func calculateQualityScore(output string, iteration int) float64 {
	base := 0.5
	lengthBonus := float64(len(output)) / 1000.0
	if lengthBonus > 0.3 {
		lengthBonus = 0.3
	}
	iterationBonus := float64(iteration) * 0.1
	if iterationBonus > 0.2 {
		iterationBonus = 0.2
	}
	score := base + lengthBonus + iterationBonus
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// AccumulateArchitecturalKnowledge records one observed pattern for a
// domain, tracking its usage frequency and whether it succeeded.
func (m *Manager) AccumulateArchitecturalKnowledge(domain, pattern string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.architectural[domain]
	if !ok {
		acc = &ArchitecturalKnowledge{Domain: domain, Patterns: make(map[string]int)}
		m.architectural[domain] = acc
	}
	acc.Patterns[pattern]++

	if success {
		if !containsString(acc.SuccessfulApproaches, pattern) {
			acc.SuccessfulApproaches = append(acc.SuccessfulApproaches, pattern)
		}
	} else if !containsString(acc.FailedApproaches, pattern) {
		acc.FailedApproaches = append(acc.FailedApproaches, pattern)
	}
}

// GetArchitecturalInsights returns a textual summary of accumulated
// patterns for a domain, or an explanatory marker if none exist.
func (m *Manager) GetArchitecturalInsights(domain string) string {
	m.mu.Lock()
	acc, ok := m.architectural[domain]
	m.mu.Unlock()
	if !ok {
		return fmt.Sprintf("No architectural insights available for domain: %s", domain)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Architectural Insights for %s\n\n", domain)
	if len(acc.SuccessfulApproaches) > 0 {
		b.WriteString("### Successful Approaches\n")
		for _, approach := range acc.SuccessfulApproaches {
			fmt.Fprintf(&b, "- %s (used %s time(s))\n", approach, strconv.Itoa(acc.Patterns[approach]))
		}
		b.WriteString("\n")
	}
	if len(acc.FailedApproaches) > 0 {
		b.WriteString("### Approaches to Avoid\n")
		for _, approach := range acc.FailedApproaches {
			fmt.Fprintf(&b, "- %s\n", approach)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// GetFeedbackStats returns total entry count, a per-kind count map,
// and the mean quality score among entries that carry one.
func (m *Manager) GetFeedbackStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{TotalEntries: len(m.history), KindCounts: make(map[Kind]int)}
	var sum float64
	var scored int
	for _, e := range m.history {
		stats.KindCounts[e.Kind]++
		if e.QualityScore != nil {
			sum += *e.QualityScore
			scored++
		}
	}
	if scored > 0 {
		stats.AverageQualityScore = sum / float64(scored)
	}
	return stats
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var now = time.Now
