package feedback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ReOpsIL/cai-sub000/internal/errs"
	"github.com/ReOpsIL/cai-sub000/internal/llmgateway"
)

// scriptedLLM serves fixed chat-completion contents in call order,
// repeating the last one once the script runs out.
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

func testGateway(url string) *llmgateway.Gateway {
	return llmgateway.New(url, "key", "test-model", time.Second, 1, 0.5, 500)
}

func TestAddFeedback_EvictsOldestOnOverflow(t *testing.T) {
	m := New(2, nil, nil)
	m.AddFeedback(KindContextRefinement, "first", "", "", nil)
	m.AddFeedback(KindPlanValidation, "second", "", "", nil)
	m.AddFeedback(KindToolResultAnalysis, "third", "", "", nil)

	stats := m.GetFeedbackStats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Zero(t, stats.KindCounts[KindContextRefinement])
	assert.Equal(t, 1, stats.KindCounts[KindPlanValidation])
	assert.Equal(t, 1, stats.KindCounts[KindToolResultAnalysis])
}

func TestGatherContextForTask_EmptyHistory(t *testing.T) {
	m := New(10, nil, nil)
	out := m.GatherContextForTask("read the readme")
	assert.Equal(t, "No relevant historical context found.", out)
}

func TestGatherContextForTask_SubstringMatch(t *testing.T) {
	m := New(10, nil, nil)
	score := 0.9
	m.AddFeedback(KindContextRefinement, "Sub-goal planning for: parse config files", "", "", &score)
	m.AddFeedback(KindContextRefinement, "unrelated database migration work", "", "", nil)

	out := m.GatherContextForTask("parse config")
	assert.Contains(t, out, "parse config files")
	assert.Contains(t, out, "Quality Score: 0.90")
	assert.NotContains(t, out, "database migration")
}

func TestGatherContextForTask_WordOverlap(t *testing.T) {
	m := New(10, nil, nil)
	m.AddFeedback(KindToolResultAnalysis, "analyzed project files and directory layout", "", "", nil)

	// No substring match, but "project files" overlaps well past 10%.
	out := m.GatherContextForTask("list the project files")
	assert.Contains(t, out, "analyzed project files")
}

func TestGatherContextForTask_CapsThreePerKind(t *testing.T) {
	m := New(10, nil, nil)
	for _, name := range []string{"one", "two", "three", "four"} {
		m.AddFeedback(KindContextRefinement, "planning pass "+name, "", "", nil)
	}

	out := m.GatherContextForTask("planning pass")
	assert.Equal(t, 3, strings.Count(out, "planning pass"))
	// Recency order: the oldest entry is the one dropped.
	assert.NotContains(t, out, "planning pass one")
}

func TestGatherContextForTask_Deterministic(t *testing.T) {
	m := New(10, nil, nil)
	m.AddFeedback(KindContextRefinement, "planning the parser", "", "", nil)
	m.AddFeedback(KindToolResultAnalysis, "parser tool results", "", "", nil)

	first := m.GatherContextForTask("parser")
	second := m.GatherContextForTask("parser")
	assert.Equal(t, first, second)
}

func TestCreateValidatedPlan_RequiresGateway(t *testing.T) {
	m := New(10, nil, nil)
	_, _, err := m.CreateValidatedPlan(context.Background(), "build a cli", "cli work")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.LLMUnavailable))
}

func TestCreateValidatedPlan_RecordsFeedback(t *testing.T) {
	srv := scriptedLLM(t, []string{"## Overview\nA plan.\n1. Do the thing"})
	defer srv.Close()

	m := New(10, testGateway(srv.URL), nil)
	planID, plan, err := m.CreateValidatedPlan(context.Background(), "build a cli", "cli work")
	require.NoError(t, err)
	assert.NotEmpty(t, planID)
	assert.Contains(t, plan, "Do the thing")

	stats := m.GetFeedbackStats()
	assert.Equal(t, 1, stats.KindCounts[KindPlanValidation])
}

func TestValidatePlan_LastValidationWins(t *testing.T) {
	m := New(10, nil, nil)
	m.ValidatePlan("plan-1", false, "too vague", []string{"add detail"})
	m.ValidatePlan("plan-1", true, "looks good now", nil)

	m.mu.Lock()
	v := m.planValidations["plan-1"]
	m.mu.Unlock()
	assert.True(t, v.Approved)
	assert.Equal(t, "looks good now", v.Feedback)

	// Both decisions left a scored history entry: one 0.0, one 1.0.
	stats := m.GetFeedbackStats()
	assert.Equal(t, 2, stats.KindCounts[KindPlanValidation])
	assert.InDelta(t, 0.5, stats.AverageQualityScore, 0.001)
}

func TestIterativeImprovement_RequiresGateway(t *testing.T) {
	m := New(10, nil, nil)
	_, err := m.IterativeImprovement(context.Background(), "task-1", "draft", 3)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.LLMUnavailable))
}

func TestIterativeImprovement_ThreeIterationsBestWins(t *testing.T) {
	long := strings.Repeat("improved solution text ", 60)
	srv := scriptedLLM(t, []string{"short", long, "tiny"})
	defer srv.Close()

	m := New(10, testGateway(srv.URL), nil)
	best, err := m.IterativeImprovement(context.Background(), "task-1", "initial draft", 3)
	require.NoError(t, err)
	assert.Equal(t, long, best)

	m.mu.Lock()
	record := m.improvements["task-1"]
	m.mu.Unlock()
	require.NotNil(t, record)
	require.Len(t, record.Iterations, 3)
	for i, iter := range record.Iterations {
		assert.Equal(t, i+1, iter.IterationNumber)
		assert.LessOrEqual(t, iter.QualityMetrics["quality_score"], 1.0)
	}
	// The long second output maxes the length and iteration bonuses.
	assert.Equal(t, 1.0, record.ConvergenceMetrics["final_quality_score"])
	assert.Equal(t, 3.0, record.ConvergenceMetrics["total_iterations"])
}

func TestIterativeImprovement_ClampsIterationCount(t *testing.T) {
	srv := scriptedLLM(t, []string{"output"})
	defer srv.Close()

	m := New(10, testGateway(srv.URL), nil)
	_, err := m.IterativeImprovement(context.Background(), "task-lo", "draft", 0)
	require.NoError(t, err)
	_, err = m.IterativeImprovement(context.Background(), "task-hi", "draft", 99)
	require.NoError(t, err)

	m.mu.Lock()
	lo, hi := m.improvements["task-lo"], m.improvements["task-hi"]
	m.mu.Unlock()
	assert.Len(t, lo.Iterations, 1)
	assert.Len(t, hi.Iterations, 5)
}

func TestCalculateQualityScore_CappedAtOne(t *testing.T) {
	assert.InDelta(t, 0.605, calculateQualityScore("hello", 1), 0.001)
	assert.Equal(t, 1.0, calculateQualityScore(strings.Repeat("x", 5000), 5))
}

func TestArchitecturalKnowledge_Accumulation(t *testing.T) {
	m := New(10, nil, nil)
	m.AccumulateArchitecturalKnowledge("storage", "write-ahead log", true)
	m.AccumulateArchitecturalKnowledge("storage", "write-ahead log", true)
	m.AccumulateArchitecturalKnowledge("storage", "global lock", false)

	insights := m.GetArchitecturalInsights("storage")
	assert.Contains(t, insights, "write-ahead log (used 2 time(s))")
	assert.Contains(t, insights, "Approaches to Avoid")
	assert.Contains(t, insights, "global lock")

	assert.Contains(t, m.GetArchitecturalInsights("networking"), "No architectural insights")
}

func TestGetFeedbackStats_AverageOnlyOverScoredEntries(t *testing.T) {
	m := New(10, nil, nil)
	hi, lo := 1.0, 0.5
	m.AddFeedback(KindContextRefinement, "a", "", "", &hi)
	m.AddFeedback(KindContextRefinement, "b", "", "", &lo)
	m.AddFeedback(KindContextRefinement, "c", "", "", nil)

	stats := m.GetFeedbackStats()
	assert.Equal(t, 3, stats.TotalEntries)
	assert.InDelta(t, 0.75, stats.AverageQualityScore, 0.001)
}
