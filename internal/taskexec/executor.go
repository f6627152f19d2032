package taskexec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ReOpsIL/cai-sub000/internal/errs"
	"github.com/ReOpsIL/cai-sub000/internal/llmgateway"
	"github.com/ReOpsIL/cai-sub000/internal/observability"
	"github.com/ReOpsIL/cai-sub000/internal/toolserver"
)

// toolCatalogue is satisfied by *toolserver.Supervisor. Narrowed to an
// interface so tests can exercise the selection/execution logic
// without spawning real child processes.
type toolCatalogue interface {
	AllCapabilities() []toolserver.Capability
	ResolveServerForTool(toolName string) (string, error)
	CallTool(ctx context.Context, serverName, toolName string, args map[string]any, timeout time.Duration) (map[string]any, error)
}

// Executor runs a FIFO queue of tasks against a tool catalogue,
// choosing tool calls per task via an LLM gateway with a heuristic
// fallback. A mutex-guarded queue plus a running guard rejects
// re-entrant ExecuteAll calls.
type Executor struct {
	cfg     Config
	tools   toolCatalogue
	gateway *llmgateway.Gateway
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	queue   []*Task
	running bool
}

// SetMetrics attaches a Prometheus metrics sink. Safe to call once
// after New; nil disables instrumentation.
func (e *Executor) SetMetrics(m *observability.Metrics) {
	e.metrics = m
}

// New constructs an Executor. gateway may be nil, in which case every
// task falls back straight to heuristic tool selection.
func New(cfg Config, tools toolCatalogue, gateway *llmgateway.Gateway, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cfg: cfg, tools: tools, gateway: gateway, logger: logger}
}

// EnqueueTasks appends one waiting task per description and returns
// their generated IDs in order.
func (e *Executor) EnqueueTasks(descriptions []string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(descriptions))
	for _, d := range descriptions {
		t := newTask(uuid.NewString(), d)
		e.queue = append(e.queue, t)
		ids = append(ids, t.ID)
	}
	e.logger.Info("enqueued tasks", "count", len(descriptions))
	return ids
}

// QueueStatus returns a snapshot of every task currently in the queue,
// in insertion order.
func (e *Executor) QueueStatus() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Snapshot, len(e.queue))
	for i, t := range e.queue {
		out[i] = t.snapshot()
	}
	return out
}

// AllCompleted reports whether every queued task is done or failed.
func (e *Executor) AllCompleted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.queue {
		if s := t.Status(); s != StatusDone && s != StatusFailed {
			return false
		}
	}
	return true
}

// ClearCompleted drops every done or failed task from the queue and
// returns how many were removed.
func (e *Executor) ClearCompleted() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.queue[:0]
	removed := 0
	for _, t := range e.queue {
		if s := t.Status(); s == StatusDone || s == StatusFailed {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	e.queue = kept
	if removed > 0 {
		e.logger.Info("cleared completed tasks", "count", removed)
	}
	return removed
}

// ExecuteAll runs every waiting task to completion, one at a time, in
// queue order. It rejects re-entrant calls with errs.AlreadyRunning:
// at most one execution run is ever in flight per Executor.
func (e *Executor) ExecuteAll(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errs.New(errs.AlreadyRunning, "task execution is already in progress")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	for {
		task := e.nextWaiting()
		if task == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		task.setStatus(StatusRunning)
		e.logger.Info("executing task", "task_id", task.ID, "description", task.Description)
		start := time.Now()
		e.executeSingle(ctx, task)
		status := task.Status()
		e.metrics.ObserveTask(string(status), time.Since(start).Seconds())
		e.logger.Info("task finished", "task_id", task.ID, "status", status)
	}
}

func (e *Executor) nextWaiting() *Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.queue {
		if t.Status() == StatusWaiting {
			return t
		}
	}
	return nil
}

// executeSingle selects tool calls for task, runs them sequentially,
// and sets its final status. A task that attempted at least one tool
// call but had none succeed ends failed, not done.
func (e *Executor) executeSingle(ctx context.Context, task *Task) {
	catalogue := toCatalogueEntries(e.tools.AllCapabilities())
	if len(catalogue) == 0 {
		task.finish(StatusDone, "no tools are available from any ready server", "")
		return
	}

	selections := e.selectTools(ctx, task.Description, catalogue)
	if len(selections) == 0 {
		task.finish(StatusDone, "no tool calls were identified for this task", "")
		return
	}

	succeeded := 0
	for _, sel := range selections {
		serverName, err := e.tools.ResolveServerForTool(sel.ToolName)
		if err != nil {
			task.appendToolCall(ToolCallRecord{ToolName: sel.ToolName, Arguments: sel.Arguments, Error: err.Error()})
			continue
		}

		result, err := e.tools.CallTool(ctx, serverName, sel.ToolName, sel.Arguments, e.cfg.ToolCallTimeout)
		if err != nil {
			task.appendToolCall(ToolCallRecord{ServerName: serverName, ToolName: sel.ToolName, Arguments: sel.Arguments, Error: err.Error()})
			e.logger.Warn("tool call failed", "task_id", task.ID, "tool", sel.ToolName, "error", err)
			continue
		}

		task.appendToolCall(ToolCallRecord{ServerName: serverName, ToolName: sel.ToolName, Arguments: sel.Arguments, Result: result})
		succeeded++
	}

	if succeeded == 0 {
		task.finish(StatusFailed, "", "task attempted tool calls but none succeeded")
		return
	}
	task.finish(StatusDone, fmt.Sprintf("task completed with %d tool call(s)", succeeded), "")
}

func toCatalogueEntries(caps []toolserver.Capability) []ToolCatalogueEntry {
	out := make([]ToolCatalogueEntry, len(caps))
	for i, c := range caps {
		out[i] = ToolCatalogueEntry{Name: c.Name, Description: c.Description, Schema: c.Schema}
	}
	return out
}
