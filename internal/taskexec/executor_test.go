package taskexec

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ReOpsIL/cai-sub000/internal/errs"
	"github.com/ReOpsIL/cai-sub000/internal/llmgateway"
	"github.com/ReOpsIL/cai-sub000/internal/toolserver"
)

type fakeTools struct {
	caps      []toolserver.Capability
	resolve   map[string]string
	callErr   map[string]error
	callDelay time.Duration
}

func (f *fakeTools) AllCapabilities() []toolserver.Capability { return f.caps }

func (f *fakeTools) ResolveServerForTool(toolName string) (string, error) {
	if srv, ok := f.resolve[toolName]; ok {
		return srv, nil
	}
	return "", errs.New(errs.ToolUnknown, "no server for "+toolName)
}

func (f *fakeTools) CallTool(ctx context.Context, serverName, toolName string, args map[string]any, timeout time.Duration) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if f.callDelay > 0 {
		select {
		case <-time.After(f.callDelay):
		case <-ctx.Done():
			return nil, errs.Wrap(errs.Timeout, "call cancelled", ctx.Err())
		}
	}
	if f.callErr != nil {
		if err, ok := f.callErr[toolName]; ok {
			return nil, err
		}
	}
	return map[string]any{"ok": true, "tool": toolName}, nil
}

func testConfig() Config {
	return Config{SelectionTimeout: 200 * time.Millisecond, ToolCallTimeout: 200 * time.Millisecond}
}

func TestExecuteAll_EmptyCatalogueMarksDone(t *testing.T) {
	tools := &fakeTools{}
	ex := New(testConfig(), tools, nil, nil)
	ex.EnqueueTasks([]string{"read the readme file"})

	require.NoError(t, ex.ExecuteAll(context.Background()))

	status := ex.QueueStatus()
	require.Len(t, status, 1)
	assert.Equal(t, StatusDone, status[0].Status)
	assert.Contains(t, status[0].Result, "no tools are available")
}

func TestExecuteAll_NoSelectionsMarksDone(t *testing.T) {
	tools := &fakeTools{
		caps:    []toolserver.Capability{{Name: "compile_code", Description: "compiles code"}},
		resolve: map[string]string{"compile_code": "builder"},
	}
	ex := New(testConfig(), tools, nil, nil)
	ex.EnqueueTasks([]string{"summarize the previous results"})

	require.NoError(t, ex.ExecuteAll(context.Background()))

	status := ex.QueueStatus()
	require.Len(t, status, 1)
	assert.Equal(t, StatusDone, status[0].Status)
	assert.Contains(t, status[0].Result, "no tool calls were identified")
	assert.Empty(t, status[0].ToolCalls)
}

func TestExecuteAll_HeuristicSuccess(t *testing.T) {
	tools := &fakeTools{
		caps:    []toolserver.Capability{{Name: "read_file", Description: "reads a file"}},
		resolve: map[string]string{"read_file": "files"},
	}
	ex := New(testConfig(), tools, nil, nil)
	ex.EnqueueTasks([]string{"please read the file content of the readme"})

	require.NoError(t, ex.ExecuteAll(context.Background()))

	status := ex.QueueStatus()
	require.Len(t, status, 1)
	assert.Equal(t, StatusDone, status[0].Status)
	require.Len(t, status[0].ToolCalls, 1)
	assert.Equal(t, "read_file", status[0].ToolCalls[0].ToolName)
}

func TestExecuteAll_AllToolCallsFailMarksFailed(t *testing.T) {
	tools := &fakeTools{
		caps:    []toolserver.Capability{{Name: "read_file", Description: "reads a file"}},
		resolve: map[string]string{"read_file": "files"},
		callErr: map[string]error{"read_file": errs.New(errs.ProtocolError, "boom")},
	}
	ex := New(testConfig(), tools, nil, nil)
	ex.EnqueueTasks([]string{"read the file content of the readme"})

	require.NoError(t, ex.ExecuteAll(context.Background()))

	status := ex.QueueStatus()
	require.Len(t, status, 1)
	assert.Equal(t, StatusFailed, status[0].Status)
	assert.NotEmpty(t, status[0].Error)
}

func TestExecuteAll_SelectionTimeoutFallsBackToHeuristic(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	tools := &fakeTools{
		caps:    []toolserver.Capability{{Name: "read_file", Description: "reads a file"}},
		resolve: map[string]string{"read_file": "files"},
	}
	cfg := testConfig()
	cfg.SelectionTimeout = 5 * time.Millisecond
	gw := llmgateway.New(slow.URL, "key", "test-model", time.Second, 1, 0.5, 100)
	ex := New(cfg, tools, gw, nil)
	ex.EnqueueTasks([]string{"read the file content of the readme"})

	require.NoError(t, ex.ExecuteAll(context.Background()))

	status := ex.QueueStatus()
	assert.Equal(t, StatusDone, status[0].Status)
	require.Len(t, status[0].ToolCalls, 1)
	assert.Equal(t, "read_file", status[0].ToolCalls[0].ToolName)
}

func TestExecuteAll_ToolCallTimeoutFailsTask(t *testing.T) {
	tools := &fakeTools{
		caps:      []toolserver.Capability{{Name: "read_file", Description: "reads a file"}},
		resolve:   map[string]string{"read_file": "files"},
		callDelay: time.Second,
	}
	cfg := testConfig()
	cfg.ToolCallTimeout = 50 * time.Millisecond
	ex := New(cfg, tools, nil, nil)
	ex.EnqueueTasks([]string{"read the file content of the readme"})

	start := time.Now()
	require.NoError(t, ex.ExecuteAll(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "timeout should cut the call short")

	status := ex.QueueStatus()
	require.Len(t, status, 1)
	assert.Equal(t, StatusFailed, status[0].Status)
	require.Len(t, status[0].ToolCalls, 1)
	assert.Contains(t, status[0].ToolCalls[0].Error, "timeout")
}

func TestExecuteAll_RejectsReentry(t *testing.T) {
	tools := &fakeTools{
		caps:      []toolserver.Capability{{Name: "read_file", Description: "reads a file"}},
		resolve:   map[string]string{"read_file": "files"},
		callDelay: 100 * time.Millisecond,
	}
	ex := New(testConfig(), tools, nil, nil)
	ex.EnqueueTasks([]string{"read the file content of the readme"})

	done := make(chan error, 1)
	go func() { done <- ex.ExecuteAll(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	err := ex.ExecuteAll(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.AlreadyRunning))

	require.NoError(t, <-done)
}

func TestClearCompleted_RemovesDoneAndFailed(t *testing.T) {
	tools := &fakeTools{}
	ex := New(testConfig(), tools, nil, nil)
	ex.EnqueueTasks([]string{"task one", "task two"})
	require.NoError(t, ex.ExecuteAll(context.Background()))

	assert.True(t, ex.AllCompleted())
	removed := ex.ClearCompleted()
	assert.Equal(t, 2, removed)
	assert.Empty(t, ex.QueueStatus())
}
