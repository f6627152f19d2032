package main

import (
	"context"
	"time"

	"github.com/ReOpsIL/cai-sub000/internal/config"
	"github.com/ReOpsIL/cai-sub000/internal/feedback"
	"github.com/ReOpsIL/cai-sub000/internal/llmgateway"
	"github.com/ReOpsIL/cai-sub000/internal/logging"
	"github.com/ReOpsIL/cai-sub000/internal/observability"
	"github.com/ReOpsIL/cai-sub000/internal/taskexec"
	"github.com/ReOpsIL/cai-sub000/internal/toolserver"
	"github.com/ReOpsIL/cai-sub000/internal/workflow"
)

// app bundles every subsystem the CLI commands need, so each command
// can pick out only what it uses.
type app struct {
	cfg          *config.Config
	metrics      *observability.Metrics
	gateway      *llmgateway.Gateway
	tools        *toolserver.Supervisor
	feedbackMgr  *feedback.Manager
	store        *workflow.Store
	orchestrator *workflow.Orchestrator
}

// toolServerConfigs converts the configuration's tool-server map to the
// shape the supervisor expects.
func toolServerConfigs(cfg *config.Config) map[string]toolserver.Config {
	out := make(map[string]toolserver.Config, len(cfg.ToolServers))
	for name, ts := range cfg.ToolServers {
		out[name] = toolserver.Config{
			Command: ts.Command,
			Args:    ts.Args,
			Env:     ts.Env,
			Cwd:     ts.Cwd,
			Enabled: ts.Enabled,
		}
	}
	return out
}

// selectionTimeoutFactor bounds how long the task executor waits on an
// LLM tool-selection call relative to the configured HTTP timeout,
// before falling back to the heuristic selector.
const selectionTimeoutFactor = 0.5

func taskexecConfig(cfg *config.Config) taskexec.Config {
	selectionTimeout := time.Duration(float64(cfg.LLM.HTTPTimeout) * selectionTimeoutFactor)
	if selectionTimeout <= 0 {
		selectionTimeout = 10 * time.Second
	}
	return taskexec.Config{
		SelectionTimeout: selectionTimeout,
		ToolCallTimeout:  cfg.ToolCallTimeout,
	}
}

// buildApp loads configuration and wires every subsystem. When
// startTools is false the tool-server supervisor is constructed but no
// child processes are launched, which is enough for read-only commands
// like status/list/cleanup.
func buildApp(ctx context.Context, configPath string, enableMetrics bool, startTools bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	var metrics *observability.Metrics
	if enableMetrics {
		metrics = observability.NewMetrics()
	}

	logger := logging.Get()

	gateway := llmgateway.New(cfg.LLM.BaseURL, cfg.APIKey(), cfg.LLM.Model, cfg.LLM.HTTPTimeout, cfg.LLM.MaxRetries, cfg.LLM.Temperature, cfg.LLM.MaxTokens)
	gateway.Metrics = metrics

	tools := toolserver.New(cfg.HandshakeTimeout, logger)
	tools.SetMetrics(metrics)
	if startTools {
		if err := tools.StartAll(ctx, toolServerConfigs(cfg)); err != nil {
			return nil, err
		}
	}

	feedbackMgr := feedback.New(cfg.FeedbackHistorySize, gateway, logger)

	store, err := workflow.NewStore(cfg.WorkflowStateDir)
	if err != nil {
		return nil, err
	}

	orchCfg := workflow.Config{TaskExec: taskexecConfig(cfg)}
	orch := workflow.New(orchCfg, gateway, tools, feedbackMgr, store, logger)
	orch.SetMetrics(metrics)

	return &app{
		cfg:          cfg,
		metrics:      metrics,
		gateway:      gateway,
		tools:        tools,
		feedbackMgr:  feedbackMgr,
		store:        store,
		orchestrator: orch,
	}, nil
}
