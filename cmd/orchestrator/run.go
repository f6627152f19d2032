package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ReOpsIL/cai-sub000/internal/logging"
	"github.com/ReOpsIL/cai-sub000/internal/observability"
)

// RunCmd starts a new workflow from a user request and drives it to
// completion, one goal at a time, printing status after each step.
type RunCmd struct {
	Request  string `arg:"" help:"The natural-language request to plan and execute."`
	MaxSteps int    `help:"Safety bound on execute-next-goal calls." default:"100"`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Get().Warn("received shutdown signal, cancelling the current goal")
		cancel()
	}()

	if _, err := observability.InitGlobalTracer(ctx, observability.TracerConfig{Enabled: cli.Trace, ServiceName: "orchestrator"}); err != nil {
		return err
	}

	a, err := buildApp(ctx, cli.Config, cli.Metrics, true)
	if err != nil {
		return err
	}
	defer a.tools.ShutdownAll()

	workflowID, err := a.orchestrator.StartWorkflow(ctx, c.Request)
	if err != nil {
		return fmt.Errorf("starting workflow: %w", err)
	}
	fmt.Printf("started workflow %s\n", workflowID)

	for step := 0; step < c.MaxSteps; step++ {
		if ctx.Err() != nil {
			break
		}
		advanced, err := a.orchestrator.ExecuteNextGoal(ctx, workflowID)
		if err != nil {
			return fmt.Errorf("executing goal: %w", err)
		}
		if !advanced {
			break
		}
	}

	view, err := a.orchestrator.DisplayWorkflowStatus(workflowID)
	if err != nil {
		return err
	}
	printStatus(view)
	return nil
}
