package main

import (
	"context"
	"fmt"

	"github.com/ReOpsIL/cai-sub000/internal/config"
	"github.com/ReOpsIL/cai-sub000/internal/workflow"
)

// StatusCmd prints a persisted workflow's current goal tree and recent
// history without launching any tool servers.
type StatusCmd struct {
	WorkflowID string `arg:"" help:"Workflow ID to display."`
}

func (c *StatusCmd) Run(cli *CLI) error {
	a, err := buildApp(context.Background(), cli.Config, false, false)
	if err != nil {
		return err
	}
	view, err := a.orchestrator.DisplayWorkflowStatus(c.WorkflowID)
	if err != nil {
		return err
	}
	printStatus(view)
	return nil
}

// ListCmd lists every workflow ID currently in the registry.
type ListCmd struct{}

func (c *ListCmd) Run(cli *CLI) error {
	a, err := buildApp(context.Background(), cli.Config, false, false)
	if err != nil {
		return err
	}
	for _, id := range a.orchestrator.ListActiveWorkflows() {
		fmt.Println(id)
	}
	return nil
}

// CleanupCmd removes a workflow from the registry and deletes its
// persisted document.
type CleanupCmd struct {
	WorkflowID string `arg:"" help:"Workflow ID to delete."`
}

func (c *CleanupCmd) Run(cli *CLI) error {
	a, err := buildApp(context.Background(), cli.Config, false, false)
	if err != nil {
		return err
	}
	if err := a.orchestrator.CleanupWorkflow(c.WorkflowID); err != nil {
		return err
	}
	fmt.Printf("removed workflow %s\n", c.WorkflowID)
	return nil
}

// ServersCmd launches the configured tool servers, runs the discovery
// handshake, prints what each one advertises, and shuts them down.
type ServersCmd struct{}

func (c *ServersCmd) Run(cli *CLI) error {
	ctx := context.Background()
	a, err := buildApp(ctx, cli.Config, false, true)
	if err != nil {
		return err
	}
	defer a.tools.ShutdownAll()

	infos := a.tools.ServerInfos()
	if len(infos) == 0 {
		fmt.Println("no enabled tool servers configured")
		return nil
	}
	for _, info := range infos {
		fmt.Printf("%s [%s]\n", info.Name, info.Status)
		if info.FailureNote != "" {
			fmt.Printf("  failure: %s\n", info.FailureNote)
		}
		for _, cap := range info.Capabilities {
			fmt.Printf("  - %s: %s\n", cap.Name, cap.Description)
		}
	}
	return nil
}

// ValidateCmd loads and validates a configuration file without
// starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if _, err := config.Load(cli.Config); err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", cli.Config)
	return nil
}

func printStatus(view workflow.StatusView) {
	fmt.Printf("workflow %s\n", view.WorkflowID)
	if view.Root != nil {
		fmt.Printf("  root: %s [%s] %.0f%%\n", view.Root.Description, view.Root.Status, view.Root.CompletionPercentage)
	}
	if view.CurrentFocus != nil {
		fmt.Printf("  focus: %s [%s]\n", view.CurrentFocus.Description, view.CurrentFocus.Status)
	}
	fmt.Printf("  goals: %d\n", len(view.Goals))
	for _, g := range view.Goals {
		fmt.Printf("    - %s: %s [%s] %.0f%%\n", g.ID, g.Description, g.Status, g.CompletionPercentage)
	}
	fmt.Println("  recent actions:")
	for _, action := range view.RecentActions {
		fmt.Printf("    - %s goal=%s at=%s\n", action.Kind, action.GoalID, action.Timestamp.Format("2006-01-02T15:04:05"))
	}
}
