// Command orchestrator drives the LLM-driven workflow orchestrator core
// from the command line: run a request end to end, inspect persisted
// workflows, validate configuration, and bootstrap a starter config.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/ReOpsIL/cai-sub000/internal/config"
	"github.com/ReOpsIL/cai-sub000/internal/logging"
)

// CLI is the root command set.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Run a single user request to completion."`
	Status   StatusCmd   `cmd:"" help:"Show a persisted workflow's current status."`
	List     ListCmd     `cmd:"" help:"List every persisted workflow ID."`
	Cleanup  CleanupCmd  `cmd:"" help:"Delete a persisted workflow."`
	Servers  ServersCmd  `cmd:"" help:"Launch the configured tool servers and list what they advertise."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema for the configuration document."`
	Init     InitCmd     `cmd:"" help:"Write a starter configuration file if none exists."`
	Watch    WatchCmd    `cmd:"" help:"Watch the configuration file for changes and log them."`

	Config   string `short:"c" help:"Path to the configuration YAML file." default:"orchestrator.yaml" type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
	Metrics  bool   `help:"Enable Prometheus metrics collection."`
	Trace    bool   `help:"Enable OpenTelemetry tracing to stdout."`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("orchestrator"),
		kong.Description("LLM-driven workflow orchestrator"),
		kong.UsageOnError(),
	)

	logging.Init(logging.ParseLevel(cli.LogLevel), os.Stderr)

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
