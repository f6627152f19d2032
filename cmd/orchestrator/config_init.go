package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ReOpsIL/cai-sub000/internal/config"
)

// InitCmd writes a starter configuration document with one example
// tool server entry, if no file already exists at the target path. It
// never overwrites an existing file.
type InitCmd struct {
	Path string `arg:"" optional:"" help:"Where to write the starter config." default:"orchestrator.yaml"`
}

func (c *InitCmd) Run(cli *CLI) error {
	if _, err := os.Stat(c.Path); err == nil {
		fmt.Printf("%s already exists, leaving it untouched\n", c.Path)
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	starter := config.Config{
		LLM: config.LLM{
			BaseURL:     "https://api.openai.com/v1/chat/completions",
			Model:       "gpt-4o-mini",
			APIKeyEnv:   "ORCHESTRATOR_LLM_API_KEY",
			HTTPTimeout: 60 * time.Second,
			MaxRetries:  3,
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		ToolCallTimeout:  10 * time.Second,
		HandshakeTimeout: 15 * time.Second,
		ToolServers: map[string]config.ToolServer{
			"filesystem": {
				Command: "npx",
				Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", "."},
				Enabled: false,
			},
		},
		WorkflowStateDir:    "~/.orchestrator/workflows",
		FeedbackHistorySize: 1000,
	}

	data, err := yaml.Marshal(starter)
	if err != nil {
		return fmt.Errorf("marshalling starter config: %w", err)
	}
	if err := os.WriteFile(c.Path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", c.Path, err)
	}
	fmt.Printf("wrote starter config to %s\n", c.Path)
	return nil
}
