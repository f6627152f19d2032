package taskexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ReOpsIL/cai-sub000/internal/llmgateway"
)

type toolSelectionResponse struct {
	Selections []struct {
		ToolName string `json:"tool_name"`
		Arguments map[string]any `json:"arguments"`
		Rationale string `json:"rationale"`
	} `json:"selections"`
}

// selectTools picks the tool calls to attempt for one task. It prefers
// the LLM gateway, bounded by cfg.SelectionTimeout, and falls back to
// the heuristic rule table whenever the gateway is absent, times out,
// or returns something that doesn't parse.
func (e *Executor) selectTools(ctx context.Context, description string, catalogue []ToolCatalogueEntry) []Selection {
	if len(catalogue) == 0 {
		return nil
	}
	if e.gateway == nil {
		return heuristicSelect(description, catalogue)
	}

	sctx, cancel := context.WithTimeout(ctx, e.cfg.SelectionTimeout)
	defer cancel()

	resp, err := e.llmSelect(sctx, description, catalogue)
	if err != nil {
		e.logger.Debug("llm tool selection unavailable, using heuristic fallback", "error", err)
		return heuristicSelect(description, catalogue)
	}
	return resp
}

func (e *Executor) llmSelect(ctx context.Context, description string, catalogue []ToolCatalogueEntry) ([]Selection, error) {
	var b strings.Builder
	b.WriteString("You are selecting which tools to call to accomplish a task. ")
	b.WriteString("Respond with a JSON object of the form ")
	b.WriteString(`{"selections":[{"tool_name":"...","arguments":{...},"rationale":"..."}]}. `)
	b.WriteString("Only choose tool names from the catalogue below. If none apply, return an empty selections list.\n\n")
	fmt.Fprintf(&b, "Task: %s\n\nAvailable tools:\n", description)
	for _, c := range catalogue {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
		if len(c.Schema) > 0 {
			if schema, err := json.Marshal(c.Schema); err == nil {
				fmt.Fprintf(&b, "  parameters: %s\n", schema)
			}
		}
	}

	var out toolSelectionResponse
	err := e.gateway.ChatCompletionJSON(ctx, []llmgateway.Message{
		{Role: "user", Content: b.String()},
	}, &out)
	if err != nil {
		return nil, err
	}

	available := make(map[string]bool, len(catalogue))
	for _, c := range catalogue {
		available[c.Name] = true
	}

	selections := make([]Selection, 0, len(out.Selections))
	for _, s := range out.Selections {
		if !available[s.ToolName] {
			continue
		}
		selections = append(selections, Selection{
			ToolName:  s.ToolName,
			Arguments: s.Arguments,
			Rationale: s.Rationale,
		})
	}
	return selections, nil
}
