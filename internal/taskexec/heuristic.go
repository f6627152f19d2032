package taskexec

import "strings"

// heuristicRule is one keyword-gated fallback rule, used only when the
// LLM gateway is unavailable or times out: a narrow, fixed set of
// well-known tool names with simple substring gates. It never invents
// arguments for a tool shape it doesn't recognize.
type heuristicRule struct {
	toolName  string
	gate      func(taskLower string) bool
	arguments func(description string) map[string]any
}

var heuristicRules = []heuristicRule{
	{
		toolName: "list_directory",
		gate: func(l string) bool {
			return containsAny(l, "list", "directory", "structure", "files")
		},
		arguments: func(string) map[string]any {
			return map[string]any{"path": "."}
		},
	},
	{
		toolName: "read_file",
		gate: func(l string) bool {
			mentionsAction := containsAny(l, "read", "show", "content")
			mentionsFile := containsAny(l, "file", "readme", ".md", ".txt")
			return mentionsAction && mentionsFile
		},
		arguments: func(string) map[string]any {
			return map[string]any{"path": "README.md"}
		},
	},
	{
		toolName: "write_file",
		gate: func(l string) bool {
			return containsAny(l, "write", "create", "save")
		},
		arguments: func(description string) map[string]any {
			return map[string]any{
				"path":    "output.txt",
				"content": "task execution result: " + description,
			}
		},
	},
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// heuristicSelect matches task description keywords against the fixed
// rule table, restricted to tools actually present in the catalogue so
// it never suggests a tool no server advertises.
func heuristicSelect(description string, catalogue []ToolCatalogueEntry) []Selection {
	available := make(map[string]bool, len(catalogue))
	for _, c := range catalogue {
		available[c.Name] = true
	}

	taskLower := strings.ToLower(description)
	var out []Selection
	for _, rule := range heuristicRules {
		if !available[rule.toolName] {
			continue
		}
		if !rule.gate(taskLower) {
			continue
		}
		out = append(out, Selection{
			ToolName:  rule.toolName,
			Arguments: rule.arguments(description),
			Rationale: "heuristic keyword match",
		})
	}
	return out
}
