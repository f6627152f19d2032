package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNumberedList(t *testing.T) {
	text := `Here is the plan:

1. Read the configuration file
2. Launch the servers
10. Summarize the results

That should do it.`
	tasks := parseNumberedList(text)
	assert.Equal(t, []string{
		"Read the configuration file",
		"Launch the servers",
		"Summarize the results",
	}, tasks)
}

func TestParseNumberedList_IgnoresNonNumberedLines(t *testing.T) {
	assert.Empty(t, parseNumberedList("no list here\njust prose. with a period"))
	assert.Empty(t, parseNumberedList(""))
}

func TestParseNumberedList_TrimsIndentation(t *testing.T) {
	tasks := parseNumberedList("  1. indented task\n\t2. tabbed task")
	assert.Equal(t, []string{"indented task", "tabbed task"}, tasks)
}
