package toolserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"
)

// TestHelperProcess is not a real test. It is re-executed as a
// subprocess by tests in this package (the standard library's
// "helper process" pattern, also used by os/exec's own test suite) to
// act as a stdio JSON-RPC tool server without needing a real external
// binary on PATH.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("TOOLSERVER_HELPER_PROCESS") != "1" {
		return
	}

	mode := os.Getenv("TOOLSERVER_HELPER_MODE")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		switch mode {
		case "hang":
			if req.Method == "tools/call" {
				time.Sleep(30 * time.Second)
				continue
			}
		case "malformed":
			if req.Method == "tools/call" {
				fmt.Fprintln(os.Stdout, "not json")
				continue
			}
		}

		switch req.Method {
		case "initialize":
			_ = enc.Encode(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{}`)})
		case "tools/list":
			_ = enc.Encode(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(
				`{"tools":[{"name":"read_file","description":"Read a file","inputSchema":{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}}]}`,
			)})
		case "tools/call":
			_ = enc.Encode(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(
				`{"content":"hello from helper"}`,
			)})
		default:
			_ = enc.Encode(Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: -32601, Message: "method not found"}})
		}
	}
	os.Exit(0)
}

// helperServerConfig builds a Config that re-executes the current test
// binary as the "tool server" process, running in the given mode.
func helperServerConfig(mode string) Config {
	return Config{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess"},
		Env: map[string]string{
			"TOOLSERVER_HELPER_PROCESS": "1",
			"TOOLSERVER_HELPER_MODE":    mode,
		},
		Enabled: true,
	}
}
