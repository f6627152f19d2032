package toolserver

import "encoding/json"

// Request and Response mirror the JSON-RPC 2.0 envelope used by MCP
// stdio servers (github.com/mark3labs/mcp-go's wire types): the
// tool-server protocol is that same shape. The
// reader/writer/pending-table loop around these types is hand-rolled
// (see server.go) because it needs a concurrency contract the mcp-go
// client library does not expose directly.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response. Exactly one of Result or Error is
// set on a successful decode.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newRequest(id, method string, params any) (Request, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return Request{}, err
		}
		raw = b
	}
	return Request{JSONRPC: "2.0", ID: id, Method: method, Params: raw}, nil
}

// initializeParams is sent as the params of the "initialize" method,
// matching MCP's handshake shape.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// toolsListResult is the decoded result of a "tools/list" call.
type toolsListResult struct {
	Tools []toolDescriptor `json:"tools"`
}

type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// toolsCallParams is the params of a "tools/call" request.
type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
