package mcp

import (
	"encoding/json"
	"time"
)

// ProtocolVersion is the MCP protocol version this client announces.
const ProtocolVersion = "2024-11-05"

// Method names used on the wire.
const (
	methodInitialize  = "initialize"
	methodInitialized = "notifications/initialized"
	methodListTools   = "tools/list"
	methodCallTool    = "tools/call"
)

// ServerConfig describes one configured MCP server. Immutable once loaded.
type ServerConfig struct {
	Name        string            `json:"name" yaml:"name"`
	Command     string            `json:"command" yaml:"command"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Dir         string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool              `json:"enabled" yaml:"enabled"`
}

// State is the lifecycle state of a server connection.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateHandshaking   State = "handshaking"
	StateReady         State = "ready"
	StateDisconnecting State = "disconnecting"
	StateFailed        State = "failed"
)

// Tool describes one tool discovered on a server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Server      string          `json:"server,omitempty"`
}

// Qualified returns the server-qualified name, "server.tool".
func (t Tool) Qualified() string {
	if t.Server == "" {
		return t.Name
	}
	return t.Server + "." + t.Name
}

// ServerInfo identifies a peer, from its initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerStatus is a read-only snapshot of one connection for display.
type ServerStatus struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	State       State       `json:"state"`
	Enabled     bool        `json:"enabled"`
	ToolCount   int         `json:"toolCount"`
	Error       string      `json:"error,omitempty"`
	ConnectedAt *time.Time  `json:"connectedAt,omitempty"`
	Info        *ServerInfo `json:"serverInfo,omitempty"`
}

// ToolResult is the outcome of one tools/call exchange. IsError marks a
// tool-reported logical failure; the call itself completed.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text concatenates the textual content of the result.
func (r *ToolResult) Text() string {
	var out string
	for _, c := range r.Content {
		if c.Type == "text" {
			out += c.Text
		}
	}
	return out
}

// Content is one content item in a tool result.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// clientInfo identifies this client in the initialize request.
type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// clientCapabilities announces what this client supports.
type clientCapabilities struct {
	Tools map[string]any `json:"tools,omitempty"`
}

// initializeParams is the initialize request payload.
type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    clientCapabilities `json:"capabilities"`
	ClientInfo      clientInfo         `json:"clientInfo"`
}

// initializeResult is the initialize response payload.
type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
}

// listToolsResult is the tools/list response payload.
type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

// callToolParams is the tools/call request payload.
type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// jsonRPCRequest is a JSON-RPC 2.0 request or notification.
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonRPCResponse is a JSON-RPC 2.0 response. Method is set on inbound
// requests/notifications from the peer instead.
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

// jsonRPCError is the error member of a JSON-RPC 2.0 response.
type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
