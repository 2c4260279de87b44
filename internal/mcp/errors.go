package mcp

import (
	"errors"
	"fmt"
)

// Sentinel errors for transport, protocol, and dispatch failures. All are
// matchable with errors.Is through wrapping.
var (
	// ErrTransportClosed indicates the channel or its process has terminated.
	// No further sends are accepted once this is returned.
	ErrTransportClosed = errors.New("mcp: transport closed")

	// ErrCallTimeout indicates a request received no response within its
	// timeout. The session itself stays healthy.
	ErrCallTimeout = errors.New("mcp: call timed out")

	// ErrHandshakeFailed indicates the initialize exchange did not complete.
	ErrHandshakeFailed = errors.New("mcp: handshake failed")

	// ErrMalformedMessage indicates an inbound frame could not be decoded.
	// This is fatal for the session.
	ErrMalformedMessage = errors.New("mcp: malformed message")

	// ErrServerUnavailable indicates the tool's owning server is not ready.
	ErrServerUnavailable = errors.New("mcp: server unavailable")

	// ErrAmbiguousTool indicates an unqualified tool name matched more than
	// one ready server.
	ErrAmbiguousTool = errors.New("mcp: ambiguous tool name")

	// ErrUnknownTool indicates no ready server exposes the requested tool.
	ErrUnknownTool = errors.New("mcp: unknown tool")

	// ErrServerDisabled indicates the server is disabled in configuration.
	ErrServerDisabled = errors.New("mcp: server disabled")

	// ErrUnknownServer indicates the server name is not configured.
	ErrUnknownServer = errors.New("mcp: unknown server")
)

// TransportError wraps an I/O failure on a channel.
type TransportError struct {
	Op  string // "spawn", "read" or "write"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mcp: transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ToolError is an error reported by the peer in a response's error member.
// The tool (or the server's protocol layer) ran and declined; it is not a
// transport fault.
type ToolError struct {
	Code    int
	Message string
	Data    any
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp: server error %d: %s", e.Code, e.Message)
}

// IsTransient reports whether an invocation failure is worth retrying:
// timeouts and I/O failures may resolve on a subsequent attempt, while
// peer-reported errors and closed transports will not.
func IsTransient(err error) bool {
	if errors.Is(err, ErrCallTimeout) {
		return true
	}
	var te *TransportError
	return errors.As(err, &te)
}
