// Package mcp implements the client side of the Model Context Protocol for
// tool-provider processes spawned as local children and spoken to over
// newline-delimited JSON-RPC on stdio.
//
// The package is layered bottom-up:
//
//   - Channel / StdioChannel: one framed message stream bound to a child
//     process. Owns spawn and shutdown; any stream error is terminal.
//   - Session: the request/response protocol on top of a Channel. Performs
//     the initialize handshake, assigns correlation ids, matches responses
//     to pending requests via a dedicated reader goroutine, and exposes
//     ListTools and CallTool with per-call timeouts. A timed-out call fails
//     locally without taking the session down.
//   - Registry: an immutable per-generation snapshot of one server's
//     discovered tool catalog. Reconnecting starts a new generation; old
//     snapshots are discarded wholesale, never patched.
//   - Supervisor: owns every configured server and its connection state
//     machine (Disconnected, Connecting, Handshaking, Ready, Disconnecting,
//     Failed). Reconnection is always caller-initiated through Connect or
//     RefreshAll; there is no background retry loop.
//   - Dispatcher: resolves tool names across ready servers, executes calls
//     with timeout and bounded retry for transient failures, and keeps an
//     append-only audit trail of every invocation.
//
// Tool identity is the (server, tool) pair. The same bare name may exist on
// several servers; Dispatcher.Invoke accepts "server.tool" to disambiguate
// and refuses ambiguous bare names instead of guessing.
//
// Concurrency: each connection's state is guarded by its own lock and its
// pending-request table is mutated only by its reader goroutine. No lock
// spans servers, so calls against different servers always proceed in
// parallel, and concurrent calls on one session are fine as long as ids
// differ — responses may arrive in any order.
package mcp
