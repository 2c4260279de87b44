package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/telnet2/mcpchat/internal/logging"
)

// clientName and clientVersion are announced in the initialize handshake.
const (
	clientName    = "mcpchat"
	clientVersion = "0.1.0"
)

// defaultHandshakeTimeout bounds the initialize exchange.
const defaultHandshakeTimeout = 10 * time.Second

// NotificationHandler receives unsolicited notifications from the peer.
type NotificationHandler func(method string, params json.RawMessage)

// Session layers the MCP request/response protocol on a Channel. A dedicated
// reader goroutine matches responses to pending requests by correlation id;
// it is the sole mutator of the pending table. Concurrent calls are allowed
// and responses may arrive in any order.
type Session struct {
	ch     Channel
	logger zerolog.Logger

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *jsonRPCResponse
	fatal   error

	initMu       sync.Mutex
	initialized  atomic.Bool
	serverInfo   *ServerInfo
	timeoutCount atomic.Int64

	notify NotificationHandler

	done chan struct{}
}

// NewSession creates a session over ch and starts its reader. The session
// must be initialized before any other call.
func NewSession(name string, ch Channel, notify NotificationHandler) *Session {
	s := &Session{
		ch:      ch,
		logger:  logging.With().Str("server", name).Logger(),
		pending: make(map[int64]chan *jsonRPCResponse),
		notify:  notify,
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// readLoop pulls frames off the channel until it closes or a frame cannot be
// decoded. Either way every pending request is released before exit.
func (s *Session) readLoop() {
	defer close(s.done)

	for {
		data, err := s.ch.Receive()
		if err != nil {
			s.fail(err)
			return
		}

		var msg jsonRPCResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Error().Err(err).Msg("undecodable frame, failing session")
			s.fail(fmt.Errorf("%w: %v", ErrMalformedMessage, err))
			_ = s.ch.Close()
			return
		}

		// Inbound request or notification from the peer.
		if msg.Method != "" {
			if s.notify != nil {
				s.notify(msg.Method, msg.Params)
			} else {
				s.logger.Debug().Str("method", msg.Method).Msg("dropping unsolicited notification")
			}
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[msg.ID]
		if ok {
			delete(s.pending, msg.ID)
		}
		s.mu.Unlock()

		if !ok {
			// Late response to a timed-out or unknown request.
			s.logger.Warn().Int64("id", msg.ID).Msg("dropping response with no pending request")
			continue
		}
		ch <- &msg
	}
}

// fail records the terminal error and releases all pending callers.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	for id, ch := range s.pending {
		delete(s.pending, id)
		close(ch)
	}
	s.mu.Unlock()
}

// call sends one request and waits for its response, the channel closing, or
// ctx expiring, whichever comes first.
func (s *Session) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	respCh := make(chan *jsonRPCResponse, 1)

	s.mu.Lock()
	if s.fatal != nil {
		err := s.fatal
		s.mu.Unlock()
		return nil, err
	}
	s.pending[id] = respCh
	s.mu.Unlock()

	data, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		s.removePending(id)
		return nil, err
	}

	if err := s.ch.Send(data); err != nil {
		s.removePending(id)
		return nil, err
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			// Reader exited; surface its terminal error.
			s.mu.Lock()
			err := s.fatal
			s.mu.Unlock()
			if err == nil {
				err = ErrTransportClosed
			}
			return nil, err
		}
		if resp.Error != nil {
			return nil, &ToolError{Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}
		}
		return resp.Result, nil

	case <-ctx.Done():
		// Free the slot now; a late response will be dropped by the reader.
		s.removePending(id)
		if ctx.Err() == context.DeadlineExceeded {
			s.timeoutCount.Add(1)
			return nil, fmt.Errorf("%w: %s", ErrCallTimeout, method)
		}
		return nil, ctx.Err()
	}
}

func (s *Session) removePending(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// notifyPeer sends a notification; no response is expected.
func (s *Session) notifyPeer(method string, params any) error {
	data, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	return s.ch.Send(data)
}

// Initialize performs the handshake: the initialize exchange followed by the
// initialized notification. It must complete before ListTools or CallTool and
// at most one handshake is ever in flight.
func (s *Session) Initialize(ctx context.Context) (*ServerInfo, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.initialized.Load() {
		return s.serverInfo, nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultHandshakeTimeout)
		defer cancel()
	}

	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    clientCapabilities{Tools: map[string]any{}},
		ClientInfo:      clientInfo{Name: clientName, Version: clientVersion},
	}

	raw, err := s.call(ctx, methodInitialize, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	if err := s.notifyPeer(methodInitialized, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	s.serverInfo = &result.ServerInfo
	s.initialized.Store(true)
	s.logger.Debug().
		Str("peer", result.ServerInfo.Name).
		Str("version", result.ServerInfo.Version).
		Msg("handshake complete")
	return s.serverInfo, nil
}

// ListTools requests the peer's tool catalog.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	if !s.initialized.Load() {
		return nil, fmt.Errorf("%w: session not initialized", ErrHandshakeFailed)
	}

	raw, err := s.call(ctx, methodListTools, nil)
	if err != nil {
		return nil, err
	}

	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return result.Tools, nil
}

// CallTool invokes one tool. A timeout of zero uses whatever deadline ctx
// already carries. A timed-out call fails locally with ErrCallTimeout; the
// channel is left open so concurrent and future calls proceed.
func (s *Session) CallTool(ctx context.Context, name string, args json.RawMessage, timeout time.Duration) (*ToolResult, error) {
	if !s.initialized.Load() {
		return nil, fmt.Errorf("%w: session not initialized", ErrHandshakeFailed)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw, err := s.call(ctx, methodCallTool, callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}

	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return &result, nil
}

// ServerInfo returns the peer identity from the handshake, or nil before
// Initialize completes.
func (s *Session) ServerInfo() *ServerInfo {
	if !s.initialized.Load() {
		return nil
	}
	return s.serverInfo
}

// TimeoutCount returns how many calls on this session have timed out, as a
// health signal for the supervisor.
func (s *Session) TimeoutCount() int64 {
	return s.timeoutCount.Load()
}

// Done is closed when the reader exits, i.e. the underlying channel is gone.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal session error once Done is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Close tears down the underlying channel and waits for the reader to exit.
func (s *Session) Close() error {
	err := s.ch.Close()
	<-s.done
	return err
}
