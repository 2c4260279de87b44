package mcp

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// callFn handles one tools/call for a fake peer. Returning (nil, nil) means
// the peer never answers, which is how tests provoke timeouts.
type callFn func(args json.RawMessage) (*ToolResult, *jsonRPCError)

// fakePeerSpec describes the behavior of an in-process peer. A Dialer built
// from specs reads the spec at dial time, so tests can change the catalog
// between reconnects.
type fakePeerSpec struct {
	mu sync.Mutex

	name       string
	version    string
	tools      []Tool
	calls      map[string]callFn
	initErr    *jsonRPCError
	initSilent bool // never answer initialize
	listDelay  time.Duration
	dialErr    error
	dialed     int
}

func newPeerSpec(name string, tools ...Tool) *fakePeerSpec {
	return &fakePeerSpec{
		name:    name,
		version: "1.0.0",
		tools:   tools,
		calls:   make(map[string]callFn),
	}
}

func (s *fakePeerSpec) setTools(tools ...Tool) {
	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()
}

func (s *fakePeerSpec) handle(tool string, fn callFn) *fakePeerSpec {
	s.mu.Lock()
	s.calls[tool] = fn
	s.mu.Unlock()
	return s
}

// handleText makes a tool respond with fixed text.
func (s *fakePeerSpec) handleText(tool, text string) *fakePeerSpec {
	return s.handle(tool, func(json.RawMessage) (*ToolResult, *jsonRPCError) {
		return &ToolResult{Content: []Content{{Type: "text", Text: text}}}, nil
	})
}

// silence makes a tool never answer.
func (s *fakePeerSpec) silence(tool string) *fakePeerSpec {
	return s.handle(tool, func(json.RawMessage) (*ToolResult, *jsonRPCError) {
		return nil, nil
	})
}

// fakePeer is an in-process Channel whose far side speaks just enough MCP
// for the tests: initialize, tools/list and tools/call. Each request is
// served on its own goroutine, so responses can arrive out of order.
type fakePeer struct {
	spec     *fakePeerSpec
	toClient chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newFakePeer(spec *fakePeerSpec) *fakePeer {
	return &fakePeer{
		spec:     spec,
		toClient: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

// dialer builds a Dialer serving each server name from its spec.
func dialer(specs ...*fakePeerSpec) Dialer {
	byName := make(map[string]*fakePeerSpec, len(specs))
	for _, s := range specs {
		byName[s.name] = s
	}
	return func(cfg ServerConfig) (Channel, error) {
		spec, ok := byName[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("no fake peer for %q", cfg.Name)
		}
		spec.mu.Lock()
		spec.dialed++
		err := spec.dialErr
		spec.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return newFakePeer(spec), nil
	}
}

func (f *fakePeer) Send(data []byte) error {
	select {
	case <-f.closed:
		return ErrTransportClosed
	default:
	}

	var req struct {
		ID     int64           `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}

	go f.serve(req.ID, req.Method, req.Params)
	return nil
}

func (f *fakePeer) Receive() ([]byte, error) {
	select {
	case data := <-f.toClient:
		return data, nil
	case <-f.closed:
		return nil, ErrTransportClosed
	}
}

func (f *fakePeer) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// inject pushes a raw frame to the client, bypassing the protocol.
func (f *fakePeer) inject(frame []byte) {
	select {
	case f.toClient <- frame:
	case <-f.closed:
	}
}

func (f *fakePeer) serve(id int64, method string, params json.RawMessage) {
	spec := f.spec

	switch method {
	case methodInitialize:
		spec.mu.Lock()
		initErr, silent := spec.initErr, spec.initSilent
		name, version := spec.name, spec.version
		spec.mu.Unlock()
		if silent {
			return
		}
		if initErr != nil {
			f.replyErr(id, initErr)
			return
		}
		f.reply(id, initializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: name, Version: version},
		})

	case methodInitialized:
		// notification, no reply

	case methodListTools:
		spec.mu.Lock()
		delay := spec.listDelay
		tools := make([]Tool, len(spec.tools))
		copy(tools, spec.tools)
		spec.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-f.closed:
				return
			}
		}
		f.reply(id, listToolsResult{Tools: tools})

	case methodCallTool:
		var call callToolParams
		if err := json.Unmarshal(params, &call); err != nil {
			f.replyErr(id, &jsonRPCError{Code: -32602, Message: "bad params"})
			return
		}
		spec.mu.Lock()
		fn := spec.calls[call.Name]
		spec.mu.Unlock()
		if fn == nil {
			f.replyErr(id, &jsonRPCError{Code: -32601, Message: "no such tool: " + call.Name})
			return
		}
		result, rpcErr := fn(call.Arguments)
		switch {
		case rpcErr != nil:
			f.replyErr(id, rpcErr)
		case result != nil:
			f.reply(id, result)
		}
		// both nil: stay silent

	default:
		f.replyErr(id, &jsonRPCError{Code: -32601, Message: "unknown method: " + method})
	}
}

func (f *fakePeer) reply(id int64, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		panic(err)
	}
	data, err := json.Marshal(jsonRPCResponse{JSONRPC: "2.0", ID: id, Result: raw})
	if err != nil {
		panic(err)
	}
	f.inject(data)
}

func (f *fakePeer) replyErr(id int64, rpcErr *jsonRPCError) {
	data, err := json.Marshal(jsonRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr})
	if err != nil {
		panic(err)
	}
	f.inject(data)
}

// textTool builds a minimal tool descriptor.
func textTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: name + " tool",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}
}
