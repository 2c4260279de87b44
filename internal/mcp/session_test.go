package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, spec *fakePeerSpec) (*Session, *fakePeer) {
	t.Helper()
	peer := newFakePeer(spec)
	sess := NewSession(spec.name, peer, nil)
	t.Cleanup(func() { _ = sess.Close() })
	return sess, peer
}

func initTestSession(t *testing.T, spec *fakePeerSpec) (*Session, *fakePeer) {
	t.Helper()
	sess, peer := newTestSession(t, spec)
	_, err := sess.Initialize(context.Background())
	require.NoError(t, err)
	return sess, peer
}

func TestSession_Initialize(t *testing.T) {
	spec := newPeerSpec("calc", textTool("sum"))
	sess, _ := newTestSession(t, spec)

	info, err := sess.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "calc", info.Name)
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, info, sess.ServerInfo())

	// Idempotent.
	again, err := sess.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, info, again)
}

func TestSession_Initialize_PeerError(t *testing.T) {
	spec := newPeerSpec("bad")
	spec.initErr = &jsonRPCError{Code: -32600, Message: "unsupported version"}
	sess, _ := newTestSession(t, spec)

	_, err := sess.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeFailed)
}

func TestSession_Initialize_Timeout(t *testing.T) {
	spec := newPeerSpec("mute")
	spec.initSilent = true
	sess, _ := newTestSession(t, spec)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := sess.Initialize(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeFailed)
	assert.ErrorIs(t, err, ErrCallTimeout)
}

func TestSession_CallBeforeInitialize(t *testing.T) {
	sess, _ := newTestSession(t, newPeerSpec("calc"))

	_, err := sess.ListTools(context.Background())
	assert.ErrorIs(t, err, ErrHandshakeFailed)

	_, err = sess.CallTool(context.Background(), "sum", nil, time.Second)
	assert.ErrorIs(t, err, ErrHandshakeFailed)
}

func TestSession_ListTools(t *testing.T) {
	spec := newPeerSpec("calc", textTool("sum"), textTool("divide"))
	sess, _ := initTestSession(t, spec)

	tools, err := sess.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "sum", tools[0].Name)
	assert.Equal(t, "divide", tools[1].Name)
}

func TestSession_CallTool(t *testing.T) {
	spec := newPeerSpec("calc", textTool("sum"))
	spec.handle("sum", func(args json.RawMessage) (*ToolResult, *jsonRPCError) {
		var in struct {
			Numbers []float64 `json:"numbers"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, &jsonRPCError{Code: -32602, Message: err.Error()}
		}
		var total float64
		for _, n := range in.Numbers {
			total += n
		}
		return &ToolResult{Content: []Content{{Type: "text", Text: "6"}}}, nil
	})
	sess, _ := initTestSession(t, spec)

	result, err := sess.CallTool(context.Background(), "sum", json.RawMessage(`{"numbers":[1,2,3]}`), time.Second)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "6", result.Text())
}

func TestSession_CallTool_PeerError(t *testing.T) {
	spec := newPeerSpec("calc", textTool("sum"))
	sess, _ := initTestSession(t, spec)

	_, err := sess.CallTool(context.Background(), "missing", nil, time.Second)
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, -32601, toolErr.Code)
}

func TestSession_CallTool_Timeout(t *testing.T) {
	spec := newPeerSpec("slow", textTool("hang"), textTool("quick"))
	spec.silence("hang")
	spec.handleText("quick", "ok")
	sess, _ := initTestSession(t, spec)

	const timeout = 80 * time.Millisecond
	start := time.Now()
	_, err := sess.CallTool(context.Background(), "hang", nil, timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrCallTimeout)
	assert.Less(t, elapsed, timeout+500*time.Millisecond, "timeout must fire promptly")
	assert.EqualValues(t, 1, sess.TimeoutCount())

	// The session survives a timed-out call and the slot is reusable.
	result, err := sess.CallTool(context.Background(), "quick", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text())
}

func TestSession_ConcurrentCalls_CorrelatedResponses(t *testing.T) {
	spec := newPeerSpec("echo", textTool("echo"))
	spec.handle("echo", func(args json.RawMessage) (*ToolResult, *jsonRPCError) {
		var in struct {
			Value string        `json:"value"`
			Delay time.Duration `json:"delay"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, &jsonRPCError{Code: -32602, Message: err.Error()}
		}
		time.Sleep(in.Delay)
		return &ToolResult{Content: []Content{{Type: "text", Text: in.Value}}}, nil
	})
	sess, _ := initTestSession(t, spec)

	// Earlier requests answer later; every caller must still get its own
	// response back.
	values := []string{"a", "b", "c", "d", "e"}
	var wg sync.WaitGroup
	for i, v := range values {
		wg.Add(1)
		go func(i int, v string) {
			defer wg.Done()
			delay := time.Duration(len(values)-i) * 30 * time.Millisecond
			args, _ := json.Marshal(map[string]any{"value": v, "delay": delay})
			result, err := sess.CallTool(context.Background(), "echo", args, 5*time.Second)
			if assert.NoError(t, err) {
				assert.Equal(t, v, result.Text())
			}
		}(i, v)
	}
	wg.Wait()
}

func TestSession_ChannelClosedMidCall(t *testing.T) {
	spec := newPeerSpec("dying", textTool("hang"))
	spec.silence("hang")
	sess, peer := initTestSession(t, spec)

	done := make(chan error, 1)
	go func() {
		_, err := sess.CallTool(context.Background(), "hang", nil, 10*time.Second)
		done <- err
	}()

	time.Sleep(30 * time.Millisecond) // let the call get registered
	_ = peer.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("call hung after channel close")
	}

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not exit after channel close")
	}
}

func TestSession_MalformedFrameIsFatal(t *testing.T) {
	spec := newPeerSpec("garbled", textTool("sum"))
	sess, peer := initTestSession(t, spec)

	peer.inject([]byte("this is not json"))

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not fail on malformed frame")
	}
	assert.ErrorIs(t, sess.Err(), ErrMalformedMessage)

	_, err := sess.CallTool(context.Background(), "sum", nil, time.Second)
	require.Error(t, err)
}

func TestSession_UnknownCorrelationIDDropped(t *testing.T) {
	spec := newPeerSpec("noisy", textTool("sum"))
	spec.handleText("sum", "ok")
	sess, peer := initTestSession(t, spec)

	// A response nobody asked for must be dropped, not crash the reader.
	frame, err := json.Marshal(jsonRPCResponse{JSONRPC: "2.0", ID: 9999, Result: json.RawMessage(`{}`)})
	require.NoError(t, err)
	peer.inject(frame)

	result, err := sess.CallTool(context.Background(), "sum", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text())
}

func TestSession_NotificationDelivery(t *testing.T) {
	spec := newPeerSpec("chatty", textTool("sum"))

	var mu sync.Mutex
	var methods []string
	peer := newFakePeer(spec)
	sess := NewSession("chatty", peer, func(method string, params json.RawMessage) {
		mu.Lock()
		methods = append(methods, method)
		mu.Unlock()
	})
	t.Cleanup(func() { _ = sess.Close() })

	_, err := sess.Initialize(context.Background())
	require.NoError(t, err)

	frame, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/tools/list_changed",
	})
	require.NoError(t, err)
	peer.inject(frame)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(methods) == 1 && methods[0] == "notifications/tools/list_changed"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_CancelledContext(t *testing.T) {
	spec := newPeerSpec("slow", textTool("hang"))
	spec.silence("hang")
	sess, _ := initTestSession(t, spec)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := sess.CallTool(ctx, "hang", nil, 10*time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, sess.TimeoutCount(), "cancellation is not a timeout")
}
