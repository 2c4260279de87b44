package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"

	"github.com/telnet2/mcpchat/internal/event"
	"github.com/telnet2/mcpchat/internal/logging"
)

const (
	// defaultCallTimeout bounds one tool call when no override is given.
	defaultCallTimeout = 30 * time.Second
	// defaultRetryAttempts is the total number of attempts for transient
	// failures, including the first.
	defaultRetryAttempts = 3
	// defaultRetryInterval is the fixed pause between attempts.
	defaultRetryInterval = 500 * time.Millisecond
	// degradedTimeoutThreshold is how many accumulated timeouts on one
	// session trigger a degraded-server warning.
	degradedTimeoutThreshold = 3
)

// ToolOutcome is the terminal result of one invocation. Exactly one of
// Result and Err is meaningful: a tool-reported failure arrives as a Result
// with IsError set, not as an Err.
type ToolOutcome struct {
	Server   string
	Tool     string
	Result   *ToolResult
	Err      error
	Latency  time.Duration
	Attempts int
}

// InvocationRecord is one entry in the append-only audit trail.
type InvocationRecord struct {
	ID        string          `json:"id"`
	Server    string          `json:"server"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Success   bool            `json:"success"`
	Output    string          `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	Latency   time.Duration   `json:"latency"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

// InvocationSummary aggregates the audit trail.
type InvocationSummary struct {
	Total          int           `json:"total"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	AverageLatency time.Duration `json:"averageLatency"`
	Tools          []string      `json:"tools"`
	Servers        []string      `json:"servers"`
}

// Dispatcher resolves tool names across ready servers and executes
// invocations with timeout and bounded retry. Invocations against different
// servers proceed in parallel.
type Dispatcher struct {
	sup *Supervisor
	bus *event.Bus

	defaultTimeout time.Duration
	retryAttempts  int
	retryInterval  time.Duration

	mu      sync.Mutex
	records []InvocationRecord
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDefaultTimeout sets the per-call timeout used when no override is
// given.
func WithDefaultTimeout(d time.Duration) DispatcherOption {
	return func(p *Dispatcher) { p.defaultTimeout = d }
}

// WithRetryPolicy sets the total attempt count and the fixed interval
// between attempts for transient failures. Retries are not assumed safe for
// non-idempotent tools; set attempts to 1 to disable them.
func WithRetryPolicy(attempts int, interval time.Duration) DispatcherOption {
	return func(p *Dispatcher) {
		if attempts > 0 {
			p.retryAttempts = attempts
		}
		p.retryInterval = interval
	}
}

// WithDispatcherBus attaches an event bus for invocation notifications.
func WithDispatcherBus(bus *event.Bus) DispatcherOption {
	return func(p *Dispatcher) { p.bus = bus }
}

// NewDispatcher creates a dispatcher over the supervisor's servers.
func NewDispatcher(sup *Supervisor, opts ...DispatcherOption) *Dispatcher {
	p := &Dispatcher{
		sup:            sup,
		defaultTimeout: defaultCallTimeout,
		retryAttempts:  defaultRetryAttempts,
		retryInterval:  defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CallOption adjusts a single invocation.
type CallOption func(*callSettings)

type callSettings struct {
	timeout time.Duration
}

// WithCallTimeout overrides the dispatcher's default timeout for one call.
func WithCallTimeout(d time.Duration) CallOption {
	return func(cs *callSettings) { cs.timeout = d }
}

// Invoke executes one tool call. The name may be qualified ("server.tool")
// or bare; a bare name present on more than one ready server fails with
// ErrAmbiguousTool rather than guessing. Every invocation, success or
// failure, appends one record to the audit trail. The returned outcome is
// always terminal; nothing is left hanging.
func (p *Dispatcher) Invoke(ctx context.Context, name string, args json.RawMessage, opts ...CallOption) (*ToolOutcome, error) {
	settings := callSettings{timeout: p.defaultTimeout}
	for _, opt := range opts {
		opt(&settings)
	}

	start := time.Now()
	outcome := &ToolOutcome{}

	server, tool, err := p.resolve(name)
	outcome.Server = server
	outcome.Tool = tool
	if err != nil {
		outcome.Err = err
		outcome.Latency = time.Since(start)
		p.record(name, args, outcome)
		return outcome, err
	}

	outcome.Result, outcome.Attempts, outcome.Err = p.callWithRetry(ctx, server, tool, args, settings.timeout)
	outcome.Latency = time.Since(start)
	p.record(name, args, outcome)

	if outcome.Err != nil {
		return outcome, outcome.Err
	}
	return outcome, nil
}

// resolve maps a possibly-qualified tool name to its owning ready server.
func (p *Dispatcher) resolve(name string) (server, tool string, err error) {
	if i := strings.IndexByte(name, '.'); i > 0 {
		server, tool = name[:i], name[i+1:]
		if _, ok := p.sup.conns[server]; ok {
			_, reg, err := p.sup.sessionFor(server)
			if err != nil {
				return server, tool, err
			}
			if _, ok := reg.Get(tool); !ok {
				return server, tool, fmt.Errorf("%w: %s on server %s", ErrUnknownTool, tool, server)
			}
			return server, tool, nil
		}
		// No such server; fall through and treat the whole string as a
		// bare tool name.
	}

	var owners []string
	for _, reg := range p.sup.readyRegistries() {
		if _, ok := reg.Get(name); ok {
			owners = append(owners, reg.Server())
		}
	}

	switch len(owners) {
	case 0:
		return "", name, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	case 1:
		return owners[0], name, nil
	default:
		return "", name, fmt.Errorf("%w: %q exists on servers %s; qualify as server.tool",
			ErrAmbiguousTool, name, strings.Join(owners, ", "))
	}
}

// callWithRetry runs the call with bounded retries for transient failures.
// Peer-reported errors and closed transports are returned as-is on the first
// occurrence.
func (p *Dispatcher) callWithRetry(ctx context.Context, server, tool string, args json.RawMessage, timeout time.Duration) (*ToolResult, int, error) {
	var result *ToolResult
	attempts := 0

	op := func() error {
		attempts++

		sess, _, err := p.sup.sessionFor(server)
		if err != nil {
			return backoff.Permanent(err)
		}

		res, err := sess.CallTool(ctx, tool, args, timeout)
		if err != nil {
			if IsTransient(err) {
				logging.Warn().
					Str("server", server).
					Str("tool", tool).
					Int("attempt", attempts).
					Err(err).
					Msg("transient tool call failure")
				if sess.TimeoutCount() >= degradedTimeoutThreshold {
					logging.Warn().
						Str("server", server).
						Int64("timeouts", sess.TimeoutCount()).
						Msg("server looks degraded: repeated call timeouts")
				}
				return err
			}
			return backoff.Permanent(err)
		}

		result = res
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.retryInterval), uint64(p.retryAttempts-1)),
		ctx,
	)
	err := backoff.Retry(op, b)
	return result, attempts, err
}

// record appends one audit entry and publishes a tool.invoked event.
func (p *Dispatcher) record(name string, args json.RawMessage, outcome *ToolOutcome) {
	rec := InvocationRecord{
		ID:        ulid.Make().String(),
		Server:    outcome.Server,
		Tool:      outcome.Tool,
		Arguments: args,
		Latency:   outcome.Latency,
		Attempts:  outcome.Attempts,
		Timestamp: time.Now(),
	}
	if rec.Tool == "" {
		rec.Tool = name
	}

	switch {
	case outcome.Err != nil:
		rec.Error = outcome.Err.Error()
	case outcome.Result != nil && outcome.Result.IsError:
		rec.Error = outcome.Result.Text()
	default:
		rec.Success = true
		if outcome.Result != nil {
			rec.Output = outcome.Result.Text()
		}
	}

	p.mu.Lock()
	p.records = append(p.records, rec)
	p.mu.Unlock()

	if p.bus != nil {
		p.bus.Publish(event.New(event.ToolInvoked, rec.Server, rec))
	}
}

// ListAvailableTools returns the flattened catalog across all ready servers,
// each entry tagged with its owning server. Use Tool.Qualified for the
// unambiguous name.
func (p *Dispatcher) ListAvailableTools() []Tool {
	var out []Tool
	for _, reg := range p.sup.readyRegistries() {
		out = append(out, reg.Tools()...)
	}
	return out
}

// Records returns the newest limit audit entries, newest first. A limit of
// zero or less returns everything.
func (p *Dispatcher) Records(limit int) []InvocationRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]InvocationRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, p.records[i])
	}
	return out
}

// Summary aggregates the audit trail.
func (p *Dispatcher) Summary() InvocationSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	sum := InvocationSummary{Total: len(p.records)}
	if sum.Total == 0 {
		return sum
	}

	var totalLatency time.Duration
	tools := make(map[string]struct{})
	servers := make(map[string]struct{})
	for _, rec := range p.records {
		if rec.Success {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
		totalLatency += rec.Latency
		tools[rec.Tool] = struct{}{}
		if rec.Server != "" {
			servers[rec.Server] = struct{}{}
		}
	}
	sum.AverageLatency = totalLatency / time.Duration(sum.Total)
	sum.Tools = sortedKeys(tools)
	sum.Servers = sortedKeys(servers)
	return sum
}

// ClearRecords drops the audit trail.
func (p *Dispatcher) ClearRecords() {
	p.mu.Lock()
	p.records = nil
	p.mu.Unlock()
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
