// Package agent runs the conversational loop: it hands the model the tool
// catalog, executes the tool calls the model asks for and feeds results back
// until the model answers in plain text.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telnet2/mcpchat/internal/logging"
	"github.com/telnet2/mcpchat/internal/mcp"
	"github.com/telnet2/mcpchat/internal/provider"
)

// defaultMaxSteps bounds how many completion rounds one user message may
// trigger. Each round can carry several tool calls; the cap stops a model
// that keeps asking for tools forever.
const defaultMaxSteps = 5

// truncationNotice closes out a turn that hit the step cap while the model
// still wanted more tool calls.
const truncationNotice = "Reached the tool-call limit for this message; the results above may be incomplete."

// Invoker executes tool calls. *mcp.Dispatcher is the production
// implementation.
type Invoker interface {
	Invoke(ctx context.Context, name string, args json.RawMessage, opts ...mcp.CallOption) (*mcp.ToolOutcome, error)
	ListAvailableTools() []mcp.Tool
}

// Turn is one completed user interaction, including every tool call made on
// the way to the final answer.
type Turn struct {
	ID          string             `json:"id"`
	UserMessage string             `json:"userMessage"`
	Response    string             `json:"response"`
	Invocations []*mcp.ToolOutcome `json:"-"`
	Steps       int                `json:"steps"`
	Duration    time.Duration      `json:"duration"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Agent owns one conversation: history, the provider and the tool invoker.
// Safe for use from one goroutine at a time per conversation.
type Agent struct {
	prov     provider.Provider
	invoker  Invoker
	maxSteps int

	mu      sync.Mutex
	history []provider.Message
	turns   []Turn
}

// Option configures an Agent.
type Option func(*Agent)

// WithMaxSteps bounds completion rounds per user message.
func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

// WithSystemPrompt replaces the default system message.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		a.history = []provider.Message{provider.SystemMessage(prompt)}
	}
}

// New creates an agent with the default system prompt.
func New(prov provider.Provider, invoker Invoker, opts ...Option) *Agent {
	a := &Agent{
		prov:     prov,
		invoker:  invoker,
		maxSteps: defaultMaxSteps,
		history:  []provider.Message{provider.SystemMessage(defaultSystemPrompt())},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func defaultSystemPrompt() string {
	return fmt.Sprintf(`You are a helpful AI assistant with access to tools on connected MCP servers.

When a user asks you to perform a task you can use the available tools, chain several tools in sequence, and explain what you are doing. Each tool description names its server in brackets [server]. Handle tool errors gracefully and tell the user what went wrong.

The current date and time is %s`, time.Now().Format("2006-01-02 15:04:05"))
}

// HandleMessage processes one user message to completion. Tool errors are
// reported back to the model rather than aborting the turn; only provider
// failures end it early.
func (a *Agent) HandleMessage(ctx context.Context, input string) (*Turn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	a.history = append(a.history, provider.UserMessage(input))

	turn := Turn{ID: uuid.NewString(), UserMessage: input, Timestamp: start}

	var content string
	pendingTools := false
	for turn.Steps < a.maxSteps {
		turn.Steps++

		defs, byFunction := a.toolCatalog()

		completion, err := a.prov.Complete(ctx, &provider.Request{
			Messages: a.history,
			Tools:    defs,
		})
		if err != nil {
			// Drop the dangling user message so the history stays
			// consistent for the next attempt.
			a.history = a.history[:len(a.history)-1]
			return nil, fmt.Errorf("completion failed: %w", err)
		}

		content = completion.Content
		a.history = append(a.history, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})

		pendingTools = len(completion.ToolCalls) > 0
		if !pendingTools {
			break
		}

		for _, call := range completion.ToolCalls {
			outcome := a.executeCall(ctx, call, byFunction)
			turn.Invocations = append(turn.Invocations, outcome)
			a.history = append(a.history, provider.ToolMessage(call.ID, call.Name, formatOutcome(outcome)))
		}
	}

	if pendingTools {
		// The step cap hit while the model still wanted tools; tool-call
		// rounds usually carry no text, so say why the answer stops here.
		if content != "" {
			content += "\n\n"
		}
		content += truncationNotice
	}

	turn.Response = content
	turn.Duration = time.Since(start)
	a.turns = append(a.turns, turn)

	logging.Info().
		Int("steps", turn.Steps).
		Int("toolCalls", len(turn.Invocations)).
		Dur("duration", turn.Duration).
		Msg("turn complete")
	return &turn, nil
}

// executeCall maps the provider-safe function name back to its qualified
// tool name and runs it. Failures come back as outcomes, never panics.
func (a *Agent) executeCall(ctx context.Context, call provider.ToolCall, byFunction map[string]string) *mcp.ToolOutcome {
	qualified, ok := byFunction[call.Name]
	if !ok {
		// The model invented a tool; treat it like an unknown name.
		qualified = call.Name
	}

	logging.Info().Str("tool", qualified).Msg("executing tool call")
	outcome, err := a.invoker.Invoke(ctx, qualified, call.Arguments)
	if err != nil && outcome == nil {
		outcome = &mcp.ToolOutcome{Tool: call.Name, Err: err}
	}
	return outcome
}

// toolCatalog converts the live tool catalog into provider definitions.
// Function names must satisfy the provider's [A-Za-z0-9_-] charset, so the
// '.' in qualified names becomes '_'; byFunction maps each provider-safe
// name back to the unambiguous qualified name.
func (a *Agent) toolCatalog() ([]provider.ToolDefinition, map[string]string) {
	tools := a.invoker.ListAvailableTools()
	defs := make([]provider.ToolDefinition, 0, len(tools))
	byFunction := make(map[string]string, len(tools))

	for _, tool := range tools {
		fn := sanitizeFunctionName(tool.Qualified())
		for i := 2; byFunction[fn] != ""; i++ {
			fn = fmt.Sprintf("%s_%d", sanitizeFunctionName(tool.Qualified()), i)
		}
		byFunction[fn] = tool.Qualified()

		params := tool.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		defs = append(defs, provider.ToolDefinition{
			Name:        fn,
			Description: fmt.Sprintf("[%s] %s", tool.Server, tool.Description),
			Parameters:  params,
		})
	}
	return defs, byFunction
}

// sanitizeFunctionName rewrites a qualified tool name into the charset
// providers accept for function names.
func sanitizeFunctionName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

// formatOutcome renders a tool outcome as the text fed back to the model.
func formatOutcome(outcome *mcp.ToolOutcome) string {
	switch {
	case outcome.Err != nil:
		return "Error: " + outcome.Err.Error()
	case outcome.Result == nil:
		return "(no output)"
	case outcome.Result.IsError:
		return "Error: " + outcome.Result.Text()
	default:
		text := outcome.Result.Text()
		if text == "" {
			return "(no output)"
		}
		return text
	}
}

// History returns a copy of the raw message history, system prompt included.
func (a *Agent) History() []provider.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]provider.Message, len(a.history))
	copy(out, a.history)
	return out
}

// Turns returns a copy of the completed turns.
func (a *Agent) Turns() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Turn, len(a.turns))
	copy(out, a.turns)
	return out
}

// Reset clears the conversation, keeping the system prompt.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.history) > 0 && a.history[0].Role == provider.RoleSystem {
		a.history = a.history[:1]
	} else {
		a.history = nil
	}
	a.turns = nil
}
