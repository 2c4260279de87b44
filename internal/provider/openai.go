package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/telnet2/mcpchat/internal/logging"
)

// OpenAIConfig holds configuration for an OpenAI-compatible endpoint. Any
// backend that speaks the chat completions dialect works through BaseURL.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// OpenAIProvider implements Provider on top of an Eino ChatModel.
type OpenAIProvider struct {
	chatModel model.ToolCallingChatModel
	modelID   string
}

// ErrNoAPIKey is returned when the provider is constructed without a key.
var ErrNoAPIKey = errors.New("provider: OPENAI_API_KEY not set")

// NewOpenAIProvider validates the configuration and builds the underlying
// chat model.
func NewOpenAIProvider(ctx context.Context, cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1000
	}

	modelCfg := &openai.ChatModelConfig{
		APIKey:              cfg.APIKey,
		Model:               cfg.Model,
		MaxCompletionTokens: &cfg.MaxTokens, // Use MaxCompletionTokens for GPT-5 compatibility
	}
	if cfg.BaseURL != "" {
		modelCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Temperature > 0 {
		temp := float32(cfg.Temperature)
		modelCfg.Temperature = &temp
	}
	if cfg.HTTPClient != nil {
		modelCfg.HTTPClient = cfg.HTTPClient
	}

	chatModel, err := openai.NewChatModel(ctx, modelCfg)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	return &OpenAIProvider{chatModel: chatModel, modelID: cfg.Model}, nil
}

// Model returns the configured model identifier.
func (p *OpenAIProvider) Model() string { return p.modelID }

// Complete runs one chat completion round trip.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
	chatModel := p.chatModel
	if len(req.Tools) > 0 {
		var err error
		chatModel, err = chatModel.WithTools(toEinoTools(req.Tools))
		if err != nil {
			return nil, fmt.Errorf("provider: bind tools: %w", err)
		}
	}

	logging.Debug().
		Str("model", p.modelID).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("chat completion request")

	msg, err := chatModel.Generate(ctx, toEinoMessages(req.Messages))
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	out := &Completion{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// toEinoMessages converts conversation messages to Eino format.
func toEinoMessages(msgs []Message) []*schema.Message {
	out := make([]*schema.Message, len(msgs))
	for i, m := range msgs {
		role := schema.Assistant
		switch m.Role {
		case RoleSystem:
			role = schema.System
		case RoleUser:
			role = schema.User
		case RoleTool:
			role = schema.Tool
		}

		em := &schema.Message{
			Role:       role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			em.ToolCalls = append(em.ToolCalls, schema.ToolCall{
				ID: tc.ID,
				Function: schema.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out[i] = em
	}
	return out
}

// toEinoTools converts tool definitions to Eino ToolInfo.
func toEinoTools(tools []ToolDefinition) []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, len(tools))
	for i, t := range tools {
		out[i] = &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(parseSchemaParams(t.Parameters)),
		}
	}
	return out
}

// parseSchemaParams converts a JSON Schema object to Eino ParameterInfo.
func parseSchemaParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var jsonSchema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}

	params := make(map[string]*schema.ParameterInfo)
	if err := json.Unmarshal(schemaJSON, &jsonSchema); err != nil {
		return params
	}

	requiredSet := make(map[string]bool)
	for _, r := range jsonSchema.Required {
		requiredSet[r] = true
	}

	for name, prop := range jsonSchema.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}

		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: requiredSet[name],
		}
	}

	return params
}
