// Package anthropic provides the Claude client implementation of llm.Client.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"concierge/pkg/llm"
	"concierge/pkg/llm/llmerrors"
)

// ClaudeClient wraps the Anthropic API client behind the llm.Client interface.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClient creates a raw Claude client for the given model. Middleware is
// applied at a higher level.
func NewClient(apiKey, model string) llm.Client {
	return &ClaudeClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Complete implements llm.Client.
func (c *ClaudeClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	systemPrompt, alternating, err := ensureAlternation(req.Messages)
	if err != nil {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message alternation error: %v", err))
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for i := range alternating {
		msg := &alternating[i]
		role := anthropic.MessageParamRole("user")
		if msg.Role == llm.RoleModel {
			role = anthropic.MessageParamRole("assistant")
		}
		messages = append(messages, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(req.Config.MaxOutputTokens),
		Temperature: anthropic.Float(float64(req.Config.Temperature)),
	}

	if sys := joinSystem(req.Config.SystemInstruction, systemPrompt); sys != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: sys,
			Type: "text",
		}}
	}

	if len(req.Config.Tools) > 0 {
		var toolParams []anthropic.ToolUnionParam
		for i := range req.Config.Tools {
			tool := &req.Config.Tools[i]

			var properties any
			if len(tool.InputSchema.Properties) > 0 {
				props := make(map[string]any)
				for name := range tool.InputSchema.Properties {
					prop := tool.InputSchema.Properties[name]
					propMap := map[string]any{"type": prop.Type}
					if prop.Description != "" {
						propMap["description"] = prop.Description
					}
					if len(prop.Enum) > 0 {
						propMap["enum"] = prop.Enum
					}
					props[name] = propMap
				}
				properties = props
			}

			schema := anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: properties,
				Required:   tool.InputSchema.Required,
			}
			toolParams = append(toolParams, anthropic.ToolUnionParamOfTool(schema, tool.Name))
		}
		params.Tools = toolParams
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAuto: &anthropic.ToolChoiceAutoParam{},
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "received empty or nil response from Claude API")
	}

	var responseText string
	var toolCalls []llm.ToolCall
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			responseText += block.AsText().Text
		case "tool_use":
			toolUse := block.AsToolUse()
			var args map[string]any
			if err := json.Unmarshal(toolUse.Input, &args); err != nil {
				return llm.Response{}, llmerrors.NewWithCause(llmerrors.ErrorTypeUnknown, err, "failed to parse tool input")
			}
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:   toolUse.ID,
				Name: toolUse.Name,
				Args: args,
			})
		}
	}

	return llm.Response{
		Text:       responseText,
		ToolCalls:  toolCalls,
		StopReason: string(resp.StopReason),
	}, nil
}

// Stream implements llm.Client. Backed by Complete: the cascade only reaches
// Claude as a fallback, and fallbacks are delivered whole.
func (c *ClaudeClient) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 2)
	go func() {
		defer close(ch)
		resp, err := c.Complete(ctx, req)
		if err != nil {
			ch <- llm.StreamChunk{Error: err}
			return
		}
		ch <- llm.StreamChunk{Content: resp.Text}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

// ModelName implements llm.Client.
func (c *ClaudeClient) ModelName() string {
	return string(c.model)
}

// ensureAlternation prepares messages for the Anthropic API:
// system messages lift into the system parameter, tool results fold into
// user text, consecutive same-role messages merge, and the sequence must
// start and end with a user message.
func ensureAlternation(messages llm.Conversation) (systemPrompt string, alternating []llm.Message, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var flattened []llm.Message

	for i := range messages {
		msg := messages[i]
		if msg.Role == llm.RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		if len(msg.ToolResults) > 0 {
			var parts []string
			if msg.Content != "" {
				parts = append(parts, msg.Content)
			}
			for _, tr := range msg.ToolResults {
				parts = append(parts, fmt.Sprintf("Результат инструмента %s: %s", tr.ToolName, tr.Content))
			}
			msg.Content = strings.Join(parts, "\n\n")
			msg.ToolResults = nil
		}
		flattened = append(flattened, msg)
	}
	systemPrompt = strings.Join(systemParts, "\n\n")

	if len(flattened) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}

	var merged []llm.Message
	var userParts []string
	for i := range flattened {
		msg := &flattened[i]
		if msg.Role == llm.RoleModel {
			if len(userParts) > 0 {
				merged = append(merged, llm.NewUserMessage(strings.Join(userParts, "\n\n")))
				userParts = nil
			}
			if len(merged) > 0 && merged[len(merged)-1].Role == llm.RoleModel {
				merged[len(merged)-1].Content += "\n\n" + msg.Content
				continue
			}
			merged = append(merged, *msg)
		} else {
			userParts = append(userParts, msg.Content)
		}
	}
	if len(userParts) > 0 {
		merged = append(merged, llm.NewUserMessage(strings.Join(userParts, "\n\n")))
	}

	if merged[0].Role != llm.RoleUser {
		merged = append([]llm.Message{llm.NewUserMessage("Продолжай.")}, merged...)
	}
	if merged[len(merged)-1].Role != llm.RoleUser {
		merged = append(merged, llm.NewUserMessage("Продолжай."))
	}

	return systemPrompt, merged, nil
}

func joinSystem(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

// classifyError maps Anthropic SDK errors to structured error types.
func classifyError(err error) *llmerrors.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewWithCause(llmerrors.ErrorTypeTimeout, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.NewWithCause(llmerrors.ErrorTypeTimeout, err, "request canceled")
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeAuth, apiErr.StatusCode, "authentication failed - check API key")
		case 429:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeRateLimit, apiErr.StatusCode, "rate limit exceeded")
		case 400:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeBadPrompt, apiErr.StatusCode, "bad request - check prompt format and parameters")
		case 500, 502, 503, 504:
			return llmerrors.NewWithStatus(llmerrors.ErrorTypeTimeout, apiErr.StatusCode, "server error")
		}
	}

	return llmerrors.Classify(err)
}
