// Package openai provides the OpenAI client implementation of llm.Client
// using the official Go package and the Responses API.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"concierge/pkg/config"
	"concierge/pkg/llm"
	"concierge/pkg/llm/llmerrors"
	"concierge/pkg/tools"
)

// Client wraps the official OpenAI client behind the llm.Client interface.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates a raw OpenAI client for the given model. Middleware is
// applied at a higher level.
func NewClient(apiKey, model string) llm.Client {
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete implements llm.Client using the Responses API.
func (o *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	inputText := flattenTranscript(req)

	// Cap MaxOutputTokens to the model's actual limit to prevent API errors.
	maxTokens := req.Config.MaxOutputTokens
	if modelInfo, exists := config.KnownModels[o.model]; exists && modelInfo.MaxOutputTokens > 0 {
		if maxTokens > modelInfo.MaxOutputTokens {
			maxTokens = modelInfo.MaxOutputTokens
		}
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(inputText)},
	}

	if len(req.Config.Tools) > 0 {
		toolParams := make([]responses.ToolUnionParam, len(req.Config.Tools))
		for i := range req.Config.Tools {
			tool := &req.Config.Tools[i]
			properties := make(map[string]any)
			for name, prop := range tool.InputSchema.Properties {
				properties[name] = convertProperty(&prop)
			}
			toolParams[i] = responses.ToolUnionParam{
				OfFunction: &responses.FunctionToolParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters: openai.FunctionParameters(map[string]any{
						"type":       "object",
						"properties": properties,
						"required":   tool.InputSchema.Required,
					}),
				},
			}
		}
		params.Tools = toolParams
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return llm.Response{}, llmerrors.Classify(err)
	}
	if resp == nil {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	var toolCalls []llm.ToolCall
	for i := range resp.Output {
		item := &resp.Output[i]
		if item.Type != "function_call" {
			continue
		}
		funcItem := item.AsFunctionCall()
		var args map[string]any
		if funcItem.Arguments != "" {
			if err := json.Unmarshal([]byte(funcItem.Arguments), &args); err != nil {
				continue
			}
		}
		toolCalls = append(toolCalls, llm.ToolCall{
			ID:   funcItem.ID,
			Name: funcItem.Name,
			Args: args,
		})
	}

	text := resp.OutputText()
	if text == "" && len(toolCalls) == 0 {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "OpenAI returned neither text nor tool calls")
	}

	return llm.Response{
		Text:      text,
		ToolCalls: toolCalls,
	}, nil
}

// Stream implements llm.Client. Backed by Complete: OpenAI sits at the end
// of the cascade, where responses are delivered whole.
func (o *Client) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 2)
	go func() {
		defer close(ch)
		resp, err := o.Complete(ctx, req)
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
func (o *Client) ModelName() string {
	return o.model
}

// flattenTranscript renders the conversation as a single input string for
// the Responses API.
func flattenTranscript(req llm.Request) string {
	var inputText string
	if req.Config.SystemInstruction != "" {
		inputText += fmt.Sprintf("System: %s\n\n", req.Config.SystemInstruction)
	}
	for i := range req.Messages {
		msg := &req.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			inputText += fmt.Sprintf("System: %s\n\n", msg.Content)
		case llm.RoleUser:
			inputText += msg.Content + "\n\n"
		case llm.RoleModel:
			inputText += fmt.Sprintf("Assistant: %s\n\n", msg.Content)
		}
		for _, tr := range msg.ToolResults {
			inputText += fmt.Sprintf("Tool %s: %s\n\n", tr.ToolName, tr.Content)
		}
	}
	return inputText
}

// convertProperty recursively converts a schema property to OpenAI format.
func convertProperty(prop *tools.Property) map[string]any {
	schema := map[string]any{
		"type":        prop.Type,
		"description": prop.Description,
	}
	if len(prop.Enum) > 0 {
		schema["enum"] = prop.Enum
	}
	if prop.Type == "array" && prop.Items != nil {
		schema["items"] = convertProperty(prop.Items)
	}
	if prop.Type == "object" && prop.Properties != nil {
		properties := make(map[string]any)
		for name, childProp := range prop.Properties {
			if childProp != nil {
				properties[name] = convertProperty(childProp)
			}
		}
		schema["properties"] = properties
	}
	return schema
}
