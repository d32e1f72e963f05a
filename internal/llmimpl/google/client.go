// Package google provides the Gemini client implementation of llm.Client.
package google

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"concierge/pkg/llm"
	"concierge/pkg/llm/llmerrors"
	"concierge/pkg/tools"
)

// GeminiClient wraps the Google GenAI client behind the llm.Client interface.
// One instance serves many concurrent conversations, so it holds no
// per-conversation state; replay data travels inside the conversation via
// llm.ToolCall.Raw.
type GeminiClient struct {
	mu     sync.Mutex // guards lazy client creation
	client *genai.Client
	apiKey string
	model  string
}

// NewClient creates a raw Gemini client for the given model. Middleware is
// applied at a higher level.
func NewClient(apiKey, model string) llm.Client {
	// Client creation needs a context, so it is deferred to the first call.
	return &GeminiClient{
		apiKey: apiKey,
		model:  model,
	}
}

func (g *GeminiClient) ensureClient(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return llmerrors.NewWithCause(llmerrors.ErrorTypeAuth, err, fmt.Sprintf("failed to create Gemini client: %v", err))
	}
	g.client = client
	return nil
}

// Complete implements llm.Client.
func (g *GeminiClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := g.ensureClient(ctx); err != nil {
		return llm.Response{}, err
	}

	contents, config, err := g.buildCall(req)
	if err != nil {
		return llm.Response{}, err
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.Response{}, llmerrors.Classify(err)
	}
	if result == nil {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	response := llm.Response{
		Text:       result.Text(),
		StopReason: stopReason(result),
	}
	if functionCalls := result.FunctionCalls(); len(functionCalls) > 0 {
		response.ToolCalls = convertFunctionCalls(functionCalls)
		// Attach the native content to the proposing turn so the caller's
		// conversation carries the thought signatures back on replay.
		if len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
			response.ToolCalls[0].Raw = result.Candidates[0].Content
		}
	}
	if response.Text == "" && len(response.ToolCalls) == 0 {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "Gemini returned neither text nor tool calls")
	}

	return response, nil
}

// Stream implements llm.Client using the native streaming endpoint.
func (g *GeminiClient) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	if err := g.ensureClient(ctx); err != nil {
		return nil, err
	}

	contents, config, err := g.buildCall(req)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			if err != nil {
				out <- llm.StreamChunk{Error: llmerrors.Classify(err)}
				return
			}
			if text := resp.Text(); text != "" {
				select {
				case out <- llm.StreamChunk{Content: text}:
				case <-ctx.Done():
					out <- llm.StreamChunk{Error: llmerrors.Classify(ctx.Err())}
					return
				}
			}
		}
		out <- llm.StreamChunk{Done: true}
	}()

	return out, nil
}

// ModelName implements llm.Client.
func (g *GeminiClient) ModelName() string {
	return g.model
}

// buildCall converts a request into genai contents and generation config.
func (g *GeminiClient) buildCall(req llm.Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	contents, systemInstruction, err := convertMessages(req.Messages)
	if err != nil {
		return nil, nil, llmerrors.NewWithCause(llmerrors.ErrorTypeBadPrompt, err, fmt.Sprintf("message conversion error: %v", err))
	}

	temperature := req.Config.Temperature
	//nolint:gosec // MaxOutputTokens validated by the selector
	maxTokens := int32(req.Config.MaxOutputTokens)
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: maxTokens,
	}

	if sys := req.Config.SystemInstruction; sys != "" {
		if systemInstruction != "" {
			systemInstruction = sys + "\n\n" + systemInstruction
		} else {
			systemInstruction = sys
		}
	}
	if systemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}

	if req.Config.ThinkingBudget != nil {
		config.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget: req.Config.ThinkingBudget,
		}
	}

	if len(req.Config.Tools) > 0 {
		config.Tools = []*genai.Tool{
			{FunctionDeclarations: convertTools(req.Config.Tools)},
		}
		// AUTO lets the model answer directly once it has enough tool
		// output; the agentic loop relies on that to terminate early.
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAuto,
			},
		}
	}

	return contents, config, nil
}

// convertMessages converts conversation messages to Gemini Content format.
// Returns contents plus any system instruction lifted out of the transcript.
func convertMessages(messages llm.Conversation) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	var systemInstruction string
	var contents []*genai.Content

	for i := range messages {
		msg := &messages[i]

		if msg.Role == llm.RoleSystem {
			if systemInstruction != "" {
				systemInstruction += "\n\n" + msg.Content
			} else {
				systemInstruction = msg.Content
			}
			continue
		}

		var role string
		switch msg.Role {
		case llm.RoleUser:
			role = "user"
		case llm.RoleModel:
			role = "model"
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		// A tool-calling model turn carries its own native content, so the
		// thought signatures are replayed verbatim.
		if msg.Role == llm.RoleModel && len(msg.ToolCalls) > 0 {
			if native, ok := msg.ToolCalls[0].Raw.(*genai.Content); ok && native != nil {
				contents = append(contents, native)
				continue
			}
		}

		var parts []*genai.Part

		if msg.Content != "" {
			parts = append(parts, &genai.Part{Text: msg.Content})
		}

		for j := range msg.ToolCalls {
			tc := &msg.ToolCalls[j]
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: tc.Name,
					Args: tc.Args,
					ID:   tc.ID,
				},
			})
		}

		for j := range msg.ToolResults {
			tr := &msg.ToolResults[j]
			if tr.ToolName == "" {
				continue
			}
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name: tr.ToolName,
					Response: map[string]any{
						"content":  tr.Content,
						"is_error": tr.IsError,
					},
				},
			})
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{
				Role:  role,
				Parts: parts,
			})
		}
	}

	return contents, systemInstruction, nil
}

// convertTools converts tool definitions to Gemini function declarations.
func convertTools(toolDefs []tools.ToolDefinition) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, len(toolDefs))

	for i := range toolDefs {
		tool := &toolDefs[i]

		properties := make(map[string]*genai.Schema)
		//nolint:gocritic // rangeValCopy: Property size acceptable here
		for propName, prop := range tool.InputSchema.Properties {
			properties[propName] = convertProperty(&prop)
		}

		declarations[i] = &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   tool.InputSchema.Required,
			},
		}
	}

	return declarations
}

// convertProperty recursively converts a schema property to Gemini format.
func convertProperty(prop *tools.Property) *genai.Schema {
	schema := &genai.Schema{
		Description: prop.Description,
	}

	switch prop.Type {
	case "string":
		schema.Type = genai.TypeString
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		if prop.Items != nil {
			schema.Items = convertProperty(prop.Items)
		}
	case "object":
		schema.Type = genai.TypeObject
		if prop.Properties != nil {
			properties := make(map[string]*genai.Schema)
			for name, childProp := range prop.Properties {
				if childProp != nil {
					properties[name] = convertProperty(childProp)
				}
			}
			schema.Properties = properties
		}
	default:
		schema.Type = genai.TypeString
	}

	if len(prop.Enum) > 0 {
		schema.Enum = prop.Enum
	}

	return schema
}

// convertFunctionCalls converts Gemini function calls to llm.ToolCall.
func convertFunctionCalls(calls []*genai.FunctionCall) []llm.ToolCall {
	toolCalls := make([]llm.ToolCall, len(calls))

	for i := range calls {
		call := calls[i]
		// Gemini omits call IDs; the function name doubles as the ID so
		// responses can be matched back to calls.
		id := call.ID
		if id == "" {
			id = call.Name
		}
		toolCalls[i] = llm.ToolCall{
			ID:   id,
			Name: call.Name,
			Args: call.Args,
		}
	}

	return toolCalls
}

func stopReason(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 {
		return "unknown"
	}
	if reason := result.Candidates[0].FinishReason; reason != "" {
		return string(reason)
	}
	return "end_turn"
}
