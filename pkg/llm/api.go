// Package llm defines the conversation types and client interface shared by
// all provider implementations and middleware.
package llm

import (
	"context"

	"concierge/pkg/tools"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser is a message from the end user.
	RoleUser Role = "user"
	// RoleModel is a message from the assistant.
	RoleModel Role = "model"
	// RoleSystem carries instructions; providers lift it out of the
	// transcript into their native system-prompt slot.
	RoleSystem Role = "system"
)

// ToolCall is a tool invocation proposed by the model. Args are untrusted
// input validated at the executor boundary, not here.
type ToolCall struct {
	Args map[string]any `json:"args"`
	ID   string         `json:"id"`
	Name string         `json:"name"`

	// Raw is the provider's native form of the turn that proposed this
	// call. Opaque to callers; it rides along in the conversation so the
	// provider can replay it verbatim on the next turn (Gemini needs this
	// to preserve thought signatures). State lives in the conversation,
	// never in the shared client.
	Raw any `json:"-"`
}

// ToolResult is the textual outcome of a tool call, fed back to the model.
type ToolResult struct {
	ToolName string `json:"tool_name"`
	Content  string `json:"content"`
	IsError  bool   `json:"is_error"`
}

// Message is one entry in a conversation. Immutable once appended; slice
// order is the wire order sent to the provider, most recent last.
type Message struct {
	Role        Role
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Conversation is an ordered sequence of messages.
type Conversation []Message

// LastUserText returns the text of the most recent user message, or "".
// Messages carrying tool results are synthetic continuation turns, not the
// user's words, and are skipped.
func (c Conversation) LastUserText() string {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Role == RoleUser && c[i].Content != "" && len(c[i].ToolResults) == 0 {
			return c[i].Content
		}
	}
	return ""
}

// GenerationConfig is the per-call generation policy. Value object: a
// cascade fallback builds a new config instead of mutating this one, so an
// incompatible thinking budget is never carried to the fallback model.
type GenerationConfig struct {
	Model             string
	MaxOutputTokens   int
	Temperature       float32
	ThinkingBudget    *int32
	SystemInstruction string
	Tools             []tools.ToolDefinition
}

// WithoutThinking returns a copy of the config retargeted at a different
// model with the thinking budget stripped. Used by the cascade path.
func (g GenerationConfig) WithoutThinking(model string) GenerationConfig {
	stripped := g
	stripped.Model = model
	stripped.ThinkingBudget = nil
	return stripped
}

// Request is a single provider call: a conversation plus its config.
type Request struct {
	Messages Conversation
	Config   GenerationConfig
}

// Response is the provider's answer to a Request.
type Response struct {
	ToolCalls  []ToolCall
	Text       string
	StopReason string
}

// StreamChunk is one increment of a streamed response.
type StreamChunk struct {
	Error   error
	Content string
	Done    bool
}

// Client is the interface every provider implementation satisfies.
type Client interface {
	// Complete generates a response synchronously.
	Complete(ctx context.Context, req Request) (Response, error)

	// Stream generates a response as a channel of chunks. The channel is
	// closed after the Done chunk or an Error chunk.
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)

	// ModelName returns the model this client targets.
	ModelName() string
}

// NewUserMessage creates a plain user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewModelMessage creates a plain assistant message.
func NewModelMessage(content string) Message {
	return Message{Role: RoleModel, Content: content}
}
