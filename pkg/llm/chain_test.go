package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func taggingMiddleware(tag string, order *[]string) Middleware {
	return func(next Client) Client {
		return WrapClient(
			func(ctx context.Context, req Request) (Response, error) {
				*order = append(*order, tag)
				return next.Complete(ctx, req)
			},
			next.Stream,
			next.ModelName,
		)
	}
}

func TestChainOrdersMiddlewaresOutermostFirst(t *testing.T) {
	var order []string
	base := WrapClient(
		func(ctx context.Context, req Request) (Response, error) {
			order = append(order, "base")
			return Response{Text: "ok"}, nil
		},
		func(ctx context.Context, req Request) (<-chan StreamChunk, error) { return nil, nil },
		func() string { return "test-model" },
	)

	client := Chain(base, taggingMiddleware("first", &order), taggingMiddleware("second", &order))

	resp, err := client.Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, []string{"first", "second", "base"}, order)
	assert.Equal(t, "test-model", client.ModelName())
}

func TestChainWithoutMiddlewaresReturnsBase(t *testing.T) {
	base := WrapClient(
		func(ctx context.Context, req Request) (Response, error) { return Response{}, nil },
		func(ctx context.Context, req Request) (<-chan StreamChunk, error) { return nil, nil },
		func() string { return "m" },
	)
	assert.Equal(t, base, Chain(base))
}

func TestLastUserText(t *testing.T) {
	conv := Conversation{
		NewUserMessage("Привет"),
		NewModelMessage("Здравствуйте!"),
		NewUserMessage("Сколько стоит лендинг?"),
		{
			Role:        RoleUser,
			Content:     "Выше результаты инструментов, продолжай.",
			ToolResults: []ToolResult{{ToolName: "show_pricing", Content: "..."}},
		},
	}

	assert.Equal(t, "Сколько стоит лендинг?", conv.LastUserText())
	assert.Equal(t, "", Conversation{}.LastUserText())
	assert.Equal(t, "", Conversation{NewModelMessage("...")}.LastUserText())
}

func TestWithoutThinking(t *testing.T) {
	budget := int32(2048)
	cfg := GenerationConfig{Model: "gemini-2.5-pro", ThinkingBudget: &budget, Temperature: 0.7}

	stripped := cfg.WithoutThinking("gemini-2.5-flash")

	assert.Equal(t, "gemini-2.5-flash", stripped.Model)
	assert.Nil(t, stripped.ThinkingBudget)
	assert.Equal(t, float32(0.7), stripped.Temperature)
	// Original untouched.
	assert.NotNil(t, cfg.ThinkingBudget)
	assert.Equal(t, "gemini-2.5-pro", cfg.Model)
}
