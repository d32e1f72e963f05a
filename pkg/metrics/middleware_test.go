package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/pkg/config"
	"concierge/pkg/llm"
	"concierge/pkg/llm/llmerrors"
)

// captureRecorder remembers the last observation for assertions.
type captureRecorder struct {
	NopRecorder

	model            string
	queryContext     string
	promptTokens     int
	completionTokens int
	cost             float64
	success          bool
	errorType        string
	observations     int
}

func (r *captureRecorder) ObserveRequest(model, queryContext string, promptTokens, completionTokens int, cost float64, success bool, errorType string, duration time.Duration) {
	r.model = model
	r.queryContext = queryContext
	r.promptTokens = promptTokens
	r.completionTokens = completionTokens
	r.cost = cost
	r.success = success
	r.errorType = errorType
	r.observations++
}

func instrumented(recorder Recorder, respond func(ctx context.Context, req llm.Request) (llm.Response, error)) llm.Client {
	base := llm.WrapClient(
		respond,
		func(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
			return nil, llmerrors.New(llmerrors.ErrorTypeTimeout, "no stream")
		},
		func() string { return config.ModelGeminiFlash },
	)
	contextOf := func(context.Context) string { return "faq" }
	return llm.Chain(base, Middleware(recorder, nil, contextOf, nil))
}

func TestMiddlewareRecordsSuccessfulCall(t *testing.T) {
	rec := &captureRecorder{}
	client := instrumented(rec, func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{Text: "Лендинг стоит 150 000 ₽."}, nil
	})

	req := llm.Request{
		Messages: llm.Conversation{llm.NewUserMessage("Сколько стоит лендинг?")},
		Config:   llm.GenerationConfig{SystemInstruction: "Ты менеджер студии."},
	}
	_, err := client.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.observations)
	assert.Equal(t, config.ModelGeminiFlash, rec.model)
	assert.Equal(t, "faq", rec.queryContext)
	assert.True(t, rec.success)
	assert.Empty(t, rec.errorType)
	assert.Positive(t, rec.promptTokens, "system prompt and messages are counted")
	assert.Positive(t, rec.completionTokens)
	assert.Positive(t, rec.cost)
}

func TestMiddlewareRecordsFailureWithErrorType(t *testing.T) {
	rec := &captureRecorder{}
	client := instrumented(rec, func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeRateLimit, "429")
	})

	_, err := client.Complete(context.Background(), llm.Request{})
	require.Error(t, err)

	assert.False(t, rec.success)
	assert.Equal(t, "rate_limit", rec.errorType)
	assert.Zero(t, rec.promptTokens, "usage is not estimated for failed calls")
	assert.Zero(t, rec.cost)
}

func TestMiddlewareRecordsStreamSetup(t *testing.T) {
	rec := &captureRecorder{}
	client := instrumented(rec, func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{}, nil
	})

	_, err := client.Stream(context.Background(), llm.Request{})
	require.Error(t, err)

	assert.Equal(t, 1, rec.observations)
	assert.False(t, rec.success)
	assert.Equal(t, "timeout", rec.errorType)
}

func TestEstimateCost(t *testing.T) {
	// 1M prompt tokens at the flash input rate.
	cost := estimateCost(config.ModelGeminiFlash, 1_000_000, 0)
	info := config.KnownModels[config.ModelGeminiFlash]
	assert.InDelta(t, info.CPMTokensIn, cost, 1e-9)

	assert.Zero(t, estimateCost("unknown-model", 1000, 1000))
}

func TestDefaultUsageExtractorCountsBothSides(t *testing.T) {
	req := llm.Request{
		Messages: llm.Conversation{llm.NewUserMessage("Hello there, how much is a landing page?")},
		Config:   llm.GenerationConfig{SystemInstruction: "You are a sales assistant."},
	}
	resp := llm.Response{Text: "A landing page starts at 150 000 rubles."}

	prompt, completion := DefaultUsageExtractor(req, resp)
	assert.Greater(t, prompt, 5)
	assert.Greater(t, completion, 5)
}
