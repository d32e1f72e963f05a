package agentic

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/pkg/config"
	"concierge/pkg/generate"
	"concierge/pkg/limiter"
	"concierge/pkg/llm"
	"concierge/pkg/llm/llmerrors"
	"concierge/pkg/quality"
	"concierge/pkg/selector"
	"concierge/pkg/tools"
	"concierge/pkg/validate"
)

// scriptedClient answers Complete calls per call index and records every
// request it saw.
type scriptedClient struct {
	model   string
	respond func(call int, req llm.Request) (llm.Response, error)

	mu   sync.Mutex
	reqs []llm.Request
}

func (s *scriptedClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	s.mu.Lock()
	call := len(s.reqs)
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	return s.respond(call, req)
}

func (s *scriptedClient) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	return nil, llmerrors.New(llmerrors.ErrorTypeUnknown, "streaming not scripted")
}

func (s *scriptedClient) ModelName() string { return s.model }

func (s *scriptedClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func (s *scriptedClient) request(i int) llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reqs[i]
}

type fakeToolProvider struct {
	exec  func(name string, args map[string]any) (*tools.ExecResult, error)
	calls []string
}

func (f *fakeToolProvider) List() []tools.ToolDefinition {
	return []tools.ToolDefinition{{Name: "show_pricing", Description: "показать прайс"}}
}

func (f *fakeToolProvider) Execute(ctx context.Context, name string, args map[string]any) (*tools.ExecResult, error) {
	f.calls = append(f.calls, name)
	return f.exec(name, args)
}

func newTestOrchestrator(t *testing.T, maxSteps int, respond func(int, llm.Request) (llm.Response, error)) (*Orchestrator, *scriptedClient, *generate.Client) {
	t.Helper()

	cfg := config.Default()
	mock := &scriptedClient{model: cfg.Models.Fast, respond: respond}
	clients := map[string]llm.Client{
		cfg.Models.Fast:     mock,
		cfg.Models.Thinking: mock,
	}

	sel, err := selector.New(cfg.Models)
	require.NoError(t, err)

	gen := generate.New(clients, sel, nil, nil, validate.New(cfg.Business), quality.New(), nil, nil, cfg)
	return New(gen, maxSteps), mock, gen
}

func toolCallResponse(name string) llm.Response {
	return llm.Response{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: name, Args: map[string]any{}}}}
}

func askRequest(userText string) generate.Request {
	return generate.Request{
		Identity:     "tg:42",
		QueryContext: "faq",
		Conversation: llm.Conversation{llm.NewUserMessage(userText)},
	}
}

func TestToolRoundLiftsActionAndHidesMarker(t *testing.T) {
	orch, mock, _ := newTestOrchestrator(t, 4, func(call int, req llm.Request) (llm.Response, error) {
		if call == 0 {
			return toolCallResponse("show_pricing"), nil
		}
		return llm.Response{Text: "Лендинг стоит 150 000 ₽."}, nil
	})
	provider := &fakeToolProvider{exec: func(string, map[string]any) (*tools.ExecResult, error) {
		return &tools.ExecResult{Content: "[PRICING] пакеты и цены"}, nil
	}}

	out := orch.Run(context.Background(), askRequest("Сколько стоит лендинг?"), provider)

	assert.Equal(t, generate.SourceModel, out.Result.Source)
	assert.Equal(t, "Лендинг стоит 150 000 ₽.", out.Result.Text)
	require.Len(t, out.Actions, 1)
	assert.Equal(t, tools.ActionPricing, out.Actions[0].Kind)
	assert.Equal(t, []string{"show_pricing"}, provider.calls)

	// The follow-up request carries a prose acknowledgement, never the marker.
	require.Equal(t, 2, mock.callCount())
	second := mock.request(1)
	last := second.Messages[len(second.Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.Equal(t, tools.Acknowledgement(tools.ActionPricing), last.ToolResults[0].Content)
	assert.NotContains(t, last.ToolResults[0].Content, "[PRICING]")

	// The continuation turn instructs the model to keep working or answer,
	// without shadowing the real user question.
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Contains(t, last.Content, "инструмент")
	assert.Equal(t, "Сколько стоит лендинг?", second.Messages.LastUserText())
}

func TestTypedActionPreferredOverSentinel(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, 4, func(call int, req llm.Request) (llm.Response, error) {
		if call == 0 {
			return toolCallResponse("show_pricing"), nil
		}
		return llm.Response{Text: "Готово."}, nil
	})
	provider := &fakeToolProvider{exec: func(string, map[string]any) (*tools.ExecResult, error) {
		return &tools.ExecResult{
			Content: "ссылка создана",
			Action:  &tools.SpecialAction{Kind: tools.ActionPayment, Payload: "https://vertex-web.ru/pay/abc"},
		}, nil
	}}

	out := orch.Run(context.Background(), askRequest("Выставите счёт"), provider)

	require.Len(t, out.Actions, 1)
	assert.Equal(t, tools.ActionPayment, out.Actions[0].Kind)
	assert.Equal(t, "https://vertex-web.ru/pay/abc", out.Actions[0].Payload)
}

func TestStepBudgetForcesPlainTextFinal(t *testing.T) {
	const maxSteps = 2
	orch, mock, _ := newTestOrchestrator(t, maxSteps, func(call int, req llm.Request) (llm.Response, error) {
		if req.Config.Tools == nil {
			return llm.Response{Text: "Итоговый ответ по проекту."}, nil
		}
		return toolCallResponse("show_pricing"), nil
	})
	provider := &fakeToolProvider{exec: func(string, map[string]any) (*tools.ExecResult, error) {
		return &tools.ExecResult{Content: "[PRICING]"}, nil
	}}

	out := orch.Run(context.Background(), askRequest("Сколько стоит лендинг?"), provider)

	assert.Equal(t, maxSteps+1, mock.callCount(), "loop rounds plus one forced final call")
	assert.Nil(t, mock.request(maxSteps).Config.Tools, "final call must disable tools")
	assert.Equal(t, "Итоговый ответ по проекту.", out.Result.Text)
	assert.Len(t, provider.calls, maxSteps)
}

func TestToolErrorFedBackAsErrorResult(t *testing.T) {
	orch, mock, _ := newTestOrchestrator(t, 4, func(call int, req llm.Request) (llm.Response, error) {
		if call == 0 {
			return toolCallResponse("show_pricing"), nil
		}
		return llm.Response{Text: "Уточните, пожалуйста, формат."}, nil
	})
	provider := &fakeToolProvider{exec: func(string, map[string]any) (*tools.ExecResult, error) {
		return nil, errors.New("каталог недоступен")
	}}

	out := orch.Run(context.Background(), askRequest("Покажите работы"), provider)

	assert.Equal(t, generate.SourceModel, out.Result.Source)
	assert.Empty(t, out.Actions)
	require.Len(t, out.Trace, 1)
	assert.True(t, out.Trace[0].IsError)
	assert.Contains(t, out.Trace[0].Content, "Ошибка вызова инструмента")

	second := mock.request(1)
	last := second.Messages[len(second.Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.True(t, last.ToolResults[0].IsError)
}

func TestGenerationFailurePreservesCollectedActions(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, 4, func(call int, req llm.Request) (llm.Response, error) {
		if call == 0 {
			return toolCallResponse("show_pricing"), nil
		}
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeBadPrompt, "scripted failure")
	})
	provider := &fakeToolProvider{exec: func(string, map[string]any) (*tools.ExecResult, error) {
		return &tools.ExecResult{Content: "[PRICING]"}, nil
	}}

	out := orch.Run(context.Background(), askRequest("Сколько стоит разработка?"), provider)

	assert.Equal(t, generate.SourceFallback, out.Result.Source)
	assert.Contains(t, out.Result.Text, "150 000")
	require.Len(t, out.Actions, 1, "actions collected before the failure survive")
	assert.Equal(t, tools.ActionPricing, out.Actions[0].Kind)
}

func TestDeniedIdentityNeverReachesModel(t *testing.T) {
	cfg := config.Default()
	cfg.Limiter.MaxTokens = 1

	mock := &scriptedClient{model: cfg.Models.Fast, respond: func(int, llm.Request) (llm.Response, error) {
		return llm.Response{Text: "Ответ."}, nil
	}}
	clients := map[string]llm.Client{cfg.Models.Fast: mock, cfg.Models.Thinking: mock}
	sel, err := selector.New(cfg.Models)
	require.NoError(t, err)
	gen := generate.New(clients, sel, limiter.New(cfg.Limiter, nil, nil), nil, validate.New(cfg.Business), quality.New(), nil, nil, cfg)
	orch := New(gen, 4)

	provider := &fakeToolProvider{exec: func(string, map[string]any) (*tools.ExecResult, error) {
		return &tools.ExecResult{Content: "[PRICING]"}, nil
	}}

	first := orch.Run(context.Background(), askRequest("Сколько стоит лендинг?"), provider)
	assert.Equal(t, generate.SourceModel, first.Result.Source)

	second := orch.Run(context.Background(), askRequest("Сколько стоит лендинг?"), provider)
	assert.Equal(t, generate.SourceDenied, second.Result.Source)
	assert.NotEmpty(t, second.Result.Text)
	assert.Equal(t, 1, mock.callCount())
}
