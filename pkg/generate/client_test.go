package generate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/pkg/config"
	"concierge/pkg/limiter"
	"concierge/pkg/llm"
	"concierge/pkg/llm/llmerrors"
	"concierge/pkg/quality"
	"concierge/pkg/selector"
	"concierge/pkg/validate"
)

// mockProvider scripts Complete responses per call index.
type mockProvider struct {
	model   string
	respond func(call int, req llm.Request) (llm.Response, error)

	mu      sync.Mutex
	calls   int
	configs []llm.GenerationConfig
}

func (m *mockProvider) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	m.configs = append(m.configs, req.Config)
	m.mu.Unlock()
	return m.respond(call, req)
}

func (m *mockProvider) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	return nil, llmerrors.New(llmerrors.ErrorTypeUnknown, "streaming not scripted")
}

func (m *mockProvider) ModelName() string { return m.model }

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func alwaysText(text string) func(int, llm.Request) (llm.Response, error) {
	return func(int, llm.Request) (llm.Response, error) {
		return llm.Response{Text: text}, nil
	}
}

func alwaysFail(errType llmerrors.ErrorType) func(int, llm.Request) (llm.Response, error) {
	return func(int, llm.Request) (llm.Response, error) {
		return llm.Response{}, llmerrors.New(errType, "scripted failure")
	}
}

type testPipeline struct {
	gen      *Client
	fast     *mockProvider
	thinking *mockProvider
	slept    *[]time.Duration
}

func newTestPipeline(t *testing.T, cfg *config.Config) *testPipeline {
	t.Helper()

	fast := &mockProvider{model: cfg.Models.Fast, respond: alwaysText("Ответ готов.")}
	thinking := &mockProvider{model: cfg.Models.Thinking, respond: alwaysText("Ответ готов.")}
	clients := map[string]llm.Client{
		cfg.Models.Fast:     fast,
		cfg.Models.Thinking: thinking,
	}

	sel, err := selector.New(cfg.Models)
	require.NoError(t, err)

	gen := New(clients, sel, nil, nil, validate.New(cfg.Business), quality.New(), nil, nil, cfg)

	slept := &[]time.Duration{}
	gen.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}

	return &testPipeline{gen: gen, fast: fast, thinking: thinking, slept: slept}
}

func askRequest(queryContext, userText string) Request {
	return Request{
		Identity:     "tg:42",
		QueryContext: queryContext,
		Conversation: llm.Conversation{llm.NewUserMessage(userText)},
	}
}

func TestGenerateReturnsValidatedModelText(t *testing.T) {
	cfg := config.Default()
	p := newTestPipeline(t, cfg)
	p.fast.respond = alwaysText("Лендинг стоит 150 000 ₽, срок от 7 дней.")

	res := p.gen.Generate(context.Background(), askRequest("faq", "Сколько стоит лендинг?"))

	assert.Equal(t, SourceModel, res.Source)
	assert.Equal(t, cfg.Models.Fast, res.Model)
	assert.True(t, res.Valid)
	assert.Equal(t, "Лендинг стоит 150 000 ₽, срок от 7 дней.", res.Text)
	assert.Equal(t, 1, p.fast.callCount())
	assert.Zero(t, p.thinking.callCount())
}

func TestRetryWithExponentialBackoff(t *testing.T) {
	cfg := config.Default()
	p := newTestPipeline(t, cfg)
	p.fast.respond = func(call int, req llm.Request) (llm.Response, error) {
		if call < 2 {
			return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeTimeout, "slow upstream")
		}
		return llm.Response{Text: "Ответ готов."}, nil
	}

	res := p.gen.Generate(context.Background(), askRequest("faq", "Сколько стоит сайт под ключ?"))

	assert.Equal(t, SourceModel, res.Source)
	assert.Equal(t, 3, p.fast.callCount())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *p.slept)
}

func TestNonRetryableErrorStopsAttempts(t *testing.T) {
	cfg := config.Default()
	p := newTestPipeline(t, cfg)
	p.fast.respond = alwaysFail(llmerrors.ErrorTypeBadPrompt)

	res := p.gen.Generate(context.Background(), askRequest("faq", "Сколько стоит лендинг?"))

	assert.Equal(t, SourceFallback, res.Source)
	assert.Equal(t, 1, p.fast.callCount(), "bad prompts must not be retried")
}

func TestCascadeStripsThinkingBudget(t *testing.T) {
	cfg := config.Default()
	p := newTestPipeline(t, cfg)
	p.thinking.respond = alwaysFail(llmerrors.ErrorTypeTimeout)

	res := p.gen.Generate(context.Background(), askRequest("sales", "Соберите коммерческое предложение под мой проект"))

	assert.Equal(t, SourceModel, res.Source)
	assert.Equal(t, cfg.Models.Fast, res.Model)
	assert.Equal(t, cfg.Resilience.MaxAttempts, p.thinking.callCount())
	assert.Equal(t, 1, p.fast.callCount())

	require.NotEmpty(t, p.thinking.configs)
	assert.NotNil(t, p.thinking.configs[0].ThinkingBudget, "thinking tier requests a budget")
	require.NotEmpty(t, p.fast.configs)
	assert.Nil(t, p.fast.configs[0].ThinkingBudget, "cascade must strip the budget")
	assert.Equal(t, cfg.Models.Fast, p.fast.configs[0].Model)
}

func TestAuthErrorSkipsCascade(t *testing.T) {
	cfg := config.Default()
	p := newTestPipeline(t, cfg)
	p.thinking.respond = alwaysFail(llmerrors.ErrorTypeAuth)

	res := p.gen.Generate(context.Background(), askRequest("sales", "Соберите коммерческое предложение под мой проект"))

	assert.Equal(t, SourceFallback, res.Source)
	assert.Equal(t, 1, p.thinking.callCount(), "auth failures must not be retried")
	assert.Zero(t, p.fast.callCount(), "auth failures must not cascade")
}

func TestTotalFailureServesPricingFallback(t *testing.T) {
	cfg := config.Default()
	p := newTestPipeline(t, cfg)
	p.fast.respond = alwaysFail(llmerrors.ErrorTypeTimeout)
	p.thinking.respond = alwaysFail(llmerrors.ErrorTypeTimeout)

	res := p.gen.Generate(context.Background(), askRequest("faq", "Сколько стоит разработка?"))

	assert.Equal(t, SourceFallback, res.Source)
	assert.NotEmpty(t, res.Text)
	assert.Contains(t, res.Text, "150 000")
}

func TestRateLimitDenialShortCircuitsProviders(t *testing.T) {
	cfg := config.Default()
	cfg.Limiter.MaxTokens = 1
	p := newTestPipeline(t, cfg)
	p.gen.lim = limiter.New(cfg.Limiter, nil, nil)

	first := p.gen.Generate(context.Background(), askRequest("faq", "Сколько стоит лендинг?"))
	assert.Equal(t, SourceModel, first.Source)

	second := p.gen.Generate(context.Background(), askRequest("faq", "Сколько стоит лендинг?"))
	assert.Equal(t, SourceDenied, second.Source)
	assert.NotEmpty(t, second.Text)
	assert.Equal(t, 1, p.fast.callCount(), "denied requests never reach a provider")
}

type recordingSink struct {
	identity string
	rules    []string
}

func (s *recordingSink) SaveFindings(identity string, findings []validate.Finding) error {
	s.identity = identity
	for _, f := range findings {
		s.rules = append(s.rules, f.Rule)
	}
	return nil
}

func TestPostProcessRewritesAndPersistsFindings(t *testing.T) {
	cfg := config.Default()
	p := newTestPipeline(t, cfg)
	sink := &recordingSink{}
	p.gen.sink = sink

	req := askRequest("faq", "Сколько стоит лендинг?")
	res := p.gen.PostProcess(req, cfg.Models.Fast, "Конечно! Такой сайт стоит 237 000 ₽.")

	assert.Equal(t, SourceModel, res.Source)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Text, "250 000 ₽")
	assert.NotContains(t, res.Text, "Конечно")
	assert.Equal(t, "tg:42", sink.identity)
	assert.Contains(t, sink.rules, "price")
}

func TestEmptyTextAfterProcessingFallsBack(t *testing.T) {
	cfg := config.Default()
	p := newTestPipeline(t, cfg)
	p.fast.respond = alwaysText("   ")

	res := p.gen.Generate(context.Background(), askRequest("faq", "Сколько стоит разработка?"))

	assert.Equal(t, SourceFallback, res.Source)
	assert.NotEmpty(t, res.Text)
}
