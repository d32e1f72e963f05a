// Package generate is the resilient generation pipeline: rate limiting,
// model selection, retry with backoff, model cascade, circuit breaking,
// response validation, and canned fallbacks.
package generate

import (
	"context"
	"fmt"
	"math"
	"time"

	"concierge/pkg/breaker"
	"concierge/pkg/config"
	"concierge/pkg/limiter"
	"concierge/pkg/llm"
	"concierge/pkg/llm/llmerrors"
	"concierge/pkg/logx"
	"concierge/pkg/metrics"
	"concierge/pkg/quality"
	"concierge/pkg/selector"
	"concierge/pkg/validate"
)

// Source tells the caller where a result came from.
type Source string

const (
	// SourceModel is a validated model response.
	SourceModel Source = "model"
	// SourceFallback is a canned response served after total failure.
	SourceFallback Source = "fallback"
	// SourceDenied is a rate-limit denial message.
	SourceDenied Source = "denied"
)

// Request is one user-facing generation call.
type Request struct {
	Identity     string
	QueryContext string
	Thinking     selector.ThinkingLevel
	System       string
	Conversation llm.Conversation
}

// Result is the safe-to-send outcome. The pipeline degrades to fallbacks
// instead of surfacing errors, so Text is always non-empty.
type Result struct {
	Text     string
	Model    string
	Source   Source
	Valid    bool
	Findings []validate.Finding
}

// FindingsSink persists validator findings for later review. Optional.
type FindingsSink interface {
	SaveFindings(identity string, findings []validate.Finding) error
}

// Client is the resilient generation pipeline. Safe for concurrent use.
type Client struct {
	clients   map[string]llm.Client
	sel       *selector.Selector
	lim       *limiter.Limiter
	brk       *breaker.Registry
	val       *validate.Validator
	filter    *quality.Filter
	fallbacks *Fallbacks
	recorder  metrics.Recorder
	sink      FindingsSink
	logger    *logx.Logger
	res       config.Resilience
	fastModel string

	sleep func(ctx context.Context, d time.Duration) error

	// stallTimeout bounds how long a stream may go without delivering a
	// chunk before the attempt is abandoned as a timeout.
	stallTimeout time.Duration
}

// New assembles the pipeline. clients maps model names to provider clients
// (already wrapped with middleware); lim, brk, sink, and recorder may be nil.
func New(
	clients map[string]llm.Client,
	sel *selector.Selector,
	lim *limiter.Limiter,
	brk *breaker.Registry,
	val *validate.Validator,
	filter *quality.Filter,
	recorder metrics.Recorder,
	sink FindingsSink,
	cfg *config.Config,
) *Client {
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}
	return &Client{
		clients:      clients,
		sel:          sel,
		lim:          lim,
		brk:          brk,
		val:          val,
		filter:       filter,
		fallbacks:    NewFallbacks(),
		recorder:     recorder,
		sink:         sink,
		logger:       logx.NewLogger("generate"),
		res:          cfg.Resilience,
		fastModel:    cfg.Models.Fast,
		sleep:        sleepCtx,
		stallTimeout: cfg.Resilience.AttemptTimeout(),
	}
}

// Generate runs the full pipeline and always returns something safe to send.
func (c *Client) Generate(ctx context.Context, req Request) Result {
	if denied, msg := c.checkLimit(req.Identity); denied {
		return Result{Text: msg, Source: SourceDenied, Valid: true}
	}

	model, genCfg := c.sel.Select(req.QueryContext, req.Thinking)
	genCfg.SystemInstruction = req.System

	resp, usedModel, err := c.completeResilient(ctx, model, genCfg, req.Conversation)
	if err != nil {
		return c.serveFallback(req, err)
	}

	return c.postProcess(req, usedModel, resp.Text)
}

// Complete gives resilient raw access (retry, cascade, breaker) without the
// limiter or the response pipeline. The agentic loop builds on this.
func (c *Client) Complete(ctx context.Context, model string, genCfg llm.GenerationConfig, conversation llm.Conversation) (llm.Response, string, error) {
	return c.completeResilient(ctx, model, genCfg, conversation)
}

// SelectModel exposes routing so callers composing their own loop stay
// consistent with the pipeline's choices.
func (c *Client) SelectModel(queryContext string, level selector.ThinkingLevel) (string, llm.GenerationConfig) {
	return c.sel.Select(queryContext, level)
}

// Fallback returns the canned response for the user's text.
func (c *Client) Fallback(userText string) (string, string) {
	family, text := c.fallbacks.Pick(userText)
	c.recorder.IncFallback(family)
	return family, text
}

// PostProcess validates and filters raw model text outside the Generate
// path. Used by the agentic loop for its final answer.
func (c *Client) PostProcess(req Request, model, text string) Result {
	return c.postProcess(req, model, text)
}

// CheckLimit applies the rate limiter for one identity. Exposed for callers
// that drive their own loop on top of Complete.
func (c *Client) CheckLimit(identity string) (denied bool, msg string) {
	return c.checkLimit(identity)
}

func (c *Client) checkLimit(identity string) (denied bool, msg string) {
	if c.lim == nil || identity == "" {
		return false, ""
	}
	allowed, denialMsg := c.lim.CheckAndConsume(identity)
	return !allowed, denialMsg
}

// completeResilient retries the chosen model with exponential backoff, then
// cascades once to the fast tier with the thinking budget stripped.
func (c *Client) completeResilient(ctx context.Context, model string, genCfg llm.GenerationConfig, conversation llm.Conversation) (llm.Response, string, error) {
	resp, err := c.attemptModel(ctx, model, genCfg, conversation, c.res.MaxAttempts)
	if err == nil {
		return resp, model, nil
	}

	if model == c.fastModel {
		return llm.Response{}, model, err
	}
	if llmerrors.TypeOf(err) == llmerrors.ErrorTypeAuth {
		// Bad credentials fail the same way on every model.
		return llm.Response{}, model, err
	}

	c.logger.Warn("model %s failed, cascading to %s: %v", model, c.fastModel, err)
	cascadeCfg := genCfg.WithoutThinking(c.fastModel)
	resp, cascadeErr := c.attemptModel(ctx, c.fastModel, cascadeCfg, conversation, c.res.CascadeAttempts)
	if cascadeErr != nil {
		return llm.Response{}, c.fastModel, fmt.Errorf("cascade to %s failed: %w (primary: %v)", c.fastModel, cascadeErr, err)
	}
	return resp, c.fastModel, nil
}

func (c *Client) attemptModel(ctx context.Context, model string, genCfg llm.GenerationConfig, conversation llm.Conversation, maxAttempts int) (llm.Response, error) {
	client, ok := c.clients[model]
	if !ok {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeUnknown, fmt.Sprintf("no client configured for model %s", model))
	}
	if c.brk != nil && !c.brk.CanExecute(model) {
		return llm.Response{}, &breaker.OpenError{Service: model, State: c.brk.StateOf(model)}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return llm.Response{}, llmerrors.Classify(err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.res.AttemptTimeout())
		resp, err := client.Complete(attemptCtx, llm.Request{Messages: conversation, Config: genCfg})
		cancel()

		if err == nil {
			if c.brk != nil {
				c.brk.RecordSuccess(model)
			}
			return resp, nil
		}

		classified := llmerrors.Classify(err)
		lastErr = classified
		if c.brk != nil {
			c.brk.RecordFailure(model, classified.Type.String())
		}
		if !classified.IsRetryable() {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	return llm.Response{}, fmt.Errorf("model %s failed after %d attempts: %w", model, maxAttempts, lastErr)
}

// backoff computes the delay before the given attempt (1-based).
func (c *Client) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(c.res.BackoffBase()) * math.Pow(2, float64(attempt-1)))
	if limit := c.res.BackoffMax(); delay > limit {
		delay = limit
	}
	return delay
}

func (c *Client) serveFallback(req Request, cause error) Result {
	family, text := c.fallbacks.Pick(req.Conversation.LastUserText())
	c.recorder.IncFallback(family)
	c.logger.Warn("serving %s fallback for identity=%s: %v", family, req.Identity, cause)
	return Result{Text: text, Source: SourceFallback, Valid: true}
}

func (c *Client) postProcess(req Request, model, text string) Result {
	outcome := c.val.Validate(text)
	for _, f := range outcome.Findings {
		c.recorder.IncValidation(f.Rule)
	}
	if len(outcome.Findings) > 0 && c.sink != nil {
		if err := c.sink.SaveFindings(req.Identity, outcome.Findings); err != nil {
			c.logger.Warn("failed to persist validation findings: %v", err)
		}
	}

	final := outcome.Text
	if c.filter != nil {
		final = c.filter.Apply(final, req.QueryContext, req.Conversation.LastUserText()).Text
	}
	if final == "" {
		return c.serveFallback(req, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "post-processing left no text"))
	}

	return Result{
		Text:     final,
		Model:    model,
		Source:   SourceModel,
		Valid:    outcome.Valid,
		Findings: outcome.Findings,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
