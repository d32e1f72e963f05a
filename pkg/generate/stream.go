package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"concierge/pkg/breaker"
	"concierge/pkg/llm"
	"concierge/pkg/llm/llmerrors"
)

// ChunkFunc receives draft text as it accumulates. Best effort: a slow or
// failing sink delays delivery but never fails the generation.
type ChunkFunc func(draft string)

// GenerateStreaming runs the pipeline with incremental delivery. Chunks are
// forwarded through a bounded queue and flushed to onChunk on a fixed poll
// interval; the final text still passes validation and quality filtering,
// so the last onChunk call may differ from the streamed draft.
func (c *Client) GenerateStreaming(ctx context.Context, req Request, onChunk ChunkFunc) Result {
	if denied, msg := c.checkLimit(req.Identity); denied {
		return Result{Text: msg, Source: SourceDenied, Valid: true}
	}

	model, genCfg := c.sel.Select(req.QueryContext, req.Thinking)
	genCfg.SystemInstruction = req.System

	full, err := c.streamOnce(ctx, model, genCfg, req.Conversation, onChunk)
	if err != nil {
		// The stream path gets one shot; recovery goes through the
		// non-streaming retry and cascade machinery.
		c.logger.Warn("stream from %s failed, retrying non-streaming: %v", model, err)
		resp, usedModel, completeErr := c.completeResilient(ctx, model, genCfg, req.Conversation)
		if completeErr != nil {
			result := c.serveFallback(req, completeErr)
			c.emit(onChunk, result.Text)
			return result
		}
		result := c.postProcess(req, usedModel, resp.Text)
		c.emit(onChunk, result.Text)
		return result
	}

	result := c.postProcess(req, model, full)
	c.emit(onChunk, result.Text)
	return result
}

// streamOnce consumes one provider stream into a full response, flushing
// drafts to onChunk on the poll interval.
func (c *Client) streamOnce(ctx context.Context, model string, genCfg llm.GenerationConfig, conversation llm.Conversation, onChunk ChunkFunc) (string, error) {
	client, ok := c.clients[model]
	if !ok {
		return "", errNoClient(model)
	}
	if c.brk != nil && !c.brk.CanExecute(model) {
		return "", errBreakerOpen(c.brk, model)
	}

	// Cancelling streamCtx tears the provider stream down, which unblocks
	// the forwarder when the consumer abandons a stalled attempt.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	provider, err := client.Stream(streamCtx, llm.Request{Messages: conversation, Config: genCfg})
	if err != nil {
		if c.brk != nil {
			c.brk.RecordFailure(model, "stream_setup")
		}
		return "", err
	}

	// Forwarder decouples the provider's pace from the consumer: the queue
	// absorbs bursts, and a full queue backpressures the provider read.
	queue := make(chan llm.StreamChunk, c.res.StreamQueueSize)
	go func() {
		defer close(queue)
		for chunk := range provider {
			select {
			case queue <- chunk:
			case <-streamCtx.Done():
				return
			}
		}
	}()

	var full strings.Builder
	var lastFlushed int
	poll := time.Duration(c.res.StreamPollMsec) * time.Millisecond
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	// Inactivity watchdog: every delivered chunk pushes the deadline out,
	// so a long answer streams freely while a hung provider is abandoned
	// after one attempt-timeout of silence.
	stall := time.NewTimer(c.stallTimeout)
	defer stall.Stop()

	for {
		select {
		case chunk, open := <-queue:
			if !open {
				// Provider closed without a Done marker; treat what
				// arrived as the complete response.
				return c.finishStream(model, full.String())
			}
			if chunk.Error != nil {
				if c.brk != nil {
					c.brk.RecordFailure(model, "stream_chunk")
				}
				return "", chunk.Error
			}
			if chunk.Done {
				return c.finishStream(model, full.String())
			}
			full.WriteString(chunk.Content)
			if !stall.Stop() {
				select {
				case <-stall.C:
				default:
				}
			}
			stall.Reset(c.stallTimeout)

		case <-stall.C:
			if c.brk != nil {
				c.brk.RecordFailure(model, "stream_stalled")
			}
			return "", errStreamStalled(model, c.stallTimeout)

		case <-ticker.C:
			if full.Len() > lastFlushed {
				lastFlushed = full.Len()
				c.emit(onChunk, full.String())
			}

		case <-ctx.Done():
			if c.brk != nil {
				c.brk.RecordFailure(model, "stream_canceled")
			}
			return "", ctx.Err()
		}
	}
}

func (c *Client) finishStream(model, full string) (string, error) {
	if strings.TrimSpace(full) == "" {
		if c.brk != nil {
			c.brk.RecordFailure(model, "stream_empty")
		}
		return "", errEmptyStream(model)
	}
	if c.brk != nil {
		c.brk.RecordSuccess(model)
	}
	return full, nil
}

func errNoClient(model string) error {
	return llmerrors.New(llmerrors.ErrorTypeUnknown, fmt.Sprintf("no client configured for model %s", model))
}

func errBreakerOpen(brk *breaker.Registry, model string) error {
	return &breaker.OpenError{Service: model, State: brk.StateOf(model)}
}

func errEmptyStream(model string) error {
	return llmerrors.New(llmerrors.ErrorTypeEmptyResponse, fmt.Sprintf("stream from %s produced no content", model))
}

func errStreamStalled(model string, timeout time.Duration) error {
	return llmerrors.New(llmerrors.ErrorTypeTimeout, fmt.Sprintf("stream from %s stalled for %s", model, timeout))
}

func (c *Client) emit(onChunk ChunkFunc, draft string) {
	if onChunk == nil {
		return
	}
	onChunk(draft)
}
