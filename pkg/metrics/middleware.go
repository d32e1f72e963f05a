package metrics

import (
	"context"
	"time"

	"concierge/pkg/config"
	"concierge/pkg/llm"
	"concierge/pkg/llm/llmerrors"
	"concierge/pkg/logx"
	"concierge/pkg/utils"
)

// UsageExtractor estimates token usage for a request/response pair.
type UsageExtractor func(req llm.Request, resp llm.Response) (promptTokens, completionTokens int)

// DefaultUsageExtractor estimates usage with tiktoken counting.
func DefaultUsageExtractor(req llm.Request, resp llm.Response) (promptTokens, completionTokens int) {
	var promptText string
	if req.Config.SystemInstruction != "" {
		promptText = req.Config.SystemInstruction + "\n"
	}
	for i := range req.Messages {
		promptText += req.Messages[i].Content + "\n"
	}
	return utils.CountTokensSimple(promptText), utils.CountTokensSimple(resp.Text)
}

// ContextFunc supplies the query-context label for the current call.
type ContextFunc func(ctx context.Context) string

// Middleware records request counts, latency, token usage, and cost for
// every generation call.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, contextOf ContextFunc, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}
	if contextOf == nil {
		contextOf = func(context.Context) string { return "default" }
	}

	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.Request) (llm.Response, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				var cost float64
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
					cost = estimateCost(next.ModelName(), promptTokens, completionTokens)
				}

				errorType := ""
				if err != nil {
					errorType = llmerrors.TypeOf(err).String()
				}

				queryContext := contextOf(ctx)
				recorder.ObserveRequest(next.ModelName(), queryContext, promptTokens, completionTokens, cost, err == nil, errorType, duration)

				if logger != nil {
					status := "success"
					if err != nil {
						status = "error"
					}
					logger.Info("llm request: model=%s context=%s tokens=%d+%d status=%s duration=%dms",
						next.ModelName(), queryContext, promptTokens, completionTokens, status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // middleware passes errors through unchanged
			},
			func(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
				start := time.Now()
				ch, err := next.Stream(ctx, req)
				duration := time.Since(start)

				// For streams only setup time and outcome are recorded;
				// token counting would require consuming the stream.
				errorType := ""
				if err != nil {
					errorType = llmerrors.TypeOf(err).String()
				}
				recorder.ObserveRequest(next.ModelName(), contextOf(ctx), 0, 0, 0, err == nil, errorType, duration)

				return ch, err //nolint:wrapcheck // middleware passes errors through unchanged
			},
			next.ModelName,
		)
	}
}

// estimateCost converts token counts to USD using the model catalog rates.
func estimateCost(model string, promptTokens, completionTokens int) float64 {
	info, ok := config.KnownModels[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1e6*info.CPMTokensIn +
		float64(completionTokens)/1e6*info.CPMTokensOut
}
