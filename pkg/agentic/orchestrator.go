// Package agentic runs the bounded tool-calling loop: the model proposes
// tool calls, tools execute sequentially, results feed back in, and after a
// fixed number of steps the model must answer in plain text.
package agentic

import (
	"context"
	"fmt"

	"concierge/pkg/generate"
	"concierge/pkg/llm"
	"concierge/pkg/logx"
	"concierge/pkg/tools"
)

// continuationInstruction accompanies tool results on the synthetic user
// turn so the model knows to keep working or answer.
const continuationInstruction = "Выше результаты вызванных инструментов. " +
	"Вызови ещё инструменты, если данных не хватает, иначе дай клиенту финальный ответ."

// ToolProvider is what the loop needs from the tool layer.
type ToolProvider interface {
	List() []tools.ToolDefinition
	Execute(ctx context.Context, name string, args map[string]any) (*tools.ExecResult, error)
}

// Outcome is the result of one agentic turn. Actions carry the typed UI
// signals lifted out of tool results; the model only ever sees prose
// acknowledgements in their place.
type Outcome struct {
	Result  generate.Result
	Actions []tools.SpecialAction
	Trace   []llm.ToolResult
}

// Orchestrator drives the loop on top of the resilient generation client.
type Orchestrator struct {
	gen      *generate.Client
	maxSteps int
	logger   *logx.Logger
}

// New creates an orchestrator. maxSteps bounds tool rounds; the forced
// final answer adds at most one more provider call.
func New(gen *generate.Client, maxSteps int) *Orchestrator {
	if maxSteps <= 0 {
		maxSteps = 4
	}
	return &Orchestrator{
		gen:      gen,
		maxSteps: maxSteps,
		logger:   logx.NewLogger("agentic"),
	}
}

// Run executes one agentic turn. Like Generate, it always returns something
// safe to send; generation failures degrade to contextual fallbacks while
// already-collected actions are kept.
func (o *Orchestrator) Run(ctx context.Context, req generate.Request, provider ToolProvider) Outcome {
	if denied, msg := o.gen.CheckLimit(req.Identity); denied {
		return Outcome{Result: generate.Result{Text: msg, Source: generate.SourceDenied, Valid: true}}
	}

	model, genCfg := o.gen.SelectModel(req.QueryContext, req.Thinking)
	genCfg.SystemInstruction = req.System
	genCfg.Tools = provider.List()

	conv := append(llm.Conversation{}, req.Conversation...)
	var outcome Outcome

	for step := 0; step < o.maxSteps; step++ {
		resp, usedModel, err := o.gen.Complete(ctx, model, genCfg, conv)
		if err != nil {
			return o.fallback(req, outcome, err)
		}

		if len(resp.ToolCalls) == 0 {
			outcome.Result = o.gen.PostProcess(req, usedModel, resp.Text)
			return outcome
		}

		modelMsg := llm.Message{Role: llm.RoleModel, Content: resp.Text, ToolCalls: resp.ToolCalls}
		results := o.executeCalls(ctx, provider, resp.ToolCalls, &outcome)
		conv = append(conv, modelMsg, llm.Message{
			Role:        llm.RoleUser,
			Content:     continuationInstruction,
			ToolResults: results,
		})
	}

	// Step budget exhausted: one last call with tools disabled forces a
	// plain-text answer.
	finalCfg := genCfg
	finalCfg.Tools = nil
	resp, usedModel, err := o.gen.Complete(ctx, model, finalCfg, conv)
	if err != nil {
		return o.fallback(req, outcome, err)
	}
	outcome.Result = o.gen.PostProcess(req, usedModel, resp.Text)
	return outcome
}

// executeCalls runs the proposed calls sequentially. Tool failures become
// error-text results for the model instead of aborting the turn.
func (o *Orchestrator) executeCalls(ctx context.Context, provider ToolProvider, calls []llm.ToolCall, outcome *Outcome) []llm.ToolResult {
	results := make([]llm.ToolResult, 0, len(calls))

	for i := range calls {
		call := &calls[i]
		res, err := provider.Execute(ctx, call.Name, call.Args)
		if err != nil {
			o.logger.Warn("tool %s failed: %v", call.Name, err)
			result := llm.ToolResult{
				ToolName: call.Name,
				Content:  fmt.Sprintf("Ошибка вызова инструмента: %v", err),
				IsError:  true,
			}
			results = append(results, result)
			outcome.Trace = append(outcome.Trace, result)
			continue
		}

		content := res.Content
		action := res.Action
		if action == nil {
			action = tools.ParseSentinel(content)
		}
		if action != nil {
			outcome.Actions = append(outcome.Actions, *action)
			// The model sees an acknowledgement, never the raw marker.
			content = tools.Acknowledgement(action.Kind)
		}

		result := llm.ToolResult{ToolName: call.Name, Content: content}
		results = append(results, result)
		outcome.Trace = append(outcome.Trace, result)
	}

	return results
}

func (o *Orchestrator) fallback(req generate.Request, outcome Outcome, cause error) Outcome {
	o.logger.Warn("agentic turn degraded to fallback: %v", cause)
	_, text := o.gen.Fallback(req.Conversation.LastUserText())
	outcome.Result = generate.Result{Text: text, Source: generate.SourceFallback, Valid: true}
	return outcome
}
