package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// UsageReport is the aggregated token and cost usage for one model.
type UsageReport struct {
	Model            string  `json:"model"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService reads aggregated usage back from a Prometheus server.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a usage query service against the given server.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// TotalUsage aggregates token and cost usage across all models.
func (q *QueryService) TotalUsage(ctx context.Context) (*UsageReport, error) {
	report := &UsageReport{Model: "all"}

	prompt, err := q.scalar(ctx, `sum(llm_tokens_total{type="prompt"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	report.PromptTokens = int64(prompt)

	completion, err := q.scalar(ctx, `sum(llm_tokens_total{type="completion"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	report.CompletionTokens = int64(completion)
	report.TotalTokens = report.PromptTokens + report.CompletionTokens

	cost, err := q.scalar(ctx, `sum(llm_costs_total)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query total cost: %w", err)
	}
	report.TotalCost = cost

	return report, nil
}

// UsageByModel breaks usage down per model.
func (q *QueryService) UsageByModel(ctx context.Context) (map[string]*UsageReport, error) {
	result := make(map[string]*UsageReport)

	modelsResult, _, err := q.queryAPI.Query(ctx, `group by (model) (llm_tokens_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	var models []string
	if vector, ok := modelsResult.(model.Vector); ok {
		for _, sample := range vector {
			if name, ok := sample.Metric["model"]; ok {
				models = append(models, string(name))
			}
		}
	}

	for _, name := range models {
		report := &UsageReport{Model: name}

		prompt, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{model=%q, type="prompt"})`, name))
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for model %s: %w", name, err)
		}
		report.PromptTokens = int64(prompt)

		completion, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{model=%q, type="completion"})`, name))
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for model %s: %w", name, err)
		}
		report.CompletionTokens = int64(completion)
		report.TotalTokens = report.PromptTokens + report.CompletionTokens

		cost, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_costs_total{model=%q})`, name))
		if err != nil {
			return nil, fmt.Errorf("failed to query cost for model %s: %w", name, err)
		}
		report.TotalCost = cost

		result[name] = report
	}

	return result, nil
}

// ThrottleCounts returns throttle event counts grouped by reason.
func (q *QueryService) ThrottleCounts(ctx context.Context) (map[string]int64, error) {
	result := make(map[string]int64)

	res, _, err := q.queryAPI.Query(ctx, `sum by (reason) (llm_throttle_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query throttle counts: %w", err)
	}

	if vector, ok := res.(model.Vector); ok {
		for _, sample := range vector {
			reason := string(sample.Metric["reason"])
			result[reason] = int64(sample.Value)
		}
	}

	return result, nil
}

func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	res, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err //nolint:wrapcheck // callers add query-specific context
	}
	if vector, ok := res.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}
