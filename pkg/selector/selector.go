// Package selector maps a conversation's inferred query context to a model
// and generation config via a data-driven policy table.
package selector

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"concierge/pkg/config"
	"concierge/pkg/llm"
)

// ThinkingLevel lets the caller force the thinking tier when no query
// context label is available.
type ThinkingLevel string

const (
	ThinkingDefault ThinkingLevel = "default"
	ThinkingHigh    ThinkingLevel = "high"
)

// Tier names used in the policy table.
const (
	tierFast     = "fast"
	tierThinking = "thinking"
)

// Policy is one row of the routing table.
type Policy struct {
	Tier            string  `yaml:"tier"`
	Temperature     float32 `yaml:"temperature"`
	Thinking        bool    `yaml:"thinking"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

//go:embed policy.yaml
var defaultPolicyYAML []byte

// Selector resolves (queryContext, thinkingLevel) into a concrete model and
// generation config. Pure lookup; safe for concurrent use after construction.
type Selector struct {
	models   config.Models
	policies map[string]Policy
}

// New builds a selector from the embedded policy table.
func New(models config.Models) (*Selector, error) {
	return newFromYAML(models, defaultPolicyYAML)
}

// NewFromFile builds a selector from an external policy file, so routing
// can be tuned per deployment without a rebuild.
func NewFromFile(models config.Models, path string) (*Selector, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	return newFromYAML(models, raw)
}

func newFromYAML(models config.Models, raw []byte) (*Selector, error) {
	policies := make(map[string]Policy)
	if err := yaml.Unmarshal(raw, &policies); err != nil {
		return nil, fmt.Errorf("failed to parse routing policy: %w", err)
	}
	if _, ok := policies["default"]; !ok {
		return nil, fmt.Errorf("routing policy must define a default entry")
	}
	return &Selector{models: models, policies: policies}, nil
}

// Select returns the model name and generation config for a query context.
// Unknown or empty contexts use the default policy; an empty context with
// thinkingLevel high forces the thinking tier.
func (s *Selector) Select(queryContext string, level ThinkingLevel) (string, llm.GenerationConfig) {
	policy, ok := s.policies[queryContext]
	if !ok {
		policy = s.policies["default"]
		if queryContext == "" && level == ThinkingHigh {
			policy.Tier = tierThinking
			policy.Thinking = true
		}
	}

	model := s.models.Fast
	if policy.Tier == tierThinking {
		model = s.models.Thinking
	}

	maxTokens := policy.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	if info, known := config.KnownModels[model]; known && maxTokens > info.MaxOutputTokens {
		maxTokens = info.MaxOutputTokens
	}

	cfg := llm.GenerationConfig{
		Model:           model,
		MaxOutputTokens: maxTokens,
		Temperature:     policy.Temperature,
	}
	if policy.Thinking && s.models.ThinkingBudget > 0 {
		budget := s.models.ThinkingBudget
		cfg.ThinkingBudget = &budget
	}

	return model, cfg
}

// Contexts returns the labels the policy table knows about.
func (s *Selector) Contexts() []string {
	out := make([]string, 0, len(s.policies))
	for name := range s.policies {
		out = append(out, name)
	}
	return out
}
