// Package config provides configuration loading, validation, and the
// business-constant tables the response validator enforces.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Model name constants for the supported providers.
const (
	ModelGeminiFlash  = "gemini-2.5-flash"
	ModelGeminiPro    = "gemini-2.5-pro"
	ModelClaudeSonnet = "claude-sonnet-4-5"
	ModelGPT5         = "gpt-5"
)

// ModelInfo describes a model the orchestrator may route to.
type ModelInfo struct {
	Provider        string // "google", "anthropic", "openai"
	MaxOutputTokens int
	CPMTokensIn     float64 // cost per million prompt tokens, USD
	CPMTokensOut    float64 // cost per million completion tokens, USD
}

// KnownModels is the static model catalog.
//
//nolint:gochecknoglobals // static catalog, read-only after init
var KnownModels = map[string]ModelInfo{
	ModelGeminiFlash:  {Provider: "google", MaxOutputTokens: 8192, CPMTokensIn: 0.30, CPMTokensOut: 2.50},
	ModelGeminiPro:    {Provider: "google", MaxOutputTokens: 65536, CPMTokensIn: 1.25, CPMTokensOut: 10.00},
	ModelClaudeSonnet: {Provider: "anthropic", MaxOutputTokens: 64000, CPMTokensIn: 3.00, CPMTokensOut: 15.00},
	ModelGPT5:         {Provider: "openai", MaxOutputTokens: 128000, CPMTokensIn: 1.25, CPMTokensOut: 10.00},
}

// Models selects the two tiers the selector routes between.
type Models struct {
	Fast           string `json:"fast"`
	Thinking       string `json:"thinking"`
	ThinkingBudget int32  `json:"thinking_budget"`
}

// Resilience controls retry, backoff, and cascade behavior per generation call.
type Resilience struct {
	MaxAttempts        int     `json:"max_attempts"`
	CascadeAttempts    int     `json:"cascade_attempts"`
	BackoffBaseSec     float64 `json:"backoff_base_sec"`
	BackoffMaxSec      float64 `json:"backoff_max_sec"`
	AttemptTimeoutSec  int     `json:"attempt_timeout_sec"`
	StreamPollMsec     int     `json:"stream_poll_msec"`
	StreamQueueSize    int     `json:"stream_queue_size"`
}

// Limiter controls the per-identity token bucket and abuse lockout.
type Limiter struct {
	RatePerMinute    float64 `json:"rate_per_minute"`
	MaxTokens        float64 `json:"max_tokens"`
	WarningThreshold int     `json:"warning_threshold"`
	LockoutSec       int     `json:"lockout_sec"`
	IdleTTLSec       int     `json:"idle_ttl_sec"`
}

// Breaker controls the per-service circuit breaker.
type Breaker struct {
	FailureThreshold   int `json:"failure_threshold"`
	RecoveryTimeoutSec int `json:"recovery_timeout_sec"`
	HalfOpenMax        int `json:"half_open_max"`
}

// Package is a fixed-price offering of the studio.
type Package struct {
	Name  string `json:"name"`
	Price int    `json:"price"`
}

// Business holds the contractual constants the validator enforces.
// They live in config so the facts can change without touching rule code.
type Business struct {
	Packages           []Package `json:"packages"`
	SubscriptionPrices []int     `json:"subscription_prices"`
	FeaturePriceMin    int       `json:"feature_price_min"`
	FeaturePriceMax    int       `json:"feature_price_max"`
	SuspiciousMin      int       `json:"suspicious_min"`
	SuspiciousMax      int       `json:"suspicious_max"`
	PrepaymentPercent  int       `json:"prepayment_percent"`
	FreeRevisionDays   int       `json:"free_revision_days"`
	MinDeliveryDays    int       `json:"min_delivery_days"`
	MaxDeliveryDays    int       `json:"max_delivery_days"`
	AllowedDomains     []string  `json:"allowed_domains"`
	LoyaltyCoinName    string    `json:"loyalty_coin_name"`
	PaymentBaseURL     string    `json:"payment_base_url"`
}

// Persistence configures the optional SQLite backing store.
type Persistence struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Metrics configures the prometheus endpoint and query service.
type Metrics struct {
	Enabled       bool   `json:"enabled"`
	ListenAddr    string `json:"listen_addr"`
	PrometheusURL string `json:"prometheus_url"`
}

// Config is the root configuration for the orchestration layer.
type Config struct {
	Models      Models      `json:"models"`
	Resilience  Resilience  `json:"resilience"`
	Limiter     Limiter     `json:"limiter"`
	Breaker     Breaker     `json:"breaker"`
	Business    Business    `json:"business"`
	Persistence Persistence `json:"persistence"`
	Metrics     Metrics     `json:"metrics"`
}

// Default returns the configuration used when no config file overrides it.
func Default() *Config {
	return &Config{
		Models: Models{
			Fast:           ModelGeminiFlash,
			Thinking:       ModelGeminiPro,
			ThinkingBudget: 2048,
		},
		Resilience: Resilience{
			MaxAttempts:       3,
			CascadeAttempts:   2,
			BackoffBaseSec:    0.5,
			BackoffMaxSec:     30,
			AttemptTimeoutSec: 60,
			StreamPollMsec:    300,
			StreamQueueSize:   16,
		},
		Limiter: Limiter{
			RatePerMinute:    12,
			MaxTokens:        15,
			WarningThreshold: 3,
			LockoutSec:       300,
			IdleTTLSec:       3600,
		},
		Breaker: Breaker{
			FailureThreshold:   5,
			RecoveryTimeoutSec: 30,
			HalfOpenMax:        2,
		},
		Business: Business{
			Packages: []Package{
				{Name: "Лендинг", Price: 150000},
				{Name: "Корпоративный сайт", Price: 250000},
				{Name: "Интернет-магазин", Price: 350000},
				{Name: "Веб-приложение", Price: 500000},
			},
			SubscriptionPrices: []int{15000, 25000, 45000},
			FeaturePriceMin:    5000,
			FeaturePriceMax:    50000,
			SuspiciousMin:      100000,
			SuspiciousMax:      2000000,
			PrepaymentPercent:  50,
			FreeRevisionDays:   14,
			MinDeliveryDays:    7,
			MaxDeliveryDays:    45,
			AllowedDomains:     []string{"vertex-web.ru", "t.me", "wa.me"},
			LoyaltyCoinName:    "коин",
			PaymentBaseURL:     "https://vertex-web.ru/pay",
		},
		Persistence: Persistence{
			Enabled: false,
			Path:    "concierge.db",
		},
		Metrics: Metrics{
			Enabled:       false,
			ListenAddr:    ":9090",
			PrometheusURL: "http://localhost:9091",
		},
	}
}

// envPattern matches ${VAR} references inside the config file.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a JSON config file over the defaults. ${ENV_VAR} references in
// the file are expanded before parsing. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	expanded := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})

	if err := json.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if _, ok := KnownModels[c.Models.Fast]; !ok {
		return fmt.Errorf("unknown fast model %q", c.Models.Fast)
	}
	if _, ok := KnownModels[c.Models.Thinking]; !ok {
		return fmt.Errorf("unknown thinking model %q", c.Models.Thinking)
	}
	if c.Resilience.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}
	if c.Limiter.RatePerMinute <= 0 || c.Limiter.MaxTokens <= 0 {
		return fmt.Errorf("limiter rate and max tokens must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 || c.Breaker.HalfOpenMax <= 0 {
		return fmt.Errorf("breaker thresholds must be positive")
	}
	if len(c.Business.Packages) == 0 {
		return fmt.Errorf("at least one package price is required")
	}
	if c.Business.MinDeliveryDays > c.Business.MaxDeliveryDays {
		return fmt.Errorf("min_delivery_days exceeds max_delivery_days")
	}
	if c.Business.PrepaymentPercent <= 0 || c.Business.PrepaymentPercent > 100 {
		return fmt.Errorf("prepayment_percent must be in (0, 100]")
	}
	return nil
}

// PackagePrices returns the allowed package prices in ascending order of
// appearance. Used by the validator and the pricing tool.
func (b *Business) PackagePrices() []int {
	prices := make([]int, len(b.Packages))
	for i := range b.Packages {
		prices[i] = b.Packages[i].Price
	}
	return prices
}

// AttemptTimeout returns the per-attempt timeout as a duration.
func (r *Resilience) AttemptTimeout() time.Duration {
	return time.Duration(r.AttemptTimeoutSec) * time.Second
}

// BackoffBase returns the initial backoff delay as a duration.
func (r *Resilience) BackoffBase() time.Duration {
	return time.Duration(r.BackoffBaseSec * float64(time.Second))
}

// BackoffMax returns the backoff cap as a duration.
func (r *Resilience) BackoffMax() time.Duration {
	return time.Duration(r.BackoffMaxSec * float64(time.Second))
}

// RecoveryTimeout returns the breaker recovery window as a duration.
func (b *Breaker) RecoveryTimeout() time.Duration {
	return time.Duration(b.RecoveryTimeoutSec) * time.Second
}

// Lockout returns the abuse lockout as a duration.
func (l *Limiter) Lockout() time.Duration {
	return time.Duration(l.LockoutSec) * time.Second
}

// IdleTTL returns the bucket garbage-collection age as a duration.
func (l *Limiter) IdleTTL() time.Duration {
	return time.Duration(l.IdleTTLSec) * time.Second
}
