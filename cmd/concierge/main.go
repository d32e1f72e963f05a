// Command concierge runs the sales assistant pipeline as an interactive
// console session. It wires the full stack: config, secrets, providers,
// rate limiting, circuit breaking, validation, tools, and metrics.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"concierge/internal/llmimpl/factory"
	"concierge/pkg/agentic"
	"concierge/pkg/breaker"
	"concierge/pkg/config"
	"concierge/pkg/generate"
	"concierge/pkg/limiter"
	"concierge/pkg/llm"
	"concierge/pkg/logx"
	"concierge/pkg/metrics"
	"concierge/pkg/persistence"
	"concierge/pkg/quality"
	"concierge/pkg/selector"
	"concierge/pkg/tools"
	"concierge/pkg/validate"
)

const systemPrompt = `Ты — менеджер веб-студии. Помогаешь клиентам выбрать сайт,
магазин или веб-приложение, отвечаешь кратко и по делу, используешь инструменты
для показа цен, портфолио и оформления оплаты. Не называй цены вне прайса.`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "concierge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config JSON (defaults apply when empty)")
	secretsDir := flag.String("secrets-dir", ".", "directory holding the encrypted secrets file")
	policyPath := flag.String("policy", "", "path to an external routing policy YAML")
	encryptSecrets := flag.Bool("encrypt-secrets", false, "encrypt API keys from the environment into the secrets file and exit")
	usageFrom := flag.String("usage-from", "", "print aggregated usage from a Prometheus server and exit")
	flag.Parse()

	if *usageFrom != "" {
		return printUsage(*usageFrom)
	}

	logger := logx.NewLogger("main")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if *encryptSecrets {
		return encryptFromEnv(*secretsDir)
	}

	secrets, err := openSecrets(*secretsDir)
	if err != nil {
		return err
	}

	tools.RegisterSalesTools(cfg.Business)

	var store *persistence.Store
	if cfg.Persistence.Enabled {
		store, err = persistence.Open(cfg.Persistence.Path)
		if err != nil {
			return fmt.Errorf("failed to open persistence: %w", err)
		}
		defer func() { _ = store.Close() }()
	}

	var recorder metrics.Recorder = metrics.NopRecorder{}
	if cfg.Metrics.Enabled {
		recorder = metrics.NewPrometheusRecorder()
		go serveMetrics(cfg.Metrics.ListenAddr, logger)
	}

	clients, err := buildClients(cfg, secrets, recorder, logger)
	if err != nil {
		return err
	}

	sel, err := buildSelector(cfg, *policyPath)
	if err != nil {
		return err
	}

	var limiterStore limiter.Store
	if store != nil {
		limiterStore = store
	}
	lim := limiter.New(cfg.Limiter, limiterStore, recorder)
	brk := breaker.New(cfg.Breaker)
	val := validate.New(cfg.Business)
	filter := quality.New()

	var sink generate.FindingsSink
	if store != nil {
		sink = store
	}
	gen := generate.New(clients, sel, lim, brk, val, filter, recorder, sink, cfg)
	orch := agentic.New(gen, 4)
	provider := tools.NewProvider(nil)

	return repl(gen, orch, provider, logger)
}

// buildClients constructs one middleware-wrapped client per configured model.
func buildClients(cfg *config.Config, secrets *config.SecretStore, recorder metrics.Recorder, logger *logx.Logger) (map[string]llm.Client, error) {
	clients := make(map[string]llm.Client)
	for _, model := range []string{cfg.Models.Fast, cfg.Models.Thinking} {
		if _, ok := clients[model]; ok {
			continue
		}
		raw, err := factory.NewClient(model, secrets)
		if err != nil {
			return nil, fmt.Errorf("failed to build client for %s: %w", model, err)
		}
		clients[model] = llm.Chain(raw, metrics.Middleware(recorder, nil, nil, logx.NewLogger("llm")))
		logger.Info("client ready: %s", model)
	}
	return clients, nil
}

func buildSelector(cfg *config.Config, policyPath string) (*selector.Selector, error) {
	if policyPath != "" {
		sel, err := selector.NewFromFile(cfg.Models, policyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load routing policy: %w", err)
		}
		return sel, nil
	}
	sel, err := selector.New(cfg.Models)
	if err != nil {
		return nil, fmt.Errorf("failed to build selector: %w", err)
	}
	return sel, nil
}

// openSecrets prefers the encrypted secrets file, falling back to plain
// environment variables when no file exists.
func openSecrets(dir string) (*config.SecretStore, error) {
	if !config.SecretsFileExists(dir) {
		return config.EnvOnlySecrets(), nil
	}

	password, err := promptPassword("Secrets password: ")
	if err != nil {
		return nil, err
	}
	secrets, err := config.DecryptSecretsFile(dir, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	return secrets, nil
}

// encryptFromEnv snapshots the provider API keys from the environment into
// the encrypted secrets file.
func encryptFromEnv(dir string) error {
	values := make(map[string]string)
	for _, name := range []string{config.EnvGeminiAPIKey, config.EnvAnthropicAPIKey, config.EnvOpenAIAPIKey} {
		if v := os.Getenv(name); v != "" {
			values[name] = v
		}
	}
	if len(values) == 0 {
		return fmt.Errorf("no provider API keys found in environment")
	}

	password, err := promptPassword("New secrets password: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Repeat password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	if err := config.EncryptSecretsFile(dir, password, values); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	fmt.Printf("Encrypted %d secrets.\n", len(values))
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(raw), nil
}

// printUsage reports accumulated token and cost usage scraped into a
// Prometheus server by a previous run.
func printUsage(prometheusURL string) error {
	svc, err := metrics.NewQueryService(prometheusURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Prometheus: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	byModel, err := svc.UsageByModel(ctx)
	if err != nil {
		return fmt.Errorf("failed to query usage: %w", err)
	}
	for _, report := range byModel {
		fmt.Printf("%-24s prompt=%d completion=%d cost=$%.4f\n",
			report.Model, report.PromptTokens, report.CompletionTokens, report.TotalCost)
	}

	total, err := svc.TotalUsage(ctx)
	if err != nil {
		return fmt.Errorf("failed to query totals: %w", err)
	}
	fmt.Printf("%-24s prompt=%d completion=%d cost=$%.4f\n",
		"total", total.PromptTokens, total.CompletionTokens, total.TotalCost)
	return nil
}

func serveMetrics(addr string, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listening on %s", addr)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server: %v", err)
	}
}

// repl reads user lines from stdin and streams assistant replies back.
func repl(gen *generate.Client, orch *agentic.Orchestrator, provider *tools.Provider, logger *logx.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := bufio.NewScanner(os.Stdin)
	conversation := llm.Conversation{}
	identity := "console"

	fmt.Println("concierge ready. Empty line or Ctrl-C to exit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		if ctx.Err() != nil {
			break
		}

		conversation = append(conversation, llm.NewUserMessage(line))
		req := generate.Request{
			Identity:     identity,
			QueryContext: classifyQuery(line),
			System:       systemPrompt,
			Conversation: conversation,
		}

		// Tool use only matters on sales flows; plain questions stream
		// through the lighter non-agentic pipeline.
		var result generate.Result
		var actions []tools.SpecialAction
		switch req.QueryContext {
		case "greeting", "faq", "default":
			var printed int
			result = gen.GenerateStreaming(ctx, req, func(draft string) {
				if len(draft) > printed {
					fmt.Print(draft[printed:])
					printed = len(draft)
				}
			})
			fmt.Println()
			// The validated final can differ from the streamed draft.
			if printed != len(result.Text) {
				fmt.Println(result.Text)
			}
		default:
			outcome := orch.Run(ctx, req, provider)
			result = outcome.Result
			actions = outcome.Actions
			fmt.Println(result.Text)
		}
		for _, action := range actions {
			fmt.Printf("[действие: %s %s]\n", action.Kind, action.Payload)
		}
		conversation = append(conversation, llm.NewModelMessage(result.Text))

		if result.Source == generate.SourceDenied {
			logger.Warn("identity %s throttled", identity)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdin error: %w", err)
	}
	return nil
}

// classifyQuery applies cheap keyword routing for the console. Server
// deployments replace this with their own intent classifier.
func classifyQuery(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "привет"), strings.Contains(lower, "здравств"):
		return "greeting"
	case strings.Contains(lower, "дорого"), strings.Contains(lower, "подумаю"), strings.Contains(lower, "не уверен"):
		return "objection"
	case strings.Contains(lower, "сколько"), strings.Contains(lower, "цена"), strings.Contains(lower, "стоит"):
		return "sales"
	case strings.Contains(lower, "как"), strings.Contains(lower, "что такое"):
		return "faq"
	default:
		return "default"
	}
}
