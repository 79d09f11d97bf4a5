package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/nodebench/internal/agents"
	"github.com/kalambet/nodebench/internal/analytics"
	"github.com/kalambet/nodebench/internal/api"
	"github.com/kalambet/nodebench/internal/billing"
	"github.com/kalambet/nodebench/internal/config"
	"github.com/kalambet/nodebench/internal/coordinator"
	"github.com/kalambet/nodebench/internal/entity"
	"github.com/kalambet/nodebench/internal/gmail"
	"github.com/kalambet/nodebench/internal/llm"
	"github.com/kalambet/nodebench/internal/planner"
	"github.com/kalambet/nodebench/internal/ratelimit"
	"github.com/kalambet/nodebench/internal/search"
	"github.com/kalambet/nodebench/internal/settings"
	"github.com/kalambet/nodebench/internal/storage"
	"github.com/kalambet/nodebench/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the nodebench server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running nodebench server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show nodebench system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "nodebench.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// services is everything runServer starts besides the HTTP listener.
type services struct {
	deps    api.Deps
	worker  *worker.Worker
	limiter *ratelimit.Limiter
}

func (s services) Close() {
	if s.limiter != nil {
		if err := s.limiter.Close(); err != nil {
			slog.Warn("closing rate limiter", "error", err)
		}
	}
}

// buildServices wires every component from cfg. Missing credentials leave the
// matching provider out of its fallback chain rather than failing startup.
func buildServices(cfg config.Config, store *storage.Store, token string) (services, error) {
	var openrouter, openai *llm.Client
	if cfg.LLM.OpenRouterAPIKey != "" {
		openrouter = llm.NewOpenRouter(cfg.LLM.OpenRouterAPIKey).WithBaseURL(cfg.LLM.OpenRouterBaseURL)
	}
	if cfg.LLM.OpenAIAPIKey != "" {
		openai = llm.NewOpenAI(cfg.LLM.OpenAIAPIKey).WithBaseURL(cfg.LLM.OpenAIBaseURL)
	}

	// The first configured client serves chat passthrough, summaries,
	// delegation and entity research. Interfaces stay nil when none is set.
	var proxy api.ChatProxy
	var completer llm.Completer
	model := cfg.LLM.DefaultModel
	switch {
	case openrouter != nil:
		proxy, completer = openrouter, openrouter
	case openai != nil:
		proxy, completer = openai, openai
		model = cfg.LLM.OpenAIModel
	default:
		slog.Warn("no LLM API key configured; chat passthrough and LLM features are disabled")
	}

	web := search.NewWebClient(cfg.Search.BaseURL, cfg.Search.APIKey)
	sec := search.NewSECClient("", cfg.SEC.UserAgent)
	entities := entity.NewService(store, web, completer, model,
		time.Duration(cfg.Entity.StalenessDays)*24*time.Hour)

	registry := agents.NewRegistry(
		agents.NewWebAgent(web, search.NewPageFetcher()),
		agents.NewMediaAgent(web),
		agents.NewDocumentAgent(store),
		agents.NewSECAgent(sec),
		agents.NewEntityResearchAgent(entities),
	)

	table, err := coordinator.LoadKeywords(filepath.Join(cfg.Storage.DataDir, coordinator.KeywordsFile))
	if err != nil {
		return services{}, fmt.Errorf("loading agent keywords: %w", err)
	}
	analyzer := coordinator.NewAnalyzer(table)
	var delegator coordinator.Delegator
	if completer != nil {
		delegator = coordinator.NewLLMDelegator(completer, model)
	}
	plain := coordinator.New(store, registry, analyzer, nil)
	delegating := coordinator.New(store, registry, analyzer, delegator)

	var orProvider, oaProvider planner.Provider
	if openrouter != nil {
		orProvider = planner.NewLLMProvider(planner.ProviderOpenRouter, openrouter, cfg.LLM.DefaultModel)
	}
	if openai != nil {
		oaProvider = planner.NewLLMProvider(planner.ProviderOpenAI, openai, cfg.LLM.OpenAIModel)
	}

	toolDeps := planner.ToolDeps{
		Searcher:  web,
		LLM:       completer,
		Model:     model,
		Documents: store,
		Filings:   sec,
		Entities:  entities,
	}

	bill, err := billing.New(store, billing.Config{
		Mode:                cfg.Billing.Mode,
		StripeSecretKey:     cfg.Billing.StripeSecretKey,
		StripePriceID:       cfg.Billing.StripePriceID,
		StripeWebhookSecret: cfg.Billing.StripeWebhookSecret,
		PolarToken:          cfg.Billing.PolarToken,
		PolarProductID:      cfg.Billing.PolarProductID,
		PolarWebhookSecret:  cfg.Billing.PolarWebhookSecret,
		SuccessURL:          cfg.Billing.SuccessURL,
		CancelURL:           cfg.Billing.CancelURL,
	})
	if err != nil {
		return services{}, fmt.Errorf("configuring billing: %w", err)
	}
	slog.Info("billing providers", "chain", strings.Join(bill.Providers(), ","))

	mail := gmail.NewService(store, gmail.Config{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		RedirectURL:  cfg.Gmail.RedirectURL,
		StateSecret:  cfg.Gmail.StateSecret,
	})

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RedisAddr != "" {
		if limiter, err = ratelimit.New(cfg.RateLimit.RedisAddr, cfg.RateLimit.RequestsPerMinute, time.Minute); err != nil {
			return services{}, fmt.Errorf("configuring rate limiter: %w", err)
		}
	}

	deps := api.Deps{
		Store: store,
		Token: token,
		LLM:   proxy,
		Coordinator: func(llmDelegation bool) *coordinator.Coordinator {
			if llmDelegation {
				return delegating
			}
			return plain
		},
		Planner: func(mode string) (*planner.Planner, error) {
			return planner.NewFromMode(mode, orProvider, oaProvider)
		},
		Executor: planner.NewExecutor(store),
		Tools: func(userID string) planner.Tools {
			return planner.BuiltinTools(toolDeps, userID)
		},
		Entities: entities,
		Billing:  bill,
		Gmail:    mail,
		Settings: settings.NewManager(store, settings.Settings{
			DefaultModel:    cfg.LLM.DefaultModel,
			PlannerProvider: cfg.Planner.Provider,
			LLMDelegation:   cfg.Coordinator.LLMDelegation,
		}),
		Analytics: analytics.NewService(store),
		Limiter:   limiter,
		UploadDir: filepath.Join(cfg.Storage.DataDir, "uploads"),
	}

	return services{
		deps:    deps,
		worker:  worker.NewWorker(store, mail, entities, 500*time.Millisecond),
		limiter: limiter,
	}, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "nodebench version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("nodebench is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("nodebench is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	if n, err := store.RequeueRunningJobs(); err != nil {
		return fmt.Errorf("requeueing interrupted jobs: %w", err)
	} else if n > 0 {
		slog.Info("requeued interrupted jobs", "count", n)
	}

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("getting API token: %w", err)
	}
	slog.Info("API bearer token available")

	svc, err := buildServices(cfg, store, apiToken)
	if err != nil {
		return err
	}
	defer svc.Close()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewRouter(svc.deps),
	}

	// The worker must stop before the deferred store.Close runs.
	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		svc.worker.Run(workerCtx)
	}()
	defer func() {
		stopWorker()
		<-workerDone
	}()

	if cfg.Server.MCPEnabled {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(svc.deps))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "nodebench listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("nodebench is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop nodebench (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to nodebench (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("LLM", "%s", llmLabel(cfg))
	printStatus("Planner", "%s", cfg.Planner.Provider)
	printStatus("Billing", "%s", cfg.Billing.Mode)
	if cfg.RateLimit.RedisAddr != "" {
		printStatus("Rate limit", "%d/min via %s", cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.RedisAddr)
	} else {
		printStatus("Rate limit", "off")
	}

	apiToken, tokenErr := config.GetAPIToken(config.NewKeychain())
	if tokenErr == nil && running {
		docsResp, err := apiGet(client, serverURL+"/documents?limit=100", apiToken)
		if err == nil {
			var docs []json.RawMessage
			if json.NewDecoder(docsResp.Body).Decode(&docs) == nil {
				printStatus("Documents", "%s", countLabel(len(docs), 100))
			}
			docsResp.Body.Close()
		}
		runsResp, err := apiGet(client, serverURL+"/agents/runs?limit=100", apiToken)
		if err == nil {
			var runs []json.RawMessage
			if json.NewDecoder(runsResp.Body).Decode(&runs) == nil {
				printStatus("Agent runs", "%s", countLabel(len(runs), 100))
			}
			runsResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func llmLabel(cfg config.Config) string {
	var providers []string
	if cfg.LLM.OpenRouterAPIKey != "" {
		providers = append(providers, "openrouter")
	}
	if cfg.LLM.OpenAIAPIKey != "" {
		providers = append(providers, "openai")
	}
	if len(providers) == 0 {
		return "not configured"
	}
	return strings.Join(providers, ", ") + " (" + cfg.LLM.DefaultModel + ")"
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
