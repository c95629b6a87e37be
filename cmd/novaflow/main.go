package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rahul/novaflow/internal/agent"
	"github.com/rahul/novaflow/internal/gateway"
	"github.com/rahul/novaflow/internal/governance"
	"github.com/rahul/novaflow/internal/history"
	"github.com/rahul/novaflow/internal/observability"
	"github.com/rahul/novaflow/internal/store"
	"github.com/rahul/novaflow/internal/strategy"
	"github.com/rahul/novaflow/internal/tools"
	"github.com/rahul/novaflow/internal/vectorstore"
	"github.com/rahul/novaflow/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.json", "path to a JSON or YAML config file")
	flag.Parse()

	observability.PrintBanner()
	observability.InitializeTerminal()

	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	cfg := config.LoadConfig(*configPath)
	logger := observability.NewLogger()
	metrics := observability.NewMetrics()

	// Initialize LLM (using default enabled provider)
	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		log.Fatal("No enabled provider found in config")
	}

	var (
		llm *openai.LLM
		err error
	)
	switch pName {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(pCfg.APIKey),
			openai.WithModel(pCfg.Model),
		}
		if pCfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
		}
		if pCfg.EmbeddingModel != "" {
			opts = append(opts, openai.WithEmbeddingModel(pCfg.EmbeddingModel))
		}
		llm, err = openai.New(opts...)
	default:
		log.Fatalf("Provider %s not yet implemented in main", pName)
	}
	if err != nil {
		log.Fatal(err)
	}
	var model llms.Model = llm

	// Storage: conversation turns and scheduled goals in sqlite, strategies
	// and episodic memory in chromem.
	db, err := store.NewHistoryStore(cfg.Memory.Path)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	var embedder embeddings.Embedder = vectorstore.KeywordEmbedder{}
	if pCfg.EmbeddingModel != "" {
		embedder, err = embeddings.NewEmbedder(llm)
		if err != nil {
			log.Fatal(err)
		}
	}
	vectors, err := vectorstore.NewChromemStore(cfg.Memory.VectorPath, embedder)
	if err != nil {
		log.Fatal(err)
	}
	strategies := strategy.NewClient(vectors,
		strategy.WithThreshold(cfg.Engine.StrategyThreshold),
		strategy.WithLogger(logger),
		strategy.WithMetrics(metrics),
	)

	book := history.NewBook(db,
		history.WithRecentKeep(cfg.History.RecentKeep),
		history.WithImportantKeep(cfg.History.ImportantKeep),
	)

	gate := governance.NewGate()
	for capability, name := range cfg.Policy.Tiers {
		tier, err := governance.ParseTier(name)
		if err != nil {
			log.Fatal(err)
		}
		gate.SetTier(capability, tier)
	}
	for _, name := range cfg.Policy.DenyTools {
		gate.DenyTool(name)
	}
	// Default safety rules: Block dangerous destructive commands
	for _, pattern := range append([]string{`rm\s+-rf`, `mkfs`, `shutdown`, `reboot`}, cfg.Policy.DenyPatterns...) {
		if err := gate.DenyArguments(pattern); err != nil {
			log.Fatalf("invalid deny pattern %q: %v", pattern, err)
		}
	}

	// Initialize Tools
	registry := tools.NewRegistry()

	searchTool, err := tools.NewSearchTool(5)
	if err != nil {
		log.Printf("Warning: Failed to initialize search tool: %v", err)
	} else {
		registry.Register(searchTool)
	}

	fsTool, err := tools.NewFilesystemTool(cfg.App.Workspace)
	if err != nil {
		log.Fatal(err)
	}
	registry.Register(fsTool)
	registry.Register(tools.NewWebFetchTool())
	registry.Register(tools.NewScheduleTool(db))
	registry.Register(tools.NewShellTool(cfg.App.Workspace))
	registry.Register(tools.NewMemoryQueryTool(vectors))

	browserTool := tools.NewBrowserTool(true)
	defer browserTool.Close()
	registry.Register(browserTool)

	prompts := agent.NewPromptManager(cfg.App.PromptsDir)
	planner := agent.NewLLMPlanner(model, registry, gate, prompts, logger)
	planner.MaxSteps = cfg.Engine.MaxPlanSteps

	executor := agent.NewWaveExecutor(registry, gate,
		agent.WithWorkers(cfg.Engine.Workers),
		agent.WithStepTimeout(cfg.Engine.StepTimeout()),
		agent.WithConfirmTimeout(cfg.Engine.ConfirmTimeout()),
		agent.WithStrategyThreshold(cfg.Engine.StrategyThreshold),
		agent.WithReplanner(agent.NewReplanCoordinator(planner, cfg.Engine.ReplanTimeout(), logger, metrics)),
		agent.WithScorer(agent.NewLLMCritic(model, prompts, logger)),
		agent.WithStrategies(strategies),
		agent.WithLogger(logger),
		agent.WithMetrics(metrics),
	)

	brain := agent.NewMasterBrain(model, planner, executor, book, prompts, logger)
	brain.Strategies = strategies
	brain.Memory = vectors
	brain.MaxTurns = cfg.History.MaxTurns
	brain.RecallLimit = cfg.Engine.RecallLimit

	var gws []gateway.Gateway
	if tgCfg, ok := cfg.GetTelegramConfig(); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, brain)
		if err != nil {
			log.Fatal(err)
		}
		gws = append(gws, tg)
	}
	if dcCfg, ok := cfg.GetDiscordConfig(); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, brain)
		if err != nil {
			log.Fatal(err)
		}
		gws = append(gws, dc)
	}
	if len(gws) == 0 {
		log.Fatal("No gateway is enabled")
	}
	gw := gateway.NewMulti(gws...)
	executor.SetConfirmer(gw)

	// Start Background Scheduler with a cancelable context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := agent.NewScheduler(brain, db, gw, cfg.Engine.SchedulerPoll())
	go scheduler.Start(ctx)

	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(metrics)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Start Live Resource Dashboard (1-second updates)
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.PrintLiveStatus()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
				logger.LogHeartbeat()
			}
		}
	}()

	// Start Gateways in a goroutine so we can wait for context in the main loop
	go func() {
		if err := gw.Start(); err != nil {
			log.Printf("\033[91m[ FAIL ] GATEWAY CRITICAL ERROR: %v\033[0m", err)
			stop() // stop caller if gateway dies
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	_ = gw.Stop()

	// Reset terminal aesthetics
	observability.CleanupTerminal()

	// Give a short time for final logs/syncs
	time.Sleep(500 * time.Millisecond)
	log.Println("\033[95m[ EXIT ] CORE DE-INITIALIZED. GOODBYE.\033[0m")
}

func metricsMux(m *observability.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
