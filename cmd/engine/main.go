package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"replyloop.app/engine/common/id"
	"replyloop.app/engine/common/llm"
	"replyloop.app/engine/common/logger"
	"replyloop.app/engine/common/otel"
	"replyloop.app/engine/core/config"
	"replyloop.app/engine/core/db"
	"replyloop.app/engine/internal/cycle"
	"replyloop.app/engine/internal/fetch"
	"replyloop.app/engine/internal/generate"
	"replyloop.app/engine/internal/guard"
	"replyloop.app/engine/internal/history"
	httprouter "replyloop.app/engine/internal/http/router"
	"replyloop.app/engine/internal/ledger"
	"replyloop.app/engine/internal/model"
	"replyloop.app/engine/internal/scheduler"
	"replyloop.app/engine/internal/store"
	"replyloop.app/engine/internal/submit"
	"replyloop.app/engine/internal/surface"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "engine",
		Short: "Autonomous engagement engine",
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the engine continuously with the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "once",
		Short: "Run a single engagement cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce()
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the status of a running engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// engine bundles everything bootstrap wires up.
type engine struct {
	cfg       config.Config
	telemetry *otel.Telemetry
	sched     *scheduler.Scheduler
	closers   []func()
}

func (e *engine) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func bootstrap(ctx context.Context) (*engine, error) {
	fmt.Printf("%s\n", banner)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize otel: %w", err)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "engine starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)

	if err := id.Init(1); err != nil {
		return nil, fmt.Errorf("failed to initialize id generator: %w", err)
	}

	eng := &engine{cfg: cfg, telemetry: telemetry}

	kv, err := setupKV(ctx, cfg, eng)
	if err != nil {
		eng.close()
		return nil, err
	}

	sources, err := config.LoadSources(cfg.Engine.SourcesFile)
	if err != nil {
		eng.close()
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	slog.InfoContext(ctx, "sources loaded", "count", len(sources))

	replied := ledger.New(kv, time.Now)
	if err := replied.Load(ctx); err != nil {
		eng.close()
		return nil, fmt.Errorf("failed to load replied ledger: %w", err)
	}
	slog.InfoContext(ctx, "replied ledger loaded", "entries", replied.Len())

	interactions := history.New(kv, time.Now)
	if err := interactions.Load(ctx); err != nil {
		eng.close()
		return nil, fmt.Errorf("failed to load reply history: %w", err)
	}
	slog.InfoContext(ctx, "reply history loaded", "entries", interactions.Len())

	if !cfg.OpenAI.Enabled() {
		eng.close()
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	llmClient, err := llm.New(llm.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
	})
	if err != nil {
		eng.close()
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	fetcher := fetch.New(map[model.SourceKind]fetch.PageFetcher{
		model.SourceKindFeedA: fetch.NewRSSPageFetcher(),
		model.SourceKindFeedB: fetch.NewAPIPageFetcher(nil),
	})

	bridge := surface.NewHTTPBridge(cfg.Surface.URL)
	driver := submit.NewDriver(bridge, submit.Config{Selectors: cfg.Surface.Selectors})

	sendGuard := guard.New(time.Now)
	jitter := cycle.UniformJitter(rand.New(rand.NewSource(time.Now().UnixNano())))

	// The processor's phase callback feeds the scheduler's visible state;
	// the scheduler doesn't exist yet, so bind it late.
	var sched *scheduler.Scheduler
	processor := cycle.NewProcessor(
		fetcher,
		generate.NewLLMGenerator(llmClient),
		driver,
		sendGuard,
		replied,
		interactions,
		jitter,
		cycle.WithPhaseFunc(func(phase cycle.Phase) {
			if sched != nil {
				sched.SetPhase(phase)
			}
		}),
	)

	sched = scheduler.New(
		processor,
		store.NewSettingsStore(kv),
		cfg.Engine.Defaults,
		sources,
		sendGuard,
		[]scheduler.Pruner{replied, interactions},
		jitter,
	)
	eng.sched = sched

	return eng, nil
}

// setupKV picks the persistence backend: postgres when a database is
// configured, redis next, a local state file otherwise.
func setupKV(ctx context.Context, cfg config.Config, eng *engine) (store.KV, error) {
	if cfg.DBEnabled() {
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		eng.closers = append(eng.closers, database.Close)

		kv, err := store.NewPostgresKV(ctx, database)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare postgres store: %w", err)
		}
		slog.InfoContext(ctx, "database connected")
		return kv, nil
	}

	if cfg.Redis.Enabled() {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}

		redisClient := redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		eng.closers = append(eng.closers, func() { _ = redisClient.Close() })

		slog.InfoContext(ctx, "redis connected")
		return store.NewRedisKV(redisClient), nil
	}

	kv, err := store.NewFileKV(filepath.Join(cfg.StateDir, "engine.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}
	slog.InfoContext(ctx, "using file state store", "dir", cfg.StateDir)
	return kv, nil
}

func runServe() error {
	ctx := context.Background()

	eng, err := bootstrap(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "bootstrap failed", "error", err)
		return err
	}
	defer eng.close()

	eng.sched.Start(ctx)

	if eng.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	httprouter.SetupRoutes(router, eng.sched, httprouter.RouterConfig{
		ServiceName: eng.cfg.OTel.ServiceName,
		OTelEnabled: eng.cfg.OTel.Enabled(),
	})

	server := &http.Server{
		Addr:              ":" + eng.cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", eng.cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	eng.sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if eng.telemetry != nil {
		if err := eng.telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
	return nil
}

func runOnce() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := bootstrap(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "bootstrap failed", "error", err)
		return err
	}
	defer eng.close()

	eng.sched.RunOnce(ctx)

	if eng.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := eng.telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	status := eng.sched.Status()
	slog.InfoContext(ctx, "single cycle complete", "sent", status.SentThisCycle)
	return nil
}

// runStatus queries the control API of an engine already running locally.
func runStatus() error {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	resp, err := http.Get("http://localhost:" + port + "/api/v1/status")
	if err != nil {
		return fmt.Errorf("engine not reachable on port %s: %w", port, err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		return err
	}
	fmt.Println()
	return nil
}

const banner = `
███████╗███╗   ██╗ ██████╗  █████╗  ██████╗ ███████╗
██╔════╝████╗  ██║██╔════╝ ██╔══██╗██╔════╝ ██╔════╝
█████╗  ██╔██╗ ██║██║  ███╗███████║██║  ███╗█████╗
██╔══╝  ██║╚██╗██║██║   ██║██╔══██║██║   ██║██╔══╝
███████╗██║ ╚████║╚██████╔╝██║  ██║╚██████╔╝███████╗
╚══════╝╚═╝  ╚═══╝ ╚═════╝ ╚═╝  ╚═╝ ╚═════╝ ╚══════╝
`
