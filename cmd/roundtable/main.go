package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	rthttp "github.com/Strob0t/Roundtable/internal/adapter/http"
	"github.com/Strob0t/Roundtable/internal/adapter/litellm"
	rtmcp "github.com/Strob0t/Roundtable/internal/adapter/mcp"
	rtnats "github.com/Strob0t/Roundtable/internal/adapter/nats"
	"github.com/Strob0t/Roundtable/internal/adapter/natskv"
	rtotel "github.com/Strob0t/Roundtable/internal/adapter/otel"
	"github.com/Strob0t/Roundtable/internal/adapter/persona"
	"github.com/Strob0t/Roundtable/internal/adapter/postgres"
	"github.com/Strob0t/Roundtable/internal/adapter/ristretto"
	"github.com/Strob0t/Roundtable/internal/adapter/tiered"
	"github.com/Strob0t/Roundtable/internal/adapter/ws"
	"github.com/Strob0t/Roundtable/internal/config"
	"github.com/Strob0t/Roundtable/internal/domain/roster"
	"github.com/Strob0t/Roundtable/internal/logger"
	"github.com/Strob0t/Roundtable/internal/middleware"
	"github.com/Strob0t/Roundtable/internal/resilience"
	"github.com/Strob0t/Roundtable/internal/service"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	cfg, yamlPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	holder := config.NewHolder(cfg, yamlPath)

	log, logCloser := logger.NewWithCloser(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"model", cfg.LiteLLM.Model,
	)

	ctx := context.Background()

	// --- Telemetry ---
	otelShutdown, err := rtotel.Init(ctx, cfg.Telemetry.Endpoint, cfg.Logging.Service, version, cfg.Telemetry.Insecure)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	queue, err := rtnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()
	log.Info("nats connected")

	idempotencyKV, err := queue.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("idempotency bucket: %w", err)
	}

	// Document reads go through a two-tier cache: in-process ristretto in
	// front of a NATS KV shared across replicas.
	l1, err := ristretto.New(cfg.Cache.MaxSizeMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()
	docsKV, err := queue.KeyValue(ctx, "ROUNDTABLE_DOCS", cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("docs bucket: %w", err)
	}
	docCache := tiered.New(l1, natskv.New(docsKV), cfg.Cache.TTL)

	// --- LLM gateway ---
	llmClient := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey)
	llmClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	ckpt := postgres.NewCheckpointStore(pool)

	workers := persona.DefaultWorkers(llmClient, cfg.LiteLLM.Model, cfg.LiteLLM.MaxTokens, log)
	members := make([]roster.Specialist, len(workers))
	for i, w := range workers {
		members[i] = w.Specialist()
	}
	agentRoster := roster.New(members...)

	routerSvc, err := service.NewRouterService(llmClient, agentRoster, cfg.LiteLLM.Model, cfg.LiteLLM.MaxTokens, log)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	threads := service.NewThreadService(store, docCache, cfg.Cache.TTL, log)
	changesets := service.NewChangeSetService(store, queue, threads, log)
	streams := service.NewStreamRegistry(store, hub, cfg.Engine.QueueCapacity, log)

	engine := service.NewEngine(store, ckpt, routerSvc, workers, changesets, threads, queue, streams, cfg.Engine, log)
	metrics, err := rtotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	engine.SetMetrics(metrics)

	// --- MCP ---
	mcpSrv := rtmcp.NewServer(
		rtmcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    "roundtable",
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		},
		rtmcp.ServerDeps{
			Documents:  threads,
			ChangeSets: changesets,
			Runs:       threads,
			Roster:     agentRoster.Members(),
		},
	)
	if err := mcpSrv.Start(); err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mcpSrv.Stop(stopCtx)
	}()

	// --- HTTP ---
	handlers := &rthttp.Handlers{
		Engine:        engine,
		Threads:       threads,
		ChangeSets:    changesets,
		LiteLLM:       llmClient,
		Heartbeat:     cfg.Engine.HeartbeatInterval,
		StallDeadline: cfg.Engine.StallDeadline,
	}

	rateLimiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)

	r := chi.NewRouter()
	r.Use(rthttp.CORS(cfg.Server.CORSOrigin))
	r.Use(rthttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(rthttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(rateLimiter.Handler)
	r.Use(middleware.Idempotency(idempotencyKV))
	r.Use(rtotel.HTTPMiddleware(cfg.Logging.Service))

	r.Get("/health", healthHandler(pool, queue, llmClient))
	r.Get("/ws", hub.HandleWS)
	rthttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	// No write timeout: chat and approval responses are SSE streams that
	// stay open for the life of the run.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	// SIGHUP reloads the YAML config in place; only fields read per-request
	// pick the new values up.
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := holder.Reload(); err != nil {
					log.Error("config reload failed", "error", err)
					continue
				}
				log.Info("config reloaded", "path", yamlPath)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// healthHandler reports liveness of each dependency rather than its address.
func healthHandler(pool interface{ Ping(context.Context) error }, queue *rtnats.Queue, llm *litellm.Client) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
		LiteLLM  string `json:"litellm"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := healthStatus{Status: "ok", Postgres: "ok", NATS: "ok", LiteLLM: "ok"}
		if err := pool.Ping(ctx); err != nil {
			status.Status = "degraded"
			status.Postgres = "unreachable"
		}
		if !queue.IsConnected() {
			status.Status = "degraded"
			status.NATS = "disconnected"
		}
		if healthy, err := llm.Health(ctx); err != nil || !healthy {
			status.Status = "degraded"
			status.LiteLLM = "unreachable"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
