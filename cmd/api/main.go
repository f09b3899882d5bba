package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flagcore/backend/internal/bus"
	"github.com/flagcore/backend/internal/cache"
	"github.com/flagcore/backend/internal/config"
	"github.com/flagcore/backend/internal/evaluation"
	"github.com/flagcore/backend/internal/handlers"
	"github.com/flagcore/backend/internal/hashing"
	"github.com/flagcore/backend/internal/metrics"
	"github.com/flagcore/backend/internal/middleware"
	"github.com/flagcore/backend/internal/store"
	"github.com/flagcore/backend/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Postgres is the authoritative definition and metrics store.
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		slog.Error("failed to open postgres", "error", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)
	defer db.Close()

	// Redis backs the shared cache and cross-pod fan-out; fall back to
	// process-local when unreachable.
	var backend cache.Cache
	var changes bus.Bus
	local := bus.NewLocal()

	redisCache, err := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		slog.Warn("redis unavailable, using in-memory cache and local bus", "error", err)
		backend = cache.NewMemory(time.Minute)
		changes = local
	} else {
		defer redisCache.Close()
		backend = redisCache
		bridge, err := bus.NewRedisBridge(local, redisCache, "")
		if err != nil {
			slog.Warn("redis pub/sub unavailable, change events stay local", "error", err)
			changes = local
		} else {
			changes = bridge
		}
	}
	defer changes.Close()

	prom := metrics.NewPrometheus()

	// Metrics pipeline.
	metricsStore := metrics.NewPostgresStore(db)
	aggregator := metrics.NewAggregator(metricsStore, cfg.MetricsPeriod(), cfg.MetricsFlushInterval(), func() {
		prom.SamplesDropped.Inc()
	})
	aggregator.OnFlushFailure(func() { prom.FlushFailures.Inc() })
	go aggregator.Run(context.Background())
	defer aggregator.Stop()

	// Evaluation core.
	definitions := store.NewDefinitionStore(
		store.NewPostgresRepository(db), backend, changes,
		cfg.DefinitionTTL(), 60*time.Second,
	)
	results := cache.NewResultCache(backend, cfg.ResultTTL(),
		prom.ResultCacheHits.Inc, prom.ResultCacheMisses.Inc)
	matcher := evaluation.NewMatcher(hashing.NewBucketer(cfg.Eval.HashSeed))
	recorder := &instrumentedRecorder{aggregator: aggregator, prom: prom}
	orchestrator := evaluation.NewOrchestrator(definitions, results, matcher, recorder, cfg.SlowEvalThreshold())
	orchestrator.OnResult(func(source evaluation.Source) {
		prom.EvaluationsTotal.WithLabelValues(string(source)).Inc()
	})

	// Change events purge cached results; the hub forwards them to
	// subscribed SDK clients.
	hub := ws.NewHub(prom.WSConnections.Inc, prom.WSConnections.Dec)
	changes.Subscribe(func(ctx context.Context, event bus.FlagChanged) {
		if event.Key == "" {
			results.PurgeTenant(ctx, event.TenantID)
			backend.DeletePrefix(ctx, cache.DefinitionKey(event.TenantID, ""))
			return
		}
		results.Purge(ctx, event.TenantID, event.Key)
		backend.Delete(ctx, cache.DefinitionKey(event.TenantID, event.Key))
	})
	unsubHub := hub.AttachBus(changes)
	defer unsubHub()

	// Router.
	router := mux.NewRouter()
	router.HandleFunc("/health", healthHandler(db)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/api/ws", hub.HandleWebSocket)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Tenant)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Limit, cfg.RateLimitWindow(), prom.RateLimitRejects.Inc)
	defer limiter.Close()
	api.Use(limiter.Middleware)

	handlers.NewEvaluate(orchestrator).Register(api)
	handlers.NewMetrics(metrics.NewReader(metricsStore)).Register(api)

	router.Use(middleware.CORS)
	router.Use(middleware.Logging)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, draining")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("flag evaluation service starting", "port", cfg.Server.Port, "env", cfg.Server.Env)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// instrumentedRecorder feeds the product metrics pipeline and the ops-side
// Prometheus metrics from one call.
type instrumentedRecorder struct {
	aggregator *metrics.Aggregator
	prom       *metrics.Prometheus
}

func (r *instrumentedRecorder) Record(tenantID, flagKey string, latency time.Duration, success bool) {
	r.aggregator.Record(tenantID, flagKey, latency, success)
	r.prom.EvaluationDuration.Observe(latency.Seconds())
}

func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "healthy"
		dbStatus := "connected"
		code := http.StatusOK
		if err := db.PingContext(ctx); err != nil {
			status = "degraded"
			dbStatus = "error"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		w.Write([]byte(`{"status":"` + status + `","service":"flagcore-api","database":"` + dbStatus + `"}`))
	}
}
