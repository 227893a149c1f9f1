package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/Harshitk-cp/credence/internal/api/handlers"
	mw "github.com/Harshitk-cp/credence/internal/api/middleware"
	"github.com/Harshitk-cp/credence/internal/buildconfig"
	"github.com/Harshitk-cp/credence/internal/config"
	"github.com/Harshitk-cp/credence/internal/domain"
	"github.com/Harshitk-cp/credence/internal/llm"
	"github.com/Harshitk-cp/credence/internal/service"
	"github.com/Harshitk-cp/credence/internal/store"
)

// App holds the router, the stores and the background services for
// lifecycle management. The stores are exposed so the boot sequence can
// restore persisted state before the server starts accepting requests.
type App struct {
	Router        *chi.Mux
	Trust         *store.TrustStore
	Conversations *store.ConversationStore
	Snapshot      *service.SnapshotService
	Refresher     *service.AuthorityRefresher
	startTime     time.Time
	requestCount  atomic.Int64
	errorCount    atomic.Int64
}

func NewApp(registry *config.Registry, logger *zap.Logger) *App {
	cfg := registry.Current()

	// Stores
	trustStore := store.NewTrustStore()
	conversationStore := store.NewConversationStore()

	// Provider caller: real vendor adapters, or the canned mock for
	// offline runs.
	var caller domain.ProviderCaller
	if cfg.MockLLM {
		caller = llm.NewMockCaller()
		logger.Warn("mock provider caller enabled; no real LLM calls will be made")
	} else {
		caller = llm.NewClient(llm.NewKeyResolver(cfg.KeyDir), logger)
	}

	// Services
	truthSvc := service.NewTruthService(logger)
	ranker := service.NewRetrievalRanker()
	if cfg.MaxSources > 0 {
		ranker.MaxEntries = cfg.MaxSources
	}
	if cfg.MinCertainty > 0 {
		ranker.MinCertainty = cfg.MinCertainty
	}

	fetcher := service.NewHTTPAuthorityFetcher(cfg.AuthorityFileDir)
	resolver := service.NewAuthorityResolver(fetcher, logger)

	ensembleSvc := service.NewEnsembleService(trustStore, caller, truthSvc, ranker, logger)
	if cfg.EnsembleConcurrency > 0 {
		ensembleSvc.Concurrency = cfg.EnsembleConcurrency
	}
	if d := cfg.AggregateTimeout(); d > 0 {
		ensembleSvc.AggregateFloor = d
	}

	chatSvc := service.NewChatService(conversationStore, trustStore, resolver, ensembleSvc, logger)
	if cfg.HistoryLimit > 0 {
		chatSvc.HistoryLimit = cfg.HistoryLimit
	}

	snapshotSvc := service.NewSnapshotService(trustStore, conversationStore, cfg.StatePath, logger)
	snapshotSvc.SetInterval(cfg.SnapshotInterval())

	refresherSvc := service.NewAuthorityRefresher(trustStore, resolver, logger)
	refresherSvc.SetInterval(cfg.RefresherInterval())

	// Handlers
	chatHandler := handlers.NewChatHandler(chatSvc)
	trustHandler := handlers.NewTrustHandler(trustStore, truthSvc)
	conversationHandler := handlers.NewConversationHandler(conversationStore)
	mergeHandler := handlers.NewMergeHandler(trustStore, conversationStore, logger)
	authorityHandler := handlers.NewAuthorityHandler(resolver)

	r := chi.NewRouter()

	app := &App{
		Router:        r,
		Trust:         trustStore,
		Conversations: conversationStore,
		Snapshot:      snapshotSvc,
		Refresher:     refresherSvc,
		startTime:     time.Now(),
	}

	// Metrics collector for middleware
	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		// Local browser UIs served from another port. The store is not
		// meant to face the open internet.
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	// Health (no auth)
	r.Get("/health", healthHandler())

	// Metrics (no auth)
	r.Get("/metrics", app.metricsHandler(registry))

	// Authenticated routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.BearerAuth(registry))

		r.Post("/chat", chatHandler.Respond)

		r.Route("/trust", func(r chi.Router) {
			r.Get("/", trustHandler.List)
			r.Post("/", trustHandler.Create)
			r.Post("/derive", trustHandler.Derive)
			r.Get("/{id}", trustHandler.Get)
			r.Delete("/{id}", trustHandler.Delete)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Get("/{id}", conversationHandler.Get)
		})

		r.Route("/authorities", func(r chi.Router) {
			r.Get("/", authorityHandler.List)
			r.Post("/refresh", authorityHandler.Refresh)
		})

		r.Post("/merge", mergeHandler.Import)
		r.Post("/merge/context", mergeHandler.RewriteContext)
		r.Get("/export", mergeHandler.Export)
	})

	return app
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) metricsHandler(registry *config.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"version":        buildconfig.Version(),
			"commit":         buildconfig.Commit(),
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"config_version": registry.Version(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.TrustStore        = (*store.TrustStore)(nil)
	_ domain.ConversationStore = (*store.ConversationStore)(nil)
	_ domain.ProviderCaller    = (*llm.Client)(nil)
	_ domain.ProviderCaller    = (*llm.MockCaller)(nil)
	_ domain.AuthorityFetcher  = (*service.HTTPAuthorityFetcher)(nil)
)
