package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/vilaverde/lead-engine-go/internal/config"
	"github.com/vilaverde/lead-engine-go/internal/domain"
	"github.com/vilaverde/lead-engine-go/internal/infra/observability"
	"github.com/vilaverde/lead-engine-go/internal/infra/ratelimit"
	"github.com/vilaverde/lead-engine-go/internal/service"

	chathandler "github.com/vilaverde/lead-engine-go/internal/chat/handler"
	chatservice "github.com/vilaverde/lead-engine-go/internal/chat/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger is the health probe of the backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps agrupa tudo que o router precisa. O chat pode ser nil (engine
// rodando só com o wizard); a rota responde 503 nesse caso.
type Deps struct {
	Progress   *service.LeadProgress
	FormConfig *service.FormConfigService
	Admin      *service.Admin
	Chat       *chatservice.ChatService
	Store      Pinger
	Limiter    *ratelimit.SlidingWindow
	Metrics    *observability.Metrics
	Config     *config.Config
	Logger     *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
// Routes follow the API contract defined for the Vila Verde frontends
// (wizard embed, chat widget and admin panel).
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	logger := deps.Logger

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(deps.Store, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// 1. 📋 Form Config
		// GET /v1/config | PUT /v1/config (admin)
		// =============================================
		r.Get("/config", getConfigHandler(deps.FormConfig, logger))
		r.Group(func(r chi.Router) {
			r.Use(AdminJWTMiddleware(deps.Config.AdminJWTSecret, logger))
			r.Put("/config", putConfigHandler(deps.FormConfig, logger))
		})

		// =============================================
		// 2. 🧭 Lead Progress (wizard)
		// POST /v1/leads/progress
		// GET /v1/leads/session/{sessionId}
		// =============================================
		r.Post("/leads/progress", leadProgressHandler(deps.Progress, deps.Metrics, logger))
		r.Get("/leads/session/{sessionId}", getSessionLeadHandler(deps.Progress, logger))

		// =============================================
		// 3. 💬 Chat (rate limited per client address)
		// POST /v1/chat
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(deps.Limiter, deps.Metrics, logger))
			if deps.Chat == nil {
				r.Post("/chat", func(w http.ResponseWriter, _ *http.Request) {
					writeError(w, http.StatusServiceUnavailable, "chat unavailable: completion provider not configured")
				})
			} else {
				r.Post("/chat", chathandler.ChatHandler(deps.Chat, logger))
			}
		})

		// =============================================
		// 4. 📊 Métricas
		// GET /v1/metrics/engine
		// =============================================
		r.Get("/metrics/engine", engineMetricsHandler(deps.Metrics, logger))

		// =============================================
		// 5. 🔐 Admin (JWT protected)
		// =============================================
		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminJWTMiddleware(deps.Config.AdminJWTSecret, logger))

			r.Get("/leads", adminListLeadsHandler(deps.Admin, logger))
			r.Get("/leads/{leadId}", adminGetLeadHandler(deps.Admin, logger))
			r.Delete("/leads/{leadId}", adminDeleteLeadHandler(deps.Admin, logger))
			r.Post("/leads/{leadId}/resync", adminResyncLeadHandler(deps.Admin, logger))

			r.Get("/conversations", adminListConversationsHandler(deps.Admin, logger))
			r.Get("/conversations/{conversationId}", adminGetConversationHandler(deps.Admin, logger))
			r.Delete("/conversations/{conversationId}", adminDeleteConversationHandler(deps.Admin, logger))
			r.Post("/conversations/{conversationId}/status", adminSetConversationStatusHandler(deps.Admin, logger))
		})
	})

	return r
}

// ============================================================
// Operational handlers
// ============================================================

func healthzHandler(store Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "lead-engine", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		if store != nil {
			start := time.Now()
			err := store.Ping(ctx)
			latency := time.Since(start).Milliseconds()
			status := "healthy"
			if err != nil {
				logger.Warn("healthz: store probe failed", zap.Error(err))
				status = "degraded"
			}
			services = append(services, domain.ServiceHealth{
				Name: "supabase", Status: status, LatencyMs: latency, LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func engineMetricsHandler(metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/metrics/engine")
		defer span.End()

		writeJSON(w, http.StatusOK, metrics.GetEngineSnapshot())
	}
}
