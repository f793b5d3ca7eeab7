package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vilaverde/lead-engine-go/internal/config"
	"github.com/vilaverde/lead-engine-go/internal/domain"
	"github.com/vilaverde/lead-engine-go/internal/handler"
	"github.com/vilaverde/lead-engine-go/internal/infra/cache"
	"github.com/vilaverde/lead-engine-go/internal/infra/crm"
	"github.com/vilaverde/lead-engine-go/internal/infra/observability"
	"github.com/vilaverde/lead-engine-go/internal/infra/ratelimit"
	"github.com/vilaverde/lead-engine-go/internal/infra/resilience"
	"github.com/vilaverde/lead-engine-go/internal/infra/sms"
	"github.com/vilaverde/lead-engine-go/internal/infra/supabase"
	"github.com/vilaverde/lead-engine-go/internal/port"
	"github.com/vilaverde/lead-engine-go/internal/service"

	chatinfra "github.com/vilaverde/lead-engine-go/internal/chat/infra"
	chatservice "github.com/vilaverde/lead-engine-go/internal/chat/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("openai_model", cfg.OpenAIModel),
		zap.Int("chat_max_messages", cfg.ChatMaxMessages),
		zap.Int("chat_rate_limit", cfg.ChatRateLimit),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("config_cache_ttl", cfg.ConfigCacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "lead-engine")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	configCache := cache.New[*domain.FormConfig](cfg.ConfigCacheTTL)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	if cfg.SupabaseURL == "" {
		logger.Fatal("SUPABASE_URL is required")
	}
	store := supabase.NewClient(
		httpClient,
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		resilience.NewCircuitBreaker("supabase"),
		resilienceCfg,
		logger,
	)

	var crmClient port.CRMClient
	if cfg.CRMBaseURL != "" {
		crmClient = crm.NewClient(httpClient, cfg.CRMBaseURL, cfg.CRMAPIKey,
			resilience.NewCircuitBreaker("crm"), resilienceCfg)
		logger.Info("crm sync enabled", zap.String("crm_url", cfg.CRMBaseURL))
	} else {
		logger.Warn("crm sync disabled: CRM_BASE_URL not set")
	}

	var smsSender port.SMSSender
	if cfg.SMSGatewayURL != "" && cfg.SMSStaffNumber != "" {
		smsSender = sms.NewClient(httpClient, cfg.SMSGatewayURL, cfg.SMSAPIKey,
			resilience.NewCircuitBreaker("sms"), resilienceCfg)
		logger.Info("sms alerts enabled")
	} else {
		logger.Warn("sms alerts disabled: SMS_GATEWAY_URL or SMS_STAFF_NUMBER not set")
	}

	// --- Services ---
	formConfigSvc := service.NewFormConfigService(store, configCache, metrics, logger)
	dispatcher := service.NewDispatcher(store, smsSender, crmClient, cfg.SMSStaffNumber, metrics, logger)
	progressSvc := service.NewLeadProgress(store, formConfigSvc, dispatcher, metrics, logger)
	adminSvc := service.NewAdmin(store, store, formConfigSvc, dispatcher, logger)

	var chatSvc *chatservice.ChatService
	if cfg.OpenAIAPIKey != "" {
		provider := chatinfra.NewOpenAIProvider(
			cfg.OpenAIAPIKey,
			cfg.OpenAIModel,
			resilience.NewBulkhead(cfg.MaxConcurrency),
			logger,
		)
		chatSvc = chatservice.NewChatService(
			provider,
			store,
			store,
			store,
			formConfigSvc,
			progressSvc,
			chatservice.Config{
				MaxMessages:     cfg.ChatMaxMessages,
				MaxTokens:       cfg.ChatMaxTokens,
				FallbackReply:   cfg.ChatFallbackReply,
				EnableFAQ:       cfg.EnableFAQTool,
				EnableKnowledge: cfg.EnableKnowledgeTool,
			},
			metrics,
			logger,
		)
		logger.Info("chat service enabled", zap.String("model", cfg.OpenAIModel))
	} else {
		logger.Warn("chat service disabled: OPENAI_API_KEY not set")
	}

	// --- Router ---
	limiter := ratelimit.New(cfg.ChatRateLimit, cfg.ChatRateWindow)
	defer limiter.Stop()

	router := handler.NewRouter(handler.Deps{
		Progress:   progressSvc,
		FormConfig: formConfigSvc,
		Admin:      adminSvc,
		Chat:       chatSvc,
		Store:      store,
		Limiter:    limiter,
		Metrics:    metrics,
		Config:     cfg,
		Logger:     logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
