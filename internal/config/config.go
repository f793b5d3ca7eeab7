package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Supabase (lead/conversation/config/knowledge store)
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Completion provider (OpenAI-compatible)
	OpenAIAPIKey string
	OpenAIModel  string

	// ChatMaxMessages limita o tamanho do transcript de uma conversa.
	// Atingido o limite, novas mensagens são recusadas com o sinal de
	// "comece uma nova conversa" — nunca truncamos histórico em silêncio.
	ChatMaxMessages int
	ChatMaxTokens   int
	// ChatFallbackReply é a resposta best-effort quando o provider falha.
	ChatFallbackReply string

	// Tool toggles (schema fica estável; tool desligada responde "disabled")
	EnableFAQTool       bool
	EnableKnowledgeTool bool

	// Integrations
	CRMBaseURL     string
	CRMAPIKey      string
	SMSGatewayURL  string
	SMSAPIKey      string
	SMSStaffNumber string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	ConfigCacheTTL time.Duration

	// Rate limiting (chat ingestion, per client address)
	ChatRateLimit  int
	ChatRateWindow time.Duration

	// Observability
	OTLPEndpoint string

	// Admin gate (PUT /v1/config e rotas /v1/admin)
	AdminJWTSecret string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		ChatMaxMessages:   getEnvInt("CHAT_MAX_MESSAGES", 40),
		ChatMaxTokens:     getEnvInt("CHAT_MAX_TOKENS", 1024),
		ChatFallbackReply: getEnv("CHAT_FALLBACK_REPLY", "Desculpe, estou com dificuldades técnicas no momento. Pode tentar de novo em instantes?"),

		EnableFAQTool:       getEnv("ENABLE_FAQ_TOOL", "true") == "true",
		EnableKnowledgeTool: getEnv("ENABLE_KNOWLEDGE_TOOL", "true") == "true",

		CRMBaseURL:     getEnv("CRM_BASE_URL", ""),
		CRMAPIKey:      getEnv("CRM_API_KEY", ""),
		SMSGatewayURL:  getEnv("SMS_GATEWAY_URL", ""),
		SMSAPIKey:      getEnv("SMS_API_KEY", ""),
		SMSStaffNumber: getEnv("SMS_STAFF_NUMBER", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		ConfigCacheTTL: getEnvDuration("CONFIG_CACHE_TTL", 5*time.Minute),

		ChatRateLimit:  getEnvInt("CHAT_RATE_LIMIT", 10),
		ChatRateWindow: getEnvDuration("CHAT_RATE_WINDOW", time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", "lead-engine-dev-secret-change-me"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
