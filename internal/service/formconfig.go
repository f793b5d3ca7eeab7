package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/vilaverde/lead-engine-go/internal/domain"
	"github.com/vilaverde/lead-engine-go/internal/infra/observability"
	"github.com/vilaverde/lead-engine-go/internal/port"
	"github.com/vilaverde/lead-engine-go/internal/scoring"
)

var tracer = otel.Tracer("service")

const formConfigCacheKey = "form_config"

// FormConfigService serve a configuração do formulário com cache TTL e
// valida/normaliza escritas. MaxScore nunca entra pela porta: é sempre
// recomputado no PUT a partir das perguntas.
type FormConfigService struct {
	store   port.FormConfigStore
	cache   port.Cache[*domain.FormConfig]
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewFormConfigService creates the form config service.
func NewFormConfigService(store port.FormConfigStore, cache port.Cache[*domain.FormConfig], metrics *observability.Metrics, logger *zap.Logger) *FormConfigService {
	return &FormConfigService{store: store, cache: cache, metrics: metrics, logger: logger}
}

// Get returns the active form configuration, cached.
func (s *FormConfigService) Get(ctx context.Context) (*domain.FormConfig, error) {
	ctx, span := tracer.Start(ctx, "FormConfig.Get")
	defer span.End()

	if cached, ok := s.cache.Get(formConfigCacheKey); ok {
		s.metrics.IncrCacheHit("form_config")
		return cached, nil
	}
	s.metrics.IncrCacheMiss("form_config")

	cfg, err := s.store.GetFormConfig(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(formConfigCacheKey, cfg)
	return cfg, nil
}

// Put validates and persists a new configuration, recomputing MaxScore
// and invalidating the cache. Invalid configs are rejected whole.
func (s *FormConfigService) Put(ctx context.Context, cfg *domain.FormConfig) (*domain.FormConfig, error) {
	ctx, span := tracer.Start(ctx, "FormConfig.Put")
	defer span.End()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.MaxScore = scoring.MaxScore(cfg)

	if err := s.store.PutFormConfig(ctx, cfg); err != nil {
		return nil, err
	}

	s.cache.Delete(formConfigCacheKey)
	s.logger.Info("form config updated",
		zap.Int("questions", len(cfg.Questions)),
		zap.Int("max_score", cfg.MaxScore),
	)
	return cfg, nil
}
