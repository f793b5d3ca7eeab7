package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vilaverde/lead-engine-go/internal/domain"
)

// ============================================================
// Form config store — single-row table keyed by "default"
// ============================================================

const formConfigID = "default"

type formConfigRow struct {
	ID        string          `json:"id"`
	Config    json.RawMessage `json:"config"`
	UpdatedAt string          `json:"updated_at"`
}

// GetFormConfig loads the active form configuration.
func (c *Client) GetFormConfig(ctx context.Context) (*domain.FormConfig, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetFormConfig")
	defer span.End()

	path := fmt.Sprintf("form_configs?id=eq.%s&limit=1", formConfigID)
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/form_configs", Err: err}
	}

	if body == nil || string(body) == "[]" {
		return nil, &domain.ErrNotFound{Resource: "form_config", ID: formConfigID}
	}

	var rows []formConfigRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode form_config: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "form_config", ID: formConfigID}
	}

	var cfg domain.FormConfig
	if err := json.Unmarshal(rows[0].Config, &cfg); err != nil {
		return nil, fmt.Errorf("decode form_config payload: %w", err)
	}
	return &cfg, nil
}

// PutFormConfig upserts the form configuration.
func (c *Client) PutFormConfig(ctx context.Context, cfg *domain.FormConfig) error {
	ctx, span := tracer.Start(ctx, "Supabase.PutFormConfig")
	defer span.End()

	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode form_config payload: %w", err)
	}

	data := map[string]any{
		"id":         formConfigID,
		"config":     json.RawMessage(payload),
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}

	if _, err := c.doUpsert(ctx, "form_configs?on_conflict=id", data); err != nil {
		return &domain.ErrExternalService{Service: "supabase/form_configs", Err: err}
	}
	return nil
}
