package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vilaverde/lead-engine-go/internal/domain"
	"github.com/vilaverde/lead-engine-go/internal/infra/resilience"
)

// ============================================================
// Lead store — implements port.LeadStore
// ============================================================

// leadRow maps the leads table columns to our domain. Column names keep
// the original schema (form_completo, notificacao_enviada).
type leadRow struct {
	ID             string `json:"id"`
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	Source         string `json:"source"`

	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	BusinessType  string `json:"business_type"`
	Budget        string `json:"budget"`
	MainChallenge string `json:"main_challenge"`

	CustomAnswers map[string]string `json:"custom_answers"`

	QuestionNumber int    `json:"question_number"`
	FormCompleted  bool   `json:"form_completo"`
	ScoreTotal     int    `json:"score_total"`
	Classification string `json:"classification"`

	NotificationSent bool   `json:"notificacao_enviada"`
	CRMContactRef    string `json:"crm_contact_ref"`
	CRMSyncStatus    string `json:"crm_sync_status"`

	TotalTimeSeconds int    `json:"total_time_seconds"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

func (r *leadRow) toDomain() *domain.Lead {
	return &domain.Lead{
		ID:               r.ID,
		SessionID:        r.SessionID,
		ConversationID:   r.ConversationID,
		Source:           domain.LeadSource(r.Source),
		Name:             r.Name,
		Email:            r.Email,
		Phone:            r.Phone,
		BusinessType:     r.BusinessType,
		Budget:           r.Budget,
		MainChallenge:    r.MainChallenge,
		CustomAnswers:    r.CustomAnswers,
		QuestionNumber:   r.QuestionNumber,
		FormCompleted:    r.FormCompleted,
		ScoreTotal:       r.ScoreTotal,
		Classification:   domain.Classification(r.Classification),
		NotificationSent: r.NotificationSent,
		CRMContactRef:    r.CRMContactRef,
		CRMSyncStatus:    domain.CRMSyncStatus(r.CRMSyncStatus),
		TotalTimeSeconds: r.TotalTimeSeconds,
		CreatedAt:        parseTime(r.CreatedAt),
		UpdatedAt:        parseTime(r.UpdatedAt),
	}
}

func leadData(lead *domain.Lead) map[string]any {
	data := map[string]any{
		"source":              string(lead.Source),
		"name":                lead.Name,
		"email":               lead.Email,
		"phone":               lead.Phone,
		"business_type":       lead.BusinessType,
		"budget":              lead.Budget,
		"main_challenge":      lead.MainChallenge,
		"custom_answers":      lead.CustomAnswers,
		"question_number":     lead.QuestionNumber,
		"form_completo":       lead.FormCompleted,
		"score_total":         lead.ScoreTotal,
		"classification":      string(lead.Classification),
		"notificacao_enviada": lead.NotificationSent,
		"crm_contact_ref":     lead.CRMContactRef,
		"crm_sync_status":     string(lead.CRMSyncStatus),
		"total_time_seconds":  lead.TotalTimeSeconds,
		"updated_at":          time.Now().UTC().Format(time.RFC3339),
	}
	// Empty identifiers go as NULL so the partial unique indexes on
	// session_id / conversation_id ignore them.
	if lead.SessionID != "" {
		data["session_id"] = lead.SessionID
	}
	if lead.ConversationID != "" {
		data["conversation_id"] = lead.ConversationID
	}
	return data
}

// getLeadBy faz o lookup por uma coluna de identidade. Só a camada de
// transporte passa pelo breaker e pelo retry; zero linhas é decidido
// DEPOIS, fora deles — ausência é rotina (todo primeiro upsert, todo
// chat sem lead ainda) e não pode contar como falha nem abrir o
// circuito.
func (c *Client) getLeadBy(ctx context.Context, column, value string) (*domain.Lead, error) {
	path := fmt.Sprintf("leads?%s=eq.%s&limit=1", column, url.QueryEscape(value))

	var body []byte
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			b, err := c.doRequest(ctx, http.MethodGet, path)
			if err != nil {
				return err
			}
			body = b
			return nil
		})
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/leads", Err: err}
	}

	if body == nil || string(body) == "[]" {
		return nil, &domain.ErrNotFound{Resource: "lead", ID: value}
	}

	var rows []leadRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode lead: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "lead", ID: value}
	}
	return rows[0].toDomain(), nil
}

// GetLead fetches a lead by primary key.
func (c *Client) GetLead(ctx context.Context, id string) (*domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetLeadByID")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", id))

	return c.getLeadBy(ctx, "id", id)
}

// GetLeadBySession fetches the lead owned by a wizard session.
func (c *Client) GetLeadBySession(ctx context.Context, sessionID string) (*domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetLeadBySession")
	defer span.End()
	span.SetAttributes(attribute.String("lead.session_id", sessionID))

	return c.getLeadBy(ctx, "session_id", sessionID)
}

// GetLeadByConversation fetches the lead owned by a chat conversation.
func (c *Client) GetLeadByConversation(ctx context.Context, conversationID string) (*domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetLeadByConversation")
	defer span.End()
	span.SetAttributes(attribute.String("lead.conversation_id", conversationID))

	return c.getLeadBy(ctx, "conversation_id", conversationID)
}

// CreateLead inserts a new lead. A unique violation on session_id or
// conversation_id comes back as *domain.ErrDuplicate so the caller can
// re-fetch the winning row.
func (c *Client) CreateLead(ctx context.Context, lead *domain.Lead) (*domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateLead")
	defer span.End()

	data := leadData(lead)
	data["id"] = lead.ID
	data["created_at"] = time.Now().UTC().Format(time.RFC3339)

	body, err := c.doPost(ctx, "leads", data)
	if err != nil {
		if isUniqueViolation(err) {
			key := lead.SessionID
			if key == "" {
				key = lead.ConversationID
			}
			return nil, &domain.ErrDuplicate{Key: key}
		}
		return nil, &domain.ErrExternalService{Service: "supabase/leads", Err: err}
	}

	var rows []leadRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode created lead: %w", err)
	}
	if len(rows) == 0 {
		return lead, nil
	}
	return rows[0].toDomain(), nil
}

// UpdateLead persists the lead's mutable columns by id.
func (c *Client) UpdateLead(ctx context.Context, lead *domain.Lead) (*domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateLead")
	defer span.End()
	span.SetAttributes(attribute.String("lead.id", lead.ID))

	path := fmt.Sprintf("leads?id=eq.%s", url.QueryEscape(lead.ID))
	if err := c.doPatch(ctx, path, leadData(lead)); err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/leads", Err: err}
	}
	return lead, nil
}

// ListLeads returns leads newest-first with page/pageSize pagination.
func (c *Client) ListLeads(ctx context.Context, page, pageSize int) ([]domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListLeads")
	defer span.End()

	offset := (page - 1) * pageSize
	path := fmt.Sprintf("leads?order=created_at.desc&offset=%d&limit=%d", offset, pageSize)
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/leads", Err: err}
	}

	var rows []leadRow
	if body != nil {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode leads: %w", err)
		}
	}

	leads := make([]domain.Lead, 0, len(rows))
	for i := range rows {
		leads = append(leads, *rows[i].toDomain())
	}
	return leads, nil
}

// DeleteLead removes a lead by id.
func (c *Client) DeleteLead(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteLead")
	defer span.End()

	path := fmt.Sprintf("leads?id=eq.%s", url.QueryEscape(id))
	if err := c.doDelete(ctx, path); err != nil {
		return &domain.ErrExternalService{Service: "supabase/leads", Err: err}
	}
	return nil
}
