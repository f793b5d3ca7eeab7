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
)

// ============================================================
// Conversation store — conversations + messages tables
// ============================================================

type conversationRow struct {
	ID           string `json:"id"`
	VisitorName  string `json:"visitor_name"`
	VisitorEmail string `json:"visitor_email"`
	VisitorPhone string `json:"visitor_phone"`
	PageURL      string `json:"page_url"`
	Language     string `json:"language"`
	Status       string `json:"status"`
	LeadID       string `json:"lead_id"`
	MessageCount int    `json:"message_count"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func (r *conversationRow) toDomain() *domain.Conversation {
	return &domain.Conversation{
		ID:           r.ID,
		VisitorName:  r.VisitorName,
		VisitorEmail: r.VisitorEmail,
		VisitorPhone: r.VisitorPhone,
		PageURL:      r.PageURL,
		Language:     r.Language,
		Status:       domain.ConversationStatus(r.Status),
		LeadID:       r.LeadID,
		MessageCount: r.MessageCount,
		CreatedAt:    parseTime(r.CreatedAt),
		UpdatedAt:    parseTime(r.UpdatedAt),
	}
}

type messageRow struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	ToolCalls      json.RawMessage `json:"tool_calls"`
	ToolCallID     string          `json:"tool_call_id"`
	CreatedAt      string          `json:"created_at"`
}

func (r *messageRow) toDomain() (*domain.Message, error) {
	msg := &domain.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Role:           domain.MessageRole(r.Role),
		Content:        r.Content,
		ToolCallID:     r.ToolCallID,
		CreatedAt:      parseTime(r.CreatedAt),
	}
	if len(r.ToolCalls) > 0 && string(r.ToolCalls) != "null" {
		if err := json.Unmarshal(r.ToolCalls, &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("decode tool_calls: %w", err)
		}
	}
	return msg, nil
}

// CreateConversation inserts a new conversation.
func (c *Client) CreateConversation(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateConversation")
	defer span.End()

	now := time.Now().UTC().Format(time.RFC3339)
	data := map[string]any{
		"id":            conv.ID,
		"visitor_name":  conv.VisitorName,
		"visitor_email": conv.VisitorEmail,
		"visitor_phone": conv.VisitorPhone,
		"page_url":      conv.PageURL,
		"language":      conv.Language,
		"status":        string(conv.Status),
		"message_count": 0,
		"created_at":    now,
		"updated_at":    now,
	}

	body, err := c.doPost(ctx, "conversations", data)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/conversations", Err: err}
	}

	var rows []conversationRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode created conversation: %w", err)
	}
	if len(rows) == 0 {
		return conv, nil
	}
	return rows[0].toDomain(), nil
}

// GetConversation fetches a conversation by id.
func (c *Client) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetConversation")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", id))

	path := fmt.Sprintf("conversations?id=eq.%s&limit=1", url.QueryEscape(id))
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/conversations", Err: err}
	}

	if body == nil || string(body) == "[]" {
		return nil, &domain.ErrNotFound{Resource: "conversation", ID: id}
	}

	var rows []conversationRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "conversation", ID: id}
	}
	return rows[0].toDomain(), nil
}

// ListConversations returns conversations newest-first.
func (c *Client) ListConversations(ctx context.Context, page, pageSize int) ([]domain.Conversation, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListConversations")
	defer span.End()

	offset := (page - 1) * pageSize
	path := fmt.Sprintf("conversations?order=created_at.desc&offset=%d&limit=%d", offset, pageSize)
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/conversations", Err: err}
	}

	var rows []conversationRow
	if body != nil {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode conversations: %w", err)
		}
	}

	convs := make([]domain.Conversation, 0, len(rows))
	for i := range rows {
		convs = append(convs, *rows[i].toDomain())
	}
	return convs, nil
}

// UpdateConversationStatus sets the conversation status.
func (c *Client) UpdateConversationStatus(ctx context.Context, id string, status domain.ConversationStatus) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateConversationStatus")
	defer span.End()

	path := fmt.Sprintf("conversations?id=eq.%s", url.QueryEscape(id))
	data := map[string]any{
		"status":     string(status),
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.doPatch(ctx, path, data); err != nil {
		return &domain.ErrExternalService{Service: "supabase/conversations", Err: err}
	}
	return nil
}

// LinkConversationLead points the conversation at its captured lead.
func (c *Client) LinkConversationLead(ctx context.Context, conversationID, leadID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.LinkConversationLead")
	defer span.End()

	path := fmt.Sprintf("conversations?id=eq.%s", url.QueryEscape(conversationID))
	data := map[string]any{
		"lead_id":    leadID,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.doPatch(ctx, path, data); err != nil {
		return &domain.ErrExternalService{Service: "supabase/conversations", Err: err}
	}
	return nil
}

// DeleteConversation removes a conversation and its transcript. The
// messages go first so the foreign key never dangles.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteConversation")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", id))

	msgPath := fmt.Sprintf("messages?conversation_id=eq.%s", url.QueryEscape(id))
	if err := c.doDelete(ctx, msgPath); err != nil {
		return &domain.ErrExternalService{Service: "supabase/messages", Err: err}
	}

	path := fmt.Sprintf("conversations?id=eq.%s", url.QueryEscape(id))
	if err := c.doDelete(ctx, path); err != nil {
		return &domain.ErrExternalService{Service: "supabase/conversations", Err: err}
	}
	return nil
}

// AppendMessage inserts a transcript entry and bumps the conversation's
// message counter via the increment_message_count RPC.
func (c *Client) AppendMessage(ctx context.Context, msg *domain.Message) error {
	ctx, span := tracer.Start(ctx, "Supabase.AppendMessage")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", msg.ConversationID))

	data := map[string]any{
		"id":              msg.ID,
		"conversation_id": msg.ConversationID,
		"role":            string(msg.Role),
		"content":         msg.Content,
		"tool_call_id":    msg.ToolCallID,
		"created_at":      time.Now().UTC().Format(time.RFC3339),
	}
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool_calls: %w", err)
		}
		data["tool_calls"] = json.RawMessage(raw)
	}

	if _, err := c.doPost(ctx, "messages", data); err != nil {
		return &domain.ErrExternalService{Service: "supabase/messages", Err: err}
	}

	// Counter increment happens in the database so concurrent turns
	// never lose updates.
	if _, err := c.doPost(ctx, "rpc/increment_message_count", map[string]any{"conv_id": msg.ConversationID}); err != nil {
		return &domain.ErrExternalService{Service: "supabase/messages", Err: err}
	}
	return nil
}

// ListMessages returns the transcript of a conversation oldest-first.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListMessages")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	path := fmt.Sprintf("messages?conversation_id=eq.%s&order=created_at.asc", url.QueryEscape(conversationID))
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/messages", Err: err}
	}

	var rows []messageRow
	if body != nil {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
	}

	msgs := make([]domain.Message, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, nil
}
