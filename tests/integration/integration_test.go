package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
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
	"github.com/vilaverde/lead-engine-go/internal/port"
	"github.com/vilaverde/lead-engine-go/internal/service"

	chatdomain "github.com/vilaverde/lead-engine-go/internal/chat/domain"
	chatservice "github.com/vilaverde/lead-engine-go/internal/chat/service"

	"go.uber.org/zap"
)

// ============================================================
// In-memory stores (stand-ins for the Supabase adapter)
// ============================================================

type memLeadStore struct {
	mu    sync.Mutex
	leads map[string]*domain.Lead
}

func newMemLeadStore() *memLeadStore {
	return &memLeadStore{leads: make(map[string]*domain.Lead)}
}

func (s *memLeadStore) GetLead(_ context.Context, id string) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leads[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, &domain.ErrNotFound{Resource: "lead", ID: id}
}

func (s *memLeadStore) GetLeadBySession(_ context.Context, sessionID string) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.SessionID == sessionID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "lead", ID: sessionID}
}

func (s *memLeadStore) GetLeadByConversation(_ context.Context, conversationID string) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.ConversationID == conversationID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "lead", ID: conversationID}
}

func (s *memLeadStore) CreateLead(_ context.Context, lead *domain.Lead) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if lead.SessionID != "" && l.SessionID == lead.SessionID {
			return nil, &domain.ErrDuplicate{Key: lead.SessionID}
		}
		if lead.ConversationID != "" && l.ConversationID == lead.ConversationID {
			return nil, &domain.ErrDuplicate{Key: lead.ConversationID}
		}
	}
	cp := *lead
	s.leads[lead.ID] = &cp
	out := cp
	return &out, nil
}

func (s *memLeadStore) UpdateLead(_ context.Context, lead *domain.Lead) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *lead
	s.leads[lead.ID] = &cp
	out := cp
	return &out, nil
}

func (s *memLeadStore) ListLeads(_ context.Context, _, _ int) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		out = append(out, *l)
	}
	return out, nil
}

func (s *memLeadStore) DeleteLead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leads, id)
	return nil
}

type memConversationStore struct {
	mu       sync.Mutex
	convs    map[string]*domain.Conversation
	messages map[string][]domain.Message
}

func newMemConversationStore() *memConversationStore {
	return &memConversationStore{
		convs:    make(map[string]*domain.Conversation),
		messages: make(map[string][]domain.Message),
	}
}

func (s *memConversationStore) CreateConversation(_ context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *conv
	s.convs[conv.ID] = &cp
	out := cp
	return &out, nil
}

func (s *memConversationStore) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, &domain.ErrNotFound{Resource: "conversation", ID: id}
}

func (s *memConversationStore) ListConversations(_ context.Context, _, _ int) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, *c)
	}
	return out, nil
}

func (s *memConversationStore) UpdateConversationStatus(_ context.Context, id string, status domain.ConversationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return &domain.ErrNotFound{Resource: "conversation", ID: id}
	}
	c.Status = status
	return nil
}

func (s *memConversationStore) LinkConversationLead(_ context.Context, conversationID, leadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return &domain.ErrNotFound{Resource: "conversation", ID: conversationID}
	}
	c.LeadID = leadID
	return nil
}

func (s *memConversationStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, id)
	delete(s.messages, id)
	return nil
}

func (s *memConversationStore) AppendMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	if c, ok := s.convs[msg.ConversationID]; ok {
		c.MessageCount++
	}
	return nil
}

func (s *memConversationStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[conversationID], nil
}

type memConfigStore struct {
	cfg *domain.FormConfig
}

func (s *memConfigStore) GetFormConfig(_ context.Context) (*domain.FormConfig, error) {
	return s.cfg, nil
}

func (s *memConfigStore) PutFormConfig(_ context.Context, cfg *domain.FormConfig) error {
	s.cfg = cfg
	return nil
}

type memKnowledgeStore struct{}

func (memKnowledgeStore) SearchFAQs(context.Context, string, int) ([]domain.FAQ, error) {
	return nil, nil
}

func (memKnowledgeStore) SearchArticles(context.Context, string, int) ([]domain.KnowledgeArticle, error) {
	return nil, nil
}

type memPinger struct{}

func (memPinger) Ping(context.Context) error { return nil }

// scriptedProvider devolve respostas pré-programadas, na ordem.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*chatdomain.CompletionResponse
}

func (p *scriptedProvider) Complete(_ context.Context, _ *chatdomain.CompletionRequest) (*chatdomain.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.responses) == 0 {
		return &chatdomain.CompletionResponse{Content: "ok"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

// ============================================================
// Fixture
// ============================================================

func integrationFormConfig() *domain.FormConfig {
	return &domain.FormConfig{
		Questions: []domain.Question{
			{ID: "name", Order: 1, Title: "Qual o seu nome?", Type: domain.QuestionText, Required: true, Weight: 1, CRMField: "full_name"},
			{ID: "phone", Order: 2, Title: "Qual o seu telefone?", Type: domain.QuestionTel, Required: true, Weight: 1, CRMField: "phone"},
			{ID: "budget", Order: 3, Title: "Qual o orçamento?", Type: domain.QuestionSelect, Required: true, CRMField: "budget_range",
				Options: []domain.QuestionOption{
					{Value: "high", Label: "Acima de R$ 10k", Weight: 10},
					{Value: "low", Label: "Até R$ 10k", Weight: 2},
				},
			},
		},
		Thresholds: domain.Thresholds{Hot: 10, Warm: 5},
		MaxScore:   12,
	}
}

type stack struct {
	router http.Handler
	leads  *memLeadStore
	convs  *memConversationStore
}

func newStack(t *testing.T, crmClient port.CRMClient, smsClient port.SMSSender, provider *scriptedProvider) *stack {
	t.Helper()

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	leads := newMemLeadStore()
	convs := newMemConversationStore()

	formConfigSvc := service.NewFormConfigService(
		&memConfigStore{cfg: integrationFormConfig()},
		cache.New[*domain.FormConfig](time.Minute),
		metrics,
		logger,
	)
	dispatcher := service.NewDispatcher(leads, smsClient, crmClient, "+5511999990000", metrics, logger)
	progressSvc := service.NewLeadProgress(leads, formConfigSvc, dispatcher, metrics, logger)
	adminSvc := service.NewAdmin(leads, convs, formConfigSvc, dispatcher, logger)

	var chatSvc *chatservice.ChatService
	if provider != nil {
		chatSvc = chatservice.NewChatService(
			provider,
			convs,
			leads,
			memKnowledgeStore{},
			formConfigSvc,
			progressSvc,
			chatservice.Config{
				MaxMessages:     40,
				MaxTokens:       512,
				FallbackReply:   "Desculpe, tente de novo em instantes.",
				EnableFAQ:       true,
				EnableKnowledge: true,
			},
			metrics,
			logger,
		)
	}

	router := handler.NewRouter(handler.Deps{
		Progress:   progressSvc,
		FormConfig: formConfigSvc,
		Admin:      adminSvc,
		Chat:       chatSvc,
		Store:      memPinger{},
		Limiter:    ratelimit.New(100, time.Minute),
		Metrics:    metrics,
		Config:     &config.Config{AdminJWTSecret: "integration-secret"},
		Logger:     logger,
	})
	return &stack{router: router, leads: leads, convs: convs}
}

func postJSON(st *stack, path string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	st.router.ServeHTTP(rec, req)
	return rec
}

// ============================================================
// Tests
// ============================================================

// TestIntegration_WizardFullFlow drives the wizard upsert contract end
// to end: progressive saves, completion, SMS alert and CRM sync against
// mock external services.
func TestIntegration_WizardFullFlow(t *testing.T) {
	var smsBodies []map[string]string
	smsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		smsBodies = append(smsBodies, body)
		w.WriteHeader(http.StatusOK)
	}))
	defer smsServer.Close()

	crmCalls := 0
	crmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		crmCalls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"contact_ref": "crm-contact-77"})
	}))
	defer crmServer.Close()

	httpClient := &http.Client{Timeout: 5 * time.Second}
	resCfg := resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}
	crmClient := crm.NewClient(httpClient, crmServer.URL, "test-key", resilience.NewCircuitBreaker("crm-test"), resCfg)
	smsClient := sms.NewClient(httpClient, smsServer.URL, "test-key", resilience.NewCircuitBreaker("sms-test"), resCfg)

	st := newStack(t, crmClient, smsClient, nil)

	// Step 1: partial save.
	rec := postJSON(st, "/v1/leads/progress", service.ProgressPayload{
		SessionID:      "sess-int-1",
		QuestionNumber: 1,
		Answers:        map[string]string{"name": "Ana"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("step 1: expected 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var partial service.ProgressResult
	json.NewDecoder(rec.Body).Decode(&partial)
	if partial.Lead.FormCompleted {
		t.Fatal("step 1: lead must not be complete yet")
	}
	if len(smsBodies) != 0 {
		t.Fatal("step 1: no SMS may fire before the lead has a phone")
	}

	// Step 2: finish the form.
	rec = postJSON(st, "/v1/leads/progress", service.ProgressPayload{
		SessionID:      "sess-int-1",
		QuestionNumber: 3,
		Answers:        map[string]string{"phone": "+5511988887777", "budget": "high"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("step 2: expected 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var final service.ProgressResult
	if err := json.NewDecoder(rec.Body).Decode(&final); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}

	if !final.Lead.FormCompleted {
		t.Error("expected completed lead")
	}
	if final.Lead.Classification != domain.ClassificationHot {
		t.Errorf("expected HOT, got %s", final.Lead.Classification)
	}
	if !final.Lead.NotificationSent {
		t.Error("expected notification flag set")
	}
	if final.Lead.CRMSyncStatus != domain.CRMSynced {
		t.Errorf("expected crm synced, got %s", final.Lead.CRMSyncStatus)
	}
	if final.Lead.CRMContactRef != "crm-contact-77" {
		t.Errorf("expected contact ref stored, got %q", final.Lead.CRMContactRef)
	}
	if len(smsBodies) != 1 {
		t.Fatalf("expected exactly 1 SMS, got %d", len(smsBodies))
	}
	if smsBodies[0]["to"] != "+5511999990000" {
		t.Errorf("expected SMS to staff number, got %q", smsBodies[0]["to"])
	}
	if crmCalls != 1 {
		t.Errorf("expected 1 CRM upsert, got %d", crmCalls)
	}

	// Step 3: idempotent re-save must not re-fire side effects.
	rec = postJSON(st, "/v1/leads/progress", service.ProgressPayload{
		SessionID: "sess-int-1",
		Answers:   map[string]string{"budget": "high"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("step 3: expected 200, got %d", rec.Code)
	}
	if len(smsBodies) != 1 {
		t.Errorf("expected still 1 SMS after re-save, got %d", len(smsBodies))
	}
}

// TestIntegration_ChatLeadCapture runs a chat turn where the model saves
// an answer via tool call; the conversation must end linked to the lead.
func TestIntegration_ChatLeadCapture(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*chatdomain.CompletionResponse{
			{
				ToolCalls: []domain.ToolCall{
					{ID: "call-1", Name: "save_lead_answer", Arguments: `{"questionId":"name","value":"Carlos"}`},
				},
				Usage: chatdomain.TokenUsage{PromptTokens: 200, CompletionTokens: 20},
			},
			{
				Content: "Prazer, Carlos! Qual o seu telefone?",
				Usage:   chatdomain.TokenUsage{PromptTokens: 240, CompletionTokens: 15},
			},
		},
	}

	st := newStack(t, nil, nil, provider)

	rec := postJSON(st, "/v1/chat", chatdomain.ChatRequest{
		Message:     "Oi, meu nome é Carlos",
		VisitorName: "Carlos",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}

	var resp chatdomain.ChatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Reply != "Prazer, Carlos! Qual o seu telefone?" {
		t.Errorf("unexpected reply: %q", resp.Reply)
	}
	if !resp.LeadCaptured {
		t.Error("expected leadCaptured true")
	}

	lead, err := st.leads.GetLeadByConversation(context.Background(), resp.ConversationID)
	if err != nil {
		t.Fatalf("expected lead for conversation: %v", err)
	}
	if lead.Name != "Carlos" {
		t.Errorf("expected lead name Carlos, got %q", lead.Name)
	}
	if lead.Source != domain.SourceChat {
		t.Errorf("expected chat source, got %s", lead.Source)
	}

	conv, err := st.convs.GetConversation(context.Background(), resp.ConversationID)
	if err != nil {
		t.Fatalf("expected conversation: %v", err)
	}
	if conv.LeadID != lead.ID {
		t.Error("expected conversation linked to lead")
	}
}

// TestIntegration_CRMFailureIsContained proves a CRM outage never breaks
// the primary flow: the save returns 200 with crmSyncStatus=failed.
func TestIntegration_CRMFailureIsContained(t *testing.T) {
	crmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer crmServer.Close()

	httpClient := &http.Client{Timeout: 5 * time.Second}
	resCfg := resilience.Config{MaxRetries: 0, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}
	crmClient := crm.NewClient(httpClient, crmServer.URL, "test-key", resilience.NewCircuitBreaker("crm-down"), resCfg)

	st := newStack(t, crmClient, nil, nil)

	rec := postJSON(st, "/v1/leads/progress", service.ProgressPayload{
		SessionID:      "sess-int-2",
		QuestionNumber: 3,
		Answers:        map[string]string{"name": "Bia", "phone": "+5511977776666", "budget": "low"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 despite CRM outage, got %d. Body: %s", rec.Code, rec.Body.String())
	}

	var result service.ProgressResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if !result.Lead.FormCompleted {
		t.Error("expected completed lead")
	}
	if result.Lead.CRMSyncStatus != domain.CRMFailed {
		t.Errorf("expected crm failed, got %s", result.Lead.CRMSyncStatus)
	}
}
