package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	chatdomain "github.com/vilaverde/lead-engine-go/internal/chat/domain"
	chatservice "github.com/vilaverde/lead-engine-go/internal/chat/service"
	"github.com/vilaverde/lead-engine-go/internal/domain"
	"github.com/vilaverde/lead-engine-go/internal/infra/cache"
	"github.com/vilaverde/lead-engine-go/internal/infra/observability"
	"github.com/vilaverde/lead-engine-go/internal/port"
	"github.com/vilaverde/lead-engine-go/internal/service"
)

// --- Mocks ---

// scriptedProvider devolve respostas pré-programadas, na ordem.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*chatdomain.CompletionResponse
	err       error
	requests  []*chatdomain.CompletionRequest
}

func (p *scriptedProvider) Complete(_ context.Context, req *chatdomain.CompletionRequest) (*chatdomain.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &chatdomain.CompletionResponse{Content: "ok"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

type mockConversationStore struct {
	mu       sync.Mutex
	convs    map[string]*domain.Conversation
	messages map[string][]domain.Message
}

func newMockConversationStore() *mockConversationStore {
	return &mockConversationStore{
		convs:    map[string]*domain.Conversation{},
		messages: map[string][]domain.Message{},
	}
}

func (s *mockConversationStore) CreateConversation(_ context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *conv
	s.convs[conv.ID] = &cp
	out := cp
	return &out, nil
}

func (s *mockConversationStore) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, &domain.ErrNotFound{Resource: "conversation", ID: id}
}

func (s *mockConversationStore) ListConversations(_ context.Context, _, _ int) ([]domain.Conversation, error) {
	return nil, nil
}

func (s *mockConversationStore) UpdateConversationStatus(_ context.Context, id string, status domain.ConversationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok {
		c.Status = status
	}
	return nil
}

func (s *mockConversationStore) LinkConversationLead(_ context.Context, conversationID, leadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[conversationID]; ok {
		c.LeadID = leadID
	}
	return nil
}

func (s *mockConversationStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, id)
	delete(s.messages, id)
	return nil
}

func (s *mockConversationStore) AppendMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	if c, ok := s.convs[msg.ConversationID]; ok {
		c.MessageCount++
	}
	return nil
}

func (s *mockConversationStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages[conversationID]...), nil
}

type mockLeadStore struct {
	mu    sync.Mutex
	leads map[string]*domain.Lead
}

func newMockLeadStore() *mockLeadStore {
	return &mockLeadStore{leads: map[string]*domain.Lead{}}
}

func (s *mockLeadStore) GetLead(_ context.Context, id string) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leads[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, &domain.ErrNotFound{Resource: "lead", ID: id}
}

func (s *mockLeadStore) GetLeadBySession(_ context.Context, sessionID string) (*domain.Lead, error) {
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

func (s *mockLeadStore) GetLeadByConversation(_ context.Context, conversationID string) (*domain.Lead, error) {
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

func (s *mockLeadStore) CreateLead(_ context.Context, lead *domain.Lead) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *lead
	s.leads[lead.ID] = &cp
	out := cp
	return &out, nil
}

func (s *mockLeadStore) UpdateLead(_ context.Context, lead *domain.Lead) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *lead
	s.leads[lead.ID] = &cp
	out := cp
	return &out, nil
}

func (s *mockLeadStore) ListLeads(_ context.Context, _, _ int) ([]domain.Lead, error) {
	return nil, nil
}
func (s *mockLeadStore) DeleteLead(_ context.Context, _ string) error { return nil }

type mockConfigStore struct {
	cfg *domain.FormConfig
}

func (m *mockConfigStore) GetFormConfig(_ context.Context) (*domain.FormConfig, error) {
	return m.cfg, nil
}
func (m *mockConfigStore) PutFormConfig(_ context.Context, cfg *domain.FormConfig) error {
	m.cfg = cfg
	return nil
}

type mockKnowledgeStore struct {
	faqs     []domain.FAQ
	articles []domain.KnowledgeArticle
}

func (m *mockKnowledgeStore) SearchFAQs(_ context.Context, _ string, _ int) ([]domain.FAQ, error) {
	return m.faqs, nil
}
func (m *mockKnowledgeStore) SearchArticles(_ context.Context, _ string, _ int) ([]domain.KnowledgeArticle, error) {
	return m.articles, nil
}

type stubCRM struct {
	ref string
}

func (s *stubCRM) UpsertContact(_ context.Context, _ *domain.CRMContact) (string, error) {
	return s.ref, nil
}

// --- Fixtures ---

func testFormConfig() *domain.FormConfig {
	return &domain.FormConfig{
		Questions: []domain.Question{
			{ID: "name", Order: 1, Title: "Qual o seu nome?", Type: domain.QuestionText, Required: true, Weight: 1},
			{ID: "budget", Order: 2, Title: "Qual o orçamento?", Type: domain.QuestionSelect, Required: true,
				Options: []domain.QuestionOption{
					{Value: "high", Label: "Acima de R$ 10k", Weight: 10},
					{Value: "low", Label: "Até R$ 10k", Weight: 2},
					{Value: "other", Label: "Outro", Weight: 1},
				},
				Conditional: &domain.ConditionalField{
					Question: domain.Question{ID: "budget_detail", Title: "Conte mais sobre o orçamento", Type: domain.QuestionText},
					ShowWhen: "other",
				},
			},
		},
		Thresholds: domain.Thresholds{Hot: 10, Warm: 5},
		MaxScore:   11,
	}
}

type chatFixture struct {
	provider *scriptedProvider
	convs    *mockConversationStore
	leads    *mockLeadStore
	svc      *chatservice.ChatService
}

func newChatFixture(provider *scriptedProvider, cfg chatservice.Config) *chatFixture {
	return buildChatFixture(provider, cfg, nil, &mockKnowledgeStore{})
}

func newChatFixtureWithCRM(provider *scriptedProvider, cfg chatservice.Config, crm port.CRMClient) *chatFixture {
	return buildChatFixture(provider, cfg, crm, &mockKnowledgeStore{})
}

func newChatFixtureWithFAQs(provider *scriptedProvider, cfg chatservice.Config, faqs []domain.FAQ) *chatFixture {
	return buildChatFixture(provider, cfg, nil, &mockKnowledgeStore{faqs: faqs})
}

func buildChatFixture(provider *scriptedProvider, cfg chatservice.Config, crm port.CRMClient, knowledge *mockKnowledgeStore) *chatFixture {
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	leads := newMockLeadStore()
	convs := newMockConversationStore()

	formConfig := service.NewFormConfigService(
		&mockConfigStore{cfg: testFormConfig()},
		cache.New[*domain.FormConfig](time.Minute),
		metrics,
		logger,
	)
	dispatcher := service.NewDispatcher(leads, nil, crm, "", metrics, logger)
	progress := service.NewLeadProgress(leads, formConfig, dispatcher, metrics, logger)

	svc := chatservice.NewChatService(
		provider,
		convs,
		leads,
		knowledge,
		formConfig,
		progress,
		cfg,
		metrics,
		logger,
	)
	return &chatFixture{provider: provider, convs: convs, leads: leads, svc: svc}
}

func defaultChatConfig() chatservice.Config {
	return chatservice.Config{
		MaxMessages:     40,
		MaxTokens:       512,
		FallbackReply:   "Desculpe, estou com dificuldades técnicas. Tente novamente em instantes.",
		EnableFAQ:       true,
		EnableKnowledge: true,
	}
}

// --- Tests ---

func TestProcessMessage_NewConversationDirectReply(t *testing.T) {
	provider := &scriptedProvider{responses: []*chatdomain.CompletionResponse{
		{Content: "Olá! Como posso ajudar?"},
	}}
	f := newChatFixture(provider, defaultChatConfig())

	resp, err := f.svc.ProcessMessage(context.Background(), &chatdomain.ChatRequest{
		Message:     "oi",
		VisitorName: "Ana",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.ConversationID == "" {
		t.Error("expected a new conversation id")
	}
	if resp.Reply != "Olá! Como posso ajudar?" {
		t.Errorf("unexpected reply: %q", resp.Reply)
	}
	if resp.LeadCaptured {
		t.Error("no lead should exist before any save_lead_answer")
	}

	// Turno único: modelo não pediu tools, não há segundo request.
	if len(provider.requests) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(provider.requests))
	}
	if len(provider.requests[0].Tools) == 0 {
		t.Error("first turn must offer the qualification tools")
	}

	msgs, _ := f.convs.ListMessages(context.Background(), resp.ConversationID)
	if len(msgs) != 2 {
		t.Errorf("expected user+assistant in transcript, got %d messages", len(msgs))
	}
}

func TestProcessMessage_SaveAnswerFlow(t *testing.T) {
	provider := &scriptedProvider{responses: []*chatdomain.CompletionResponse{
		{
			ToolCalls: []domain.ToolCall{
				{ID: "call-1", Name: "save_lead_answer", Arguments: `{"questionId":"name","value":"Ana"}`},
			},
		},
		{Content: "Prazer, Ana! Qual o seu orçamento?"},
	}}
	f := newChatFixture(provider, defaultChatConfig())

	resp, err := f.svc.ProcessMessage(context.Background(), &chatdomain.ChatRequest{
		Message: "meu nome é Ana",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Reply != "Prazer, Ana! Qual o seu orçamento?" {
		t.Errorf("unexpected reply: %q", resp.Reply)
	}
	if !resp.LeadCaptured {
		t.Error("lead should be captured after save_lead_answer")
	}

	lead, err := f.leads.GetLeadByConversation(context.Background(), resp.ConversationID)
	if err != nil {
		t.Fatalf("lead lookup: %v", err)
	}
	if lead.Name != "Ana" {
		t.Errorf("expected lead name Ana, got %q", lead.Name)
	}
	if lead.Source != domain.SourceChat {
		t.Errorf("expected chat source, got %s", lead.Source)
	}

	// O segundo turno fecha a resposta sem tools.
	if len(provider.requests) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(provider.requests))
	}
	if len(provider.requests[1].Tools) != 0 {
		t.Error("second turn must not offer tools")
	}

	// O resultado da tool devolvido ao modelo carrega o progresso.
	var toolResult string
	for _, m := range provider.requests[1].Messages {
		if m.Role == domain.RoleTool && m.ToolCallID == "call-1" {
			toolResult = m.Content
		}
	}
	if !strings.Contains(toolResult, `"answeredQuestions":1`) {
		t.Errorf("tool result missing progress counter: %s", toolResult)
	}
	if !strings.Contains(toolResult, `"budget"`) {
		t.Errorf("tool result should point at the next question: %s", toolResult)
	}

	// Conversa aponta para o lead capturado.
	conv, _ := f.convs.GetConversation(context.Background(), resp.ConversationID)
	if conv.LeadID != lead.ID {
		t.Errorf("conversation not linked to lead: %q", conv.LeadID)
	}
}

func TestProcessMessage_DisabledToolReturnsStructuredResult(t *testing.T) {
	provider := &scriptedProvider{responses: []*chatdomain.CompletionResponse{
		{
			ToolCalls: []domain.ToolCall{
				{ID: "call-1", Name: "search_faqs", Arguments: `{"query":"preços"}`},
			},
		},
		{Content: "No momento não consigo consultar as FAQs."},
	}}
	cfg := defaultChatConfig()
	cfg.EnableFAQ = false
	f := newChatFixture(provider, cfg)

	resp, err := f.svc.ProcessMessage(context.Background(), &chatdomain.ChatRequest{Message: "quanto custa?"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Reply == "" {
		t.Error("second turn must still produce a reply")
	}

	var toolResult string
	for _, m := range provider.requests[1].Messages {
		if m.Role == domain.RoleTool {
			toolResult = m.Content
		}
	}
	if !strings.Contains(toolResult, "tool_disabled") {
		t.Errorf("disabled tool must return a structured result, got %s", toolResult)
	}
}

func TestProcessMessage_ProviderFailureFallsBack(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("rate limited")}
	cfg := defaultChatConfig()
	f := newChatFixture(provider, cfg)

	resp, err := f.svc.ProcessMessage(context.Background(), &chatdomain.ChatRequest{Message: "oi"})
	if err != nil {
		t.Fatalf("provider failure must not surface: %v", err)
	}
	if resp.Reply != cfg.FallbackReply {
		t.Errorf("expected fallback reply, got %q", resp.Reply)
	}

	// O fallback também entra no transcript.
	msgs, _ := f.convs.ListMessages(context.Background(), resp.ConversationID)
	last := msgs[len(msgs)-1]
	if last.Role != domain.RoleAssistant || last.Content != cfg.FallbackReply {
		t.Errorf("fallback reply missing from transcript: %+v", last)
	}
}

func TestProcessMessage_ConversationFull(t *testing.T) {
	provider := &scriptedProvider{}
	cfg := defaultChatConfig()
	cfg.MaxMessages = 4
	f := newChatFixture(provider, cfg)

	conv, _ := f.convs.CreateConversation(context.Background(), &domain.Conversation{
		ID:     "conv-full",
		Status: domain.ConversationOpen,
	})
	for i := 0; i < 4; i++ {
		_ = f.convs.AppendMessage(context.Background(), &domain.Message{
			ID:             string(rune('a' + i)),
			ConversationID: conv.ID,
			Role:           domain.RoleUser,
			Content:        "msg",
		})
	}

	_, err := f.svc.ProcessMessage(context.Background(), &chatdomain.ChatRequest{
		ConversationID: conv.ID,
		Message:        "ainda aí?",
	})

	var full *domain.ErrConversationFull
	if !errors.As(err, &full) {
		t.Fatalf("expected ErrConversationFull, got %v", err)
	}
	if full.ConversationID != conv.ID {
		t.Errorf("wrong conversation in error: %s", full.ConversationID)
	}
	if len(provider.requests) != 0 {
		t.Error("capped conversation must not reach the provider")
	}

	got, _ := f.convs.GetConversation(context.Background(), conv.ID)
	if got.Status != domain.ConversationClosed {
		t.Errorf("capped conversation should be closed, got %s", got.Status)
	}
}

func TestProcessMessage_UnknownConversation(t *testing.T) {
	provider := &scriptedProvider{}
	f := newChatFixture(provider, defaultChatConfig())

	_, err := f.svc.ProcessMessage(context.Background(), &chatdomain.ChatRequest{
		ConversationID: "missing",
		Message:        "oi",
	})
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProcessMessage_EmptyMessageRejected(t *testing.T) {
	provider := &scriptedProvider{}
	f := newChatFixture(provider, defaultChatConfig())

	_, err := f.svc.ProcessMessage(context.Background(), &chatdomain.ChatRequest{Message: "   "})
	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestProcessMessage_FormConfigToolCarriesThresholdsAndConditionals(t *testing.T) {
	provider := &scriptedProvider{responses: []*chatdomain.CompletionResponse{
		{
			ToolCalls: []domain.ToolCall{
				{ID: "call-1", Name: "get_form_config", Arguments: `{}`},
			},
		},
		{Content: "Vamos começar pelo seu nome."},
	}}
	f := newChatFixture(provider, defaultChatConfig())

	_, err := f.svc.ProcessMessage(context.Background(), &chatdomain.ChatRequest{Message: "oi"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var toolResult string
	for _, m := range provider.requests[1].Messages {
		if m.Role == domain.RoleTool && m.ToolCallID == "call-1" {
			toolResult = m.Content
		}
	}
	// Sem thresholds o modelo não sabe comunicar a classificação; sem o
	// conditional ele nunca faria o follow-up.
	if !strings.Contains(toolResult, `"thresholds"`) || !strings.Contains(toolResult, `"hot":10`) {
		t.Errorf("form config result missing thresholds: %s", toolResult)
	}
	if !strings.Contains(toolResult, `"conditionalField"`) || !strings.Contains(toolResult, `"showWhen":"other"`) {
		t.Errorf("form config result missing conditional field: %s", toolResult)
	}
	if !strings.Contains(toolResult, `"budget_detail"`) {
		t.Errorf("conditional question id missing: %s", toolResult)
	}
}

func TestProcessMessage_CompleteLeadReturnsCRMRef(t *testing.T) {
	provider := &scriptedProvider{responses: []*chatdomain.CompletionResponse{
		{
			ToolCalls: []domain.ToolCall{
				{ID: "call-1", Name: "save_lead_answer", Arguments: `{"questionId":"name","value":"Ana"}`},
			},
		},
		{Content: "Anotado!"},
		{
			ToolCalls: []domain.ToolCall{
				{ID: "call-2", Name: "complete_lead", Arguments: `{}`},
			},
		},
		{Content: "Qualificação concluída, obrigado!"},
	}}
	f := newChatFixtureWithCRM(provider, defaultChatConfig(), &stubCRM{ref: "crm-77"})

	resp, err := f.svc.ProcessMessage(context.Background(), &chatdomain.ChatRequest{Message: "meu nome é Ana"})
	if err != nil {
		t.Fatalf("first message: %v", err)
	}
	if _, err := f.svc.ProcessMessage(context.Background(), &chatdomain.ChatRequest{
		ConversationID: resp.ConversationID,
		Message:        "é isso",
	}); err != nil {
		t.Fatalf("second message: %v", err)
	}

	var toolResult string
	for _, m := range provider.requests[3].Messages {
		if m.Role == domain.RoleTool && m.ToolCallID == "call-2" {
			toolResult = m.Content
		}
	}
	if !strings.Contains(toolResult, `"crmContactRef":"crm-77"`) {
		t.Errorf("complete result missing crm contact ref: %s", toolResult)
	}

	lead, err := f.leads.GetLeadByConversation(context.Background(), resp.ConversationID)
	if err != nil {
		t.Fatalf("lead lookup: %v", err)
	}
	if lead.CRMContactRef != "crm-77" {
		t.Errorf("crm ref not persisted: %q", lead.CRMContactRef)
	}
}

func TestProcessMessage_VisitorProfileMergedIntoLead(t *testing.T) {
	provider := &scriptedProvider{responses: []*chatdomain.CompletionResponse{
		{
			ToolCalls: []domain.ToolCall{
				{ID: "call-1", Name: "save_lead_answer", Arguments: `{"questionId":"name","value":"Carla"}`},
			},
		},
		{Content: "Prazer, Carla!"},
	}}
	f := newChatFixture(provider, defaultChatConfig())

	resp, err := f.svc.ProcessMessage(context.Background(), &chatdomain.ChatRequest{
		Message:      "pode me chamar de Carla",
		VisitorName:  "Ana",
		VisitorEmail: "ana@example.com",
		VisitorPhone: "+5511966660000",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	lead, err := f.leads.GetLeadByConversation(context.Background(), resp.ConversationID)
	if err != nil {
		t.Fatalf("lead lookup: %v", err)
	}
	// Resposta dada na conversa vence o cadastro do widget; o resto do
	// perfil preenche os campos vazios.
	if lead.Name != "Carla" {
		t.Errorf("explicit answer must win over the widget name, got %q", lead.Name)
	}
	if lead.Email != "ana@example.com" {
		t.Errorf("widget email not merged: %q", lead.Email)
	}
	if lead.Phone != "+5511966660000" {
		t.Errorf("widget phone not merged: %q", lead.Phone)
	}
}

func TestProcessMessage_SearchToolsAcceptEmptyQuery(t *testing.T) {
	provider := &scriptedProvider{responses: []*chatdomain.CompletionResponse{
		{
			ToolCalls: []domain.ToolCall{
				{ID: "call-1", Name: "search_faqs", Arguments: `{}`},
			},
		},
		{Content: "Temos aulas experimentais gratuitas."},
	}}
	f := newChatFixtureWithFAQs(provider, defaultChatConfig(), []domain.FAQ{
		{Question: "Tem aula experimental?", Answer: "Sim, gratuita."},
	})

	_, err := f.svc.ProcessMessage(context.Background(), &chatdomain.ChatRequest{Message: "me conta das aulas"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// query é opcional no schema: o modelo pode listar sem termo.
	for _, tool := range provider.requests[0].Tools {
		if tool.Name != "search_faqs" {
			continue
		}
		if _, ok := tool.Parameters["required"]; ok {
			t.Error("search_faqs schema must not mark query as required")
		}
	}

	var toolResult string
	for _, m := range provider.requests[1].Messages {
		if m.Role == domain.RoleTool && m.ToolCallID == "call-1" {
			toolResult = m.Content
		}
	}
	if !strings.Contains(toolResult, "Tem aula experimental?") {
		t.Errorf("empty-query search must list recent FAQs: %s", toolResult)
	}
}
