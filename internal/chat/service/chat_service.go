// Package service — chat_service.go implementa o ChatService.
//
// ============================================================
// ARQUITETURA — Loop de orquestração em dois turnos
// ============================================================
//
// O ChatService é o orquestrador central da rota POST /v1/chat.
// Cada mensagem do visitante roda uma máquina de estados fixa:
//
//  1. Handler recebe POST /v1/chat com {"conversationId": ..., "message": ...}
//  2. ChatService.ProcessMessage() acha/cria a conversa e checa o teto
//     de mensagens
//  3. Persiste a mensagem do visitante no transcript
//  4. Turno 1: chama o modelo com o transcript + as tools registradas
//  5. Se o modelo pediu tools, executa todas (concorrente, resultados na
//     ordem dos pedidos) e persiste os resultados no transcript
//  6. Turno 2: chama o modelo de novo SEM tools — a resposta é final
//  7. Persiste e devolve a resposta
//
// Falha do provider nunca vira 500 pro visitante: cai na resposta de
// fallback configurada. Falha de uma tool vira um resultado estruturado
// {"error": ...} que o modelo enxerga no turno 2.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	chatdomain "github.com/vilaverde/lead-engine-go/internal/chat/domain"
	chatport "github.com/vilaverde/lead-engine-go/internal/chat/port"
	coredomain "github.com/vilaverde/lead-engine-go/internal/domain"
	"github.com/vilaverde/lead-engine-go/internal/infra/observability"
	"github.com/vilaverde/lead-engine-go/internal/port"
	"github.com/vilaverde/lead-engine-go/internal/service"
)

// chatTracer é o tracer OpenTelemetry para o módulo de chat.
var chatTracer = otel.Tracer("chat/service")

// Config controla o comportamento do loop de chat.
type Config struct {
	// MaxMessages é o teto de mensagens por conversa. Atingido o teto, a
	// conversa fecha e o visitante é orientado a abrir outra.
	MaxMessages int

	// MaxTokens limita o tamanho da resposta de cada turno.
	MaxTokens int

	// FallbackReply é devolvida quando o provider falha.
	FallbackReply string

	EnableFAQ       bool
	EnableKnowledge bool
}

// ChatService é o orquestrador da conversa com o assistente.
type ChatService struct {
	provider      chatport.CompletionProvider
	conversations port.ConversationStore
	leads         port.LeadStore
	knowledge     port.KnowledgeStore
	formConfig    *service.FormConfigService
	progress      *service.LeadProgress

	cfg             Config
	enableFAQ       bool
	enableKnowledge bool

	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewChatService cria o ChatService com as dependências injetadas.
func NewChatService(
	provider chatport.CompletionProvider,
	conversations port.ConversationStore,
	leads port.LeadStore,
	knowledge port.KnowledgeStore,
	formConfig *service.FormConfigService,
	progress *service.LeadProgress,
	cfg Config,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		provider:        provider,
		conversations:   conversations,
		leads:           leads,
		knowledge:       knowledge,
		formConfig:      formConfig,
		progress:        progress,
		cfg:             cfg,
		enableFAQ:       cfg.EnableFAQ,
		enableKnowledge: cfg.EnableKnowledge,
		metrics:         metrics,
		logger:          logger,
	}
}

// ProcessMessage é o ponto de entrada principal do chat.
func (s *ChatService) ProcessMessage(ctx context.Context, req *chatdomain.ChatRequest) (*chatdomain.ChatResponse, error) {
	ctx, span := chatTracer.Start(ctx, "ChatService.ProcessMessage")
	defer span.End()

	if strings.TrimSpace(req.Message) == "" {
		return nil, &coredomain.ErrValidation{Field: "message", Message: "must not be empty"}
	}

	conv, err := s.findOrCreateConversation(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID))

	// Conversa fechada (pelo teto ou pelo operador) não aceita mensagem
	// nova; o visitante começa outra.
	if conv.Status == coredomain.ConversationClosed {
		return nil, &coredomain.ErrConversationFull{ConversationID: conv.ID, MaxMessages: s.cfg.MaxMessages}
	}

	// Teto de mensagens: a troca user+assistant que vem aí precisa caber.
	if conv.MessageCount+2 > s.cfg.MaxMessages {
		if conv.Status != coredomain.ConversationClosed {
			if err := s.conversations.UpdateConversationStatus(ctx, conv.ID, coredomain.ConversationClosed); err != nil {
				s.logger.Warn("failed to close full conversation", zap.String("conversation_id", conv.ID), zap.Error(err))
			}
		}
		return nil, &coredomain.ErrConversationFull{ConversationID: conv.ID, MaxMessages: s.cfg.MaxMessages}
	}

	userMsg := &coredomain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           coredomain.RoleUser,
		Content:        req.Message,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.conversations.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	reply, err := s.runTurns(ctx, conv)
	if err != nil {
		// Provider fora do ar não pode derrubar o widget: devolve o
		// fallback e registra a degradação.
		s.metrics.IncrChat("fallback")
		s.logger.Error("chat turns failed, using fallback reply",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		reply = s.cfg.FallbackReply
	} else {
		s.metrics.IncrChat("success")
	}

	assistantMsg := &coredomain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           coredomain.RoleAssistant,
		Content:        reply,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.conversations.AppendMessage(ctx, assistantMsg); err != nil {
		s.logger.Warn("failed to persist assistant reply",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}

	captured := s.leadCaptured(ctx, conv.ID)
	if captured && conv.LeadID == "" {
		if lead, err := s.leads.GetLeadByConversation(ctx, conv.ID); err == nil {
			if err := s.conversations.LinkConversationLead(ctx, conv.ID, lead.ID); err != nil {
				s.logger.Warn("failed to link lead to conversation",
					zap.String("conversation_id", conv.ID),
					zap.Error(err),
				)
			}
			s.mergeVisitorProfile(ctx, conv, lead)
		}
	}

	return &chatdomain.ChatResponse{
		ConversationID: conv.ID,
		Reply:          reply,
		LeadCaptured:   captured,
	}, nil
}

func (s *ChatService) findOrCreateConversation(ctx context.Context, req *chatdomain.ChatRequest) (*coredomain.Conversation, error) {
	if req.ConversationID != "" {
		return s.conversations.GetConversation(ctx, req.ConversationID)
	}

	conv := &coredomain.Conversation{
		ID:           uuid.NewString(),
		VisitorName:  req.VisitorName,
		VisitorEmail: req.VisitorEmail,
		VisitorPhone: req.VisitorPhone,
		PageURL:      req.PageURL,
		Language:     req.Language,
		Status:       coredomain.ConversationOpen,
		CreatedAt:    time.Now().UTC(),
	}
	return s.conversations.CreateConversation(ctx, conv)
}

// runTurns executa o ciclo modelo → tools → modelo e retorna o texto
// final da resposta.
func (s *ChatService) runTurns(ctx context.Context, conv *coredomain.Conversation) (string, error) {
	ctx, span := chatTracer.Start(ctx, "ChatService.runTurns")
	defer span.End()

	history, err := s.conversations.ListMessages(ctx, conv.ID)
	if err != nil {
		return "", err
	}

	systemPrompt, err := s.buildSystemPrompt(ctx, conv)
	if err != nil {
		return "", err
	}

	messages := make([]chatdomain.CompletionMessage, 0, len(history)+1)
	messages = append(messages, chatdomain.CompletionMessage{
		Role:    coredomain.RoleSystem,
		Content: systemPrompt,
	})
	for _, m := range history {
		messages = append(messages, chatdomain.CompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}

	tools := s.buildTools()
	defs := make([]chatdomain.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, t.def)
	}

	// Turno 1: modelo decide entre responder direto ou pedir tools.
	first, err := s.provider.Complete(ctx, &chatdomain.CompletionRequest{
		Messages:  messages,
		Tools:     defs,
		MaxTokens: s.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	s.metrics.RecordTokens(first.Usage.PromptTokens, first.Usage.CompletionTokens)

	if len(first.ToolCalls) == 0 {
		return first.Content, nil
	}

	// Persiste a decisão do modelo antes de executar qualquer efeito.
	assistantTurn := &coredomain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           coredomain.RoleAssistant,
		Content:        first.Content,
		ToolCalls:      first.ToolCalls,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.conversations.AppendMessage(ctx, assistantTurn); err != nil {
		s.logger.Warn("failed to persist tool call turn",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}

	results := s.executeToolCalls(ctx, conv.ID, tools, first.ToolCalls)

	messages = append(messages, chatdomain.CompletionMessage{
		Role:      coredomain.RoleAssistant,
		Content:   first.Content,
		ToolCalls: first.ToolCalls,
	})
	for i, call := range first.ToolCalls {
		toolMsg := &coredomain.Message{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			Role:           coredomain.RoleTool,
			Content:        results[i],
			ToolCallID:     call.ID,
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.conversations.AppendMessage(ctx, toolMsg); err != nil {
			s.logger.Warn("failed to persist tool result",
				zap.String("conversation_id", conv.ID),
				zap.String("tool", call.Name),
				zap.Error(err),
			)
		}
		messages = append(messages, chatdomain.CompletionMessage{
			Role:       coredomain.RoleTool,
			Content:    results[i],
			ToolCallID: call.ID,
		})
	}

	// Turno 2: sem tools — força o modelo a fechar a resposta em texto.
	second, err := s.provider.Complete(ctx, &chatdomain.CompletionRequest{
		Messages:  messages,
		MaxTokens: s.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	s.metrics.RecordTokens(second.Usage.PromptTokens, second.Usage.CompletionTokens)

	return second.Content, nil
}

// executeToolCalls roda todas as tool calls do turno concorrentemente e
// devolve os resultados na ordem dos pedidos. Erro de tool vira content
// estruturado, nunca derruba o turno.
func (s *ChatService) executeToolCalls(ctx context.Context, conversationID string, tools []registeredTool, calls []coredomain.ToolCall) []string {
	byName := make(map[string]registeredTool, len(tools))
	for _, t := range tools {
		byName[t.def.Name] = t
	}

	results := make([]string, len(calls))
	g, gctx := errgroup.WithContext(ctx)

	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = s.runTool(gctx, conversationID, byName, call)
			return nil
		})
	}
	// Os workers nunca retornam erro; Wait só sincroniza.
	_ = g.Wait()
	return results
}

func (s *ChatService) runTool(ctx context.Context, conversationID string, byName map[string]registeredTool, call coredomain.ToolCall) string {
	tool, ok := byName[call.Name]
	if !ok {
		return fmt.Sprintf(`{"error":"unknown_tool","message":%q}`, call.Name)
	}
	if !tool.enabled {
		return string(errToolDisabled)
	}

	args := json.RawMessage(call.Arguments)
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	out, err := tool.run(ctx, conversationID, args)
	if err != nil {
		s.logger.Warn("tool execution failed",
			zap.String("tool", call.Name),
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(raw)
}

// buildSystemPrompt monta o prompt do sistema a partir da config ativa:
// contexto do negócio, perguntas de qualificação e regras das tools.
func (s *ChatService) buildSystemPrompt(ctx context.Context, conv *coredomain.Conversation) (string, error) {
	cfg, err := s.formConfig.Get(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Você é o assistente virtual da Vila Verde, uma agência de marketing digital. ")
	b.WriteString("Responda de forma curta, simpática e em português, a menos que o visitante use outro idioma.\n\n")
	b.WriteString("Seu objetivo é ajudar o visitante E qualificá-lo como lead, coletando as respostas ")
	b.WriteString("das perguntas de qualificação de forma natural durante a conversa — uma por vez, nunca como interrogatório.\n\n")

	b.WriteString("Perguntas de qualificação, em ordem:\n")
	for _, q := range cfg.SortedQuestions() {
		b.WriteString(fmt.Sprintf("- %s (id: %s)", q.Title, q.ID))
		if len(q.Options) > 0 {
			values := make([]string, 0, len(q.Options))
			for _, opt := range q.Options {
				values = append(values, opt.Value)
			}
			b.WriteString(" — opções: " + strings.Join(values, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nRegras:\n")
	b.WriteString("- Use save_lead_answer assim que o visitante responder uma pergunta.\n")
	b.WriteString("- Use get_lead_state para saber o que já foi coletado antes de perguntar de novo.\n")
	b.WriteString("- Quando todas as perguntas obrigatórias estiverem respondidas, use complete_lead.\n")
	b.WriteString("- Para dúvidas sobre a Vila Verde use search_faqs e search_knowledge_base.\n")
	b.WriteString("- Nunca invente preços ou prazos que as buscas não retornaram.\n")

	if conv.VisitorName != "" {
		b.WriteString(fmt.Sprintf("\nO visitante se identificou como %s.\n", conv.VisitorName))
	}
	if conv.Language != "" {
		b.WriteString(fmt.Sprintf("Idioma preferido do visitante: %s.\n", conv.Language))
	}

	return b.String(), nil
}

// mergeVisitorProfile copia o que o visitante informou na abertura do
// widget (nome, email, telefone) para o lead capturado. Resposta já
// coletada na conversa tem precedência — os campos do widget só
// preenchem o que está vazio. Telefone chega ao lead por aqui mesmo
// que o modelo nunca pergunte, o que habilita o alerta de novo lead.
func (s *ChatService) mergeVisitorProfile(ctx context.Context, conv *coredomain.Conversation, lead *coredomain.Lead) {
	answers := make(map[string]string, 3)
	if conv.VisitorName != "" && lead.Name == "" {
		answers["name"] = conv.VisitorName
	}
	if conv.VisitorEmail != "" && lead.Email == "" {
		answers["email"] = conv.VisitorEmail
	}
	if conv.VisitorPhone != "" && lead.Phone == "" {
		answers["phone"] = conv.VisitorPhone
	}
	if len(answers) == 0 {
		return
	}

	if _, err := s.progress.UpsertByConversation(ctx, conv.ID, answers); err != nil {
		s.logger.Warn("failed to merge visitor profile into lead",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
	}
}

// leadCaptured diz se a conversa já tem um lead persistido.
func (s *ChatService) leadCaptured(ctx context.Context, conversationID string) bool {
	_, err := s.leads.GetLeadByConversation(ctx, conversationID)
	return err == nil
}
