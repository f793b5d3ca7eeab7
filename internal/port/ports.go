// Package port define as interfaces (ports) que os services consomem.
// Seguindo arquitetura hexagonal, nenhum service conhece Supabase, HTTP
// ou SDKs — só estas interfaces. Os adapters concretos vivem em infra/.
package port

import (
	"context"

	"github.com/vilaverde/lead-engine-go/internal/domain"
)

// LeadStore persiste o agregado Lead. Ausência em lookups é sinalizada
// com *domain.ErrNotFound — quem decide criar é o caller.
type LeadStore interface {
	GetLead(ctx context.Context, id string) (*domain.Lead, error)
	GetLeadBySession(ctx context.Context, sessionID string) (*domain.Lead, error)
	GetLeadByConversation(ctx context.Context, conversationID string) (*domain.Lead, error)

	// CreateLead insere um lead novo. Violação de unicidade de session_id
	// ou conversation_id retorna *domain.ErrDuplicate — o caller refaz o
	// lookup e devolve a linha do vencedor (upsert é retry lógico, nunca
	// falha).
	CreateLead(ctx context.Context, lead *domain.Lead) (*domain.Lead, error)
	UpdateLead(ctx context.Context, lead *domain.Lead) (*domain.Lead, error)

	ListLeads(ctx context.Context, page, pageSize int) ([]domain.Lead, error)
	DeleteLead(ctx context.Context, id string) error
}

// ConversationStore persiste conversas e seus transcripts.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, page, pageSize int) ([]domain.Conversation, error)
	UpdateConversationStatus(ctx context.Context, id string, status domain.ConversationStatus) error
	LinkConversationLead(ctx context.Context, conversationID, leadID string) error

	// DeleteConversation remove a conversa e o transcript inteiro.
	DeleteConversation(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, msg *domain.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
}

// FormConfigStore persiste a configuração do formulário (linha única).
type FormConfigStore interface {
	GetFormConfig(ctx context.Context) (*domain.FormConfig, error)
	PutFormConfig(ctx context.Context, cfg *domain.FormConfig) error
}

// KnowledgeStore consulta o conteúdo curado pelo operador (FAQs e base
// de conhecimento). Query vazia retorna os itens ativos mais recentes.
type KnowledgeStore interface {
	SearchFAQs(ctx context.Context, query string, limit int) ([]domain.FAQ, error)
	SearchArticles(ctx context.Context, query string, limit int) ([]domain.KnowledgeArticle, error)
}

// CRMClient cria/atualiza um contato no CRM externo e retorna a
// referência opaca do contato. O engine só conhece este contrato.
type CRMClient interface {
	UpsertContact(ctx context.Context, contact *domain.CRMContact) (string, error)
}

// SMSSender dispara o alerta de novo lead para a equipe.
type SMSSender interface {
	Send(ctx context.Context, to, message string) error
}

// Cache is a read/write cache abstraction (in-memory TTL today, Redis later).
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
