package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/vilaverde/lead-engine-go/internal/domain"
	"github.com/vilaverde/lead-engine-go/internal/port"
)

// Admin expõe as operações do painel do operador: listagem e limpeza de
// leads e conversas, e o re-disparo manual do sync de CRM.
type Admin struct {
	leads         port.LeadStore
	conversations port.ConversationStore
	formConfig    *FormConfigService
	dispatcher    *Dispatcher
	logger        *zap.Logger
}

// NewAdmin creates the admin service.
func NewAdmin(leads port.LeadStore, conversations port.ConversationStore, formConfig *FormConfigService, dispatcher *Dispatcher, logger *zap.Logger) *Admin {
	return &Admin{
		leads:         leads,
		conversations: conversations,
		formConfig:    formConfig,
		dispatcher:    dispatcher,
		logger:        logger,
	}
}

// ListLeads returns leads newest-first.
func (a *Admin) ListLeads(ctx context.Context, page, pageSize int) ([]domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Admin.ListLeads")
	defer span.End()

	return a.leads.ListLeads(ctx, page, pageSize)
}

// GetLead returns one lead by id.
func (a *Admin) GetLead(ctx context.Context, id string) (*domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Admin.GetLead")
	defer span.End()

	return a.leads.GetLead(ctx, id)
}

// DeleteLead removes a lead.
func (a *Admin) DeleteLead(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Admin.DeleteLead")
	defer span.End()

	if _, err := a.leads.GetLead(ctx, id); err != nil {
		return err
	}
	a.logger.Info("lead deleted", zap.String("lead_id", id))
	return a.leads.DeleteLead(ctx, id)
}

// ResyncLead re-dispara o sync de CRM de um lead (usado pelo operador
// quando crm_sync_status ficou em failed).
func (a *Admin) ResyncLead(ctx context.Context, id string) (*domain.Lead, error) {
	ctx, span := tracer.Start(ctx, "Admin.ResyncLead")
	defer span.End()

	lead, err := a.leads.GetLead(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := a.formConfig.Get(ctx)
	if err != nil {
		return nil, err
	}

	a.dispatcher.SyncLead(ctx, lead, cfg)
	return lead, nil
}

// ListConversations returns conversations newest-first.
func (a *Admin) ListConversations(ctx context.Context, page, pageSize int) ([]domain.Conversation, error) {
	ctx, span := tracer.Start(ctx, "Admin.ListConversations")
	defer span.End()

	return a.conversations.ListConversations(ctx, page, pageSize)
}

// GetConversation returns a conversation with its transcript.
func (a *Admin) GetConversation(ctx context.Context, id string) (*domain.Conversation, []domain.Message, error) {
	ctx, span := tracer.Start(ctx, "Admin.GetConversation")
	defer span.End()

	conv, err := a.conversations.GetConversation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := a.conversations.ListMessages(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

// DeleteConversation remove uma conversa e seu transcript.
func (a *Admin) DeleteConversation(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Admin.DeleteConversation")
	defer span.End()

	if _, err := a.conversations.GetConversation(ctx, id); err != nil {
		return err
	}
	a.logger.Info("conversation deleted", zap.String("conversation_id", id))
	return a.conversations.DeleteConversation(ctx, id)
}

// SetConversationStatus abre ou fecha uma conversa. Fechar não apaga o
// transcript; só bloqueia novas mensagens.
func (a *Admin) SetConversationStatus(ctx context.Context, id string, status domain.ConversationStatus) error {
	ctx, span := tracer.Start(ctx, "Admin.SetConversationStatus")
	defer span.End()

	if status != domain.ConversationOpen && status != domain.ConversationClosed {
		return &domain.ErrValidation{Field: "status", Message: "must be open or closed"}
	}
	if _, err := a.conversations.GetConversation(ctx, id); err != nil {
		return err
	}
	return a.conversations.UpdateConversationStatus(ctx, id, status)
}
