package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vilaverde/lead-engine-go/internal/domain"
	"github.com/vilaverde/lead-engine-go/internal/infra/observability"
	"github.com/vilaverde/lead-engine-go/internal/port"
)

// Dispatcher concentra os efeitos colaterais de qualificação: o SMS
// one-shot para a equipe e o sync best-effort com o CRM. Nenhum efeito
// daqui derruba o fluxo principal — falha de SMS deixa a flag em falso
// para o próximo upsert com telefone tentar de novo, falha de CRM só
// marca crm_sync_status como failed.
type Dispatcher struct {
	leads       port.LeadStore
	sms         port.SMSSender
	crm         port.CRMClient
	staffNumber string
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewDispatcher creates the side effect dispatcher.
func NewDispatcher(leads port.LeadStore, sms port.SMSSender, crm port.CRMClient, staffNumber string, metrics *observability.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		leads:       leads,
		sms:         sms,
		crm:         crm,
		staffNumber: staffNumber,
		metrics:     metrics,
		logger:      logger,
	}
}

// NotifyNewLead envia o alerta de novo lead exatamente uma vez, na
// primeira escrita em que o lead tem um telefone de contato. A flag
// notificacao_enviada só vira true depois do gateway confirmar o aceite
// — melhor arriscar SMS duplicado num crash do que perder o alerta de
// um lead quente. Falhou o envio, a flag fica em falso e o próximo
// upsert com telefone tenta de novo.
func (d *Dispatcher) NotifyNewLead(ctx context.Context, lead *domain.Lead) {
	if lead.NotificationSent || lead.Phone == "" {
		return
	}
	if d.sms == nil || d.staffNumber == "" {
		return
	}

	ctx, span := tracer.Start(ctx, "Dispatcher.NotifyNewLead")
	defer span.End()

	msg := fmt.Sprintf("Novo lead %s: %s (%s) — score %d",
		lead.Classification, lead.Name, lead.Phone, lead.ScoreTotal)

	if err := d.sms.Send(ctx, d.staffNumber, msg); err != nil {
		d.metrics.IncrSideEffect("sms", "failure")
		d.logger.Warn("lead notification failed",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
		return
	}

	lead.NotificationSent = true
	if _, err := d.leads.UpdateLead(ctx, lead); err != nil {
		// SMS saiu mas a flag não persistiu; o próximo upsert pode
		// reenviar.
		d.logger.Warn("failed to persist notification flag",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
	}
	d.metrics.IncrSideEffect("sms", "success")
	d.logger.Info("lead notification sent",
		zap.String("lead_id", lead.ID),
		zap.String("classification", string(lead.Classification)),
	)
}

// SyncLead empurra o lead para o CRM (best-effort). O mapeamento de
// campos vem do crmField de cada pergunta; respostas custom viajam como
// custom fields. Falha nunca propaga — só marca crm_sync_status=failed
// para o operador re-disparar manualmente.
func (d *Dispatcher) SyncLead(ctx context.Context, lead *domain.Lead, cfg *domain.FormConfig) {
	if d.crm == nil {
		return
	}

	ctx, span := tracer.Start(ctx, "Dispatcher.SyncLead")
	defer span.End()

	contact := &domain.CRMContact{
		ExternalRef:    lead.CRMContactRef,
		Name:           lead.Name,
		Email:          lead.Email,
		Phone:          lead.Phone,
		Classification: string(lead.Classification),
		Score:          lead.ScoreTotal,
		Fields:         map[string]string{},
		CustomAnswers:  lead.CustomAnswers,
	}

	// O mapeamento do conditional é independente do mapeamento do pai:
	// um pai sem crmField não esconde o campo do filho.
	answers := lead.Answers()
	for _, q := range cfg.Questions {
		if q.CRMField != "" {
			if v, ok := answers[q.ID]; ok {
				contact.Fields[q.CRMField] = v
			}
		}
		if cf := q.Conditional; cf != nil && cf.CRMField != "" {
			if v, ok := answers[cf.ID]; ok {
				contact.Fields[cf.CRMField] = v
			}
		}
	}

	ref, err := d.crm.UpsertContact(ctx, contact)
	if err != nil {
		lead.CRMSyncStatus = domain.CRMFailed
		d.metrics.IncrSideEffect("crm", "failure")
		d.metrics.IncrExternalError("crm")
		d.logger.Warn("crm sync failed",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
	} else {
		lead.CRMContactRef = ref
		lead.CRMSyncStatus = domain.CRMSynced
		d.metrics.IncrSideEffect("crm", "success")
	}

	if _, err := d.leads.UpdateLead(ctx, lead); err != nil {
		d.logger.Warn("failed to persist crm sync status",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
	}
}
