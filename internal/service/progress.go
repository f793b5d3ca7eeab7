package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/vilaverde/lead-engine-go/internal/domain"
	"github.com/vilaverde/lead-engine-go/internal/infra/observability"
	"github.com/vilaverde/lead-engine-go/internal/port"
	"github.com/vilaverde/lead-engine-go/internal/scoring"
)

// ProgressPayload é o corpo aceito pelo upsert de progresso. Campos
// omitidos ficam intocados no lead existente (merge monotônico).
type ProgressPayload struct {
	SessionID        string            `json:"sessionId,omitempty"`
	ConversationID   string            `json:"conversationId,omitempty"`
	QuestionNumber   int               `json:"questionNumber,omitempty"`
	Answers          map[string]string `json:"answers,omitempty"`
	TotalTimeSeconds int               `json:"totalTimeSeconds,omitempty"`
}

// ProgressResult devolve o lead persistido mais o estado derivado que o
// cliente (wizard ou chat) precisa para decidir o próximo passo.
type ProgressResult struct {
	Lead     *domain.Lead          `json:"lead"`
	Next     *scoring.NextQuestion `json:"nextQuestion,omitempty"`
	Answered int                   `json:"answeredQuestions"`
	Total    int                   `json:"totalQuestions"`
}

// LeadProgress implementa o upsert idempotente de progresso de
// qualificação. Toda escrita re-deriva score, classification e
// form_completo da config ativa — nunca confia no que o cliente manda.
type LeadProgress struct {
	leads      port.LeadStore
	formConfig *FormConfigService
	dispatcher *Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewLeadProgress creates the lead progress service.
func NewLeadProgress(leads port.LeadStore, formConfig *FormConfigService, dispatcher *Dispatcher, metrics *observability.Metrics, logger *zap.Logger) *LeadProgress {
	return &LeadProgress{
		leads:      leads,
		formConfig: formConfig,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// UpsertBySession grava o progresso de uma sessão do wizard. Primeira
// escrita cria o lead; escritas seguintes fazem merge. Duas criações
// concorrentes para a mesma sessão convergem na linha do vencedor.
func (s *LeadProgress) UpsertBySession(ctx context.Context, payload *ProgressPayload) (*ProgressResult, error) {
	ctx, span := tracer.Start(ctx, "LeadProgress.UpsertBySession")
	defer span.End()
	span.SetAttributes(attribute.String("lead.session_id", payload.SessionID))

	if payload.SessionID == "" {
		return nil, &domain.ErrValidation{Field: "sessionId", Message: "must not be empty"}
	}

	return s.upsert(ctx, payload, domain.SourceForm, func(ctx context.Context) (*domain.Lead, error) {
		return s.leads.GetLeadBySession(ctx, payload.SessionID)
	})
}

// UpsertByConversation grava respostas capturadas no chat. Mesmo ciclo
// merge → rescore do wizard, keyed por conversa.
func (s *LeadProgress) UpsertByConversation(ctx context.Context, conversationID string, answers map[string]string) (*ProgressResult, error) {
	ctx, span := tracer.Start(ctx, "LeadProgress.UpsertByConversation")
	defer span.End()
	span.SetAttributes(attribute.String("lead.conversation_id", conversationID))

	if conversationID == "" {
		return nil, &domain.ErrValidation{Field: "conversationId", Message: "must not be empty"}
	}

	payload := &ProgressPayload{ConversationID: conversationID, Answers: answers}
	return s.upsert(ctx, payload, domain.SourceChat, func(ctx context.Context) (*domain.Lead, error) {
		return s.leads.GetLeadByConversation(ctx, conversationID)
	})
}

func (s *LeadProgress) upsert(ctx context.Context, payload *ProgressPayload, source domain.LeadSource, lookup func(context.Context) (*domain.Lead, error)) (*ProgressResult, error) {
	cfg, err := s.formConfig.Get(ctx)
	if err != nil {
		return nil, err
	}

	lead, err := lookup(ctx)
	created := false
	if err != nil {
		var notFound *domain.ErrNotFound
		if !errors.As(err, &notFound) {
			return nil, err
		}

		lead = &domain.Lead{
			ID:             uuid.NewString(),
			SessionID:      payload.SessionID,
			ConversationID: payload.ConversationID,
			Source:         source,
			CRMSyncStatus:  domain.CRMUnsynced,
			CreatedAt:      time.Now().UTC(),
		}
		lead.MergeAnswers(payload.Answers)
		s.applyScoring(lead, payload, cfg)

		lead, err = s.leads.CreateLead(ctx, lead)
		if err != nil {
			var dup *domain.ErrDuplicate
			if !errors.As(err, &dup) {
				return nil, err
			}
			// Outra escrita venceu a corrida de criação; segue no
			// registro do vencedor como um update normal.
			lead, err = lookup(ctx)
			if err != nil {
				return nil, err
			}
		} else {
			created = true
			s.metrics.IncrLeadCreated()
		}
	}

	if !created {
		wasCompleted := lead.FormCompleted
		lead.MergeAnswers(payload.Answers)
		s.applyScoring(lead, payload, cfg)
		lead.FormCompleted = wasCompleted || lead.FormCompleted

		if lead, err = s.leads.UpdateLead(ctx, lead); err != nil {
			return nil, err
		}

		if lead.FormCompleted && !wasCompleted {
			s.onCompleted(ctx, lead, cfg)
		}
	} else if lead.FormCompleted {
		s.onCompleted(ctx, lead, cfg)
	}

	// O alerta de novo lead é amarrado à aquisição do telefone, não à
	// conclusão do formulário: roda em toda escrita e o dispatcher
	// decide (flag + telefone presente). Envio que falhou fica para o
	// próximo upsert.
	s.dispatcher.NotifyNewLead(ctx, lead)

	answered, total := scoring.Progress(lead.Answers(), cfg)
	return &ProgressResult{
		Lead:     lead,
		Next:     scoring.Next(lead.Answers(), cfg),
		Answered: answered,
		Total:    total,
	}, nil
}

// applyScoring re-deriva os campos calculados a partir das respostas
// atuais. QuestionNumber só avança (nunca regride num retry atrasado).
func (s *LeadProgress) applyScoring(lead *domain.Lead, payload *ProgressPayload, cfg *domain.FormConfig) {
	answers := lead.Answers()
	breakdown := scoring.Score(answers, cfg)
	lead.ScoreTotal = breakdown.Total
	lead.Classification = scoring.Classify(breakdown.Total, cfg.Thresholds)
	lead.FormCompleted = scoring.IsComplete(answers, cfg)

	if payload.QuestionNumber > lead.QuestionNumber {
		lead.QuestionNumber = payload.QuestionNumber
	}
	if payload.TotalTimeSeconds > lead.TotalTimeSeconds {
		lead.TotalTimeSeconds = payload.TotalTimeSeconds
	}
	lead.UpdatedAt = time.Now().UTC()
}

// onCompleted dispara o sync de CRM da transição para completo. Roda
// inline e nunca falha o fluxo principal.
func (s *LeadProgress) onCompleted(ctx context.Context, lead *domain.Lead, cfg *domain.FormConfig) {
	s.metrics.IncrLeadCompleted(string(lead.Classification))
	s.logger.Info("lead qualified",
		zap.String("lead_id", lead.ID),
		zap.String("classification", string(lead.Classification)),
		zap.Int("score", lead.ScoreTotal),
	)

	s.dispatcher.SyncLead(ctx, lead, cfg)
}

// CompleteByConversation força a finalização de um lead capturado no
// chat (tool complete_lead): marca completo, dispara os efeitos e
// retorna o estado final.
func (s *LeadProgress) CompleteByConversation(ctx context.Context, conversationID string) (*ProgressResult, error) {
	ctx, span := tracer.Start(ctx, "LeadProgress.CompleteByConversation")
	defer span.End()

	cfg, err := s.formConfig.Get(ctx)
	if err != nil {
		return nil, err
	}

	lead, err := s.leads.GetLeadByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	wasCompleted := lead.FormCompleted
	breakdown := scoring.Score(lead.Answers(), cfg)
	lead.ScoreTotal = breakdown.Total
	lead.Classification = scoring.Classify(breakdown.Total, cfg.Thresholds)
	lead.FormCompleted = true
	lead.UpdatedAt = time.Now().UTC()

	if lead, err = s.leads.UpdateLead(ctx, lead); err != nil {
		return nil, err
	}

	if !wasCompleted {
		s.onCompleted(ctx, lead, cfg)
	}
	s.dispatcher.NotifyNewLead(ctx, lead)

	answered, total := scoring.Progress(lead.Answers(), cfg)
	return &ProgressResult{Lead: lead, Answered: answered, Total: total}, nil
}

// GetBySession retorna o lead de uma sessão do wizard com o estado
// derivado (retomada de formulário).
func (s *LeadProgress) GetBySession(ctx context.Context, sessionID string) (*ProgressResult, error) {
	ctx, span := tracer.Start(ctx, "LeadProgress.GetBySession")
	defer span.End()

	cfg, err := s.formConfig.Get(ctx)
	if err != nil {
		return nil, err
	}

	lead, err := s.leads.GetLeadBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	answered, total := scoring.Progress(lead.Answers(), cfg)
	return &ProgressResult{
		Lead:     lead,
		Next:     scoring.Next(lead.Answers(), cfg),
		Answered: answered,
		Total:    total,
	}, nil
}
