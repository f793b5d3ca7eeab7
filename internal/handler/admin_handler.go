package handler

import (
	"encoding/json"
	"net/http"

	"github.com/vilaverde/lead-engine-go/internal/domain"
	"github.com/vilaverde/lead-engine-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Admin — /v1/admin (JWT protected)
// ============================================================

func adminListLeadsHandler(svc *service.Admin, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/leads")
		defer span.End()

		page, pageSize := parsePagination(r)
		leads, err := svc.ListLeads(ctx, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Lead]{
			Data:     leads,
			Total:    len(leads),
			Page:     page,
			PageSize: pageSize,
			HasMore:  len(leads) == pageSize,
		})
	}
}

func adminGetLeadHandler(svc *service.Admin, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/leads/{leadId}")
		defer span.End()

		leadID := chi.URLParam(r, "leadId")
		span.SetAttributes(attribute.String("lead.id", leadID))

		lead, err := svc.GetLead(ctx, leadID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, lead)
	}
}

func adminDeleteLeadHandler(svc *service.Admin, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/admin/leads/{leadId}")
		defer span.End()

		leadID := chi.URLParam(r, "leadId")
		span.SetAttributes(attribute.String("lead.id", leadID))

		if err := svc.DeleteLead(ctx, leadID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "lead removido", ID: leadID})
	}
}

func adminResyncLeadHandler(svc *service.Admin, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/leads/{leadId}/resync")
		defer span.End()

		leadID := chi.URLParam(r, "leadId")
		span.SetAttributes(attribute.String("lead.id", leadID))

		lead, err := svc.ResyncLead(ctx, leadID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, lead)
	}
}

func adminListConversationsHandler(svc *service.Admin, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/conversations")
		defer span.End()

		page, pageSize := parsePagination(r)
		convs, err := svc.ListConversations(ctx, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Conversation]{
			Data:     convs,
			Total:    len(convs),
			Page:     page,
			PageSize: pageSize,
			HasMore:  len(convs) == pageSize,
		})
	}
}

type conversationDetailResponse struct {
	Conversation *domain.Conversation `json:"conversation"`
	Messages     []domain.Message     `json:"messages"`
}

func adminGetConversationHandler(svc *service.Admin, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/conversations/{conversationId}")
		defer span.End()

		convID := chi.URLParam(r, "conversationId")
		span.SetAttributes(attribute.String("conversation.id", convID))

		conv, msgs, err := svc.GetConversation(ctx, convID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, conversationDetailResponse{Conversation: conv, Messages: msgs})
	}
}

func adminDeleteConversationHandler(svc *service.Admin, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/admin/conversations/{conversationId}")
		defer span.End()

		convID := chi.URLParam(r, "conversationId")
		span.SetAttributes(attribute.String("conversation.id", convID))

		if err := svc.DeleteConversation(ctx, convID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "conversa removida", ID: convID})
	}
}

type conversationStatusRequest struct {
	Status string `json:"status"`
}

func adminSetConversationStatusHandler(svc *service.Admin, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/conversations/{conversationId}/status")
		defer span.End()

		convID := chi.URLParam(r, "conversationId")
		span.SetAttributes(attribute.String("conversation.id", convID))

		var req conversationStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := svc.SetConversationStatus(ctx, convID, domain.ConversationStatus(req.Status)); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "status atualizado", ID: convID})
	}
}
