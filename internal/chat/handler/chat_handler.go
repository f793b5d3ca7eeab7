// Package handler — chat_handler.go implementa o handler da rota
// POST /v1/chat — a entrada do chat com IA.
//
// Request:
//
//	Content-Type: application/json
//	Body: {"conversationId": "...", "message": "Oi, quanto custa um site?"}
//
// Response (200 OK):
//
//	{"conversationId": "...", "reply": "...", "leadCaptured": false}
//
// O handler é fino — só faz validação básica e delega pro ChatService.
// Toda a orquestração (turnos, tools, persistência do transcript) fica
// no service layer.
//
// NOTA: usamos POST em vez de GET porque proxies reversos removem o
// body de requisições GET, causando erro em produção.
package handler

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/vilaverde/lead-engine-go/internal/chat/domain"
	"github.com/vilaverde/lead-engine-go/internal/chat/service"
	maindomain "github.com/vilaverde/lead-engine-go/internal/domain"
)

// tracer é o tracer OpenTelemetry para o módulo chat/handler.
var tracer = otel.Tracer("chat/handler")

// ChatHandler retorna o http.HandlerFunc para a rota POST /v1/chat.
func ChatHandler(chatSvc *service.ChatService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/chat")
		defer span.End()

		var req domain.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: expected {\"message\": \"your message\"}")
			return
		}
		if req.Message == "" {
			writeError(w, http.StatusBadRequest, "message is required")
			return
		}

		resp, err := chatSvc.ProcessMessage(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// ============================================================
// Helpers — funções utilitárias do chat handler
// ============================================================

// writeJSON serializa data como JSON e escreve na response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError escreve uma resposta de erro padronizada.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleServiceError mapeia erros de domínio para HTTP status codes.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	switch e := err.(type) {
	case *maindomain.ErrConversationFull:
		// Sinal explícito pro front orientar o visitante a abrir uma
		// conversa nova.
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":          "conversation_full",
			"message":        "esta conversa atingiu o limite de mensagens, inicie uma nova conversa",
			"conversationId": e.ConversationID,
		})
	case *maindomain.ErrExternalService:
		logger.Error("external service error", zap.String("service", e.Service), zap.Error(e.Err))
		writeError(w, http.StatusBadGateway, "external service unavailable: "+e.Service)
	case *maindomain.ErrNotFound:
		writeError(w, http.StatusNotFound, e.Error())
	case *maindomain.ErrValidation:
		writeError(w, http.StatusUnprocessableEntity, e.Error())
	default:
		logger.Error("unexpected error in chat handler", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
