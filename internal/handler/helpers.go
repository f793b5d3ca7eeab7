package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/vilaverde/lead-engine-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// parsePagination lê page/page_size da query string com defaults
// sensatos. page_size é limitado a 100 para proteger o Supabase de
// listagens admin desenfreadas.
func parsePagination(r *http.Request) (page, pageSize int) {
	page, pageSize = 1, 20
	if p := queryInt(r, "page"); p > 0 {
		page = p
	}
	if ps := queryInt(r, "page_size"); ps > 0 && ps <= 100 {
		pageSize = ps
	}
	return page, pageSize
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// handleServiceError traduz erros de domínio em respostas HTTP.
// Erros esperados do fluxo (não encontrado, validação) logam em Debug;
// falhas de upstream logam em Error para alertar.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var validation *domain.ErrValidation
	var duplicate *domain.ErrDuplicate
	var conversationFull *domain.ErrConversationFull
	var rateLimited *domain.ErrRateLimited
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &duplicate):
		logger.Debug("duplicate resource", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &conversationFull):
		logger.Debug("conversation full", zap.String("conversation_id", conversationFull.ConversationID))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
		logger.Warn("rate limited", zap.Int("retry_after", rateLimited.RetryAfterSeconds))
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &external):
		logger.Error("external service failure", zap.String("service", external.Service), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
