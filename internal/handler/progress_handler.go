package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vilaverde/lead-engine-go/internal/infra/observability"
	"github.com/vilaverde/lead-engine-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Lead Progress — POST /v1/leads/progress
// GET /v1/leads/session/{sessionId}
// ============================================================

func leadProgressHandler(svc *service.LeadProgress, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/leads/progress")
		defer span.End()

		var payload service.ProgressPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if payload.SessionID == "" {
			writeError(w, http.StatusBadRequest, "sessionId is required")
			return
		}
		span.SetAttributes(attribute.String("session.id", payload.SessionID))

		start := time.Now()
		result, err := svc.UpsertBySession(ctx, &payload)
		metrics.RecordRequestDuration("leads_progress", time.Since(start))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func getSessionLeadHandler(svc *service.LeadProgress, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/leads/session/{sessionId}")
		defer span.End()

		sessionID := chi.URLParam(r, "sessionId")
		if sessionID == "" {
			writeError(w, http.StatusBadRequest, "session_id is required")
			return
		}
		span.SetAttributes(attribute.String("session.id", sessionID))

		result, err := svc.GetBySession(ctx, sessionID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
