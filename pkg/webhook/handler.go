package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/billowhq/billow/pkg/errorsx"
	"github.com/billowhq/billow/pkg/logging"
	"github.com/billowhq/billow/pkg/metrics"
)

const maxBodyBytes = 1 << 20

// Handler exposes the ingestion endpoint over HTTP.
type Handler struct {
	ingestor *Ingestor
	logger   *slog.Logger
}

func NewHandler(ingestor *Ingestor) *Handler {
	return &Handler{
		ingestor: ingestor,
		logger:   logging.NewComponentLogger(slog.Default(), "webhook_http"),
	}
}

// Mount registers the webhook routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/webhooks/messages", h.receive)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	outcome, err := h.ingestor.Ingest(r.Context(), body)
	if err != nil {
		metrics.MessagesIngested.WithLabelValues("error").Inc()
		reason := errorsx.Reason(err)
		h.logger.Error("webhook_ingest_error", "reason_code", string(reason), "error", err)
		switch reason {
		case errorsx.ReasonUnprocessableInput:
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "sender address could not be derived"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}
		return
	}

	metrics.MessagesIngested.WithLabelValues(string(outcome)).Inc()
	if outcome == OutcomeRejectedAccount {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unknown account"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
