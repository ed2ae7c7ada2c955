package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/clinicbrain/clinic-scheduling/internal/conversation"
	"github.com/clinicbrain/clinic-scheduling/internal/metrics"
)

// WebhookProcessor drives one inbound gateway payload. Satisfied by
// *conversation.Processor.
type WebhookProcessor interface {
	Process(ctx context.Context, payload map[string]any) (*conversation.Result, error)
}

// webhookHandler accepts gateway deliveries. Ignored and duplicate payloads
// still get a 200 so the gateway stops redelivering them; hard failures and
// lock contention (nothing persisted yet) return a 5xx to trigger a retry.
func webhookHandler(processor WebhookProcessor, apiKey string, logger *zap.Logger, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if apiKey != "" {
			provided := r.Header.Get("X-Api-Key")
			if provided == "" {
				provided = r.Header.Get("apikey")
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				m.ObserveWebhook("unauthorized")
				writeError(w, http.StatusUnauthorized, "invalid_api_key", "missing or wrong webhook key")
				return
			}
		}

		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			m.ObserveWebhook("ignored")
			writeJSON(w, http.StatusOK, conversation.Result{Ignored: true, Reason: "unparseable payload"})
			return
		}

		result, err := processor.Process(r.Context(), payload)
		if errors.Is(err, conversation.ErrConversationBusy) {
			// The lock holder is mid-exchange; a 503 makes the gateway retry
			// instead of dropping the message.
			m.ObserveWebhook("busy")
			logger.Warn("conversation busy, asking gateway to redeliver")
			writeError(w, http.StatusServiceUnavailable, "conversation_busy", "conversation is being processed, retry")
			return
		}
		if err != nil {
			m.ObserveWebhook("error")
			logger.Error("webhook processing failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "processing_failed", "temporary failure, retry")
			return
		}

		switch {
		case result.Duplicate:
			m.ObserveWebhook("duplicate")
		case result.Ignored:
			m.ObserveWebhook("ignored")
		default:
			m.ObserveWebhook("processed")
			m.ObserveSend(result.Delivered)
		}

		writeJSON(w, http.StatusOK, result)
	}
}
