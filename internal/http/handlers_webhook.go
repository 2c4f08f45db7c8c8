package httpx

import (
	"errors"
	"io"
	"net/http"

	apperrors "github.com/craftfolio/mailroom/internal/errors"
	"github.com/craftfolio/mailroom/internal/service"
)

// maxWebhookBody caps provider payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// WebhookHandlers receives delivery status callbacks from email providers.
type WebhookHandlers struct {
	Svc *service.BounceService
}

// webhookResponse is the acknowledgement envelope providers see. Success
// with a human-readable message even for payloads we could not use, so
// providers never retry shapes that will never match.
type webhookResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	ResponseCode int    `json:"responseCode"`
	Parser       string `json:"parser,omitempty"`
	Received     int    `json:"received"`
	Matched      int    `json:"matched"`
}

func webhookMessage(result *service.IngestResult) string {
	switch {
	case result.Parser == "":
		return "unrecognized payload"
	case result.Matched > 0:
		return "webhook processed"
	case result.Received > 0:
		return "email log not found"
	default:
		return "no actionable events"
	}
}

// Ingest accepts a raw provider payload and applies every event it carries.
// Events that match no delivery log row still return 200 so well-behaved
// providers do not retry them; only malformed input earns a 4xx and only
// store failures earn a 5xx.
func (h *WebhookHandlers) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "read_failed", Err: err})
		return
	}
	if len(body) == 0 {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "empty_payload",
			Err:     errors.New("webhook payload is empty"),
		})
		return
	}

	result, err := h.Svc.IngestPayload(r.Context(), body)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeValidation) {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_payload", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "ingest_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, webhookResponse{
		Success:      true,
		Message:      webhookMessage(result),
		ResponseCode: http.StatusOK,
		Parser:       result.Parser,
		Received:     result.Received,
		Matched:      result.Matched,
	})
}
