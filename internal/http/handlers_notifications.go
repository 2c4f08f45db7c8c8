package httpx

import (
	"errors"
	"net/http"

	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/data"
	"github.com/craftfolio/mailroom/internal/domain/model"
	"github.com/craftfolio/mailroom/internal/service"
)

const (
	defaultNotificationLimit = 50
	maxNotificationLimit     = 200
)

// NotificationHandlers provides HTTP handlers for notification operations.
type NotificationHandlers struct {
	Svc        *service.NotificationService
	Dispatcher *service.DispatcherService
	Sender     *service.EmailSendService
}

// Dispatch creates a notification and queues its email leg when the
// recipient's channels call for one. A recipient that does not exist yields
// 204: nothing was created and nothing will be.
func (h *NotificationHandlers) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req model.DispatchRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	notification, err := h.Dispatcher.Dispatch(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if notification == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	WriteJSON(w, http.StatusCreated, notification)
}

// List returns a recipient's active notifications, newest first.
func (h *NotificationHandlers) List(w http.ResponseWriter, r *http.Request) {
	recipientID := r.URL.Query().Get("recipient_id")
	if recipientID == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_query",
			Err:     errors.New("recipient_id is required"),
		})
		return
	}

	kind := model.RecipientKind(r.URL.Query().Get("recipient_kind"))
	if kind == "" {
		kind = model.RecipientKindUser
	}
	if !kind.Valid() {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_query",
			Err:     errors.New("unknown recipient_kind"),
		})
		return
	}

	limit, offset := ParseLimitOffset(r, defaultNotificationLimit, maxNotificationLimit)
	notifications, err := h.Svc.ListActive(r.Context(), core.ListNotificationsParams{
		RecipientID:   recipientID,
		RecipientKind: kind,
		UnreadOnly:    r.URL.Query().Get("unread") == "true",
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "list_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

// Get returns one notification with its embedded email delivery state.
func (h *NotificationHandlers) Get(w http.ResponseWriter, r *http.Request) {
	notification, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeNotificationError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, notification)
}

// MarkRead flags a notification as read. Already-read rows return 200 with
// the original read timestamp untouched.
func (h *NotificationHandlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	notification, err := h.Svc.MarkRead(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeNotificationError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, notification)
}

// Resend enqueues a fresh send for a previously attempted delivery. The new
// job gets its own delivery log row linked back to the original.
func (h *NotificationHandlers) Resend(w http.ResponseWriter, r *http.Request) {
	job, err := h.Sender.Resend(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, data.ErrDeliveryLogNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

func (h *NotificationHandlers) writeNotificationError(w http.ResponseWriter, err error) {
	if errors.Is(err, data.ErrNotificationNotFound) {
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
		return
	}
	WriteAppError(w, err)
}
