// Package httpx provides HTTP handlers for the mailroom pipeline API.
package httpx

import (
	"errors"
	"net/http"

	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/domain/model"
	"github.com/craftfolio/mailroom/internal/service"
)

// JobHandlers provides HTTP handlers for queue introspection.
type JobHandlers struct {
	Svc  *service.JobService
	Logs core.DeliveryLogRepository
}

// Stats returns queue counts for a job kind alongside delivery log counts.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	kind := model.JobKind(r.PathValue("kind"))
	if !kind.Valid() {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New("unknown job kind"),
		})
		return
	}

	jobStats, err := h.Svc.Stats(r.Context(), kind)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "stats_failed", Err: err})
		return
	}

	resp := map[string]any{"jobs": jobStats}
	if h.Logs != nil && kind == model.JobKindSendEmail {
		logStats, err := h.Logs.Stats(r.Context())
		if err != nil {
			WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "stats_failed", Err: err})
			return
		}
		resp["deliveries"] = logStats
	}

	WriteJSON(w, http.StatusOK, resp)
}

// GetStatus returns one job row by id.
func (h *JobHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if job == nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusNotFound,
			ErrCode: "not_found",
			Err:     errors.New("job not found"),
		})
		return
	}

	WriteJSON(w, http.StatusOK, job)
}
