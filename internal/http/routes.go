package httpx

import (
	"net/http"

	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/service"
)

// RouterServices holds the services the HTTP router exposes.
type RouterServices struct {
	Jobs          *service.JobService
	Notifications *service.NotificationService
	Dispatcher    *service.DispatcherService
	Sender        *service.EmailSendService
	Bounces       *service.BounceService
	Logs          core.DeliveryLogRepository
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	notificationHandlers := &NotificationHandlers{
		Svc:        services.Notifications,
		Dispatcher: services.Dispatcher,
		Sender:     services.Sender,
	}
	jobHandlers := &JobHandlers{Svc: services.Jobs, Logs: services.Logs}
	webhookHandlers := &WebhookHandlers{Svc: services.Bounces}

	registerNotificationRoutes(mux, notificationHandlers)
	registerJobRoutes(mux, jobHandlers)
	registerWebhookRoutes(mux, webhookHandlers)
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	return mux
}

func registerNotificationRoutes(mux *http.ServeMux, h *NotificationHandlers) {
	mux.HandleFunc("POST /api/notifications", h.Dispatch)
	mux.HandleFunc("GET /api/notifications", h.List)
	mux.HandleFunc("GET /api/notifications/{id}", h.Get)
	mux.HandleFunc("POST /api/notifications/{id}/read", h.MarkRead)
	mux.HandleFunc("POST /api/deliveries/{id}/resend", h.Resend)
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("GET /api/jobs/{kind}/stats", h.Stats)
	mux.HandleFunc("GET /api/jobs/{id}/status", h.GetStatus)
}

func registerWebhookRoutes(mux *http.ServeMux, h *WebhookHandlers) {
	mux.HandleFunc("POST /api/webhooks/email", h.Ingest)
}
