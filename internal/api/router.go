package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clinicbrain/clinic-scheduling/internal/metrics"
)

type RouterConfig struct {
	Scheduling    SchedulingService
	Portal        PortalService
	Webhook       WebhookProcessor
	WebhookAPIKey string
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	PgPool        *pgxpool.Pool
	Redis         *redis.Client
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	// Inbound WhatsApp gateway deliveries
	r.Post("/webhooks/whatsapp", webhookHandler(cfg.Webhook, cfg.WebhookAPIKey, cfg.Logger, cfg.Metrics))

	// Professional-facing agenda endpoints
	r.Route("/professionals/{professionalID}", func(r chi.Router) {
		r.Post("/appointments", createAppointmentHandler(cfg.Scheduling, cfg.Metrics))
		r.Get("/appointments", listAppointmentsHandler(cfg.Scheduling))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Scheduling))
		r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Scheduling, cfg.Metrics))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Scheduling))
		r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Scheduling))

		r.Post("/manual-actions", manualActionHandler(cfg.Scheduling, cfg.Metrics))

		r.Get("/availability", availabilityHandler(cfg.Scheduling))
		r.Post("/availability-blocks", createBlocksHandler(cfg.Scheduling))
		r.Post("/availability-blocks/recurring", createRecurringBlocksHandler(cfg.Scheduling))
		r.Get("/availability-blocks", listBlocksHandler(cfg.Scheduling))
		r.Delete("/availability-blocks/{blockID}", deleteBlockHandler(cfg.Scheduling))

		r.Get("/patient-requests", listPendingRequestsHandler(cfg.Portal))
		r.Post("/patient-requests/{requestID}/review", reviewRequestHandler(cfg.Portal))
	})

	// Patient-facing portal endpoints
	r.Route("/portal/{professionalID}", func(r chi.Router) {
		r.Post("/request-code", requestCodeHandler(cfg.Portal))
		r.Post("/verify-code", verifyCodeHandler(cfg.Portal))
		r.Get("/availability", portalAvailabilityHandler(cfg.Portal))
		r.Post("/requests/booking", portalBookingHandler(cfg.Portal))
		r.Post("/requests/reschedule", portalRescheduleHandler(cfg.Portal))
		r.Post("/requests/cancel", portalCancelHandler(cfg.Portal))
	})

	return r
}
