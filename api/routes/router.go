package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loc-ne/roomstay-backend/api/controllers"
	"github.com/loc-ne/roomstay-backend/api/middleware"
	"github.com/loc-ne/roomstay-backend/internal/bookings"
	"github.com/loc-ne/roomstay-backend/internal/disputes"
	"github.com/loc-ne/roomstay-backend/internal/notifications"
	"github.com/loc-ne/roomstay-backend/internal/payments"
	"github.com/loc-ne/roomstay-backend/internal/transactions"
	"github.com/loc-ne/roomstay-backend/pkg/auth/session"
	"github.com/loc-ne/roomstay-backend/pkg/config"
	"github.com/loc-ne/roomstay-backend/pkg/db"
	"github.com/loc-ne/roomstay-backend/pkg/enums"
	"github.com/loc-ne/roomstay-backend/pkg/logger"
	"github.com/loc-ne/roomstay-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            db.Pinger
	Cache         redis.Pinger
	Idempotency   redis.IdempotencyStore
	Sessions      session.AccessSessionChecker
	Registry      *prometheus.Registry
	Bookings      bookings.Service
	Payments      payments.Service
	Transactions  transactions.Service
	Disputes      disputes.Service
	Notifications notifications.Service
}

func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	logg := d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, d.DB, d.Cache))
	})

	if d.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	// Gateway callbacks are authenticated by signature, not by session.
	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Get("/return", controllers.PaymentReturn(d.Payments, logg))
		r.Get("/ipn", controllers.PaymentIPN(d.Payments, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, d.Sessions, logg))
			r.Use(middleware.Idempotency(d.Idempotency, logg))
			r.Post("/create-url", controllers.PaymentCreateURL(d.Payments, logg))
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, d.Sessions, logg))
		r.Use(middleware.Idempotency(d.Idempotency, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", controllers.CreateBooking(d.Bookings, logg))
			r.Get("/", controllers.ListBookings(d.Bookings, logg))
			r.Patch("/{bookingId}", controllers.BookingDecision(d.Bookings, logg))
			r.Post("/{bookingId}/cancel", controllers.CancelBooking(d.Bookings, logg))
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", controllers.ListTransactions(d.Transactions, logg))
		})

		r.Route("/disputes", func(r chi.Router) {
			r.Post("/", controllers.CreateDispute(d.Disputes, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(d.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(d.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(d.Notifications, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, d.Sessions, logg))
		r.Use(middleware.RequireRole(string(enums.UserRoleAdmin), logg))
		r.Use(middleware.Idempotency(d.Idempotency, logg))

		r.Get("/ping", controllers.AdminPing())
		r.Route("/disputes", func(r chi.Router) {
			r.Patch("/{disputeId}/resolve", controllers.ResolveDispute(d.Disputes, logg))
			r.Post("/{disputeId}/retry-refund", controllers.RetryDisputeRefund(d.Disputes, logg))
		})
	})

	return r
}
