package http

import (
	"context"
	"net/http"

	"github.com/farmacy-notify/internal/config"
	"github.com/farmacy-notify/internal/domain"
	"github.com/farmacy-notify/internal/transport/http/handler"
	appmiddleware "github.com/farmacy-notify/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router. ctx bounds background housekeeping.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authMw := appmiddleware.Auth(deps.Verifier)
	adminOnly := appmiddleware.RequireRole(domain.RoleAdmin)

	// 5 requests/second, burst of 10, for endpoints that trigger a push.
	pushRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(5), 10)

	healthH := handler.NewHealthHandler(deps.Checks)
	notifH := handler.NewNotificationHandler(deps.Notifications, deps.Location)
	tokenH := handler.NewTokenHandler(deps.Tokens, deps.Jobs)
	topicH := handler.NewTopicHandler(deps.Topics)
	jobH := handler.NewJobHandler(deps.Jobs)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)
		r.Get("/ready", healthH.Ready)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Route("/notifications", func(r chi.Router) {
				r.With(pushRL.Limit).Post("/", notifH.Create)
				r.Get("/", notifH.List)
				r.Patch("/read-all", notifH.MarkAllRead)
				r.Patch("/{id}/read", notifH.MarkRead)

				r.With(pushRL.Limit).Post("/test/send", notifH.SendTest)
				r.Post("/test/schedule", notifH.ScheduleTest)
				r.Post("/test/updates/start", jobH.Start)
				r.Post("/test/updates/stop", jobH.Stop)
				r.Get("/test/active", jobH.Active)

				r.Get("/topics", topicH.List)
				r.Get("/topics/subscriptions", topicH.Subscriptions)
				r.Post("/topics/subscribe", topicH.Subscribe)
				r.Post("/topics/unsubscribe", topicH.Unsubscribe)

				r.Post("/fcm/register", tokenH.Register)
				r.Get("/fcm/tokens", tokenH.List)
				r.Delete("/fcm/unregister", tokenH.Unregister)
				r.Delete("/fcm/unregister-all", tokenH.UnregisterAll)

				// Admin-only routes
				r.Group(func(r chi.Router) {
					r.Use(adminOnly)

					r.Post("/topics", topicH.Create)
					r.With(pushRL.Limit).Post("/admin/topic-broadcast", notifH.Broadcast)
					r.Get("/admin/scheduler/jobs", jobH.List)
				})
			})
		})
	})

	return r
}
