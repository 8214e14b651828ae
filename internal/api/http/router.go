package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/speakup/notification-engine/internal/api/http/handlers"
	"github.com/speakup/notification-engine/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health        *handlers.HealthHandler
	Notifications *handlers.NotificationsHandler
	Identity      *auth.IdentityMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	group := app.Group("/notifications", cfg.Identity.Handle)
	group.Post("/subscribe", cfg.Notifications.Subscribe)
	group.Delete("/subscribe/:handle", cfg.Notifications.Unsubscribe)

	group.Get("/:handle", cfg.Notifications.Timeline)
	group.Post("/:handle/seen", cfg.Notifications.MarkAllSeen)
	group.Post("/:handle/seen/:ts", cfg.Notifications.MarkSeenUpTo)
	group.Post("/:handle/dismiss-all", cfg.Notifications.DismissAll)
	group.Post("/:handle/dismiss/:id", cfg.Notifications.Dismiss)
	group.Post("/:handle/undo", cfg.Notifications.Undo)
}
