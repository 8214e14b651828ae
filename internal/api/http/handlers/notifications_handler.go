package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/speakup/notification-engine/internal/auth"
	"github.com/speakup/notification-engine/internal/engine"
	"github.com/speakup/notification-engine/internal/source"
	apperrors "github.com/speakup/notification-engine/pkg/util"
)

// NotificationsHandler exposes the derivation engine to the presentation
// layer: subscription lifecycle, timeline reads, and read-state mutations.
type NotificationsHandler struct {
	manager *engine.Manager
}

// NewNotificationsHandler returns a new handler instance.
func NewNotificationsHandler(manager *engine.Manager) *NotificationsHandler {
	return &NotificationsHandler{manager: manager}
}

// Subscribe opens a subscription for the authenticated viewer and returns its
// handle. Guests get a valid handle over an always-empty state.
func (h *NotificationsHandler) Subscribe(c *fiber.Ctx) error {
	viewer := auth.ViewerFromContext(c)
	sub := h.manager.Subscribe(c.UserContext(), viewer, source.ScopeForViewer(viewer))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"handle": sub.ID,
		"viewer": viewer.Key(),
		"scope":  sub.Scope.Kind,
	})
}

// Unsubscribe tears down a subscription.
func (h *NotificationsHandler) Unsubscribe(c *fiber.Ctx) error {
	if !h.manager.Unsubscribe(c.Params("handle")) {
		return apperrors.NewNotFound("subscription", nil)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Timeline returns the visible notification list and read-state summary.
func (h *NotificationsHandler) Timeline(c *fiber.Ctx) error {
	sub, err := h.subscription(c)
	if err != nil {
		return err
	}
	eng := sub.Engine
	return c.JSON(fiber.Map{
		"notifications": eng.Notifications(),
		"loading":       eng.Loading(),
		"unreadCount":   eng.UnreadCount(),
		"watermarkMs":   eng.Watermark(),
	})
}

// MarkAllSeen advances the watermark to now.
func (h *NotificationsHandler) MarkAllSeen(c *fiber.Ctx) error {
	sub, err := h.subscription(c)
	if err != nil {
		return err
	}
	sub.Engine.MarkAllSeen(c.UserContext())
	return c.JSON(fiber.Map{"watermarkMs": sub.Engine.Watermark()})
}

// MarkSeenUpTo advances the watermark to the given timestamp.
func (h *NotificationsHandler) MarkSeenUpTo(c *fiber.Ctx) error {
	sub, err := h.subscription(c)
	if err != nil {
		return err
	}
	ts, err := strconv.ParseInt(c.Params("ts"), 10, 64)
	if err != nil || ts < 0 {
		return apperrors.NewValidationError("invalid timestamp", fiber.Map{"ts": c.Params("ts")})
	}
	sub.Engine.MarkSeenUpTo(c.UserContext(), ts)
	return c.JSON(fiber.Map{"watermarkMs": sub.Engine.Watermark()})
}

// Dismiss tombstones one notification.
func (h *NotificationsHandler) Dismiss(c *fiber.Ctx) error {
	sub, err := h.subscription(c)
	if err != nil {
		return err
	}
	sub.Engine.Dismiss(c.UserContext(), c.Params("id"))
	return c.SendStatus(fiber.StatusNoContent)
}

// DismissAll tombstones every visible notification and returns the dismissed
// ids so the caller can offer undo.
func (h *NotificationsHandler) DismissAll(c *fiber.Ctx) error {
	sub, err := h.subscription(c)
	if err != nil {
		return err
	}
	dismissed := sub.Engine.DismissAll(c.UserContext())
	if dismissed == nil {
		dismissed = []string{}
	}
	return c.JSON(fiber.Map{"dismissed": dismissed})
}

type undoRequest struct {
	IDs []string `json:"ids"`
}

// Undo restores previously dismissed notifications.
func (h *NotificationsHandler) Undo(c *fiber.Ctx) error {
	sub, err := h.subscription(c)
	if err != nil {
		return err
	}
	var req undoRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid undo body", nil)
	}
	sub.Engine.Undo(c.UserContext(), req.IDs)
	return c.SendStatus(fiber.StatusNoContent)
}

// subscription resolves the handle and checks it belongs to the caller.
func (h *NotificationsHandler) subscription(c *fiber.Ctx) (*engine.Subscription, error) {
	sub, ok := h.manager.Get(c.Params("handle"))
	if !ok {
		return nil, apperrors.NewNotFound("subscription", nil)
	}
	if sub.Viewer.Key() != auth.ViewerFromContext(c).Key() {
		return nil, apperrors.NewUnauthorized("subscription belongs to another viewer")
	}
	return sub, nil
}
