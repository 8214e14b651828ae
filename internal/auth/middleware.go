package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/speakup/notification-engine/internal/domain"
)

const viewerKey = "auth_viewer"

// IdentityMiddleware resolves the viewer identity from a bearer token. A
// missing or invalid token is not an error here: the request proceeds with a
// guest identity, which the engine surfaces as an always-empty, non-loading
// state.
type IdentityMiddleware struct {
	tokens *TokenManager
}

// NewIdentityMiddleware constructs middleware.
func NewIdentityMiddleware(tokens *TokenManager) *IdentityMiddleware {
	return &IdentityMiddleware{tokens: tokens}
}

// Handle stores the resolved identity in the request context.
func (m *IdentityMiddleware) Handle(c *fiber.Ctx) error {
	c.Locals(viewerKey, m.resolve(c))
	return c.Next()
}

func (m *IdentityMiddleware) resolve(c *fiber.Ctx) domain.ViewerIdentity {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return domain.ViewerIdentity{}
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return domain.ViewerIdentity{}
	}

	viewer, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return domain.ViewerIdentity{}
	}
	return viewer
}

// ViewerFromContext retrieves the resolved viewer identity.
func ViewerFromContext(c *fiber.Ctx) domain.ViewerIdentity {
	if val, ok := c.Locals(viewerKey).(domain.ViewerIdentity); ok {
		return val
	}
	return domain.ViewerIdentity{}
}
