package web

import (
	"github.com/gofiber/fiber/v3"
)

const (
	TenantHeader = "X-Tenant-ID"
	UserHeader   = "X-User-ID"

	tenantKey = "tenant_id"
	userKey   = "user_id"
)

// RequireTenant rejects requests without a tenant header. The identity
// collaborator in front of the API sets both headers.
func RequireTenant() fiber.Handler {
	return func(c fiber.Ctx) error {
		tenantID := c.Get(TenantHeader)
		if tenantID == "" {
			return unauthorized(c, "missing "+TenantHeader+" header")
		}

		c.Locals(tenantKey, tenantID)
		c.Locals(userKey, c.Get(UserHeader))

		return c.Next()
	}
}

func tenantID(c fiber.Ctx) string {
	id, _ := c.Locals(tenantKey).(string)

	return id
}

func userID(c fiber.Ctx) string {
	id, _ := c.Locals(userKey).(string)

	return id
}
