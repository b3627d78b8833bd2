package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var validRoles = map[string]bool{
	RolePatient:     true,
	RoleClinician:   true,
	RoleFieldWorker: true,
	RoleAdmin:       true,
}

// RequireRole returns middleware that checks if the actor has one of the
// specified roles. Admin passes every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actual := RoleFromContext(c.Request().Context())
			if actual == RoleAdmin {
				return next(c)
			}
			for _, required := range roles {
				if actual == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
