// Package auth provides actor identity for the investigation service. A
// request is made by exactly one actor (a patient, a clinician, or a field
// worker) identified by a JWT subject claim. Case-level authorization (is
// this clinician the reviewer, is this worker the dispatched one) is checked
// by the domain services; this package only establishes who is calling.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	ActorIDKey   contextKey = "actor_id"
	ActorRoleKey contextKey = "actor_role"
)

// Actor roles.
const (
	RolePatient     = "patient"
	RoleClinician   = "clinician"
	RoleFieldWorker = "field_worker"
	RoleAdmin       = "admin"
)

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// JWTMiddleware validates the Authorization bearer token with the given HS256
// signing key and stores the actor ID and role in the request context.
func JWTMiddleware(signingKey []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			tokenString := strings.TrimPrefix(header, "Bearer ")

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return signingKey, nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			actorID, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject claim")
			}
			if !validRoles[claims.Role] {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid role claim")
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, ActorIDKey, actorID)
			ctx = context.WithValue(ctx, ActorRoleKey, claims.Role)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevMiddleware trusts X-Actor-ID and X-Actor-Role headers. Development only.
func DevMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role := c.Request().Header.Get("X-Actor-Role")
			if role == "" {
				role = RoleAdmin
			}
			if !validRoles[role] {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid role header")
			}

			actorID := uuid.New()
			if raw := c.Request().Header.Get("X-Actor-ID"); raw != "" {
				parsed, err := uuid.Parse(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid actor id header")
				}
				actorID = parsed
			}

			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, ActorIDKey, actorID)
			ctx = context.WithValue(ctx, ActorRoleKey, role)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// ActorIDFromContext returns the authenticated actor ID, or uuid.Nil.
func ActorIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ActorIDKey).(uuid.UUID)
	return id
}

// RoleFromContext returns the authenticated actor role, or "".
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(ActorRoleKey).(string)
	return role
}
