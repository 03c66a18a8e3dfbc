// Package middleware provides shared request processing: authentication,
// role checks, rate limiting and response caching.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/backyardbar/ticketing/internal/model"
)

// principalKey is the context key the authenticated principal lives under.
const principalKey = "principal"

// JWTAuth validates a Bearer access token and stores the authenticated
// principal in the request context. Handlers retrieve it with Principal().
// The role claim decides the variant: BUYER tokens yield buyer principals,
// STAFF tokens staff principals.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			sub, ok := claims["sub"].(float64)
			role, _ := claims["role"].(string)
			if !ok || sub <= 0 {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid subject"})
			}
			id := uint64(sub)

			var p model.Principal
			switch model.PrincipalKind(role) {
			case model.KindBuyer:
				p = model.Principal{Kind: model.KindBuyer, BuyerID: id}
			case model.KindStaff:
				p = model.Principal{Kind: model.KindStaff, StaffID: id}
			default:
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unknown role"})
			}

			c.Set(principalKey, p)
			c.Set("role", role)
			if adm, ok := claims["adm"].(bool); ok {
				c.Set("admin", adm)
			}
			// Plain string id for the rate limiter key builder.
			c.Set("user_id", role+":"+strconv.FormatUint(id, 10))
			return next(c)
		}
	}
}

// Principal returns the authenticated principal stored by JWTAuth. The
// second result is false on unauthenticated routes.
func Principal(c echo.Context) (model.Principal, bool) {
	p, ok := c.Get(principalKey).(model.Principal)
	return p, ok
}
