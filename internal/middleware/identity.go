package middleware

import "github.com/labstack/echo/v4"

// currentUserID returns the rate-limit identity of the caller: the
// role-qualified id set by JWTAuth, or "anon" for public routes.
func currentUserID(c echo.Context) string {
	if s, ok := c.Get("user_id").(string); ok && s != "" {
		return s
	}
	return "anon"
}
