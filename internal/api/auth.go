package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireAPIKey guards the administrative endpoints with a static key. The
// key arrives either in X-API-Key or in Authorization (with an optional
// "Bearer " or "ApiKey " prefix). Unlike the webhook signature check this is
// a coarse gate: no replay window, no payload binding.
func (s *Server) RequireAPIKey() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			supplied := extractAPIKey(c.Request().Header)
			if supplied == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Missing API key",
				})
			}
			if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.cfg.Admin.APIKey)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Invalid API key",
				})
			}
			return next(c)
		}
	}
}

func extractAPIKey(headers http.Header) string {
	if key := strings.TrimSpace(headers.Get("X-API-Key")); key != "" {
		return key
	}

	auth := strings.TrimSpace(headers.Get("Authorization"))
	if auth == "" {
		return ""
	}
	for _, prefix := range []string{"Bearer ", "ApiKey "} {
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return strings.TrimSpace(auth[len(prefix):])
		}
	}
	return auth
}
