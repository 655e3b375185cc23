package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"backoffice-proxy/internal/config"
)

// RateLimit returns a per-client-IP limiter built from cfg. When rate
// limiting is disabled the returned middleware passes every request through.
// Rejected requests get 429 with the same {error, message} envelope the
// forwarder uses.
func RateLimit(cfg config.RateLimitConfig) echo.MiddlewareFunc {
	if !cfg.Enabled {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	limit := rate.Limit(cfg.RequestsPerSecond)
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:  limit,
		Burst: max(1, int(cfg.RequestsPerSecond)),
	})

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error":   "rate limit exceeded",
				"message": "rate limit exceeded",
			})
		},
	})
}
