package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/smallest87/proyek-websocket-pc/internal/platform/errors"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter throttles the JSON API per client IP. WebSocket admission has
// its own limits in ConnectionLimits.
func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		// echo hands the DenyHandler's error straight to c.Error, bypassing
		// ErrorHandlingMiddleware, so the response is written here.
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			e := apperrors.RateLimitedError("rate limit exceeded").WithContext("scope", "api")
			return c.JSON(e.HTTPStatus(), e.ToResponse())
		},
	})
}
