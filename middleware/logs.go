package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger tags every request with an id and logs it once it has been
// served. Server errors log at error level, client errors at warn.
func RequestLogger(logger zerolog.Logger, skipPaths ...string) fiber.Handler {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		requestID := c.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals("request_id", requestID)
		c.Set(RequestIDHeader, requestID)

		if _, ok := skip[c.Path()]; ok {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		latency := time.Since(start)

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		event := logger.Info()
		switch {
		case status >= fiber.StatusInternalServerError:
			event = logger.Error()
		case status >= fiber.StatusBadRequest:
			event = logger.Warn()
		}

		event = event.
			Str("request_id", requestID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", latency).
			Str("ip", c.IP()).
			Int("bytes", len(c.Response().Body()))

		if user, ok := CurrentUser(c); ok {
			event = event.Uint("user_id", user.ID).Str("username", user.Name)
		}
		if driver, ok := CurrentDriver(c); ok {
			event = event.Uint("driver_id", driver.ID).Str("driver", driver.Name)
		}
		if err != nil {
			event = event.Err(err)
		}
		event.Msg("request")
		return err
	}
}
