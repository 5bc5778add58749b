// Package middleware holds the fiber middleware stack of the query API.
package middleware

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"archive_server/pkg/apperr"
	"archive_server/pkg/response"
)

// ErrorHandler is the centralized fiber error handler: application errors
// keep their code and status, everything else becomes an opaque 500.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID, _ := c.Locals("request_id").(string)

		var appErr *apperr.AppError
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &appErr):
			event := log.Warn()
			if appErr.HTTPStatus() >= 500 {
				event = log.Error()
			}
			event.Str("request_id", requestID).Str("code", appErr.Code).
				Err(appErr.Unwrap()).Msg(appErr.Message)
			return response.Error(c, appErr.HTTPStatus(), appErr.Code, appErr.Message)

		case errors.As(err, &fiberErr):
			return response.Error(c, fiberErr.Code, "HTTP_ERROR", fiberErr.Message)

		default:
			log.Error().Str("request_id", requestID).Err(err).
				Str("stack", string(debug.Stack())).Msg("unexpected error")
			return response.Error(c, fiber.StatusInternalServerError,
				"INTERNAL_ERROR", "an unexpected error occurred")
		}
	}
}

// RequestID tags each request with a unique id, honoring a caller-supplied
// X-Request-ID.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	}
}

// RequestLogger logs each request with its status and duration.
func RequestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		requestID, _ := c.Locals("request_id").(string)
		event.Str("request_id", requestID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("ip", c.IP()).
			Msg("request")
		return err
	}
}

// Recover turns handler panics into 500 responses instead of dropped
// connections.
func Recover(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Locals("request_id").(string)
				log.Error().Str("request_id", requestID).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("panic recovered")
				_ = response.Error(c, fiber.StatusInternalServerError,
					"INTERNAL_ERROR", "an unexpected error occurred")
			}
		}()
		return c.Next()
	}
}
