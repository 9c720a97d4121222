// Package middleware provides Echo middleware for logging, metrics and security.
package middleware

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// NewRequestID generates request IDs for echo's RequestID middleware.
func NewRequestID() string {
	return uuid.NewString()
}

// RequestLogger returns an Echo middleware that logs each request with slog.
// Server errors log at error level and client errors at warn. A request whose
// handler aborted the connection mid-stream is logged before the panic continues.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			defer func() {
				if r := recover(); r != nil {
					logRequest(logger, c, start, slog.LevelError, "request aborted")
					panic(r)
				}
			}()

			err := next(c)

			level := slog.LevelInfo
			switch status := c.Response().Status; {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			logRequest(logger, c, start, level, "request")

			return err
		}
	}
}

func logRequest(logger *slog.Logger, c echo.Context, start time.Time, level slog.Level, msg string) {
	req := c.Request()
	res := c.Response()

	logger.Log(req.Context(), level, msg,
		"method", req.Method,
		"path", req.URL.Path,
		"status", res.Status,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", res.Header().Get(echo.HeaderXRequestID),
		"remote_ip", c.RealIP(),
		"bytes_out", res.Size,
		"size", humanize.IBytes(uint64(max(res.Size, 0))),
	)
}
