package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github-relay-go/internal/metrics"
)

// statusAborted labels requests whose connection was cut after the status was sent.
const statusAborted = "aborted"

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request. Durations cover the whole streamed body.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			m.RequestsInFlight.Inc()
			start := time.Now()

			defer func() {
				m.RequestsInFlight.Dec()
				if r := recover(); r != nil {
					observe(m, c, statusAborted, start)
					panic(r)
				}
			}()

			err = next(c)

			// An *echo.HTTPError has not been written yet; Echo's central
			// error handler writes it after the middleware chain returns.
			statusCode := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}
			observe(m, c, strconv.Itoa(statusCode), start)

			return err
		}
	}
}

func observe(m *metrics.Metrics, c echo.Context, status string, start time.Time) {
	method := metrics.NormalizeMethod(c.Request().Method)
	path := metrics.NormalizePath(c.Request().URL.Path)

	m.RequestsTotal.WithLabelValues(method, status, path).Inc()
	m.RequestDuration.WithLabelValues(method, status, path).Observe(time.Since(start).Seconds())
}
