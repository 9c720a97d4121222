package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github-relay-go/internal/config"
	"github-relay-go/internal/metrics"
)

func newTestEcho(t *testing.T, limit config.RateLimitConfig) *echo.Echo {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{BodyMaxBytes: 64 * 1024, RateLimit: limit},
	}
	e := newEcho(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.New())
	e.GET("/download", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func serve(e *echo.Echo, remoteAddr string) int {
	req := httptest.NewRequest(http.MethodGet, "/download", http.NoBody)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestNewEcho_RateLimitEnabled(t *testing.T) {
	e := newTestEcho(t, config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1})

	if code := serve(e, "198.51.100.7:40000"); code != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", code, http.StatusOK)
	}
	got429 := false
	for range 10 {
		if serve(e, "198.51.100.7:40001") == http.StatusTooManyRequests {
			got429 = true
			break
		}
	}
	if !got429 {
		t.Fatal("no 429 after the burst was spent")
	}

	// Limits are per client IP.
	if code := serve(e, "203.0.113.9:40000"); code != http.StatusOK {
		t.Errorf("second client: status = %d, want %d", code, http.StatusOK)
	}
}

func TestNewEcho_RateLimitDisabled(t *testing.T) {
	e := newTestEcho(t, config.RateLimitConfig{Enabled: false, RequestsPerSecond: 1})

	for i := range 20 {
		if code := serve(e, "198.51.100.7:40000"); code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, code, http.StatusOK)
		}
	}
}

func TestNewEcho_RejectedRequestKeepsHeaders(t *testing.T) {
	e := newTestEcho(t, config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1})

	var rec *httptest.ResponseRecorder
	for range 10 {
		req := httptest.NewRequest(http.MethodGet, "/download", http.NoBody)
		req.RemoteAddr = "198.51.100.7:40000"
		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			break
		}
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("rejected request carries no X-Request-Id")
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
	}
}
