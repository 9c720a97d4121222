package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

func TestRequestLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequestLogger_Fields(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"success", http.StatusOK, "INFO"},
		{"rejected", http.StatusBadRequest, "WARN"},
		{"upstream failure", http.StatusGatewayTimeout, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			e := echo.New()
			e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: NewRequestID}))
			e.Use(RequestLogger(logger))
			e.GET("/download", func(c echo.Context) error {
				return c.String(tt.status, "body")
			})

			req := httptest.NewRequest(http.MethodGet, "/download?url=x", http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["path"] != "/download" {
				t.Errorf("path = %v, want /download", entry["path"])
			}
			if entry["bytes_out"] != float64(4) {
				t.Errorf("bytes_out = %v, want 4", entry["bytes_out"])
			}
			id, _ := entry["request_id"].(string)
			if _, err := uuid.Parse(id); err != nil {
				t.Errorf("request_id = %q, want a UUID", id)
			}
		})
	}
}

func TestRequestLogger_AbortedStream(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/download", func(c echo.Context) error {
		c.Response().WriteHeader(http.StatusOK)
		panic(http.ErrAbortHandler)
	})

	req := httptest.NewRequest(http.MethodGet, "/download", http.NoBody)
	rec := httptest.NewRecorder()
	func() {
		defer func() { _ = recover() }()
		e.ServeHTTP(rec, req)
	}()

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if entry["msg"] != "request aborted" {
		t.Errorf("msg = %v, want %q", entry["msg"], "request aborted")
	}
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
}
