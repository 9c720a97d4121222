package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, download *DownloadHandler, health *HealthHandler, index *IndexHandler) {
	e.GET("/", index.Index)
	e.GET("/health", health.Health)
	e.GET("/status", health.Status)

	e.GET("/download", download.Download)
	e.GET("/github/*", download.GitHub)
}
