package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github-relay-go/internal/config"
	"github-relay-go/internal/proxyconf"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	via     proxyconf.Descriptor
	port    int
	version Version
}

type proxyStatus struct {
	Enabled bool   `json:"enabled"`
	HTTP    string `json:"http"`
	HTTPS   string `json:"https"`
}

type statusResponse struct {
	Status  string      `json:"status"`
	Version string      `json:"version"`
	Port    int         `json:"port"`
	Proxy   proxyStatus `json:"proxy"`
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, via proxyconf.Descriptor, v Version) *HealthHandler {
	return &HealthHandler{via: via.Redacted(), port: cfg.Server.Port, version: v}
}

// Health returns a constant response for liveness probes.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Status reports the version, the listen port and the forward proxy in use,
// credentials masked.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:  "ok",
		Version: string(h.version),
		Port:    h.port,
		Proxy: proxyStatus{
			Enabled: h.via.Enabled(),
			HTTP:    h.via.HTTPProxy,
			HTTPS:   h.via.HTTPSProxy,
		},
	})
}
