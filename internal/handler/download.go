package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"github-relay-go/internal/config"
	"github-relay-go/internal/metrics"
	"github-relay-go/internal/model"
	"github-relay-go/internal/proxyconf"
	"github-relay-go/internal/service"
)

// Relay outcome labels that are not failure kinds.
const (
	outcomeOK         = "ok"
	outcomeClientGone = "client_gone"
)

// DownloadHandler streams upstream downloads to clients.
type DownloadHandler struct {
	relay   *service.RelayService
	via     proxyconf.Descriptor
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDownloadHandler creates a DownloadHandler.
// The metrics parameter is optional; pass nil to disable relay metrics recording.
func NewDownloadHandler(relay *service.RelayService, via proxyconf.Descriptor, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		relay:   relay,
		via:     via,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "download_handler"),
	}
}

// Download relays the URL given in the url query parameter.
func (h *DownloadHandler) Download(c echo.Context) error {
	return h.serve(c, c.QueryParam("url"))
}

// GitHub relays /github/<path> as <github base>/<path>, keeping the query string.
func (h *DownloadHandler) GitHub(c echo.Context) error {
	suffix := strings.TrimLeft(c.Param("*"), "/")
	if suffix == "" {
		return h.serve(c, "")
	}

	target := h.cfg.Relay.GitHubBaseURL + "/" + suffix
	if q := c.Request().URL.RawQuery; q != "" {
		target += "?" + q
	}
	return h.serve(c, target)
}

func (h *DownloadHandler) serve(c echo.Context, target string) error {
	req := c.Request()

	resp, err := h.relay.Relay(&model.RelayRequest{
		Ctx:              req.Context(),
		TargetURL:        target,
		Via:              h.via,
		RequireAllowlist: h.cfg.Allowlist.AllowlistEnabled(),
	})
	if err != nil {
		f := service.AsFailure(err)
		h.observeOutcome(f.Kind.String())
		return h.mapError(c, f)
	}
	defer func() { _ = resp.Body.Close() }()

	h.stream(c, resp)
	return nil
}

// stream writes the committed header set and forwards the body chunk by chunk.
// Once the status is sent an upstream failure can only be signaled by cutting the
// connection, so the handler panics with http.ErrAbortHandler. A sized response
// then arrives short and a chunked one lacks its terminator.
func (h *DownloadHandler) stream(c echo.Context, resp *model.RelayResponse) {
	req := c.Request()
	w := c.Response()

	for key, vals := range resp.Header {
		w.Header()[key] = vals
	}
	w.WriteHeader(http.StatusOK)
	w.Flush()

	if h.metrics != nil {
		h.metrics.StreamsActive.Inc()
		defer h.metrics.StreamsActive.Dec()
	}

	start := time.Now()
	var sent int64
	for {
		chunk, err := resp.Body.Next()
		if errors.Is(err, io.EOF) {
			h.finish(outcomeOK, start)
			h.logger.Info("relay complete",
				"url", req.URL.String(),
				"size", humanize.IBytes(uint64(sent)),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return
		}
		if err != nil {
			if req.Context().Err() != nil {
				h.clientGone(req, sent, start)
				return
			}
			h.finish(service.KindTransferInterrupted.String(), start)
			h.logger.Error("relay interrupted",
				"kind", service.KindTransferInterrupted.String(),
				"err", h.via.Sanitize(err.Error()),
				"url", req.URL.String(),
				"sent", humanize.IBytes(uint64(sent)),
			)
			panic(http.ErrAbortHandler)
		}

		if _, err := w.Write(chunk); err != nil {
			h.clientGone(req, sent, start)
			return
		}
		w.Flush()
		sent += int64(len(chunk))
		if h.metrics != nil {
			h.metrics.RelayBytes.Add(float64(len(chunk)))
		}
	}
}

func (h *DownloadHandler) clientGone(req *http.Request, sent int64, start time.Time) {
	h.finish(outcomeClientGone, start)
	h.logger.Info("client disconnected",
		"url", req.URL.String(),
		"sent", humanize.IBytes(uint64(sent)),
	)
}

func (h *DownloadHandler) finish(outcome string, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.RelayOutcomes.WithLabelValues(outcome).Inc()
	h.metrics.RelayDuration.Observe(time.Since(start).Seconds())
}

func (h *DownloadHandler) observeOutcome(outcome string) {
	if h.metrics != nil {
		h.metrics.RelayOutcomes.WithLabelValues(outcome).Inc()
	}
}
