// Package service implements the download relay: target validation, optional
// metadata probing and the proxied fetch.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github-relay-go/internal/client"
	"github-relay-go/internal/config"
	"github-relay-go/internal/model"
	"github-relay-go/internal/stream"
)

// MarkerHeader identifies the relay as the originator of a download response.
const MarkerHeader = "X-Proxy-By"

// errHeaderTimeout is the cancellation cause when the upstream does not answer
// with response headers within the fetch timeout.
var errHeaderTimeout = fmt.Errorf("waiting for response headers: %w", context.DeadlineExceeded)

// RelayService prepares downloads for streaming to clients.
type RelayService struct {
	upstream  upstream
	validator *TargetValidator
	probe     *MetadataProbe
	cfg       *config.Config
	logger    *slog.Logger
}

// NewRelayService creates a RelayService.
func NewRelayService(c *client.UpstreamClient, validator *TargetValidator, cfg *config.Config, logger *slog.Logger) *RelayService {
	return newRelayService(c, validator, cfg, logger)
}

func newRelayService(up upstream, validator *TargetValidator, cfg *config.Config, logger *slog.Logger) *RelayService {
	return &RelayService{
		upstream:  up,
		validator: validator,
		probe:     NewMetadataProbe(up, cfg.Upstream.ProbeTimeout(), cfg.Relay.FallbackFilename, logger),
		cfg:       cfg,
		logger:    logger.With("component", "relay_service"),
	}
}

// Relay validates the request, optionally probes the target, and opens the
// upstream GET. On success the returned response carries the final header set and
// an unread body; nothing has been written to the client. The caller must close
// the body. Every error is a *Failure.
func (s *RelayService) Relay(req *model.RelayRequest) (*model.RelayResponse, error) {
	target, err := s.validator.Validate(req.TargetURL, req.RequireAllowlist)
	if err != nil {
		return nil, err
	}

	var probed *model.RelayMetadata
	if s.cfg.Relay.ProbeBeforeFetch {
		probed, err = s.probe.Probe(req.Ctx, target)
		if err != nil {
			return nil, err
		}
	}

	// The fetch timeout bounds only connection setup and the wait for response
	// headers; once the body starts, the stall watchdog is its sole bound. The
	// cancel func is handed to the body and runs when the body is closed.
	ctx, cancel := context.WithCancelCause(req.Ctx)
	var headerTimer *time.Timer
	if d := s.cfg.Upstream.FetchTimeout(); d > 0 {
		headerTimer = time.AfterFunc(d, func() { cancel(errHeaderTimeout) })
	}
	ctx, wd := stream.NewWatchdog(ctx, s.cfg.Upstream.StallTimeout())

	resp, err := s.upstream.Get(ctx, target)
	if headerTimer != nil && !headerTimer.Stop() && err == nil {
		// The deadline fired as the headers arrived; ctx is already canceled.
		_ = resp.Body.Close()
		resp, err = nil, errors.New("response headers arrived after the deadline")
	}
	release := func() {
		wd.Stop()
		cancel(nil)
	}
	if err != nil {
		switch {
		case wd.Stalled():
			err = fmt.Errorf("%w: %v", stream.ErrStalled, err)
		case errors.Is(context.Cause(ctx), errHeaderTimeout):
			err = fmt.Errorf("%w: %v", errHeaderTimeout, err)
		}
		release()
		return nil, classify(fmt.Errorf("fetch: %w", err), target)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		discard(resp.Body)
		release()
		return nil, &Failure{
			Kind:   KindUpstreamHTTPError,
			URL:    target,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("fetch: upstream responded %s", resp.Status),
		}
	}

	meta := s.resolveMetadata(target, resp, probed)
	header := s.buildHeader(resp, meta)

	s.logger.Info("relay started",
		"url", target,
		"via_proxy", req.Via.Enabled(),
		"probed", probed != nil,
		"content_type", meta.ContentType,
		"size", humanSize(meta.ContentLength),
		"filename", meta.Filename,
	)

	body := stream.NewReader(resp.Body, stream.Options{
		ChunkSize: s.cfg.Relay.ChunkSizeBytes,
		Watchdog:  wd,
		OnClose:   func() { cancel(nil) },
	})
	return &model.RelayResponse{Header: header, Body: body, Metadata: meta}, nil
}

// resolveMetadata merges the probe result with the GET response. The probe's type
// wins when present; the length always comes from the GET because it describes the
// bytes actually being forwarded.
func (s *RelayService) resolveMetadata(target string, resp *http.Response, probed *model.RelayMetadata) model.RelayMetadata {
	meta := model.RelayMetadata{
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Filename:      DeriveFilename(target, s.cfg.Relay.FallbackFilename),
	}
	if probed != nil {
		if probed.ContentType != "" {
			meta.ContentType = probed.ContentType
		}
		if probed.ContentLength >= 0 && probed.ContentLength != resp.ContentLength {
			s.logger.Debug("probe length differs from fetch; using fetch",
				"url", target,
				"probe_length", probed.ContentLength,
				"fetch_length", resp.ContentLength,
			)
		}
	}
	if meta.ContentType == "" {
		meta.ContentType = defaultContentType
	}
	if meta.ContentLength < 0 {
		meta.ContentLength = model.UnknownLength
	}
	return meta
}

func (s *RelayService) buildHeader(resp *http.Response, meta model.RelayMetadata) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", meta.ContentType)
	h.Set("Content-Disposition", ContentDisposition(meta.Filename))
	if meta.ContentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(meta.ContentLength, 10))
	}
	if ce := resp.Header.Get("Content-Encoding"); ce != "" {
		h.Set("Content-Encoding", ce)
	}
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	if s.cfg.Relay.Marker != "" {
		h.Set(MarkerHeader, s.cfg.Relay.Marker)
	}
	return h
}

func humanSize(n int64) string {
	if n < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(n))
}
