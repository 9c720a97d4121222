package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github-relay-go/internal/model"
)

const defaultContentType = "application/octet-stream"

// upstream is the subset of the upstream client the relay needs.
type upstream interface {
	Head(ctx context.Context, url string) (*http.Response, error)
	Get(ctx context.Context, url string) (*http.Response, error)
}

// MetadataProbe learns a target's type, size and name with a HEAD request.
type MetadataProbe struct {
	upstream upstream
	timeout  time.Duration
	fallback string
	logger   *slog.Logger
}

// NewMetadataProbe creates a MetadataProbe. A zero timeout leaves the call bounded
// only by ctx.
func NewMetadataProbe(up upstream, timeout time.Duration, fallbackFilename string, logger *slog.Logger) *MetadataProbe {
	return &MetadataProbe{
		upstream: up,
		timeout:  timeout,
		fallback: fallbackFilename,
		logger:   logger.With("component", "metadata_probe"),
	}
}

// Probe issues a HEAD request for target. A final status of 400 or above fails
// with KindUpstreamHTTPError; a timeout fails with KindUpstreamTimeout.
func (p *MetadataProbe) Probe(ctx context.Context, target string) (*model.RelayMetadata, error) {
	ctx, cancel := withOptionalTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.upstream.Head(ctx, target)
	if err != nil {
		return nil, classify(fmt.Errorf("probe: %w", err), target)
	}
	defer discard(resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &Failure{
			Kind:   KindUpstreamHTTPError,
			URL:    target,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("probe: upstream responded %s", resp.Status),
		}
	}

	meta := &model.RelayMetadata{
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Filename:      DeriveFilename(target, p.fallback),
	}
	if meta.ContentType == "" {
		meta.ContentType = defaultContentType
	}
	if meta.ContentLength < 0 {
		meta.ContentLength = model.UnknownLength
	}

	p.logger.Debug("probed target",
		"url", target,
		"content_type", meta.ContentType,
		"content_length", meta.ContentLength,
	)
	return meta, nil
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// discard drains a little of body so the connection can be reused, then closes it.
func discard(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	_ = body.Close()
}
