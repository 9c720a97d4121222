// Package client provides the HTTP client used to reach download targets.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github-relay-go/internal/config"
	"github-relay-go/internal/metrics"
	"github-relay-go/internal/proxyconf"
)

// maxRedirects matches net/http's default policy; GitHub release downloads
// redirect once or twice to signed storage URLs.
const maxRedirects = 10

// UpstreamClient sends requests to download targets through the configured
// forward proxy.
type UpstreamClient struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling. It sets no
// overall client timeout: bounds are applied per call through the context, so a
// long transfer is not cut off by a probe-sized limit.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, via proxyconf.Descriptor, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               via.ProxyFunc(),
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Upstream.ConnectTimeout(),
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Relay bytes exactly as the origin sent them.
		DisableCompression: true,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent: cfg.Upstream.UserAgent,
		logger:    logger.With("component", "upstream_client"),
		metrics:   m,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*http.Response, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return resp, nil
}

// Head issues a HEAD request to url, following redirects. The provided context
// bounds the whole call.
func (c *UpstreamClient) Head(ctx context.Context, url string) (*http.Response, error) {
	return c.send(ctx, http.MethodHead, url)
}

// Get issues a GET request to url, following redirects, and returns the response
// with its body unread. The context governs the body as well: canceling it
// aborts an in-progress transfer.
func (c *UpstreamClient) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.send(ctx, http.MethodGet, url)
}

func (c *UpstreamClient) send(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")

	return c.Do(req)
}

// CloseIdleConnections releases pooled upstream connections.
func (c *UpstreamClient) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}
