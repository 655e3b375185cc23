// Package client provides the outbound HTTP client shared by both forwarders.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"backoffice-proxy/internal/config"
	"backoffice-proxy/internal/metrics"
	"backoffice-proxy/internal/model"
)

// ErrResponseTooLarge is returned when an upstream body exceeds the configured cap.
var ErrResponseTooLarge = errors.New("upstream response too large")

// UpstreamClient sends buffered requests to the Core API and the payment gateway.
// Deadlines come from the caller's context; the client itself sets none.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	maxBody    int64
}

// NewUpstreamClient creates an UpstreamClient with connection pooling.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Backend.IdleConnections,
		MaxIdleConnsPerHost: cfg.Backend.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	maxBody := cfg.Backend.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = config.DefaultMaxResponseBytes
	}

	return &UpstreamClient{
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With("component", "upstream_client"),
		metrics:    m,
		maxBody:    maxBody,
	}
}

// Do sends a request to the named upstream and reads the whole response.
// A nil body sends no body at all.
func (c *UpstreamClient) Do(ctx context.Context, upstream, method, url string, header http.Header, body []byte) (*model.UpstreamResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	c.logger.Debug("upstream request",
		"upstream", upstream,
		"method", req.Method,
		"path", req.URL.Path,
	)

	method = metrics.NormalizeMethod(req.Method)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observeFailure(upstream, method, start, err)
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		c.observeFailure(upstream, method, start, err)
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		c.observeFailure(upstream, method, start, ErrResponseTooLarge)
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, c.maxBody)
	}

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(upstream, method).Observe(time.Since(start).Seconds())
		c.metrics.UpstreamResponses.WithLabelValues(upstream, method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Body:       data,
	}, nil
}

func (c *UpstreamClient) observeFailure(upstream, method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	reason := "error"
	switch {
	case IsTimeout(err):
		reason = "timeout"
	case errors.Is(err, ErrResponseTooLarge):
		reason = "too_large"
	}
	c.metrics.UpstreamDuration.WithLabelValues(upstream, method).Observe(time.Since(start).Seconds())
	c.metrics.UpstreamFailures.WithLabelValues(upstream, reason).Inc()
}

// IsTimeout reports whether err was caused by an expired deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
