// Package service implements the forwarding logic for the Core API and the
// payment gateway.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"backoffice-proxy/internal/client"
	"backoffice-proxy/internal/config"
	"backoffice-proxy/internal/metrics"
	"backoffice-proxy/internal/model"
)

// emptyObject replaces backend bodies that are not valid JSON.
var emptyObject = json.RawMessage(`{}`)

// ForwardService replays inbound calls against the Core API.
type ForwardService struct {
	client   *client.UpstreamClient
	logger   *slog.Logger
	baseURL  string // backend origin plus API root, no trailing slash
	timeout  time.Duration
	prefixes []string
}

// NewForwardService creates a ForwardService from the backend configuration.
func NewForwardService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ForwardService, error) {
	if _, err := url.Parse(cfg.Backend.BaseURL); err != nil {
		return nil, fmt.Errorf("parse backend base_url: %w", err)
	}

	prefixes := make([]string, 0, len(cfg.Backend.AllowedPrefixes))
	for _, p := range cfg.Backend.AllowedPrefixes {
		if p = strings.Trim(p, "/"); p != "" {
			prefixes = append(prefixes, p)
		}
	}

	return &ForwardService{
		client:   c,
		logger:   logger.With("component", "forward_service"),
		baseURL:  strings.TrimRight(cfg.Backend.BaseURL, "/") + cfg.Backend.APIRoot,
		timeout:  cfg.Backend.Timeout(),
		prefixes: prefixes,
	}, nil
}

// Forward sends fr to the backend and classifies the result. It never returns
// a nil result; transport failures are reported through the Outcome.
func (s *ForwardService) Forward(ctx context.Context, fr *model.ForwardRequest) *model.ForwardResult {
	target := s.Target(fr.Segments, fr.RawQuery)
	path := s.forwardedPath(fr.Segments)

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	if fr.Authorization != "" {
		header.Set("Authorization", fr.Authorization)
	}

	var body []byte
	if !bodyless(fr.Method) {
		body = fr.Body
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Debug("forwarding request",
		"method", fr.Method,
		"path", path,
	)

	resp, err := s.client.Do(ctx, metrics.UpstreamBackend, fr.Method, target, header, body)
	if err != nil {
		outcome := model.OutcomeUnreachable
		switch {
		case client.IsTimeout(err):
			outcome = model.OutcomeTimeout
		case errors.Is(err, client.ErrResponseTooLarge):
			outcome = model.OutcomeTooLarge
		}
		s.logger.Error("forward failed",
			"method", fr.Method,
			"path", path,
			"outcome", outcome.String(),
			"err", err,
		)
		return &model.ForwardResult{Outcome: outcome, Target: target, Err: err}
	}

	if resp.StatusCode == http.StatusNoContent {
		return &model.ForwardResult{
			Outcome:    model.OutcomeNoContent,
			StatusCode: http.StatusNoContent,
			Target:     target,
		}
	}

	if !json.Valid(resp.Body) {
		s.logger.Warn("backend returned non-JSON body",
			"method", fr.Method,
			"path", path,
			"status", resp.StatusCode,
			"bytes", len(resp.Body),
		)
		return &model.ForwardResult{
			Outcome:    model.OutcomeInvalidJSON,
			StatusCode: resp.StatusCode,
			Body:       emptyObject,
			Target:     target,
		}
	}

	return &model.ForwardResult{
		Outcome:    model.OutcomeOK,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
		Target:     target,
	}
}

// Target builds the outbound URL. Segments are joined unchanged under the API
// root and the raw query is appended byte-for-byte.
func (s *ForwardService) Target(segments []string, rawQuery string) string {
	target := s.baseURL + "/" + strings.Join(segments, "/")
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// Allowed reports whether segments may be forwarded. With no allowed prefixes
// configured every path is allowed. Otherwise the joined path must sit under a
// prefix and contain no dot segments.
func (s *ForwardService) Allowed(segments []string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, seg := range segments {
		dec, err := url.PathUnescape(seg)
		if err != nil || dec == "." || dec == ".." || strings.Contains(dec, "/") {
			return false
		}
	}
	joined := strings.Join(segments, "/")
	for _, p := range s.prefixes {
		if joined == p || strings.HasPrefix(joined, p+"/") {
			return true
		}
	}
	return false
}

func (s *ForwardService) forwardedPath(segments []string) string {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "/" + strings.Join(segments, "/")
	}
	return u.EscapedPath() + "/" + strings.Join(segments, "/")
}

// bodyless reports whether method never carries an outbound body.
func bodyless(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}
