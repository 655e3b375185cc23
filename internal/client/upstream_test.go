package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backoffice-proxy/internal/config"
	"backoffice-proxy/internal/metrics"
)

func newTestClient(m *metrics.Metrics) *UpstreamClient {
	cfg := &config.Config{
		Backend: config.BackendConfig{IdleConnections: 10},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewUpstreamClient(cfg, logger, m)
}

func TestUpstreamClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer abc" {
			t.Errorf("Authorization = %q, want %q", r.Header.Get("Authorization"), "Bearer abc")
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"name":"x"}` {
			t.Errorf("body = %q, want %q", body, `{"name":"x"}`)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	m := metrics.New()
	c := newTestClient(m)

	header := http.Header{"Authorization": {"Bearer abc"}}
	resp, err := c.Do(context.Background(), metrics.UpstreamBackend, http.MethodPost, srv.URL+"/test", header, []byte(`{"name":"x"}`))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if string(resp.Body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", resp.Body, `{"status":"ok"}`)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() != "backoffice_proxy_upstream_responses_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["upstream"] == "backend" && labels["status_code"] == "201" {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected backoffice_proxy_upstream_responses_total{upstream=backend,status_code=201}")
	}
}

func TestUpstreamClient_Do_ResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items":["a","b","c","d"]}`))
	}))
	defer srv.Close()

	m := metrics.New()
	cfg := &config.Config{
		Backend: config.BackendConfig{IdleConnections: 10, MaxResponseBytes: 8},
	}
	c := NewUpstreamClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), m)

	_, err := c.Do(context.Background(), metrics.UpstreamBackend, http.MethodGet, srv.URL, nil, nil)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("Do() error = %v, want ErrResponseTooLarge", err)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() != "backoffice_proxy_upstream_failures_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "reason" && lp.GetValue() == "too_large" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected backoffice_proxy_upstream_failures_total with reason=too_large")
	}
}

func TestUpstreamClient_Do_NilBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 {
			t.Errorf("ContentLength = %d, want no body", r.ContentLength)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := newTestClient(nil).Do(context.Background(), metrics.UpstreamBackend, http.MethodGet, srv.URL, http.Header{}, nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if len(resp.Body) != 0 {
		t.Errorf("body = %q, want empty", resp.Body)
	}
}

func TestUpstreamClient_Do_Unreachable(t *testing.T) {
	m := metrics.New()
	_, err := newTestClient(m).Do(context.Background(), metrics.UpstreamBackend, http.MethodGet, "http://127.0.0.1:1/nonexistent", http.Header{}, nil)
	if err == nil {
		t.Fatal("Do() expected error for unreachable host, got nil")
	}
	if IsTimeout(err) {
		t.Errorf("IsTimeout(%v) = true, want false for connection refused", err)
	}
}

func TestUpstreamClient_Do_DeadlineExceeded(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(nil).Do(ctx, metrics.UpstreamBackend, http.MethodGet, srv.URL+"/slow", http.Header{}, nil)
	if err == nil {
		t.Fatal("Do() expected error for expired deadline, got nil")
	}
	if !IsTimeout(err) {
		t.Errorf("IsTimeout(%v) = false, want true", err)
	}
}

func TestUpstreamClient_Do_InvalidURL(t *testing.T) {
	_, err := newTestClient(nil).Do(context.Background(), metrics.UpstreamBackend, http.MethodGet, "http://[::1", http.Header{}, nil)
	if err == nil {
		t.Fatal("Do() expected error for invalid URL, got nil")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("upstream request: %w", context.DeadlineExceeded), true},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, true},
		{"canceled", context.Canceled, false},
		{"plain error", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTimeout(tt.err); got != tt.want {
				t.Errorf("IsTimeout(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
