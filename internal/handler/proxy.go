package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"backoffice-proxy/internal/config"
	"backoffice-proxy/internal/model"
	"backoffice-proxy/internal/service"
)

// forwardMethods are the methods mounted on the catch-all route.
var forwardMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

// ProxyHandler forwards namespace requests to the Core API.
type ProxyHandler struct {
	service   *service.ForwardService
	logger    *slog.Logger
	namespace string
	backend   string
	timeout   string
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ForwardService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:   svc,
		logger:    logger.With("component", "proxy_handler"),
		namespace: cfg.Server.Namespace,
		backend:   cfg.Backend.BaseURL,
		timeout:   cfg.Backend.Timeout().String(),
	}
}

// Handle replays the request against the backend and writes its answer back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	segments := h.segments(req)

	if !h.service.Allowed(segments) {
		h.logger.Warn("path not allowed",
			"method", req.Method,
			"path", req.URL.Path,
		)
		return c.JSON(http.StatusForbidden, errorBody("path not allowed"))
	}

	fr := &model.ForwardRequest{
		Method:        req.Method,
		Segments:      segments,
		RawQuery:      req.URL.RawQuery,
		Authorization: req.Header.Get(echo.HeaderAuthorization),
	}

	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		body, err := io.ReadAll(req.Body)
		switch {
		case errors.Is(err, echo.ErrStatusRequestEntityTooLarge):
			return err
		case err != nil:
			// Forwarded without a body.
			h.logger.Warn("reading request body",
				"method", req.Method,
				"path", req.URL.Path,
				"err", err,
			)
		default:
			fr.Body = body
		}
	}

	return h.respond(c, h.service.Forward(req.Context(), fr))
}

func (h *ProxyHandler) respond(c echo.Context, res *model.ForwardResult) error {
	if res.Failed() {
		return h.respondFailure(c, res)
	}
	if res.Outcome == model.OutcomeNoContent {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSONBlob(res.StatusCode, res.Body)
}

func (h *ProxyHandler) respondFailure(c echo.Context, res *model.ForwardResult) error {
	switch res.Outcome {
	case model.OutcomeTimeout:
		return c.JSON(http.StatusServiceUnavailable, errorBody(
			fmt.Sprintf("backend request timed out after %s", h.timeout)))
	case model.OutcomeTooLarge:
		return c.JSON(http.StatusBadGateway, errorBody(
			fmt.Sprintf("backend response too large: %s", h.backend)))
	default:
		return c.JSON(http.StatusServiceUnavailable, errorBody(
			fmt.Sprintf("backend unreachable: %s", h.backend)))
	}
}

// segments splits the escaped path below the namespace. Escaping is kept so
// the backend sees the same bytes the caller sent.
func (h *ProxyHandler) segments(req *http.Request) []string {
	tail := strings.TrimPrefix(req.URL.EscapedPath(), h.namespace)
	tail = strings.TrimPrefix(tail, "/")
	if tail == "" {
		return nil
	}
	return strings.Split(tail, "/")
}

// errorBody is the envelope for locally synthesized failures.
func errorBody(msg string) map[string]string {
	return map[string]string{
		"error":   msg,
		"message": msg,
	}
}
