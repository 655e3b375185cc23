package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"backoffice-proxy/internal/service"
)

// Error codes returned by the payment confirmation endpoint.
const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeInternalError  = "INTERNAL_SERVER_ERROR"
)

// PaymentHandler serves the payment confirmation endpoint.
type PaymentHandler struct {
	service *service.PaymentService
	logger  *slog.Logger
}

// NewPaymentHandler creates a PaymentHandler.
func NewPaymentHandler(svc *service.PaymentService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: svc,
		logger:  logger.With("component", "payment_handler"),
	}
}

// Confirm validates the confirmation body and relays it to the payment gateway.
func (h *PaymentHandler) Confirm(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
		return err
	}
	if err != nil {
		h.logger.Error("reading confirm body", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   codeInternalError,
			"message": "payment confirmation failed",
		})
	}

	req, err := service.ParseConfirmRequest(data)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   codeInvalidRequest,
			"message": service.ErrInvalidConfirmRequest.Error(),
		})
	}

	res, err := h.service.Confirm(c.Request().Context(), req)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"payment": res.Payment,
	})
}

func (h *PaymentHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrPaymentSecretMissing) {
		h.logger.Error("payment gateway secret key is not configured; set TOSS_SECRET_KEY or payment.secret_key")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   codeInternalError,
			"message": "payment configuration error",
		})
	}

	var rej *service.GatewayRejection
	if errors.As(err, &rej) {
		h.logger.Warn("payment confirmation rejected",
			"status", rej.StatusCode,
			"code", rej.Code,
			"message", rej.Message,
		)
		return c.JSON(rej.StatusCode, map[string]any{
			"error":   rej.Code,
			"message": rej.Message,
			"details": rej.Details,
		})
	}

	h.logger.Error("payment confirmation failed", "err", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error":   codeInternalError,
		"message": "payment confirmation failed",
	})
}
