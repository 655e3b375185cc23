package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"backoffice-proxy/internal/client"
	"backoffice-proxy/internal/config"
	"backoffice-proxy/internal/metrics"
	"backoffice-proxy/internal/model"
)

var (
	// ErrInvalidConfirmRequest is returned when a required confirm field is missing.
	ErrInvalidConfirmRequest = errors.New("paymentKey, orderId and amount are required")

	// ErrPaymentSecretMissing is returned when no gateway secret key is configured.
	ErrPaymentSecretMissing = errors.New("payment secret key is not configured")
)

// CodeGatewayError stands in for a rejection that carries no error code.
const CodeGatewayError = "PAYMENT_GATEWAY_ERROR"

// GatewayRejection is a non-2xx answer from the payment gateway. Code and
// Message are never empty.
type GatewayRejection struct {
	StatusCode int
	Code       string
	Message    string
	Details    json.RawMessage
}

func (e *GatewayRejection) Error() string {
	return fmt.Sprintf("payment gateway rejected confirmation: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// gatewayError is the error shape the gateway uses on rejection.
type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PaymentService confirms payments against the payment gateway.
type PaymentService struct {
	client     *client.UpstreamClient
	logger     *slog.Logger
	confirmURL string
	secretKey  string
	timeout    time.Duration
}

// NewPaymentService creates a PaymentService. A missing secret is not an error
// here; Confirm reports it per call.
func NewPaymentService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		client:     c,
		logger:     logger.With("component", "payment_service"),
		confirmURL: cfg.Payment.ConfirmURL,
		secretKey:  cfg.Payment.SecretKey,
		timeout:    cfg.Payment.Timeout(),
	}
}

// ParseConfirmRequest decodes and validates an inbound confirm body.
// paymentKey and orderId must be non-empty strings; amount must be present
// and not null, "", 0 or false. Amount keeps its original JSON encoding.
func ParseConfirmRequest(body []byte) (*model.ConfirmRequest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfirmRequest, err)
	}

	var req model.ConfirmRequest
	if err := decodeString(fields["paymentKey"], &req.PaymentKey); err != nil {
		return nil, err
	}
	if err := decodeString(fields["orderId"], &req.OrderID); err != nil {
		return nil, err
	}

	amount := bytes.TrimSpace(fields["amount"])
	if falsy(amount) {
		return nil, ErrInvalidConfirmRequest
	}
	req.Amount = json.RawMessage(amount)

	return &req, nil
}

func decodeString(raw json.RawMessage, dst *string) error {
	if len(raw) == 0 {
		return ErrInvalidConfirmRequest
	}
	if err := json.Unmarshal(raw, dst); err != nil || *dst == "" {
		return ErrInvalidConfirmRequest
	}
	return nil
}

// falsy reports whether raw is absent or a JSON value that would not count as
// provided: null, false, "" or a zero number.
func falsy(raw []byte) bool {
	switch string(raw) {
	case "", "null", "false", `""`:
		return true
	}
	if raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9') {
		f, err := strconv.ParseFloat(string(raw), 64)
		if errors.Is(err, strconv.ErrRange) {
			// Overflow parses as ±Inf, which is a value.
			return f == 0
		}
		return err != nil || f == 0
	}
	return false
}

// Confirm sends req to the gateway. It returns ErrPaymentSecretMissing when no
// secret is configured, *GatewayRejection on a non-2xx answer, and a wrapped
// error for any other failure.
func (s *PaymentService) Confirm(ctx context.Context, req *model.ConfirmRequest) (*model.ConfirmResult, error) {
	if s.secretKey == "" {
		return nil, ErrPaymentSecretMissing
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode confirm request: %w", err)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", BasicAuthorization(s.secretKey))
	header.Set("Idempotency-Key", IdempotencyKey(req.OrderID, req.PaymentKey))

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Info("confirming payment", "order_id", req.OrderID)

	resp, err := s.client.Do(ctx, metrics.UpstreamPayment, http.MethodPost, s.confirmURL, header, payload)
	if err != nil {
		return nil, fmt.Errorf("confirm payment: %w", err)
	}

	if !json.Valid(resp.Body) {
		return nil, fmt.Errorf("confirm payment: gateway returned non-JSON body with status %d", resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ge gatewayError
		_ = json.Unmarshal(resp.Body, &ge)
		if ge.Code == "" {
			ge.Code = CodeGatewayError
		}
		if ge.Message == "" {
			ge.Message = fmt.Sprintf("payment gateway returned status %d", resp.StatusCode)
		}
		return nil, &GatewayRejection{
			StatusCode: resp.StatusCode,
			Code:       ge.Code,
			Message:    ge.Message,
			Details:    resp.Body,
		}
	}

	return &model.ConfirmResult{Payment: resp.Body}, nil
}

// BasicAuthorization returns the gateway's Basic credential: the secret key as
// user name with an empty password.
func BasicAuthorization(secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(secret+":"))
}

// IdempotencyKey derives a stable key for one order/payment pair so that a
// repeated confirmation is recognised by the gateway.
func IdempotencyKey(orderID, paymentKey string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("payment-confirm:"+orderID+":"+paymentKey)).String()
}
