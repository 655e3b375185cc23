package model

import "encoding/json"

// ConfirmRequest is the payload sent to the payment gateway's confirm endpoint.
// Amount keeps whatever JSON representation the caller used.
type ConfirmRequest struct {
	PaymentKey string          `json:"paymentKey"`
	OrderID    string          `json:"orderId"`
	Amount     json.RawMessage `json:"amount"`
}

// ConfirmResult is a successful confirmation; Payment is the gateway's body.
type ConfirmResult struct {
	Payment json.RawMessage
}
