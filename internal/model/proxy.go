// Package model defines shared types for the forwarder.
package model

import "encoding/json"

// ForwardRequest is an inbound call to be replayed against the backend.
// Segments is the path tail below the namespace, in order and still escaped.
// A nil Body means no body is sent.
type ForwardRequest struct {
	Method        string
	Segments      []string
	RawQuery      string
	Authorization string
	Body          []byte
}

// Outcome classifies how a forwarded call ended.
type Outcome int

const (
	// OutcomeOK means the backend answered with a JSON body.
	OutcomeOK Outcome = iota
	// OutcomeNoContent means the backend answered 204.
	OutcomeNoContent
	// OutcomeInvalidJSON means the backend answered but its body did not parse.
	OutcomeInvalidJSON
	// OutcomeTimeout means the outbound deadline expired.
	OutcomeTimeout
	// OutcomeUnreachable means the call failed at the transport level.
	OutcomeUnreachable
	// OutcomeTooLarge means the backend answered with a body over the size cap.
	OutcomeTooLarge
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNoContent:
		return "no_content"
	case OutcomeInvalidJSON:
		return "invalid_json"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeUnreachable:
		return "unreachable"
	case OutcomeTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// ForwardResult is the value returned for every forwarded call.
// When Failed reports true, StatusCode and Body are zero and Err carries the
// cause.
type ForwardResult struct {
	Outcome    Outcome
	StatusCode int
	Body       json.RawMessage
	Target     string
	Err        error
}

// Failed reports whether the call produced no backend response that can be
// relayed.
func (r *ForwardResult) Failed() bool {
	switch r.Outcome {
	case OutcomeTimeout, OutcomeUnreachable, OutcomeTooLarge:
		return true
	}
	return false
}

// UpstreamResponse is a fully buffered upstream reply.
type UpstreamResponse struct {
	StatusCode int
	Body       []byte
}
