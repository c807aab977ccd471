// Package types holds the JSON envelopes shared by the API handlers and
// pkg/client.
package types

import "encoding/json"

// SuccessEnvelope wraps every 2xx body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// RawSuccessEnvelope is the decoding side of SuccessEnvelope; Data is left
// for the caller to unmarshal into its own type.
type RawSuccessEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// APIError is the body of every 4xx and 5xx answer. Details is only present
// for codes that allow it, e.g. field errors on VALIDATION_ERROR.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
