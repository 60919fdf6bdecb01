// Package outcome defines the closed classification of integration call
// results. Every provider response, timeout, or transport error maps to
// exactly one of three classes; the orchestrator branches only on the
// class, never on provider-specific shapes.
package outcome

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Class is the retry-relevant classification of a call result.
type Class string

const (
	// Success means the call took effect at the provider.
	Success Class = "success"
	// TransientFailure means the call may succeed on retry: network
	// errors, timeouts, 5xx responses, and rate limiting.
	TransientFailure Class = "transient-failure"
	// PermanentFailure means retrying cannot help: invalid input,
	// business rejection, or any 4xx other than rate limiting.
	PermanentFailure Class = "permanent-failure"
)

// Terminal reports whether the class ends the call: success and
// permanent failure are terminal, transient failure is not.
func (c Class) Terminal() bool {
	return c == Success || c == PermanentFailure
}

// Outcome is the normalized result of one integration call.
type Outcome struct {
	Class Class `json:"class"`

	// Code is a stable, machine-readable reason code (e.g. "charged",
	// "card-declined", "provider-timeout"). Surfaced to the API layer
	// instead of raw provider error text.
	Code string `json:"code,omitempty"`

	// Detail is a human-readable elaboration for logs. Never surfaced
	// to end users.
	Detail string `json:"detail,omitempty"`

	// ProviderRef is the provider's reference for the operation
	// (charge id, message id), used for audit and correlation.
	ProviderRef string `json:"provider_ref,omitempty"`

	// Payload is the verbatim provider response body, stored for audit.
	Payload []byte `json:"payload,omitempty"`

	// RecordedAt is when the outcome was classified.
	RecordedAt time.Time `json:"recorded_at"`
}

// Successf builds a success outcome with the given reason code.
func Successf(code, providerRef string, payload []byte) *Outcome {
	return &Outcome{
		Class:       Success,
		Code:        code,
		ProviderRef: providerRef,
		Payload:     payload,
		RecordedAt:  time.Now().UTC(),
	}
}

// Transient builds a transient-failure outcome.
func Transient(code, detail string) *Outcome {
	return &Outcome{
		Class:      TransientFailure,
		Code:       code,
		Detail:     detail,
		RecordedAt: time.Now().UTC(),
	}
}

// Permanent builds a permanent-failure outcome.
func Permanent(code, detail string, payload []byte) *Outcome {
	return &Outcome{
		Class:      PermanentFailure,
		Code:       code,
		Detail:     detail,
		Payload:    payload,
		RecordedAt: time.Now().UTC(),
	}
}

// ClassifyStatus maps an HTTP status code to a Class.
// 2xx is success; 429 and all 5xx are transient; everything else
// in the 4xx range is permanent.
func ClassifyStatus(status int) Class {
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == http.StatusTooManyRequests:
		return TransientFailure
	case status >= 500:
		return TransientFailure
	default:
		return PermanentFailure
	}
}

// ClassifyErr maps a transport-level error to a Class. Timeouts,
// cancelled contexts, and network errors are transient; anything else
// (malformed request construction, unmarshal failures) is permanent.
func ClassifyErr(err error) Class {
	if err == nil {
		return Success
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TransientFailure
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return TransientFailure
	}
	return PermanentFailure
}
