// Package providers contains the HTTP adapters for the external
// collaborators: the training-status service, the payment gateway, the
// SMS gateway, and the mail relay. Each adapter performs exactly one
// round trip per Do call and classifies the response into the closed
// outcome model; retries, timeouts, and idempotency belong to the
// integration client wrapping it.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/chainworks/steward/outcome"
)

// Doer abstracts *http.Client for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxResponseBody caps how much of a provider response is retained for
// the audit log.
const maxResponseBody = 64 << 10

// postJSON performs one JSON POST and returns the status code and the
// (capped) response body. Transport errors are returned as-is for the
// client to classify.
func postJSON(ctx context.Context, hc Doer, url string, headers map[string]string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("providers: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // read-side close

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

// refField extracts a string field from a JSON response body.
// Returns "" when the body doesn't parse or the field is absent.
func refField(body []byte, field string) string {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}
	if v, ok := m[field].(string); ok {
		return v
	}
	return ""
}

// classify builds an outcome from an HTTP response using the standard
// status mapping, with a provider-supplied success code and reference
// field name.
func classify(status int, body []byte, successCode, refName string) *outcome.Outcome {
	switch outcome.ClassifyStatus(status) {
	case outcome.Success:
		return outcome.Successf(successCode, refField(body, refName), body)
	case outcome.TransientFailure:
		return outcome.Transient(fmt.Sprintf("http-%d", status), string(body))
	default:
		code := refField(body, "error_code")
		if code == "" {
			code = fmt.Sprintf("http-%d", status)
		}
		return outcome.Permanent(code, "provider rejected the request", body)
	}
}
