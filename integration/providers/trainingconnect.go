package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chainworks/steward/integration"
	"github.com/chainworks/steward/outcome"
)

// TrainingConnect talks to the training-records service. It serves two
// capabilities: a synchronous student status check and an asynchronous
// certificate upload whose final result arrives by webhook.
type TrainingConnect struct {
	baseURL string
	token   string
	hc      Doer
}

// NewTrainingConnect builds the adapter. The zero http.Client is used
// when hc is nil; the integration client owns all timeouts.
func NewTrainingConnect(baseURL, token string, hc Doer) *TrainingConnect {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &TrainingConnect{baseURL: baseURL, token: token, hc: hc}
}

var _ integration.Provider = (*TrainingConnect)(nil)

func (p *TrainingConnect) Name() string { return "training-connect" }

func (p *TrainingConnect) Do(ctx context.Context, call *integration.Call) (*outcome.Outcome, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + p.token,
	}

	switch call.Capability {
	case "verify-training":
		status, body, err := postJSON(ctx, p.hc, p.baseURL+"/v1/students/status", headers, call.Payload)
		if err != nil {
			return nil, err
		}
		return classify(status, body, "verified", "record_id"), nil

	case "sync-certificate":
		// Accepted uploads settle asynchronously; the batch id in the
		// response is the correlation key the completion webhook echoes.
		headers["X-Request-Id"] = call.IdempotencyKey
		status, body, err := postJSON(ctx, p.hc, p.baseURL+"/v1/certificates", headers, call.Payload)
		if err != nil {
			return nil, err
		}
		return classify(status, body, "upload-accepted", "batch_id"), nil

	default:
		return nil, fmt.Errorf("providers: training-connect does not serve %q", call.Capability)
	}
}
