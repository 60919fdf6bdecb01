package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chainworks/steward/integration"
	"github.com/chainworks/steward/outcome"
)

// Payfort talks to the card payment gateway. Charges settle
// asynchronously: a 2xx response means the charge was accepted, and the
// gateway reports the final settlement by webhook carrying the charge
// reference. Refunds are synchronous.
type Payfort struct {
	baseURL string
	apiKey  string
	hc      Doer
}

func NewPayfort(baseURL, apiKey string, hc Doer) *Payfort {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Payfort{baseURL: baseURL, apiKey: apiKey, hc: hc}
}

var _ integration.Provider = (*Payfort)(nil)

func (p *Payfort) Name() string { return "payfort" }

func (p *Payfort) Do(ctx context.Context, call *integration.Call) (*outcome.Outcome, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + p.apiKey,
		// The gateway deduplicates on this header, so a retried POST
		// after an ambiguous timeout cannot double-charge.
		"Idempotency-Key": call.IdempotencyKey,
	}

	switch call.Capability {
	case "charge-fee":
		status, body, err := postJSON(ctx, p.hc, p.baseURL+"/v1/charges", headers, call.Payload)
		if err != nil {
			return nil, err
		}
		if status == http.StatusPaymentRequired {
			return outcome.Permanent(declineCode(body), "charge declined", body), nil
		}
		return classify(status, body, "charge-accepted", "charge_id"), nil

	case "refund-fee":
		status, body, err := postJSON(ctx, p.hc, p.baseURL+"/v1/refunds", headers, call.Payload)
		if err != nil {
			return nil, err
		}
		return classify(status, body, "refunded", "refund_id"), nil

	default:
		return nil, fmt.Errorf("providers: payfort does not serve %q", call.Capability)
	}
}

// declineCode pulls the gateway's decline reason out of a 402 body,
// falling back to a generic code when the body is opaque.
func declineCode(body []byte) string {
	if code := refField(body, "decline_code"); code != "" {
		return code
	}
	return "card-declined"
}
