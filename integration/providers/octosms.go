package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/chainworks/steward/integration"
	"github.com/chainworks/steward/outcome"
)

const octoSMSBaseURL = "https://sms.8x8.com/api/v1"

// OctoSMS sends text messages through the 8x8 SMS gateway.
type OctoSMS struct {
	baseURL   string
	accountID string
	authToken string
	sender    string
	hc        Doer
}

// NewOctoSMS builds the adapter. baseURL is overridable for tests and
// regional endpoints; empty means the public gateway.
func NewOctoSMS(baseURL, accountID, authToken, sender string, hc Doer) *OctoSMS {
	if baseURL == "" {
		baseURL = octoSMSBaseURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &OctoSMS{baseURL: baseURL, accountID: accountID, authToken: authToken, sender: sender, hc: hc}
}

var _ integration.Provider = (*OctoSMS)(nil)

func (p *OctoSMS) Name() string { return "octosms" }

// smsPayload is the step input for send-sms.
type smsPayload struct {
	Destination string `json:"destination"`
	Text        string `json:"text"`
}

// smsMessage is the gateway wire format.
type smsMessage struct {
	Encoding    string `json:"encoding"`
	Source      string `json:"source"`
	Text        string `json:"text"`
	Destination string `json:"destination"`
	ClientRef   string `json:"clientMessageId,omitempty"`
}

func (p *OctoSMS) Do(ctx context.Context, call *integration.Call) (*outcome.Outcome, error) {
	if call.Capability != "send-sms" {
		return nil, fmt.Errorf("providers: octosms does not serve %q", call.Capability)
	}

	var in smsPayload
	if err := json.Unmarshal(call.Payload, &in); err != nil {
		return outcome.Permanent("bad-payload", fmt.Sprintf("decode sms payload: %v", err), nil), nil
	}
	if in.Destination == "" {
		return outcome.Permanent("missing-destination", "sms payload has no destination number", nil), nil
	}

	msg, err := json.Marshal(smsMessage{
		Encoding:    "AUTO",
		Source:      p.sender,
		Text:        in.Text,
		Destination: in.Destination,
		ClientRef:   call.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("providers: marshal sms message: %w", err)
	}

	url := fmt.Sprintf("%s/subaccounts/%s/messages", p.baseURL, p.accountID)
	headers := map[string]string{"Authorization": "Bearer " + p.authToken}

	status, body, err := postJSON(ctx, p.hc, url, headers, msg)
	if err != nil {
		return nil, err
	}
	return classify(status, body, "sms-sent", "umid"), nil
}
