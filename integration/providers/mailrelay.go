package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/chainworks/steward/integration"
	"github.com/chainworks/steward/outcome"
)

// MailRelay sends transactional email through the hosted relay.
type MailRelay struct {
	baseURL string
	token   string
	from    string
	hc      Doer
}

func NewMailRelay(baseURL, token, from string, hc Doer) *MailRelay {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &MailRelay{baseURL: baseURL, token: token, from: from, hc: hc}
}

var _ integration.Provider = (*MailRelay)(nil)

func (p *MailRelay) Name() string { return "mail-relay" }

// mailPayload is the step input for send-email.
type mailPayload struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	HTML    bool     `json:"html,omitempty"`
}

func (p *MailRelay) Do(ctx context.Context, call *integration.Call) (*outcome.Outcome, error) {
	if call.Capability != "send-email" {
		return nil, fmt.Errorf("providers: mail-relay does not serve %q", call.Capability)
	}

	var in mailPayload
	if err := json.Unmarshal(call.Payload, &in); err != nil {
		return outcome.Permanent("bad-payload", fmt.Sprintf("decode mail payload: %v", err), nil), nil
	}
	if len(in.To) == 0 {
		return outcome.Permanent("missing-recipient", "mail payload has no recipients", nil), nil
	}

	msg, err := json.Marshal(struct {
		From string `json:"from"`
		mailPayload
		Ref string `json:"reference,omitempty"`
	}{From: p.from, mailPayload: in, Ref: call.IdempotencyKey})
	if err != nil {
		return nil, fmt.Errorf("providers: marshal mail message: %w", err)
	}

	headers := map[string]string{"Authorization": "Bearer " + p.token}
	status, body, err := postJSON(ctx, p.hc, p.baseURL+"/v1/messages", headers, msg)
	if err != nil {
		return nil, err
	}
	return classify(status, body, "mail-queued", "message_id"), nil
}
