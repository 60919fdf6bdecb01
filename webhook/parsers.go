package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/chainworks/steward/outcome"
)

// PayfortSettlement parses the payment gateway's settlement callback.
// The gateway posts the final status of a previously accepted charge,
// keyed by the charge id returned at acceptance.
func PayfortSettlement(payload []byte) (string, *outcome.Outcome, error) {
	var body struct {
		ChargeID    string `json:"charge_id"`
		Status      string `json:"status"`
		DeclineCode string `json:"decline_code"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", nil, fmt.Errorf("webhook: payfort settlement: %w", err)
	}
	if body.ChargeID == "" {
		return "", nil, fmt.Errorf("webhook: payfort settlement: no charge_id")
	}

	switch body.Status {
	case "settled":
		return body.ChargeID, outcome.Successf("settled", body.ChargeID, payload), nil
	case "failed", "declined":
		code := body.DeclineCode
		if code == "" {
			code = "settlement-failed"
		}
		return body.ChargeID, outcome.Permanent(code, "charge settlement failed", payload), nil
	case "pending":
		// The gateway re-posts pending states during long settlements.
		return body.ChargeID, outcome.Transient("settlement-pending", "charge still settling"), nil
	default:
		return "", nil, fmt.Errorf("webhook: payfort settlement: unknown status %q", body.Status)
	}
}

// TrainingConnectUpload parses the training service's certificate
// upload completion callback, keyed by the batch id returned at
// acceptance.
func TrainingConnectUpload(payload []byte) (string, *outcome.Outcome, error) {
	var body struct {
		BatchID string `json:"batch_id"`
		Status  string `json:"status"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", nil, fmt.Errorf("webhook: certificate upload: %w", err)
	}
	if body.BatchID == "" {
		return "", nil, fmt.Errorf("webhook: certificate upload: no batch_id")
	}

	switch body.Status {
	case "processed":
		return body.BatchID, outcome.Successf("certificates-synced", body.BatchID, payload), nil
	case "rejected":
		return body.BatchID, outcome.Permanent("batch-rejected", body.Error, payload), nil
	default:
		return "", nil, fmt.Errorf("webhook: certificate upload: unknown status %q", body.Status)
	}
}
