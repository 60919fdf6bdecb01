package engine

import "github.com/chainworks/steward/workflow"

// Default definition and capability names.
const (
	DefComplianceCheck = "compliance-check"
	DefCertificateSync = "certificate-sync"

	CapVerifyTraining  = "verify-training"
	CapChargeFee       = "charge-fee"
	CapRefundFee       = "refund-fee"
	CapSendSMS         = "send-sms"
	CapSendEmail       = "send-email"
	CapSyncCertificate = "sync-certificate"
)

// DefaultDefinitions returns the workflow definitions shipped with the
// engine.
//
// compliance-check verifies an employee's training status, charges the
// certification fee, and notifies the employee. The charge is undone by
// a refund if a later step fails permanently.
//
// certificate-sync submits a certificate batch to the training
// authority, whose acceptance is confirmed asynchronously by webhook,
// then emails the compliance officer.
func DefaultDefinitions() []*workflow.Definition {
	return []*workflow.Definition{
		{
			Name: DefComplianceCheck,
			Steps: []workflow.Step{
				{Name: "verify", Capability: CapVerifyTraining},
				{
					Name:           "charge",
					Capability:     CapChargeFee,
					Compensable:    true,
					CompensateWith: CapRefundFee,
				},
				{Name: "notify", Capability: CapSendSMS},
			},
		},
		{
			Name: DefCertificateSync,
			Steps: []workflow.Step{
				{Name: "submit", Capability: CapSyncCertificate, Async: true},
				{Name: "confirm", Capability: CapSendEmail},
			},
		},
	}
}
