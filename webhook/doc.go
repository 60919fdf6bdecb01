// Package webhook receives inbound provider callbacks and resumes the
// workflow instances waiting on them.
//
// Each provider gets its own path under the ingress mux and its own
// [Parser], because callback schemas are provider-specific. A parser
// extracts the correlation id and maps the payload to a step outcome;
// the ingress records every delivery verbatim for audit, then hands the
// outcome to the orchestrator's resume path.
//
// Deliveries that match no instance in awaiting-callback (duplicate
// delivery, late arrival after timeout-driven compensation) are
// acknowledged with 200 and logged, never re-applied. Returning an
// error status would only make the provider redeliver a callback that
// can never apply.
package webhook
