// Package scheduler fires time-based triggers and re-drives instances
// waiting out a retry delay.
//
// A [Trigger] pairs a cron expression with a workflow definition;
// when it comes due, the sweep creates a pending instance and hands it
// to the orchestrator pool. Firings are deduplicated two ways: a
// per-trigger lock with a TTL keeps concurrent sweepers off the same
// trigger, and the instance's trigger-firing key (trigger name plus
// scheduled fire time) makes creation idempotent, so a sweep
// interrupted after creating the instance but before updating the
// trigger's bookkeeping cannot create a duplicate when it re-runs.
//
// Cron expressions use the standard 5-field form plus descriptors like
// "@every 30s" and "@daily".
package scheduler
