// Package review holds the manual-review queue for compensation
// failures. The orchestrator never retries a failed compensation;
// instead it records everything an operator needs to finish the undo by
// hand and moves on, so one stuck refund cannot wedge the engine.
//
// A [Record] captures:
//   - InstanceID / StepName: which undo failed
//   - Capability: the compensating capability that was invoked
//   - Code / Detail: the classified failure
//   - Payload: the input the compensation was called with
//
// [Service.Push] is called by the compensation path; operators list,
// inspect, and resolve records through the API layer. Resolving marks
// the record with who resolved it and when; it never re-runs the
// compensation.
package review
