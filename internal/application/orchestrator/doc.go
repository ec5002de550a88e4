// Package orchestrator implements the core orchestration logic for
// pipeline runs.
//
// The manager coordinates a run by:
//   - Evaluating trigger rules against incoming events
//   - Building the job graph (with matrix fan-out) and validating it
//   - Dispatching jobs whose dependencies have reached a terminal state
//   - Managing the run lifecycle (submit, monitor, cancel)
//   - Reducing all job outcomes into one terminal status and sending the
//     aggregator's single final notification
//
// The manager is the only writer of persisted run state; workers report
// their outcomes over the event bus.
package orchestrator
