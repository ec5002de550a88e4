// Package workers implements the job executor: a pool of worker
// goroutines that consume dispatch events, run each job's steps in order
// inside an isolated working directory, and report the outcome back on
// the event bus.
//
// Workers never write run state. They publish job lifecycle events; the
// orchestrator manager is the single writer of persisted state.
package workers
