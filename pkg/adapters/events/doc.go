// Package events provides event bus implementations for run and job
// events.
//
// Implementations:
//   - redis: Redis Streams with consumer groups
//   - memory: In-memory for testing and the one-shot local runner
package events
