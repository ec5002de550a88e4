// Package notify provides chat-notification implementations.
//
// Delivery is fire-and-forget: a failed delivery is logged and counted
// but never escalates into a job or pipeline failure.
//
// Implementations:
//   - webhook: HTTP POST to a chat webhook endpoint
//   - memory: Recording notifier for testing
package notify
