package memory

import (
	"context"
	"sync"
)

// Message is one recorded notification.
type Message struct {
	Channel string
	Text    string
}

// RecordingNotifier implements ports.Notifier by recording messages.
// This is for testing purposes only. Setting Unreachable simulates a
// channel that cannot be delivered to.
type RecordingNotifier struct {
	Unreachable bool

	mu       sync.Mutex
	messages []Message
}

// NewRecordingNotifier creates a new recording notifier
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

// Notify records the message and reports delivery.
func (n *RecordingNotifier) Notify(ctx context.Context, channel, message string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.Unreachable {
		return false
	}
	n.messages = append(n.messages, Message{Channel: channel, Text: message})
	return true
}

// Messages returns a copy of the recorded notifications.
func (n *RecordingNotifier) Messages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Message, len(n.messages))
	copy(out, n.messages)
	return out
}
