package domain

import "time"

// TriggerKind is the kind of external event that may start a run.
type TriggerKind string

const (
	TriggerPush        TriggerKind = "push"
	TriggerPullRequest TriggerKind = "pull_request"
	TriggerManual      TriggerKind = "manual"
)

// Pull-request actions that start a run.
const (
	ActionOpened      = "opened"
	ActionSynchronize = "synchronize"
	ActionReopened    = "reopened"
)

// TriggerEvent is an incoming event descriptor evaluated against the
// pipeline's trigger rules. A mismatch is not an error; no run is created.
type TriggerEvent struct {
	Kind       TriggerKind `json:"kind"`
	Branch     string      `json:"branch"`
	Action     string      `json:"action,omitempty"`
	Commit     string      `json:"commit,omitempty"`
	ReceivedAt time.Time   `json:"received_at"`
}
