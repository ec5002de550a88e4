package domain

import "time"

// Status is the execution status of a run, job or step.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// RunState is the full state of one pipeline run. It is persisted after
// every transition and is the single source of truth for the aggregator.
type RunState struct {
	RunID    string       `json:"run_id"`
	Pipeline string       `json:"pipeline"`
	Trigger  TriggerEvent `json:"trigger"`
	Status   Status       `json:"status"`
	Error    string       `json:"error,omitempty"`

	// Env is the immutable run-level environment: the pipeline's shared
	// variables plus the pinned toolchain versions. Loaded once at run
	// start, never mutated mid-run.
	Env map[string]string `json:"env,omitempty"`

	Graph     *Graph               `json:"graph"`
	JobStates map[string]*JobState `json:"job_states"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobState tracks one job instance through its lifecycle.
type JobState struct {
	Name     string `json:"name"`
	Template string `json:"template"`
	Status   Status `json:"status"`
	Error    string `json:"error,omitempty"`

	Steps     []StepState `json:"steps,omitempty"`
	Artifacts []string    `json:"artifacts,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StepState records the outcome of a single step.
type StepState struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// AllTerminal reports whether every job instance has reached a terminal
// state. This is the aggregator's barrier condition.
func (r *RunState) AllTerminal() bool {
	for _, js := range r.JobStates {
		if !js.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Reduce collapses all job outcomes into a single run status: success iff
// every instance succeeded, otherwise failure. Cancelled runs keep their
// cancelled status.
func (r *RunState) Reduce() Status {
	if r.Status == StatusCancelled {
		return StatusCancelled
	}
	for _, js := range r.JobStates {
		if js.Status != StatusSuccess {
			return StatusFailure
		}
	}
	return StatusSuccess
}

// TemplateStatus reduces the instances of one job template (the cells of a
// matrix job) into a single status: failure if any cell failed, success iff
// all succeeded.
func (r *RunState) TemplateStatus(template string) Status {
	found := false
	all := StatusSuccess
	for _, js := range r.JobStates {
		if js.Template != template {
			continue
		}
		found = true
		switch js.Status {
		case StatusFailure, StatusCancelled:
			return StatusFailure
		case StatusSuccess:
		default:
			all = js.Status
		}
	}
	if !found {
		return StatusSkipped
	}
	return all
}
