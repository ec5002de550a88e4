package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func runWith(statuses map[string]Status) *RunState {
	r := &RunState{
		RunID:     "r1",
		Status:    StatusRunning,
		JobStates: make(map[string]*JobState, len(statuses)),
	}
	for name, st := range statuses {
		r.JobStates[name] = &JobState{Name: name, Template: name, Status: st}
	}
	return r
}

func TestAllTerminal(t *testing.T) {
	t.Run("pending job blocks", func(t *testing.T) {
		r := runWith(map[string]Status{"a": StatusSuccess, "b": StatusPending})
		assert.False(t, r.AllTerminal())
	})

	t.Run("running job blocks", func(t *testing.T) {
		r := runWith(map[string]Status{"a": StatusSuccess, "b": StatusRunning})
		assert.False(t, r.AllTerminal())
	})

	t.Run("skipped counts as terminal", func(t *testing.T) {
		r := runWith(map[string]Status{"a": StatusFailure, "b": StatusSkipped})
		assert.True(t, r.AllTerminal())
	})
}

func TestReduce(t *testing.T) {
	t.Run("all success", func(t *testing.T) {
		r := runWith(map[string]Status{"a": StatusSuccess, "b": StatusSuccess})
		assert.Equal(t, StatusSuccess, r.Reduce())
	})

	t.Run("one failure fails the run", func(t *testing.T) {
		r := runWith(map[string]Status{"a": StatusSuccess, "b": StatusFailure})
		assert.Equal(t, StatusFailure, r.Reduce())
	})

	t.Run("skipped job fails the run", func(t *testing.T) {
		r := runWith(map[string]Status{"a": StatusFailure, "b": StatusSkipped})
		assert.Equal(t, StatusFailure, r.Reduce())
	})

	t.Run("cancelled run stays cancelled", func(t *testing.T) {
		r := runWith(map[string]Status{"a": StatusSuccess})
		r.Status = StatusCancelled
		assert.Equal(t, StatusCancelled, r.Reduce())
	})
}

func TestTemplateStatus(t *testing.T) {
	r := &RunState{JobStates: map[string]*JobState{
		"ai (python=3.9)":  {Template: "ai", Status: StatusSuccess},
		"ai (python=3.10)": {Template: "ai", Status: StatusFailure},
		"ai (python=3.11)": {Template: "ai", Status: StatusSuccess},
		"backend":          {Template: "backend", Status: StatusSuccess},
	}}

	t.Run("any failed cell fails the template", func(t *testing.T) {
		assert.Equal(t, StatusFailure, r.TemplateStatus("ai"))
	})

	t.Run("single instance template", func(t *testing.T) {
		assert.Equal(t, StatusSuccess, r.TemplateStatus("backend"))
	})

	t.Run("unknown template is skipped", func(t *testing.T) {
		assert.Equal(t, StatusSkipped, r.TemplateStatus("nonexistent"))
	})
}

func TestStepShouldRun(t *testing.T) {
	tests := []struct {
		name   string
		step   Step
		status Status
		want   bool
	}{
		{"default runs while healthy", Step{}, StatusRunning, true},
		{"default skipped after failure", Step{}, StatusFailure, false},
		{"on_success skipped after failure", Step{If: ConditionOnSuccess}, StatusFailure, false},
		{"on_failure runs after failure", Step{If: ConditionOnFailure}, StatusFailure, true},
		{"on_failure skipped while healthy", Step{If: ConditionOnFailure}, StatusRunning, false},
		{"always runs after failure", Step{If: ConditionAlways}, StatusFailure, true},
		{"always runs while healthy", Step{If: ConditionAlways}, StatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.step.ShouldRun(tt.status))
		})
	}
}
