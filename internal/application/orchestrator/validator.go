package orchestrator

import (
	"fmt"

	"github.com/gantry-ci/gantry/internal/domain"
)

// Validator validates built job graphs before they are persisted.
type Validator struct{}

// NewValidator creates a new graph validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks that a built graph is well-formed. Cycle detection and
// dependency resolution already happened at build time; this is the last
// sanity gate before the run is persisted.
func (v *Validator) Validate(g *domain.Graph) error {
	if g == nil {
		return fmt.Errorf("graph is nil")
	}

	if len(g.Jobs) == 0 {
		return fmt.Errorf("graph must have at least one job")
	}

	// Every acyclic graph has a dependency-free job to start from.
	if len(g.Roots()) == 0 {
		return fmt.Errorf("graph has no runnable root job")
	}

	for name, inst := range g.Jobs {
		if err := v.validateInstance(name, inst); err != nil {
			return fmt.Errorf("invalid job %s: %w", name, err)
		}

		for _, need := range inst.Needs {
			if need == name {
				return fmt.Errorf("job %s depends on itself", name)
			}
			if _, exists := g.Jobs[need]; !exists {
				return fmt.Errorf("job %s needs unresolved instance %s", name, need)
			}
		}
	}

	return nil
}

// validateInstance validates a single job instance
func (v *Validator) validateInstance(name string, inst *domain.JobInstance) error {
	if name == "" {
		return fmt.Errorf("job name is required")
	}

	if inst == nil {
		return fmt.Errorf("job is nil")
	}

	if len(inst.Steps) == 0 {
		return fmt.Errorf("job has no steps")
	}

	return nil
}
