// Package pipeline loads and validates declarative pipeline definitions
// from YAML files.
package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gantry-ci/gantry/internal/domain"
)

// Load reads a pipeline definition from a YAML file.
func Load(path string) (*domain.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a pipeline definition from YAML bytes and checks that it
// is structurally sound. Graph-level checks (cycles, unknown dependencies)
// happen later, at graph-build time.
func Parse(data []byte) (*domain.Pipeline, error) {
	var p domain.Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline: %w", err)
	}

	if err := validate(&p); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}

	return &p, nil
}

func validate(p *domain.Pipeline) error {
	if p.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(p.Jobs) == 0 {
		return fmt.Errorf("pipeline must define at least one job")
	}

	seen := make(map[string]bool, len(p.Jobs))
	for i := range p.Jobs {
		j := &p.Jobs[i]
		if j.Name == "" {
			return fmt.Errorf("job %d has no name", i)
		}
		if seen[j.Name] {
			return fmt.Errorf("duplicate job name: %s", j.Name)
		}
		seen[j.Name] = true

		if len(j.Steps) == 0 {
			return fmt.Errorf("job %s has no steps", j.Name)
		}
		for k := range j.Steps {
			s := &j.Steps[k]
			if s.Run == "" {
				return fmt.Errorf("job %s step %d has no command", j.Name, k)
			}
			switch s.If {
			case "", domain.ConditionAlways, domain.ConditionOnSuccess, domain.ConditionOnFailure:
			default:
				return fmt.Errorf("job %s step %q has unknown condition %q", j.Name, s.Name, s.If)
			}
		}

		if j.Cache != nil && len(j.Cache.LockFiles) == 0 {
			return fmt.Errorf("job %s declares a cache without lock files", j.Name)
		}
	}

	if p.Triggers.PullRequest != nil && len(p.Triggers.PullRequest.Actions) == 0 {
		// Default to the actions that start a run.
		p.Triggers.PullRequest.Actions = []string{
			domain.ActionOpened, domain.ActionSynchronize, domain.ActionReopened,
		}
	}

	return nil
}
