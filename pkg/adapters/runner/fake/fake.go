// Package fake provides a scriptable step runner for tests.
package fake

import (
	"context"
	"sync"

	"github.com/gantry-ci/gantry/internal/ports"
)

// Runner implements ports.StepRunner with canned outcomes keyed by
// command string. Commands without an entry succeed with exit code 0.
type Runner struct {
	mu          sync.Mutex
	failures    map[string]int
	envFailures []envFailure
	executed    []string
}

type envFailure struct {
	command  string
	envKey   string
	envValue string
	code     int
}

// NewRunner creates a new fake runner
func NewRunner() *Runner {
	return &Runner{failures: make(map[string]int)}
}

// FailWith makes the given command exit with code.
func (r *Runner) FailWith(command string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[command] = code
}

// FailWithEnv makes the command exit with code only when the execution
// environment carries the given variable. Useful for failing a single
// matrix cell whose siblings run the same command.
func (r *Runner) FailWithEnv(command, envKey, envValue string, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envFailures = append(r.envFailures, envFailure{
		command:  command,
		envKey:   envKey,
		envValue: envValue,
		code:     code,
	})
}

// Executed returns the commands run so far, in order.
func (r *Runner) Executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.executed))
	copy(out, r.executed)
	return out
}

// Run records the command and returns its canned outcome.
func (r *Runner) Run(ctx context.Context, spec ports.RunSpec) (*ports.RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.executed = append(r.executed, spec.Command)

	for _, f := range r.envFailures {
		if f.command == spec.Command && spec.Env[f.envKey] == f.envValue {
			return &ports.RunResult{ExitCode: f.code}, nil
		}
	}
	return &ports.RunResult{ExitCode: r.failures[spec.Command]}, nil
}
