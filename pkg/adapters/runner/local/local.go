// Package local executes step commands on the host through the shell.
package local

import (
	"context"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/gantry-ci/gantry/internal/ports"
)

// Runner implements ports.StepRunner with os/exec. Each command runs in
// the job's working directory with the merged environment applied on top
// of the host environment. Isolation is per-process; nothing stronger is
// attempted here.
type Runner struct {
	logger *zap.Logger
}

// NewRunner creates a new local step runner
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes one command and captures its combined output. A non-zero
// exit is reported through RunResult.ExitCode, not as an error; errors
// are reserved for failures to start the process at all.
func (r *Runner) Run(ctx context.Context, spec ports.RunSpec) (*ports.RunResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", spec.Command)
	cmd.Dir = spec.Dir

	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	out, err := cmd.CombinedOutput()
	result := &ports.RunResult{Output: string(out)}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, err
	}

	return result, nil
}
