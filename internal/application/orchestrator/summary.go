package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gantry-ci/gantry/internal/domain"
)

// Summarize renders a run's terminal outcome as the single notification
// message the aggregator sends. Matrix cells are reported individually so
// a failing cell is nameable in the summary.
func Summarize(state *domain.RunState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "pipeline %s run %s: %s", state.Pipeline, state.RunID, state.Status)

	if state.CompletedAt != nil && state.StartedAt != nil {
		fmt.Fprintf(&b, " in %s", state.CompletedAt.Sub(*state.StartedAt).Round(1e6))
	}

	names := make([]string, 0, len(state.JobStates))
	for name := range state.JobStates {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		js := state.JobStates[name]
		if js.Status == domain.StatusFailure || js.Status == domain.StatusCancelled {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		fmt.Fprintf(&b, "\nfailed: %s", strings.Join(failed, ", "))
	}

	b.WriteString("\njobs:")
	for _, name := range names {
		js := state.JobStates[name]
		fmt.Fprintf(&b, "\n  %s: %s", name, js.Status)
		if js.Error != "" {
			fmt.Fprintf(&b, " (%s)", js.Error)
		}
	}

	if state.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s", state.Error)
	}

	return b.String()
}
