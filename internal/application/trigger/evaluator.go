// Package trigger decides whether an incoming event starts a pipeline run.
package trigger

import (
	"strings"

	"go.uber.org/zap"

	"github.com/gantry-ci/gantry/internal/domain"
)

// Evaluator matches incoming events against a pipeline's trigger rules.
// A mismatch is not an error: the run simply does not start.
type Evaluator struct {
	logger *zap.Logger
}

// NewEvaluator creates a new trigger evaluator
func NewEvaluator(logger *zap.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// ShouldRun reports whether the event matches the pipeline's trigger rules.
func (e *Evaluator) ShouldRun(rules domain.TriggerRules, event domain.TriggerEvent) bool {
	switch event.Kind {
	case domain.TriggerManual:
		// Manual invocation always matches.
		return true

	case domain.TriggerPush:
		if rules.Push == nil {
			return false
		}
		return matchesAny(event.Branch, rules.Push.Branches)

	case domain.TriggerPullRequest:
		if rules.PullRequest == nil {
			return false
		}
		if !containsAction(rules.PullRequest.Actions, event.Action) {
			e.logger.Debug("pull request action not in trigger set",
				zap.String("action", event.Action),
				zap.String("branch", event.Branch))
			return false
		}
		return matchesAny(event.Branch, rules.PullRequest.Branches)

	default:
		e.logger.Warn("unknown trigger kind", zap.String("kind", string(event.Kind)))
		return false
	}
}

// Matches reports whether a branch name matches a pattern. Patterns are
// either exact names or prefix wildcards ending in "/**", e.g.
// "feature/**" matches "feature/foo" and "feature/foo/bar".
func Matches(branch, pattern string) bool {
	if branch == pattern {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		return strings.HasPrefix(branch, prefix+"/")
	}
	return false
}

func matchesAny(branch string, patterns []string) bool {
	for _, p := range patterns {
		if Matches(branch, p) {
			return true
		}
	}
	return false
}

func containsAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}
