package domain

// Pipeline is a declarative pipeline definition, loaded once at run start
// and never mutated mid-run.
type Pipeline struct {
	Name     string            `yaml:"name" json:"name"`
	Triggers TriggerRules      `yaml:"on" json:"on"`
	Env      map[string]string `yaml:"env" json:"env,omitempty"`
	Jobs     []Job             `yaml:"jobs" json:"jobs"`
}

// TriggerRules declares which external events start a run.
type TriggerRules struct {
	Push        *PushRule        `yaml:"push" json:"push,omitempty"`
	PullRequest *PullRequestRule `yaml:"pull_request" json:"pull_request,omitempty"`
	Manual      bool             `yaml:"manual" json:"manual,omitempty"`
}

// PushRule matches push events against branch patterns.
type PushRule struct {
	Branches []string `yaml:"branches" json:"branches"`
}

// PullRequestRule matches pull-request events against branch patterns
// and a set of event actions (opened, synchronize, reopened).
type PullRequestRule struct {
	Branches []string `yaml:"branches" json:"branches"`
	Actions  []string `yaml:"actions" json:"actions"`
}

// Job is an independently schedulable unit of sequential steps scoped to
// one ecosystem. Matrix jobs are templates: they fan out into one instance
// per parameter binding at graph-build time.
type Job struct {
	Name      string              `yaml:"name" json:"name"`
	Class     string              `yaml:"class" json:"class,omitempty"`
	Needs     []string            `yaml:"needs" json:"needs,omitempty"`
	If        string              `yaml:"if" json:"if,omitempty"`
	Workdir   string              `yaml:"workdir" json:"workdir,omitempty"`
	Env       map[string]string   `yaml:"env" json:"env,omitempty"`
	Matrix    map[string][]string `yaml:"matrix" json:"matrix,omitempty"`
	Steps     []Step              `yaml:"steps" json:"steps"`
	Cache     *CacheSpec          `yaml:"cache" json:"cache,omitempty"`
	Artifacts []ArtifactSpec      `yaml:"artifacts" json:"artifacts,omitempty"`

	// Coverage is the path of a coverage report to ship to the ingestion
	// endpoint after the job finishes. Upload failure is non-fatal.
	Coverage string `yaml:"coverage" json:"coverage,omitempty"`
}

// RunAlways reports whether the job runs even when a dependency failed.
func (j *Job) RunAlways() bool {
	return j.If == ConditionAlways
}

// Step conditions over the accumulated job status.
const (
	ConditionAlways    = "always"
	ConditionOnSuccess = "on_success"
	ConditionOnFailure = "on_failure"
)

// Step is a single action within a job. A step with Fallback set runs the
// fallback command only when the primary command fails; the primary failure
// is logged but does not mark the step failed if the fallback succeeds.
type Step struct {
	Name       string            `yaml:"name" json:"name"`
	Run        string            `yaml:"run" json:"run"`
	Fallback   string            `yaml:"fallback" json:"fallback,omitempty"`
	If         string            `yaml:"if" json:"if,omitempty"`
	BestEffort bool              `yaml:"best_effort" json:"best_effort,omitempty"`
	Env        map[string]string `yaml:"env" json:"env,omitempty"`
}

// ShouldRun evaluates the step's condition against the accumulated job
// status. The condition is checked before every step, including steps that
// follow a failure, so cleanup and reporting steps are never skipped
// silently.
func (s *Step) ShouldRun(status Status) bool {
	switch s.If {
	case ConditionAlways:
		return true
	case ConditionOnFailure:
		return status == StatusFailure
	case ConditionOnSuccess, "":
		return status != StatusFailure
	default:
		return status != StatusFailure
	}
}

// CacheSpec declares a restorable dependency cache for a job. The key is
// derived from the job class, tool version and the hashes of the lock
// files; see CacheKey.
type CacheSpec struct {
	Paths     []string `yaml:"paths" json:"paths"`
	LockFiles []string `yaml:"lock_files" json:"lock_files"`
	Tool      string   `yaml:"tool" json:"tool,omitempty"`
}

// ArtifactSpec declares a build output to upload after the job finishes.
// Retention is measured in days; zero means the store default.
type ArtifactSpec struct {
	Name          string `yaml:"name" json:"name"`
	Path          string `yaml:"path" json:"path"`
	RetentionDays int    `yaml:"retention_days" json:"retention_days,omitempty"`
}

// FindJob returns the job with the given name, or nil.
func (p *Pipeline) FindJob(name string) *Job {
	for i := range p.Jobs {
		if p.Jobs[i].Name == name {
			return &p.Jobs[i]
		}
	}
	return nil
}
