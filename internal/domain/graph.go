package domain

import (
	"fmt"
	"strings"
)

// Graph is the expanded, execution-ready job DAG: matrix templates have
// been fanned out into instances and every dependency edge resolved.
type Graph struct {
	Jobs map[string]*JobInstance `json:"jobs"`
}

// JobInstance is one schedulable node of the graph. For matrix jobs the
// instance name carries the parameter binding, e.g. "ai (python=3.10)";
// Template is the declaring job's name in both cases.
type JobInstance struct {
	Name     string            `json:"name"`
	Template string            `json:"template"`
	Class    string            `json:"class,omitempty"`
	Needs    []string          `json:"needs,omitempty"`
	Workdir  string            `json:"workdir,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Matrix   map[string]string `json:"matrix,omitempty"`
	Steps    []Step            `json:"steps"`

	Cache     *CacheSpec     `json:"cache,omitempty"`
	Artifacts []ArtifactSpec `json:"artifacts,omitempty"`
	Coverage  string         `json:"coverage,omitempty"`
	Always    bool           `json:"always,omitempty"`
}

// Roots returns the instances with no dependencies, in no particular order.
func (g *Graph) Roots() []*JobInstance {
	var roots []*JobInstance
	for _, j := range g.Jobs {
		if len(j.Needs) == 0 {
			roots = append(roots, j)
		}
	}
	return roots
}

// Dependents returns the instances that list name among their needs.
func (g *Graph) Dependents(name string) []*JobInstance {
	var out []*JobInstance
	for _, j := range g.Jobs {
		for _, n := range j.Needs {
			if n == name {
				out = append(out, j)
				break
			}
		}
	}
	return out
}

// CycleError reports a directed cycle found at graph-build time. No job
// starts when the graph is cyclic.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("job graph contains a cycle: %s", strings.Join(e.Path, " -> "))
}

// DependencyNotFoundError reports a needs edge that references a job
// that is not defined in the pipeline.
type DependencyNotFoundError struct {
	Job     string
	Missing string
}

func (e *DependencyNotFoundError) Error() string {
	return fmt.Sprintf("job %q needs undefined job %q", e.Job, e.Missing)
}
