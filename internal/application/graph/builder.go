// Package graph expands a pipeline's static job list into an
// execution-ready DAG of job instances.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gantry-ci/gantry/internal/domain"
)

// Build expands the pipeline's jobs into a graph of job instances. Matrix
// jobs fan out into one instance per parameter binding; dependencies on a
// matrix template become dependencies on every one of its instances.
//
// Build fails with a DependencyNotFoundError when a needs edge references
// an undefined job, and with a CycleError when the declared dependencies
// contain a directed cycle. In both cases no job starts.
func Build(p *domain.Pipeline) (*domain.Graph, error) {
	byName := make(map[string]*domain.Job, len(p.Jobs))
	for i := range p.Jobs {
		byName[p.Jobs[i].Name] = &p.Jobs[i]
	}

	// Validate edges and detect cycles on the template graph first; the
	// fan-out preserves acyclicity, so checking templates is sufficient.
	for _, j := range p.Jobs {
		for _, need := range j.Needs {
			if _, ok := byName[need]; !ok {
				return nil, &domain.DependencyNotFoundError{Job: j.Name, Missing: need}
			}
		}
	}
	if cycle := findCycle(p.Jobs); cycle != nil {
		return nil, &domain.CycleError{Path: cycle}
	}

	g := &domain.Graph{Jobs: make(map[string]*domain.JobInstance)}
	instancesOf := make(map[string][]string, len(p.Jobs))

	for i := range p.Jobs {
		j := &p.Jobs[i]
		for _, binding := range expandMatrix(j.Matrix) {
			inst := newInstance(j, binding)
			g.Jobs[inst.Name] = inst
			instancesOf[j.Name] = append(instancesOf[j.Name], inst.Name)
		}
	}

	// Rewrite template-level needs to instance-level needs.
	for _, inst := range g.Jobs {
		var needs []string
		for _, need := range g.Jobs[inst.Name].Needs {
			needs = append(needs, instancesOf[need]...)
		}
		inst.Needs = needs
	}

	return g, nil
}

// newInstance materializes one job instance for a matrix binding. A nil
// binding means the job is not a matrix job and yields a single instance
// under its own name.
func newInstance(j *domain.Job, binding map[string]string) *domain.JobInstance {
	inst := &domain.JobInstance{
		Name:      instanceName(j.Name, binding),
		Template:  j.Name,
		Class:     j.Class,
		Needs:     append([]string(nil), j.Needs...),
		Workdir:   j.Workdir,
		Matrix:    binding,
		Steps:     append([]domain.Step(nil), j.Steps...),
		Cache:     j.Cache,
		Artifacts: append([]domain.ArtifactSpec(nil), j.Artifacts...),
		Coverage:  j.Coverage,
		Always:    j.RunAlways(),
	}

	// Job env plus the matrix binding, exposed as MATRIX_<AXIS>. The
	// binding wins on collision so sibling cells never share values.
	env := make(map[string]string, len(j.Env)+len(binding))
	for k, v := range j.Env {
		env[k] = v
	}
	for axis, value := range binding {
		env["MATRIX_"+strings.ToUpper(axis)] = value
	}
	inst.Env = env

	return inst
}

// instanceName derives a stable identity for a matrix cell, e.g.
// "ai (python=3.10)". Axes are sorted so the name is deterministic.
func instanceName(job string, binding map[string]string) string {
	if len(binding) == 0 {
		return job
	}
	axes := make([]string, 0, len(binding))
	for axis := range binding {
		axes = append(axes, axis)
	}
	sort.Strings(axes)

	parts := make([]string, 0, len(axes))
	for _, axis := range axes {
		parts = append(parts, fmt.Sprintf("%s=%s", axis, binding[axis]))
	}
	return fmt.Sprintf("%s (%s)", job, strings.Join(parts, ", "))
}

// expandMatrix computes the cartesian product of the matrix axes. An empty
// matrix yields a single nil binding.
func expandMatrix(matrix map[string][]string) []map[string]string {
	if len(matrix) == 0 {
		return []map[string]string{nil}
	}

	axes := make([]string, 0, len(matrix))
	for axis := range matrix {
		axes = append(axes, axis)
	}
	sort.Strings(axes)

	bindings := []map[string]string{{}}
	for _, axis := range axes {
		var next []map[string]string
		for _, b := range bindings {
			for _, value := range matrix[axis] {
				nb := make(map[string]string, len(b)+1)
				for k, v := range b {
					nb[k] = v
				}
				nb[axis] = value
				next = append(next, nb)
			}
		}
		bindings = next
	}
	return bindings
}

// findCycle runs a depth-first search over the template graph and returns
// the first cycle found as a job-name path, or nil.
func findCycle(jobs []domain.Job) []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)

	needs := make(map[string][]string, len(jobs))
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		needs[j.Name] = j.Needs
		names = append(names, j.Name)
	}
	sort.Strings(names)

	state := make(map[string]int, len(jobs))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		state[name] = inStack
		stack = append(stack, name)

		for _, need := range needs[name] {
			switch state[need] {
			case inStack:
				// Slice the stack from the first occurrence of need.
				for i, n := range stack {
					if n == need {
						cycle = append(append([]string(nil), stack[i:]...), need)
						return true
					}
				}
			case unvisited:
				if visit(need) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = done
		return false
	}

	for _, name := range names {
		if state[name] == unvisited && visit(name) {
			return cycle
		}
	}
	return nil
}
