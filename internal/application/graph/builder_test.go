package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-ci/gantry/internal/domain"
)

func step(name string) domain.Step {
	return domain.Step{Name: name, Run: "true"}
}

func TestBuildSimpleGraph(t *testing.T) {
	p := &domain.Pipeline{
		Name: "ci",
		Jobs: []domain.Job{
			{Name: "build", Steps: []domain.Step{step("compile")}},
			{Name: "test", Needs: []string{"build"}, Steps: []domain.Step{step("run tests")}},
		},
	}

	g, err := Build(p)
	require.NoError(t, err)
	require.Len(t, g.Jobs, 2)

	assert.Empty(t, g.Jobs["build"].Needs)
	assert.Equal(t, []string{"build"}, g.Jobs["test"].Needs)
	assert.Equal(t, "build", g.Jobs["build"].Template)
}

func TestBuildMissingDependency(t *testing.T) {
	p := &domain.Pipeline{
		Name: "ci",
		Jobs: []domain.Job{
			{Name: "test", Needs: []string{"build"}, Steps: []domain.Step{step("run tests")}},
		},
	}

	_, err := Build(p)
	require.Error(t, err)

	var notFound *domain.DependencyNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "test", notFound.Job)
	assert.Equal(t, "build", notFound.Missing)
}

func TestBuildCycle(t *testing.T) {
	p := &domain.Pipeline{
		Name: "ci",
		Jobs: []domain.Job{
			{Name: "a", Needs: []string{"c"}, Steps: []domain.Step{step("s")}},
			{Name: "b", Needs: []string{"a"}, Steps: []domain.Step{step("s")}},
			{Name: "c", Needs: []string{"b"}, Steps: []domain.Step{step("s")}},
		},
	}

	_, err := Build(p)
	require.Error(t, err)

	var cycle *domain.CycleError
	require.True(t, errors.As(err, &cycle))
	// The path closes on the job it started from.
	assert.Equal(t, cycle.Path[0], cycle.Path[len(cycle.Path)-1])
	assert.GreaterOrEqual(t, len(cycle.Path), 4)
}

func TestBuildSelfCycle(t *testing.T) {
	p := &domain.Pipeline{
		Name: "ci",
		Jobs: []domain.Job{
			{Name: "a", Needs: []string{"a"}, Steps: []domain.Step{step("s")}},
		},
	}

	_, err := Build(p)
	var cycle *domain.CycleError
	require.True(t, errors.As(err, &cycle))
}

func TestBuildMatrixFanOut(t *testing.T) {
	p := &domain.Pipeline{
		Name: "ci",
		Jobs: []domain.Job{
			{
				Name:   "ai",
				Matrix: map[string][]string{"python": {"3.9", "3.10", "3.11"}},
				Env:    map[string]string{"PYTHONDONTWRITEBYTECODE": "1"},
				Steps:  []domain.Step{step("pytest")},
			},
		},
	}

	g, err := Build(p)
	require.NoError(t, err)
	require.Len(t, g.Jobs, 3)

	inst, ok := g.Jobs["ai (python=3.10)"]
	require.True(t, ok)
	assert.Equal(t, "ai", inst.Template)
	assert.Equal(t, "3.10", inst.Matrix["python"])
	assert.Equal(t, "3.10", inst.Env["MATRIX_PYTHON"])
	assert.Equal(t, "1", inst.Env["PYTHONDONTWRITEBYTECODE"])
}

func TestBuildMatrixMultipleAxes(t *testing.T) {
	p := &domain.Pipeline{
		Name: "ci",
		Jobs: []domain.Job{
			{
				Name: "compat",
				Matrix: map[string][]string{
					"python": {"3.10", "3.11"},
					"os":     {"linux", "darwin"},
				},
				Steps: []domain.Step{step("pytest")},
			},
		},
	}

	g, err := Build(p)
	require.NoError(t, err)
	require.Len(t, g.Jobs, 4)

	// Axes are sorted in the instance name.
	_, ok := g.Jobs["compat (os=linux, python=3.10)"]
	assert.True(t, ok)
}

func TestBuildNeedsOnMatrixTemplate(t *testing.T) {
	p := &domain.Pipeline{
		Name: "ci",
		Jobs: []domain.Job{
			{
				Name:   "ai",
				Matrix: map[string][]string{"python": {"3.10", "3.11"}},
				Steps:  []domain.Step{step("pytest")},
			},
			{
				Name:  "summary",
				Needs: []string{"ai"},
				If:    domain.ConditionAlways,
				Steps: []domain.Step{step("report")},
			},
		},
	}

	g, err := Build(p)
	require.NoError(t, err)

	summary := g.Jobs["summary"]
	require.NotNil(t, summary)
	assert.ElementsMatch(t,
		[]string{"ai (python=3.10)", "ai (python=3.11)"},
		summary.Needs)
	assert.True(t, summary.Always)
}

func TestBuildDeterministicInstanceNames(t *testing.T) {
	p := &domain.Pipeline{
		Name: "ci",
		Jobs: []domain.Job{
			{
				Name:   "ai",
				Matrix: map[string][]string{"python": {"3.9"}},
				Steps:  []domain.Step{step("pytest")},
			},
		},
	}

	for i := 0; i < 10; i++ {
		g, err := Build(p)
		require.NoError(t, err)
		_, ok := g.Jobs["ai (python=3.9)"]
		require.True(t, ok)
	}
}
