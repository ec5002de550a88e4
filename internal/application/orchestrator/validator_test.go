package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-ci/gantry/internal/domain"
)

func TestValidate(t *testing.T) {
	v := NewValidator()
	steps := []domain.Step{{Name: "test", Run: "true"}}

	t.Run("accepts a well-formed graph", func(t *testing.T) {
		g := &domain.Graph{Jobs: map[string]*domain.JobInstance{
			"backend":  {Name: "backend", Template: "backend", Steps: steps},
			"frontend": {Name: "frontend", Template: "frontend", Needs: []string{"backend"}, Steps: steps},
		}}
		assert.NoError(t, v.Validate(g))
	})

	t.Run("rejects nil and empty graphs", func(t *testing.T) {
		assert.Error(t, v.Validate(nil))
		assert.Error(t, v.Validate(&domain.Graph{Jobs: map[string]*domain.JobInstance{}}))
	})

	t.Run("rejects a graph without a runnable root", func(t *testing.T) {
		g := &domain.Graph{Jobs: map[string]*domain.JobInstance{
			"a": {Name: "a", Template: "a", Needs: []string{"b"}, Steps: steps},
			"b": {Name: "b", Template: "b", Needs: []string{"a"}, Steps: steps},
		}}
		err := v.Validate(g)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no runnable root")
	})

	t.Run("rejects self-dependency", func(t *testing.T) {
		g := &domain.Graph{Jobs: map[string]*domain.JobInstance{
			"a": {Name: "a", Template: "a", Steps: steps},
			"b": {Name: "b", Template: "b", Needs: []string{"b"}, Steps: steps},
		}}
		err := v.Validate(g)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "depends on itself")
	})
}
