package core_test

import (
	"testing"

	"deftheim/internal/core"
	"deftheim/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Order_NoDeps(t *testing.T) {
	resolver := core.NewDependencyResolver()

	order, err := resolver.Order(core.Graph{"B-B": nil, "A-A": nil}, []string{"B-B", "A-A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A-A", "B-B"}, order)
}

func TestResolver_Order_DependenciesFirst(t *testing.T) {
	resolver := core.NewDependencyResolver()
	g := core.Graph{
		"A-App":  {"B-Lib", "C-Core"},
		"B-Lib":  {"C-Core"},
		"C-Core": nil,
	}

	order, err := resolver.Order(g, []string{"A-App", "B-Lib", "C-Core"})
	require.NoError(t, err)
	assert.Equal(t, []string{"C-Core", "B-Lib", "A-App"}, order)

	reverse, err := resolver.ReverseOrder(g, []string{"A-App", "B-Lib", "C-Core"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A-App", "B-Lib", "C-Core"}, reverse)
}

func TestResolver_Order_IgnoresEdgesOutsideSet(t *testing.T) {
	resolver := core.NewDependencyResolver()
	g := core.Graph{"A-A": {"Z-Z"}, "Z-Z": nil}

	order, err := resolver.Order(g, []string{"A-A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A-A"}, order)
}

func TestResolver_Order_DetectsCycle(t *testing.T) {
	resolver := core.NewDependencyResolver()
	g := core.Graph{
		"A-A": {"B-B"},
		"B-B": {"C-C"},
		"C-C": {"A-A"},
	}

	_, err := resolver.Order(g, []string{"A-A", "B-B", "C-C"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDependencyLoop)

	var cycle *domain.CyclicDependencyError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"A-A", "B-B", "C-C", "A-A"}, cycle.Cycle)
	assert.Equal(t, domain.KindCyclicDependency, domain.Kind(err))
}

func TestResolver_Closure(t *testing.T) {
	resolver := core.NewDependencyResolver()
	g := core.Graph{
		"A-A": {"B-B", "D-D"},
		"B-B": {"C-C"},
		"C-C": nil,
	}

	closure, err := resolver.Closure(g, "A-A")
	require.NoError(t, err)
	// D-D is unknown to the graph but still reported
	assert.Equal(t, []string{"C-C", "B-B", "D-D"}, closure)

	closure, err = resolver.Closure(g, "C-C")
	require.NoError(t, err)
	assert.Empty(t, closure)
}

func TestResolver_Closure_Cycle(t *testing.T) {
	resolver := core.NewDependencyResolver()
	g := core.Graph{"A-A": {"B-B"}, "B-B": {"A-A"}}

	_, err := resolver.Closure(g, "A-A")
	var cycle *domain.CyclicDependencyError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"A-A", "B-B", "A-A"}, cycle.Cycle)
}

func TestBuildGraph_DropsFrameworkAndSelf(t *testing.T) {
	g := core.BuildGraph([]domain.Mod{
		{ID: "A-A", Dependencies: []string{domain.FrameworkPackageID, "A-A", "B-B"}},
	})
	assert.Equal(t, []string{"B-B"}, g["A-A"])
}

func TestResolver_Dependents(t *testing.T) {
	resolver := core.NewDependencyResolver()
	mods := []domain.Mod{
		{ID: "A-A", State: domain.StateEnabled},
		{ID: "C-C", State: domain.StateDisabled, Dependencies: []string{"A-A"}},
		{ID: "B-B", State: domain.StateEnabled, Dependencies: []string{"A-A"}},
		{ID: "D-D", State: domain.StateNotInstalled, Dependencies: []string{"A-A"}},
	}

	assert.Equal(t, []string{"B-B", "C-C"}, resolver.Dependents(mods, "A-A", false))
	assert.Equal(t, []string{"B-B"}, resolver.Dependents(mods, "A-A", true))
}
