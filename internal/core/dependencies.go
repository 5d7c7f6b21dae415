package core

import (
	"sort"

	"deftheim/internal/domain"
)

// Graph maps a mod id to the ids of its direct dependencies.
type Graph map[string][]string

// BuildGraph collects the dependency edges of every catalog entry. Edges to
// the mod framework are dropped; it is not managed as a catalog mod.
func BuildGraph(mods []domain.Mod) Graph {
	g := make(Graph, len(mods))
	for _, m := range mods {
		var deps []string
		for _, d := range m.Dependencies {
			if d != domain.FrameworkPackageID && d != m.ID {
				deps = append(deps, d)
			}
		}
		g[m.ID] = deps
	}
	return g
}

// DependencyResolver orders mods by their dependencies and detects cycles
type DependencyResolver struct{}

// NewDependencyResolver creates a new dependency resolver
func NewDependencyResolver() *DependencyResolver {
	return &DependencyResolver{}
}

// Order returns ids sorted so that every mod comes after its dependencies.
// Only edges between members of ids are considered. Returns a
// CyclicDependencyError naming the loop if one exists within the set.
func (r *DependencyResolver) Order(g Graph, ids []string) ([]string, error) {
	members := make(map[string]bool, len(ids))
	for _, id := range ids {
		members[id] = true
	}

	// Stable output regardless of input order
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	// 0 = unvisited, 1 = visiting (in stack), 2 = visited
	state := make(map[string]int)
	var stack []string
	var result []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case 2:
			return nil
		case 1:
			return &domain.CyclicDependencyError{Cycle: cycleFrom(stack, id)}
		}

		state[id] = 1
		stack = append(stack, id)
		for _, dep := range g[id] {
			if !members[dep] {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = 2
		result = append(result, id)
		return nil
	}

	for _, id := range sorted {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ReverseOrder returns ids with dependents before their dependencies, the
// order in which mods can be disabled.
func (r *DependencyResolver) ReverseOrder(g Graph, ids []string) ([]string, error) {
	order, err := r.Order(g, ids)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}

// Closure returns every transitive dependency of id, dependencies first.
// Ids missing from the graph are still reported so callers can treat them
// as unmet.
func (r *DependencyResolver) Closure(g Graph, id string) ([]string, error) {
	state := map[string]int{}
	var stack []string
	var result []string

	var collect func(cur string) error
	collect = func(cur string) error {
		switch state[cur] {
		case 2:
			return nil
		case 1:
			return &domain.CyclicDependencyError{Cycle: cycleFrom(stack, cur)}
		}

		state[cur] = 1
		stack = append(stack, cur)
		for _, dep := range g[cur] {
			if err := collect(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[cur] = 2
		if cur != id {
			result = append(result, cur)
		}
		return nil
	}

	if err := collect(id); err != nil {
		return nil, err
	}
	return result, nil
}

// Dependents returns the ids of installed mods that directly depend on id.
func (r *DependencyResolver) Dependents(mods []domain.Mod, id string, enabledOnly bool) []string {
	var out []string
	for i := range mods {
		m := &mods[i]
		if !m.Installed() || (enabledOnly && !m.Enabled()) {
			continue
		}
		if m.DependsOn(id) {
			out = append(out, m.ID)
		}
	}
	sort.Strings(out)
	return out
}

// cycleFrom extracts the loop ending at id from the DFS stack, closing it
// with id again.
func cycleFrom(stack []string, id string) []string {
	for i, s := range stack {
		if s == id {
			cycle := append([]string(nil), stack[i:]...)
			return append(cycle, id)
		}
	}
	return []string{id, id}
}
