// Package dag orders canonical tables so every foreign key target is
// created and loaded before its referers.
package dag

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/gridetl/internal/schema"
)

// Graph is a dependency graph over table names. An edge runs from a
// referencing table to the table its foreign key points at.
type Graph struct {
	nodes map[string]bool
	deps  map[string][]string // table -> FK targets
	refs  map[string][]string // table -> referers
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]bool),
		deps:  make(map[string][]string),
		refs:  make(map[string][]string),
	}
}

// FromCatalog builds the graph over the named tables. Foreign keys
// whose target is outside the set add no edge; a partial run orders
// only what it produced.
func FromCatalog(cat *schema.Catalog, tables []string) (*Graph, error) {
	g := New()
	for _, name := range tables {
		if _, err := cat.Table(name); err != nil {
			return nil, err
		}
		g.Add(name)
	}
	for _, name := range tables {
		tbl, _ := cat.Table(name)
		for _, fk := range tbl.ForeignKeys {
			if !g.nodes[fk.RefTable] {
				continue
			}
			if err := g.Depend(name, fk.RefTable); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// Add registers a table.
func (g *Graph) Add(name string) {
	if g.nodes[name] {
		return
	}
	g.nodes[name] = true
	g.deps[name] = []string{}
	g.refs[name] = []string{}
}

// Depend records that name references target.
func (g *Graph) Depend(name, target string) error {
	if !g.nodes[name] {
		return fmt.Errorf("unknown table %q", name)
	}
	if !g.nodes[target] {
		return fmt.Errorf("unknown table %q", target)
	}
	if name == target {
		return fmt.Errorf("table %s references itself", name)
	}
	if !contains(g.deps[name], target) {
		g.deps[name] = append(g.deps[name], target)
	}
	if !contains(g.refs[target], name) {
		g.refs[target] = append(g.refs[target], name)
	}
	return nil
}

// Dependencies returns the FK targets of a table.
func (g *Graph) Dependencies(name string) []string {
	return g.deps[name]
}

// Referers returns the tables referencing name.
func (g *Graph) Referers(name string) []string {
	return g.refs[name]
}

// Len returns the number of tables in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Cycle returns a reference cycle if one exists. The returned path
// starts and ends on the same table.
func (g *Graph) Cycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	cameFrom := make(map[string]string)

	var cycle []string
	var dfs func(name string) bool
	dfs = func(name string) bool {
		visited[name] = true
		onStack[name] = true
		for _, dep := range g.deps[name] {
			if !visited[dep] {
				cameFrom[dep] = name
				if dfs(dep) {
					return true
				}
			} else if onStack[dep] {
				cycle = []string{dep}
				for cur := name; cur != dep; cur = cameFrom[cur] {
					cycle = append([]string{cur}, cycle...)
				}
				cycle = append([]string{dep}, cycle...)
				return true
			}
		}
		onStack[name] = false
		return false
	}

	names := g.sortedNames()
	for _, name := range names {
		if !visited[name] && dfs(name) {
			return cycle
		}
	}
	return nil
}

// Sort returns the tables with every foreign key target ahead of its
// referers. Ties break by name, so the order is stable run to run.
func (g *Graph) Sort() ([]string, error) {
	if cycle := g.Cycle(); cycle != nil {
		return nil, fmt.Errorf("foreign key cycle: %v", cycle)
	}

	visited := make(map[string]bool)
	var order []string
	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		deps := append([]string(nil), g.deps[name]...)
		sort.Strings(deps)
		for _, dep := range deps {
			visit(dep)
		}
		order = append(order, name)
	}
	for _, name := range g.sortedNames() {
		visit(name)
	}
	return order, nil
}

// Closure expands a table selection to include every transitive
// foreign key target, sorted by name. Selecting a table always pulls
// in what it references.
func (g *Graph) Closure(names []string) ([]string, error) {
	keep := make(map[string]bool)
	var mark func(name string) error
	mark = func(name string) error {
		if !g.nodes[name] {
			return fmt.Errorf("unknown table %q", name)
		}
		if keep[name] {
			return nil
		}
		keep[name] = true
		for _, dep := range g.deps[name] {
			if err := mark(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range names {
		if err := mark(name); err != nil {
			return nil, err
		}
	}
	out := make([]string, 0, len(keep))
	for name := range keep {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (g *Graph) sortedNames() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
